package schema

// Operation ids understood by the downstream microservices.
const (
	OpRequestAppUsers                  = "requestAppUsers"
	OpResponseAppUsers                 = "responseAppUsers"
	OpNotificationNewPlanPayment       = "notificationNewPlanPayment"
	OpNotificationUserDeletion         = "notificationUserDeletion"
	OpPublishNewCourseAccess           = "publishNewCourseAccess"
	OpPublishNewMaterialAccess         = "publishNewMaterialAccess"
	OpRequestAppClassesAndMaterials    = "requestAppClassesAndMaterials"
	OpResponseAppClassesAndMaterials   = "responseAppClassesAndMaterials"
	OpNotificationNewClass             = "notificationNewClass"
	OpNotificationDeleteClass          = "notificationDeleteClass"
	OpNotificationDeleteCourse         = "notificationDeleteCourse"
	OpNotificationAssociateMaterial    = "notificationAssociateMaterial"
	OpNotificationDisassociateMaterial = "notificationDisassociateMaterial"
	OpRequestMaterialReviews           = "requestMaterialReviews"
	OpResponseMaterialReviews          = "responseMaterialReviews"
)

// Plans is the closed set of subscription plan tiers.
var Plans = []string{"FREE", "ADVANCED", "PRO"}

// DefaultRules returns the canonical rule set, one rule per operation id.
func DefaultRules() []Rule {
	return []Rule{
		{
			OperationID: OpRequestAppUsers,
			Checks: []Check{
				{
					Fields:      []string{"usernames"},
					Constraint:  NonEmptyArray(),
					Requirement: "Missing usernames or usernames is not an array or is empty.",
				},
			},
		},
		{
			OperationID: OpNotificationNewPlanPayment,
			Checks: []Check{
				Require("Missing username or plan, or invalid value for plan (FREE, ADVANCED, PRO).", "username", "plan"),
				{
					Fields:      []string{"plan"},
					Constraint:  OneOf(Plans...),
					Requirement: "Missing username or plan, or invalid value for plan (FREE, ADVANCED, PRO).",
				},
			},
		},
		{
			OperationID: OpNotificationUserDeletion,
			Checks:      []Check{Require("Missing username.", "username")},
		},
		{
			OperationID: OpPublishNewCourseAccess,
			Checks:      []Check{Require("username and courseId are required.", "username", "courseId")},
		},
		{
			OperationID: OpPublishNewMaterialAccess,
			Checks:      []Check{Require("username and materialId are required.", "username", "materialId")},
		},
		{
			OperationID: OpResponseAppClassesAndMaterials,
			Checks:      courseContentChecks(),
		},
		{
			OperationID: OpNotificationNewClass,
			Checks:      []Check{Require("classId and courseId are required.", "classId", "courseId")},
		},
		{
			OperationID: OpNotificationDeleteClass,
			Checks:      []Check{Require("Missing classId.", "classId")},
		},
		{
			OperationID: OpNotificationAssociateMaterial,
			Checks:      []Check{Require("materialId and courseId are required.", "materialId", "courseId")},
		},
		{
			OperationID: OpNotificationDisassociateMaterial,
			Checks:      []Check{Require("materialId and courseId are required.", "materialId", "courseId")},
		},
		{
			OperationID: OpRequestMaterialReviews,
			Checks:      []Check{Require("Missing materialId.", "materialId")},
		},
		{
			OperationID: OpResponseMaterialReviews,
			Checks: []Check{
				Require("materialId and review are required.", "materialId"),
				{
					Fields:      []string{"review"},
					Constraint:  Defined(),
					Requirement: "materialId and review are required.",
				},
				{
					Fields:      []string{"review"},
					Constraint:  NullableIntRange(1, 5),
					Requirement: "Invalid review value (must be a number between 1 and 5 or null).",
				},
			},
		},
		{
			OperationID: OpResponseAppUsers,
			Checks: []Check{
				{
					Fields:      []string{"users"},
					Constraint:  NonEmptyArray(),
					Requirement: "users must be an array with at least one element.",
				},
				{
					Fields: []string{"users"},
					Constraint: Each(
						Require("user fields", "firstName", "lastName", "username", "email", "profilePicture", "plan"),
						Check{Fields: []string{"plan"}, Constraint: OneOf(Plans...), Requirement: "user plan"},
					),
					Requirement: "Missing properties in user object (firstName, lastName, username, email, profilePicture, plan) or invalid plan value (must be FREE, ADVANCED or PRO).",
				},
			},
		},
		{
			OperationID: OpRequestAppClassesAndMaterials,
			Checks:      []Check{Require("Missing courseId.", "courseId")},
		},
		{
			OperationID: OpNotificationDeleteCourse,
			Checks:      courseContentChecks(),
		},
	}
}

func courseContentChecks() []Check {
	return []Check{
		Require("Missing courseId.", "courseId"),
		{Fields: []string{"classIds"}, Constraint: ArrayIfSet(), Requirement: "classIds must be an array."},
		{Fields: []string{"materialIds"}, Constraint: ArrayIfSet(), Requirement: "materialIds must be an array."},
	}
}

// DefaultRegistry returns a registry holding DefaultRules
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultRules()...)
	if err != nil {
		panic(err)
	}
	return r
}
