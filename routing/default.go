package routing

import "github.com/glimte/mmate-gateway/schema"

// Route names of the default deployment
const (
	RouteUsers            = "users-microservice"
	RouteCourses          = "courses-microservice"
	RoutePayments         = "payments-microservice"
	RouteLearning         = "learning-microservice"
	RouteUserNotification = "user/notification"
)

// TopicUserRemoved receives user deletion notifications for every
// subscribed service.
const TopicUserRemoved = "userRemoved"

// DefaultRoutes returns the routes of the default deployment
func DefaultRoutes() []Route {
	return []Route{
		NewRoute(RouteUsers, QueueDestination("users_microservice"),
			schema.OpNotificationNewPlanPayment,
			schema.OpRequestAppUsers,
		),
		NewRoute(RouteCourses, QueueDestination("courses_microservice"),
			schema.OpPublishNewCourseAccess,
			schema.OpResponseAppClassesAndMaterials,
			schema.OpNotificationNewClass,
			schema.OpNotificationDeleteClass,
			schema.OpNotificationAssociateMaterial,
			schema.OpNotificationDisassociateMaterial,
			schema.OpRequestMaterialReviews,
			schema.OpNotificationUserDeletion,
		),
		NewRoute(RoutePayments, QueueDestination("payments_microservice"),
			schema.OpNotificationUserDeletion,
		),
		NewRoute(RouteLearning, QueueDestination("learning_microservice"),
			schema.OpResponseMaterialReviews,
			schema.OpRequestAppClassesAndMaterials,
			schema.OpPublishNewMaterialAccess,
			schema.OpNotificationDeleteCourse,
			schema.OpResponseAppUsers,
			schema.OpNotificationUserDeletion,
		),
		NewRoute(RouteUserNotification, TopicDestination(TopicUserRemoved),
			schema.OpNotificationUserDeletion,
		),
	}
}

// DefaultTable returns a table holding DefaultRoutes
func DefaultTable() *Table {
	t, err := NewTable(DefaultRoutes()...)
	if err != nil {
		panic(err)
	}
	return t
}
