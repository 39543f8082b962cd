package contracts

// Reason strings are part of the wire contract. Producers match on the
// exact text, so they must not change.
const (
	ReasonUnauthorized       = "Unauthorized. You need a valid API key"
	ReasonNoData             = "No data was sent"
	ReasonNotJSON            = "The content must be a JSON object"
	ReasonMissingOperationID = "The content must contain the operationId property"
	ReasonMissingMessage     = "The content must contain the message property"
	ReasonInvalidOperationID = "Invalid operationId"
	ReasonPublishFailed      = "Message could not be published"
	ReasonRouteNotFound      = "Route not found"
	ReasonBodyTooLarge       = "Request body too large"

	MessageSent = "Message sent successfully"
)

// InvalidMessageReason formats the rejection reason for a message that
// failed the rule of operationID.
func InvalidMessageReason(operationID, requirement string) string {
	return "Invalid message for operationId: " + operationID + ". " + requirement
}

// HealthyMessage is the body text of the liveness check.
func HealthyMessage(serviceName string) string {
	return serviceName + " is working properly!"
}
