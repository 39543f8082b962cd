package contracts

// ErrorReply is the body of every rejected request.
type ErrorReply struct {
	Error string `json:"error"`
}

// NewErrorReply creates a new error reply
func NewErrorReply(reason string) ErrorReply {
	return ErrorReply{Error: reason}
}

// MessageReply is the body of successful and informational responses.
type MessageReply struct {
	Message string `json:"message"`
}

// NewMessageReply creates a new message reply
func NewMessageReply(message string) MessageReply {
	return MessageReply{Message: message}
}
