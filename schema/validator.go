package schema

import (
	"github.com/glimte/mmate-gateway/contracts"
	"github.com/tidwall/gjson"
)

// ValidationResult represents the result of message validation
type ValidationResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	// Known is false when the operation id has no rule
	Known bool `json:"known"`
	// Fields names the fields of the failing check
	Fields []string `json:"fields,omitempty"`
}

// ValidationError carries a rejection as an error value
type ValidationError struct {
	OperationID string
	Reason      string
}

// Error implements the error interface for ValidationError
func (ve *ValidationError) Error() string {
	return ve.Reason
}

// Err returns nil for accepted results
func (r ValidationResult) Err(operationID string) error {
	if r.Accepted {
		return nil
	}
	return &ValidationError{OperationID: operationID, Reason: r.Reason}
}

// MessageValidator evaluates messages against the rules of a Registry.
// It performs no I/O and keeps no state between calls.
type MessageValidator struct {
	registry *Registry
}

// NewMessageValidator creates a new message validator
func NewMessageValidator(registry *Registry) *MessageValidator {
	return &MessageValidator{registry: registry}
}

// Validate checks the raw JSON of a message against the rule of operationID.
func (v *MessageValidator) Validate(operationID string, message []byte) ValidationResult {
	var value gjson.Result
	if gjson.ValidBytes(message) {
		value = gjson.ParseBytes(message)
	}
	return v.ValidateValue(operationID, value)
}

// ValidateValue checks an already inspected message value.
func (v *MessageValidator) ValidateValue(operationID string, message gjson.Result) ValidationResult {
	rule, ok := v.registry.Rule(operationID)
	if !ok {
		return ValidationResult{Reason: contracts.ReasonInvalidOperationID}
	}

	obj := unwrapMessage(message)
	for _, check := range rule.Checks {
		if !check.Satisfied(obj) {
			return ValidationResult{
				Known:  true,
				Reason: contracts.InvalidMessageReason(operationID, check.Requirement),
				Fields: check.Fields,
			}
		}
	}

	return ValidationResult{Accepted: true, Known: true}
}

// unwrapMessage accepts a message sent as a JSON-encoded string, which
// some producers still do. Anything that is not an object, or that
// repeats a member name, validates as an empty message: lookups see the
// first occurrence while consumers keep the last.
func unwrapMessage(message gjson.Result) gjson.Result {
	if message.Type == gjson.String && gjson.Valid(message.Str) {
		message = gjson.Parse(message.Str)
	}
	if !message.IsObject() {
		return gjson.Result{}
	}
	if contracts.CheckUniqueMembers([]byte(message.Raw)) != nil {
		return gjson.Result{}
	}
	return message
}
