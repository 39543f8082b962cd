// Package schema holds the per-operation message contracts of the gateway
// and the engine that enforces them.
//
// A Rule is data: an ordered list of Checks, each applying one
// Constraint to one or more fields of the message. A single interpreter,
// MessageValidator, evaluates any rule, so adding an operation means
// adding a Rule to the Registry, not writing a validation function.
//
// Basic usage:
//
//	registry := schema.DefaultRegistry()
//	validator := schema.NewMessageValidator(registry)
//
//	result := validator.Validate("requestAppUsers", []byte(`{"usernames":["a"]}`))
//	if !result.Accepted {
//	    log.Printf("rejected: %s", result.Reason)
//	}
//
// Validation is pure: it reads only its arguments and the immutable
// registry, so it is safe for concurrent use without locking.
//
// Values are inspected with gjson rather than decoded into Go types, so
// a numeric string is never mistaken for a number.
package schema
