package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/glimte/mmate-gateway/contracts"
)

// Kind classifies a failed request
type Kind int

const (
	KindAuth Kind = iota + 1
	KindMalformedRequest
	KindUnknownOrDisallowedOperation
	KindSchemaViolation
	KindPublishFailure
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth_error"
	case KindMalformedRequest:
		return "malformed_request"
	case KindUnknownOrDisallowedOperation:
		return "unknown_or_disallowed_operation"
	case KindSchemaViolation:
		return "schema_violation"
	case KindPublishFailure:
		return "publish_failure"
	default:
		return "unknown"
	}
}

// Cause names the check that stopped a request. Several causes can share
// one reason string; the cause keeps them apart.
type Cause string

const (
	CauseUnauthorized        Cause = "unauthorized"
	CauseEmptyBody           Cause = "empty_body"
	CauseBadContentType      Cause = "bad_content_type"
	CauseDuplicateMember     Cause = "duplicate_member"
	CauseMissingOperationID  Cause = "missing_operation_id"
	CauseUnknownOperation    Cause = "unknown_operation"
	CauseDisallowedOperation Cause = "disallowed_operation"
	CauseMissingMessage      Cause = "missing_message"
	CauseInvalidMessage      Cause = "invalid_message"
	CausePublishFailed       Cause = "publish_failed"
)

// Rejection is the terminal outcome of a request that did not reach the
// broker.
type Rejection struct {
	Kind   Kind
	Cause  Cause
	Status int
	Reason string
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("gateway: %s (%s): %s: %v", r.Kind, r.Cause, r.Reason, r.Err)
	}
	return fmt.Sprintf("gateway: %s (%s): %s", r.Kind, r.Cause, r.Reason)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// Reply returns the body sent to the caller
func (r *Rejection) Reply() contracts.ErrorReply {
	return contracts.NewErrorReply(r.Reason)
}

// AsRejection extracts a Rejection from err
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

func reject(kind Kind, cause Cause, status int, reason string) *Rejection {
	return &Rejection{Kind: kind, Cause: cause, Status: status, Reason: reason}
}

func unauthorized() *Rejection {
	return reject(KindAuth, CauseUnauthorized, http.StatusForbidden, contracts.ReasonUnauthorized)
}

func malformed(cause Cause, reason string) *Rejection {
	return reject(KindMalformedRequest, cause, http.StatusBadRequest, reason)
}

func invalidOperation(cause Cause) *Rejection {
	return reject(KindUnknownOrDisallowedOperation, cause, http.StatusBadRequest, contracts.ReasonInvalidOperationID)
}

func schemaViolation(reason string) *Rejection {
	return reject(KindSchemaViolation, CauseInvalidMessage, http.StatusBadRequest, reason)
}

func publishFailure(err error) *Rejection {
	rej := reject(KindPublishFailure, CausePublishFailed, http.StatusInternalServerError, contracts.ReasonPublishFailed)
	rej.Err = err
	return rej
}
