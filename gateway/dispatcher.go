package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/glimte/mmate-gateway/contracts"
	"github.com/glimte/mmate-gateway/routing"
	"github.com/glimte/mmate-gateway/schema"
	"github.com/tidwall/gjson"
)

// Publisher delivers an accepted payload to a broker destination.
// Implementations decide whether delivery is confirmed before returning;
// the dispatcher only reports errors returned synchronously.
type Publisher interface {
	Publish(ctx context.Context, destination routing.Destination, payload []byte) error
}

// PublisherFunc is a function adapter for Publisher
type PublisherFunc func(ctx context.Context, destination routing.Destination, payload []byte) error

// Publish implements Publisher
func (f PublisherFunc) Publish(ctx context.Context, destination routing.Destination, payload []byte) error {
	return f(ctx, destination, payload)
}

// Request is the transport-independent view of an inbound call
type Request struct {
	APIKey      string
	ContentType string
	Body        []byte
}

// Outcome is the single terminal result of a dispatch
type Outcome struct {
	Status int
	Body   interface{}
	// Err is nil when the message was handed to the publisher
	Err error
}

// Accepted reports whether the message was published
func (o Outcome) Accepted() bool {
	return o.Err == nil
}

// Dispatcher runs the ordered checks of one request and publishes the
// message when all of them pass.
type Dispatcher struct {
	apiKey    []byte
	registry  *schema.Registry
	validator *schema.MessageValidator
	publisher Publisher
	clock     func() time.Time
	logger    *slog.Logger
}

// DispatcherOption configures the dispatcher
type DispatcherOption func(*Dispatcher)

// WithClock sets the source of acceptance timestamps
func WithClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.clock = clock
	}
}

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(apiKey string, registry *schema.Registry, publisher Publisher, options ...DispatcherOption) (*Dispatcher, error) {
	if apiKey == "" {
		return nil, errors.New("gateway: api key cannot be empty")
	}
	if registry == nil {
		return nil, errors.New("gateway: registry cannot be nil")
	}
	if publisher == nil {
		return nil, errors.New("gateway: publisher cannot be nil")
	}

	d := &Dispatcher{
		apiKey:    []byte(apiKey),
		registry:  registry,
		validator: schema.NewMessageValidator(registry),
		publisher: publisher,
		clock:     time.Now,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d, nil
}

// Dispatch checks req against route and publishes it. The checks run in
// a fixed order and the first failure is final.
func (d *Dispatcher) Dispatch(ctx context.Context, route routing.Route, req Request) Outcome {
	env, rej := d.check(route, req)
	if rej != nil {
		d.logger.Info("request rejected",
			"requestId", RequestIDFromContext(ctx),
			"route", route.Name,
			"kind", rej.Kind.String(),
			"cause", string(rej.Cause),
			"reason", rej.Reason)
		return rejected(rej)
	}

	operationID := env.OperationID.Str
	outbound := contracts.NewOutboundMessage(env, d.clock())
	payload, err := json.Marshal(outbound)
	if err != nil {
		return d.publishFailed(ctx, route, operationID, fmt.Errorf("failed to marshal message: %w", err))
	}

	if err := d.publisher.Publish(ctx, route.Destination, payload); err != nil {
		return d.publishFailed(ctx, route, operationID, err)
	}

	d.logger.Info("message published",
		"requestId", RequestIDFromContext(ctx),
		"route", route.Name,
		"operationId", operationID,
		"destination", route.Destination.String())

	return Outcome{
		Status: http.StatusCreated,
		Body:   contracts.NewMessageReply(contracts.MessageSent),
	}
}

func (d *Dispatcher) check(route routing.Route, req Request) (contracts.Envelope, *Rejection) {
	if !d.authenticated(req.APIKey) {
		return contracts.Envelope{}, unauthorized()
	}

	if len(bytes.TrimSpace(req.Body)) == 0 {
		return contracts.Envelope{}, malformed(CauseEmptyBody, contracts.ReasonNoData)
	}

	if !isJSONContentType(req.ContentType) {
		return contracts.Envelope{}, malformed(CauseBadContentType, contracts.ReasonNotJSON)
	}
	env, err := contracts.ParseEnvelope(req.Body)
	if errors.Is(err, contracts.ErrDuplicateMember) {
		return contracts.Envelope{}, malformed(CauseDuplicateMember, contracts.ReasonNotJSON)
	}
	if err != nil {
		return contracts.Envelope{}, malformed(CauseBadContentType, contracts.ReasonNotJSON)
	}

	if !schema.Present().Satisfied(env.OperationID) {
		return env, malformed(CauseMissingOperationID, contracts.ReasonMissingOperationID)
	}

	operationID, isString := operationIDOf(env.OperationID)
	if !isString || !route.Allows(operationID) {
		if !isString || !d.registry.Has(operationID) {
			return env, invalidOperation(CauseUnknownOperation)
		}
		return env, invalidOperation(CauseDisallowedOperation)
	}
	if !d.registry.Has(operationID) {
		return env, invalidOperation(CauseUnknownOperation)
	}

	if !schema.Present().Satisfied(env.Message) {
		return env, malformed(CauseMissingMessage, contracts.ReasonMissingMessage)
	}

	result := d.validator.ValidateValue(operationID, env.Message)
	if !result.Accepted {
		return env, schemaViolation(result.Reason)
	}

	return env, nil
}

func (d *Dispatcher) authenticated(key string) bool {
	if key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), d.apiKey) == 1
}

func (d *Dispatcher) publishFailed(ctx context.Context, route routing.Route, operationID string, err error) Outcome {
	d.logger.Error("failed to publish message",
		"requestId", RequestIDFromContext(ctx),
		"route", route.Name,
		"operationId", operationID,
		"destination", route.Destination.String(),
		"error", err)
	return rejected(publishFailure(err))
}

func rejected(rej *Rejection) Outcome {
	return Outcome{Status: rej.Status, Body: rej.Reply(), Err: rej}
}

func isJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

func operationIDOf(v gjson.Result) (string, bool) {
	if v.Type != gjson.String {
		return "", false
	}
	return v.Str, true
}
