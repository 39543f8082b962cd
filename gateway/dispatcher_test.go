package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/glimte/mmate-gateway/contracts"
	"github.com/glimte/mmate-gateway/routing"
	"github.com/glimte/mmate-gateway/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const testAPIKey = "secret-key"

var fixedTime = time.Date(2024, 3, 1, 12, 30, 45, 123000000, time.UTC)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, destination routing.Destination, payload []byte) error {
	args := m.Called(ctx, destination, payload)
	return args.Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T, publisher Publisher) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(testAPIKey, schema.DefaultRegistry(), publisher,
		WithClock(func() time.Time { return fixedTime }),
		WithDispatcherLogger(discardLogger()))
	require.NoError(t, err)
	return d
}

func route(t *testing.T, name string) routing.Route {
	t.Helper()
	r, ok := routing.DefaultTable().Resolve(name)
	require.True(t, ok, "route %s", name)
	return r
}

func jsonRequest(body string) Request {
	return Request{APIKey: testAPIKey, ContentType: "application/json", Body: []byte(body)}
}

func TestNewDispatcher(t *testing.T) {
	pub := &mockPublisher{}

	t.Run("rejects empty api key", func(t *testing.T) {
		_, err := NewDispatcher("", schema.DefaultRegistry(), pub)
		assert.Error(t, err)
	})

	t.Run("rejects nil registry", func(t *testing.T) {
		_, err := NewDispatcher(testAPIKey, nil, pub)
		assert.Error(t, err)
	})

	t.Run("rejects nil publisher", func(t *testing.T) {
		_, err := NewDispatcher(testAPIKey, schema.DefaultRegistry(), nil)
		assert.Error(t, err)
	})
}

func TestDispatchPublishesAcceptedMessage(t *testing.T) {
	pub := &mockPublisher{}
	d := newTestDispatcher(t, pub)

	var published []byte
	pub.On("Publish", mock.Anything, routing.QueueDestination("users_microservice"), mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(2).([]byte) }).
		Return(nil).Once()

	outcome := d.Dispatch(context.Background(), route(t, routing.RouteUsers),
		jsonRequest(`{"operationId":"requestAppUsers","message":{"usernames":["a","b"]}}`))

	assert.True(t, outcome.Accepted())
	assert.Equal(t, http.StatusCreated, outcome.Status)
	assert.Equal(t, contracts.NewMessageReply(contracts.MessageSent), outcome.Body)
	pub.AssertExpectations(t)

	require.NotNil(t, published)
	doc := gjson.ParseBytes(published)
	assert.Equal(t, "requestAppUsers", doc.Get("operationId").String())
	assert.JSONEq(t, `{"usernames":["a","b"]}`, doc.Get("message").Raw)
	assert.Equal(t, "2024-03-01T12:30:45.123Z", doc.Get("date").String())
}

func TestDispatchCopiesExtraMembersVerbatim(t *testing.T) {
	pub := &mockPublisher{}
	d := newTestDispatcher(t, pub)

	var published []byte
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(2).([]byte) }).
		Return(nil)

	outcome := d.Dispatch(context.Background(), route(t, routing.RoutePayments),
		jsonRequest(`{"operationId":"notificationUserDeletion","message":{"username":"u","extra":1.50},"trace":{"hop":2},"date":"stale"}`))
	require.True(t, outcome.Accepted())

	doc := gjson.ParseBytes(published)
	assert.Equal(t, `{"username":"u","extra":1.50}`, doc.Get("message").Raw)
	assert.Equal(t, `{"hop":2}`, doc.Get("trace").Raw)
	assert.Equal(t, "2024-03-01T12:30:45.123Z", doc.Get("date").String())
}

func TestDispatchNotificationGoesToTopic(t *testing.T) {
	pub := &mockPublisher{}
	d := newTestDispatcher(t, pub)

	pub.On("Publish", mock.Anything, routing.TopicDestination(routing.TopicUserRemoved), mock.Anything).
		Return(nil).Once()

	outcome := d.Dispatch(context.Background(), route(t, routing.RouteUserNotification),
		jsonRequest(`{"operationId":"notificationUserDeletion","message":{"username":"u"}}`))

	assert.Equal(t, http.StatusCreated, outcome.Status)
	pub.AssertExpectations(t)
}

func TestDispatchRejections(t *testing.T) {
	tests := []struct {
		name    string
		route   string
		request Request
		kind    Kind
		cause   Cause
		status  int
		reason  string
	}{
		{
			name:    "missing api key",
			route:   routing.RouteUsers,
			request: Request{ContentType: "application/json", Body: []byte(`{"operationId":"requestAppUsers","message":{"usernames":["a"]}}`)},
			kind:    KindAuth,
			cause:   CauseUnauthorized,
			status:  http.StatusForbidden,
			reason:  contracts.ReasonUnauthorized,
		},
		{
			name:    "wrong api key",
			route:   routing.RouteUsers,
			request: Request{APIKey: "nope", ContentType: "application/json", Body: []byte(`{}`)},
			kind:    KindAuth,
			cause:   CauseUnauthorized,
			status:  http.StatusForbidden,
			reason:  contracts.ReasonUnauthorized,
		},
		{
			name:    "auth is checked before the body",
			route:   routing.RouteUsers,
			request: Request{APIKey: "nope", ContentType: "text/plain", Body: nil},
			kind:    KindAuth,
			cause:   CauseUnauthorized,
			status:  http.StatusForbidden,
			reason:  contracts.ReasonUnauthorized,
		},
		{
			name:    "empty body",
			route:   routing.RouteUsers,
			request: jsonRequest("  \n"),
			kind:    KindMalformedRequest,
			cause:   CauseEmptyBody,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonNoData,
		},
		{
			name:    "wrong content type",
			route:   routing.RouteUsers,
			request: Request{APIKey: testAPIKey, ContentType: "text/plain", Body: []byte(`{"operationId":"requestAppUsers"}`)},
			kind:    KindMalformedRequest,
			cause:   CauseBadContentType,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonNotJSON,
		},
		{
			name:    "array body",
			route:   routing.RouteUsers,
			request: jsonRequest(`[1,2]`),
			kind:    KindMalformedRequest,
			cause:   CauseBadContentType,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonNotJSON,
		},
		{
			name:    "invalid json",
			route:   routing.RouteUsers,
			request: jsonRequest(`{"operationId":`),
			kind:    KindMalformedRequest,
			cause:   CauseBadContentType,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonNotJSON,
		},
		{
			name:    "repeated message member",
			route:   routing.RouteUsers,
			request: jsonRequest(`{"operationId":"requestAppUsers","message":{"usernames":["a"]},"message":{"usernames":[]}}`),
			kind:    KindMalformedRequest,
			cause:   CauseDuplicateMember,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonNotJSON,
		},
		{
			name:    "repeated operation id member",
			route:   routing.RouteUsers,
			request: jsonRequest(`{"operationId":"requestAppUsers","message":{"usernames":["a"]},"operationId":"responseAppUsers"}`),
			kind:    KindMalformedRequest,
			cause:   CauseDuplicateMember,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonNotJSON,
		},
		{
			name:    "repeated member inside message",
			route:   routing.RouteLearning,
			request: jsonRequest(`{"operationId":"responseMaterialReviews","message":{"materialId":"m","review":3,"review":"4"}}`),
			kind:    KindMalformedRequest,
			cause:   CauseDuplicateMember,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonNotJSON,
		},
		{
			name:    "repeated member in a stringified message",
			route:   routing.RouteUsers,
			request: jsonRequest(`{"operationId":"requestAppUsers","message":"{\"usernames\":[\"a\"],\"usernames\":[]}"}`),
			kind:    KindSchemaViolation,
			cause:   CauseInvalidMessage,
			status:  http.StatusBadRequest,
			reason:  "Invalid message for operationId: requestAppUsers. Missing usernames or usernames is not an array or is empty.",
		},
		{
			name:    "missing operation id",
			route:   routing.RouteUsers,
			request: jsonRequest(`{"message":{"usernames":["a"]}}`),
			kind:    KindMalformedRequest,
			cause:   CauseMissingOperationID,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonMissingOperationID,
		},
		{
			name:    "empty operation id",
			route:   routing.RouteUsers,
			request: jsonRequest(`{"operationId":"","message":{"usernames":["a"]}}`),
			kind:    KindMalformedRequest,
			cause:   CauseMissingOperationID,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonMissingOperationID,
		},
		{
			name:    "operation id known but not on this route",
			route:   routing.RouteUsers,
			request: jsonRequest(`{"operationId":"notificationUserDeletion","message":{"username":"u"}}`),
			kind:    KindUnknownOrDisallowedOperation,
			cause:   CauseDisallowedOperation,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonInvalidOperationID,
		},
		{
			name:    "operation id unknown",
			route:   routing.RouteUsers,
			request: jsonRequest(`{"operationId":"doSomething","message":{"x":1}}`),
			kind:    KindUnknownOrDisallowedOperation,
			cause:   CauseUnknownOperation,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonInvalidOperationID,
		},
		{
			name:    "operation id with trailing space",
			route:   routing.RouteLearning,
			request: jsonRequest(`{"operationId":"notificationDeleteCourse ","message":{"courseId":1}}`),
			kind:    KindUnknownOrDisallowedOperation,
			cause:   CauseUnknownOperation,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonInvalidOperationID,
		},
		{
			name:    "operation id not a string",
			route:   routing.RouteUsers,
			request: jsonRequest(`{"operationId":42,"message":{"usernames":["a"]}}`),
			kind:    KindUnknownOrDisallowedOperation,
			cause:   CauseUnknownOperation,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonInvalidOperationID,
		},
		{
			name:    "operation id is checked before message",
			route:   routing.RouteUsers,
			request: jsonRequest(`{"operationId":"doSomething"}`),
			kind:    KindUnknownOrDisallowedOperation,
			cause:   CauseUnknownOperation,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonInvalidOperationID,
		},
		{
			name:    "missing message",
			route:   routing.RouteUsers,
			request: jsonRequest(`{"operationId":"requestAppUsers"}`),
			kind:    KindMalformedRequest,
			cause:   CauseMissingMessage,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonMissingMessage,
		},
		{
			name:    "false operation id",
			route:   routing.RouteUsers,
			request: jsonRequest(`{"operationId":false,"message":{"usernames":["a"]}}`),
			kind:    KindMalformedRequest,
			cause:   CauseMissingOperationID,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonMissingOperationID,
		},
		{
			name:    "zero message",
			route:   routing.RouteUsers,
			request: jsonRequest(`{"operationId":"requestAppUsers","message":0}`),
			kind:    KindMalformedRequest,
			cause:   CauseMissingMessage,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonMissingMessage,
		},
		{
			name:    "null message",
			route:   routing.RouteUsers,
			request: jsonRequest(`{"operationId":"requestAppUsers","message":null}`),
			kind:    KindMalformedRequest,
			cause:   CauseMissingMessage,
			status:  http.StatusBadRequest,
			reason:  contracts.ReasonMissingMessage,
		},
		{
			name:    "empty usernames",
			route:   routing.RouteUsers,
			request: jsonRequest(`{"operationId":"requestAppUsers","message":{"usernames":[]}}`),
			kind:    KindSchemaViolation,
			cause:   CauseInvalidMessage,
			status:  http.StatusBadRequest,
			reason:  "Invalid message for operationId: requestAppUsers. Missing usernames or usernames is not an array or is empty.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{}
			d := newTestDispatcher(t, pub)

			outcome := d.Dispatch(context.Background(), route(t, tt.route), tt.request)

			require.False(t, outcome.Accepted())
			assert.Equal(t, tt.status, outcome.Status)
			assert.Equal(t, contracts.NewErrorReply(tt.reason), outcome.Body)

			rej, ok := AsRejection(outcome.Err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, rej.Kind)
			assert.Equal(t, tt.cause, rej.Cause)
			pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestDispatchAcceptsContentTypeParameters(t *testing.T) {
	pub := &mockPublisher{}
	d := newTestDispatcher(t, pub)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	outcome := d.Dispatch(context.Background(), route(t, routing.RouteUsers), Request{
		APIKey:      testAPIKey,
		ContentType: "application/json; charset=utf-8",
		Body:        []byte(`{"operationId":"requestAppUsers","message":{"usernames":["a"]}}`),
	})

	assert.Equal(t, http.StatusCreated, outcome.Status)
}

func TestDispatchPublishFailure(t *testing.T) {
	pub := &mockPublisher{}
	d := newTestDispatcher(t, pub)
	brokerErr := errors.New("channel closed")
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(brokerErr)

	outcome := d.Dispatch(context.Background(), route(t, routing.RouteUsers),
		jsonRequest(`{"operationId":"requestAppUsers","message":{"usernames":["a"]}}`))

	assert.Equal(t, http.StatusInternalServerError, outcome.Status)
	assert.Equal(t, contracts.NewErrorReply(contracts.ReasonPublishFailed), outcome.Body)
	assert.ErrorIs(t, outcome.Err, brokerErr)

	rej, ok := AsRejection(outcome.Err)
	require.True(t, ok)
	assert.Equal(t, KindPublishFailure, rej.Kind)
}

func TestDispatchDoesNotDeduplicate(t *testing.T) {
	pub := &mockPublisher{}
	d := newTestDispatcher(t, pub)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()

	req := jsonRequest(`{"operationId":"requestAppUsers","message":{"usernames":["a"]}}`)
	for i := 0; i < 2; i++ {
		outcome := d.Dispatch(context.Background(), route(t, routing.RouteUsers), req)
		assert.Equal(t, http.StatusCreated, outcome.Status)
	}

	pub.AssertNumberOfCalls(t, "Publish", 2)
}

func TestDispatchPassesContext(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	d := newTestDispatcher(t, PublisherFunc(func(got context.Context, _ routing.Destination, _ []byte) error {
		assert.Equal(t, "req-1", RequestIDFromContext(got))
		return nil
	}))

	outcome := d.Dispatch(ctx, route(t, routing.RouteUsers),
		jsonRequest(`{"operationId":"requestAppUsers","message":{"usernames":["a"]}}`))
	assert.True(t, outcome.Accepted())
}
