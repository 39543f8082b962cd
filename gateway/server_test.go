package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glimte/mmate-gateway/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, pub Publisher, options ...ServerOption) *Server {
	t.Helper()
	opts := append([]ServerOption{WithServerLogger(discardLogger())}, options...)
	return NewServer(newTestDispatcher(t, pub), routing.DefaultTable(), opts...)
}

func do(t *testing.T, h http.Handler, method, path, apiKey, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(HeaderAPIKey, apiKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServerScenarios(t *testing.T) {
	t.Run("valid users request is published", func(t *testing.T) {
		pub := &mockPublisher{}
		pub.On("Publish", mock.Anything, routing.QueueDestination("users_microservice"), mock.Anything).Return(nil).Once()
		srv := newTestServer(t, pub)

		rec := do(t, srv, http.MethodPost, "/v1/messages/users-microservice", testAPIKey,
			`{"operationId":"requestAppUsers","message":{"usernames":["a","b"]}}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, map[string]string{"message": "Message sent successfully"}, decode(t, rec))
		pub.AssertExpectations(t)
	})

	t.Run("empty usernames is rejected with the field name", func(t *testing.T) {
		pub := &mockPublisher{}
		srv := newTestServer(t, pub)

		rec := do(t, srv, http.MethodPost, "/v1/messages/users-microservice", testAPIKey,
			`{"operationId":"requestAppUsers","message":{"usernames":[]}}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode(t, rec)["error"], "usernames")
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing api key", func(t *testing.T) {
		pub := &mockPublisher{}
		srv := newTestServer(t, pub)

		rec := do(t, srv, http.MethodPost, "/v1/messages/users-microservice", "",
			`{"operationId":"requestAppUsers","message":{"usernames":["a"]}}`)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, map[string]string{"error": "Unauthorized. You need a valid API key"}, decode(t, rec))
	})

	t.Run("user notification goes to the topic", func(t *testing.T) {
		pub := &mockPublisher{}
		pub.On("Publish", mock.Anything, routing.TopicDestination("userRemoved"), mock.Anything).Return(nil).Once()
		srv := newTestServer(t, pub)

		rec := do(t, srv, http.MethodPost, "/v1/messages/user/notification", testAPIKey,
			`{"operationId":"notificationUserDeletion","message":{"username":"u"}}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		pub.AssertExpectations(t)
	})

	t.Run("check does not need an api key", func(t *testing.T) {
		srv := newTestServer(t, &mockPublisher{})

		rec := do(t, srv, http.MethodGet, "/v1/messages/check", "", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, map[string]string{"message": "The communication microservice is working properly!"}, decode(t, rec))
	})
}

func TestServerUnknownRoute(t *testing.T) {
	srv := newTestServer(t, &mockPublisher{})

	rec := do(t, srv, http.MethodPost, "/v1/messages/billing-microservice", testAPIKey,
		`{"operationId":"requestAppUsers","message":{"usernames":["a"]}}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, map[string]string{"error": "Route not found"}, decode(t, rec))
}

func TestServerBodyTooLarge(t *testing.T) {
	pub := &mockPublisher{}
	srv := newTestServer(t, pub, WithMaxBodyBytes(16))

	rec := do(t, srv, http.MethodPost, "/v1/messages/users-microservice", testAPIKey,
		`{"operationId":"requestAppUsers","message":{"usernames":["a"]}}`)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, map[string]string{"error": "Request body too large"}, decode(t, rec))
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestServerChecksAPIKeyBeforeBodyLimit(t *testing.T) {
	pub := &mockPublisher{}
	srv := newTestServer(t, pub, WithMaxBodyBytes(16))
	body := `{"operationId":"requestAppUsers","message":{"usernames":["a"]}}`

	for _, apiKey := range []string{"", "wrong-key"} {
		rec := do(t, srv, http.MethodPost, "/v1/messages/users-microservice", apiKey, body)

		assert.Equal(t, http.StatusForbidden, rec.Code, apiKey)
		assert.Equal(t, map[string]string{"error": "Unauthorized. You need a valid API key"}, decode(t, rec))
	}
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestServerRejectsRepeatedMembers(t *testing.T) {
	pub := &mockPublisher{}
	srv := newTestServer(t, pub)

	rec := do(t, srv, http.MethodPost, "/v1/messages/users-microservice", testAPIKey,
		`{"operationId":"requestAppUsers","message":{"usernames":["a"]},"operationId":"responseAppUsers"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]string{"error": "The content must be a JSON object"}, decode(t, rec))
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestServerPrefixAndVersion(t *testing.T) {
	srv := newTestServer(t, &mockPublisher{},
		WithPrefix("api"),
		WithVersion("/v2/"),
		WithServiceName("Gateway"))

	assert.Equal(t, "/api/v2/messages", srv.BasePath())

	rec := do(t, srv, http.MethodGet, "/api/v2/messages/check", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Gateway is working properly!", decode(t, rec)["message"])

	rec = do(t, srv, http.MethodGet, "/v1/messages/check", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerHealthEndpoint(t *testing.T) {
	t.Run("not mounted by default", func(t *testing.T) {
		srv := newTestServer(t, &mockPublisher{})
		rec := do(t, srv, http.MethodGet, "/v1/messages/health", "", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("mounted handler is served", func(t *testing.T) {
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		srv := newTestServer(t, &mockPublisher{}, WithHealthHandler(h))
		rec := do(t, srv, http.MethodGet, "/v1/messages/health", "", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestServerMiddleware(t *testing.T) {
	srv := newTestServer(t, &mockPublisher{})

	t.Run("generates a request id", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/v1/messages/check", "", "")
		assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("echoes the caller's request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/messages/check", nil)
		req.Header.Set(HeaderRequestID, "abc-123")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, "abc-123", rec.Header().Get(HeaderRequestID))
	})

	t.Run("answers preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/v1/messages/users-microservice", nil)
		req.Header.Set("Origin", "http://example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "x-api-key")
	})
}

func TestChainRecoversPanics(t *testing.T) {
	var order []string
	trace := func(name string) Middleware {
		return NewMiddlewareFunc(name, func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		})
	}

	chain := NewChain(discardLogger()).
		Add(Recovery(discardLogger())).
		Add(trace("first")).
		Add(trace("second"))
	assert.Equal(t, []string{"recovery", "first", "second"}, chain.Names())

	h := chain.Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDefaultChainOrder(t *testing.T) {
	assert.Equal(t, []string{"recovery", "request_id", "access_log", "cors"}, DefaultChain(discardLogger()).Names())
}

func TestServerServeShutsDownOnCancel(t *testing.T) {
	srv := newTestServer(t, &mockPublisher{})
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, listener, time.Second)
	}()

	resp, err := http.Get("http://" + listener.Addr().String() + "/v1/messages/check")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
