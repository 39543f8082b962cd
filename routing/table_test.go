package routing

import (
	"testing"

	"github.com/glimte/mmate-gateway/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTable(t *testing.T) {
	t.Run("resolves registered routes", func(t *testing.T) {
		table, err := NewTable(NewRoute("orders", QueueDestination("orders_q"), "placeOrder"))
		require.NoError(t, err)

		route, ok := table.Resolve("orders")
		require.True(t, ok)
		assert.Equal(t, QueueDestination("orders_q"), route.Destination)
		assert.True(t, table.IsOperationAllowed(route, "placeOrder"))
		assert.False(t, table.IsOperationAllowed(route, "cancelOrder"))

		_, ok = table.Resolve("missing")
		assert.False(t, ok)
	})

	tests := []struct {
		name  string
		route Route
	}{
		{"empty name", NewRoute("", QueueDestination("q"), "op")},
		{"no destination kind", NewRoute("r", Destination{Name: "q"}, "op")},
		{"empty destination name", NewRoute("r", TopicDestination(""), "op")},
		{"empty whitelist", NewRoute("r", QueueDestination("q"))},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			_, err := NewTable(tt.route)
			assert.ErrorIs(t, err, ErrInvalidRoute)
		})
	}

	t.Run("rejects duplicate names", func(t *testing.T) {
		_, err := NewTable(
			NewRoute("r", QueueDestination("a"), "op"),
			NewRoute("r", QueueDestination("b"), "op"),
		)
		assert.ErrorIs(t, err, ErrDuplicateRoute)
	})
}

func TestRoute(t *testing.T) {
	route := NewRoute("r", TopicDestination("events"), "b", "a", "b")

	assert.Equal(t, []string{"b", "a"}, route.OperationIDs())
	assert.True(t, route.Allows("a"))
	assert.False(t, route.Allows(""))
	assert.Equal(t, "topic:events", route.Destination.String())

	ids := route.OperationIDs()
	ids[0] = "mutated"
	assert.False(t, route.Allows("mutated"))
}

func TestDestinationKind_String(t *testing.T) {
	assert.Equal(t, "queue", Queue.String())
	assert.Equal(t, "topic", Topic.String())
	assert.Equal(t, "unknown", DestinationKind(0).String())
}

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()

	t.Run("routes are sorted by name", func(t *testing.T) {
		var names []string
		for _, route := range table.Routes() {
			names = append(names, route.Name)
		}
		assert.Equal(t, []string{RouteCourses, RouteLearning, RoutePayments, RouteUserNotification, RouteUsers}, names)
	})

	t.Run("every whitelisted id has a rule", func(t *testing.T) {
		assert.NoError(t, table.Verify(schema.DefaultRegistry()))
	})

	t.Run("user notification is a topic route with a single operation", func(t *testing.T) {
		route, ok := table.Resolve(RouteUserNotification)
		require.True(t, ok)
		assert.Equal(t, TopicDestination(TopicUserRemoved), route.Destination)
		assert.Equal(t, []string{schema.OpNotificationUserDeletion}, route.OperationIDs())
	})

	t.Run("microservice routes publish to queues", func(t *testing.T) {
		expected := map[string]string{
			RouteUsers:    "users_microservice",
			RouteCourses:  "courses_microservice",
			RoutePayments: "payments_microservice",
			RouteLearning: "learning_microservice",
		}
		for name, queue := range expected {
			route, ok := table.Resolve(name)
			require.True(t, ok, name)
			assert.Equal(t, QueueDestination(queue), route.Destination)
		}
	})

	t.Run("whitelists are per route", func(t *testing.T) {
		users, _ := table.Resolve(RouteUsers)
		learning, _ := table.Resolve(RouteLearning)

		assert.True(t, users.Allows(schema.OpRequestAppUsers))
		assert.False(t, users.Allows(schema.OpResponseAppUsers))
		assert.True(t, learning.Allows(schema.OpResponseAppUsers))
		assert.True(t, learning.Allows(schema.OpNotificationDeleteCourse))
	})

	t.Run("destinations are distinct", func(t *testing.T) {
		assert.Len(t, table.Destinations(), 5)
	})
}

func TestTable_Verify(t *testing.T) {
	table, err := NewTable(NewRoute("r", QueueDestination("q"), schema.OpRequestAppUsers, "ghost"))
	require.NoError(t, err)

	err = table.Verify(schema.DefaultRegistry())
	assert.ErrorIs(t, err, ErrUnknownOperation)
	assert.Contains(t, err.Error(), `"ghost"`)
}
