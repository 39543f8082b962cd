package routing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/glimte/mmate-gateway/schema"
)

var (
	ErrInvalidRoute     = errors.New("routing: invalid route")
	ErrDuplicateRoute   = errors.New("routing: duplicate route")
	ErrUnknownOperation = errors.New("routing: operation id has no rule")
)

// DestinationKind tells whether a destination is point-to-point or
// publish/subscribe.
type DestinationKind int

const (
	Queue DestinationKind = iota + 1
	Topic
)

func (k DestinationKind) String() string {
	switch k {
	case Queue:
		return "queue"
	case Topic:
		return "topic"
	default:
		return "unknown"
	}
}

// Destination is a queue or a topic on the broker
type Destination struct {
	Kind DestinationKind
	Name string
}

// QueueDestination returns a point-to-point destination
func QueueDestination(name string) Destination {
	return Destination{Kind: Queue, Name: name}
}

// TopicDestination returns a publish/subscribe destination
func TopicDestination(name string) Destination {
	return Destination{Kind: Topic, Name: name}
}

func (d Destination) String() string {
	return d.Kind.String() + ":" + d.Name
}

// Route binds an inbound route name to one destination and the operation
// ids it accepts.
type Route struct {
	Name        string
	Destination Destination
	operations  map[string]struct{}
	ordered     []string
}

// NewRoute creates a route accepting operationIDs
func NewRoute(name string, destination Destination, operationIDs ...string) Route {
	r := Route{
		Name:        name,
		Destination: destination,
		operations:  make(map[string]struct{}, len(operationIDs)),
	}
	for _, id := range operationIDs {
		if _, dup := r.operations[id]; dup {
			continue
		}
		r.operations[id] = struct{}{}
		r.ordered = append(r.ordered, id)
	}
	return r
}

// Allows reports whether operationID is on the route's whitelist
func (r Route) Allows(operationID string) bool {
	_, ok := r.operations[operationID]
	return ok
}

// OperationIDs returns the whitelist in declaration order
func (r Route) OperationIDs() []string {
	return append([]string(nil), r.ordered...)
}

func (r Route) validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRoute)
	}
	if r.Destination.Kind != Queue && r.Destination.Kind != Topic {
		return fmt.Errorf("%w: %s has no destination kind", ErrInvalidRoute, r.Name)
	}
	if r.Destination.Name == "" {
		return fmt.Errorf("%w: %s has an empty %s name", ErrInvalidRoute, r.Name, r.Destination.Kind)
	}
	if len(r.operations) == 0 {
		return fmt.Errorf("%w: %s accepts no operation ids", ErrInvalidRoute, r.Name)
	}
	return nil
}

// Table resolves route names. It is immutable once built and safe for
// concurrent reads.
type Table struct {
	routes map[string]Route
	names  []string
}

// NewTable creates a route table
func NewTable(routes ...Route) (*Table, error) {
	t := &Table{routes: make(map[string]Route, len(routes))}

	for _, route := range routes {
		if err := route.validate(); err != nil {
			return nil, err
		}
		if _, exists := t.routes[route.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRoute, route.Name)
		}
		t.routes[route.Name] = route
		t.names = append(t.names, route.Name)
	}

	sort.Strings(t.names)
	return t, nil
}

// Resolve returns the route registered under name
func (t *Table) Resolve(name string) (Route, bool) {
	route, ok := t.routes[name]
	return route, ok
}

// IsOperationAllowed reports whether route accepts operationID
func (t *Table) IsOperationAllowed(route Route, operationID string) bool {
	return route.Allows(operationID)
}

// Routes returns every route sorted by name
func (t *Table) Routes() []Route {
	routes := make([]Route, 0, len(t.names))
	for _, name := range t.names {
		routes = append(routes, t.routes[name])
	}
	return routes
}

// Destinations returns the distinct destinations of the table
func (t *Table) Destinations() []Destination {
	seen := make(map[Destination]bool)
	var out []Destination
	for _, route := range t.Routes() {
		if !seen[route.Destination] {
			seen[route.Destination] = true
			out = append(out, route.Destination)
		}
	}
	return out
}

// Verify checks that every whitelisted operation id has a rule in registry.
func (t *Table) Verify(registry *schema.Registry) error {
	var errs []error
	for _, route := range t.Routes() {
		for _, id := range route.ordered {
			if !registry.Has(id) {
				errs = append(errs, fmt.Errorf("%w: %q on route %s", ErrUnknownOperation, id, route.Name))
			}
		}
	}
	return errors.Join(errs...)
}
