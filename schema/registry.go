package schema

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrEmptyOperationID = errors.New("schema: operation id cannot be empty")
	ErrDuplicateRule    = errors.New("schema: duplicate rule")
	ErrEmptyRule        = errors.New("schema: rule has no checks")
	ErrInvalidCheck     = errors.New("schema: invalid check")
)

// Registry holds one Rule per operation id. It is built once and never
// mutated afterwards, so lookups need no locking.
type Registry struct {
	rules map[string]Rule
	ids   []string
}

// NewRegistry creates a registry from rules
func NewRegistry(rules ...Rule) (*Registry, error) {
	r := &Registry{
		rules: make(map[string]Rule, len(rules)),
		ids:   make([]string, 0, len(rules)),
	}

	for _, rule := range rules {
		if rule.OperationID == "" {
			return nil, ErrEmptyOperationID
		}
		if _, exists := r.rules[rule.OperationID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, rule.OperationID)
		}
		if len(rule.Checks) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyRule, rule.OperationID)
		}
		for i, check := range rule.Checks {
			if check.Constraint == nil || len(check.Fields) == 0 || check.Requirement == "" {
				return nil, fmt.Errorf("%w: %s check %d", ErrInvalidCheck, rule.OperationID, i)
			}
		}

		r.rules[rule.OperationID] = rule
		r.ids = append(r.ids, rule.OperationID)
	}

	sort.Strings(r.ids)
	return r, nil
}

// Rule returns the rule registered for operationID. Callers treat a
// missing rule as an invalid operation id.
func (r *Registry) Rule(operationID string) (Rule, bool) {
	rule, ok := r.rules[operationID]
	return rule, ok
}

// Has reports whether operationID is known
func (r *Registry) Has(operationID string) bool {
	_, ok := r.rules[operationID]
	return ok
}

// OperationIDs returns the known operation ids in sorted order
func (r *Registry) OperationIDs() []string {
	return append([]string(nil), r.ids...)
}

// Len returns the number of registered rules
func (r *Registry) Len() int {
	return len(r.ids)
}
