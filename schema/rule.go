package schema

import (
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// Constraint is a predicate over one field value of a message.
// A value that does not exist in the message is passed as the zero
// gjson.Result, so constraints decide themselves what absence means.
type Constraint interface {
	Satisfied(value gjson.Result) bool
	Name() string
}

// Check applies a constraint to every listed field. Requirement is the
// sentence reported to the producer when any of the fields fails.
type Check struct {
	Fields      []string
	Constraint  Constraint
	Requirement string
}

// Satisfied reports whether every field of obj passes the constraint.
func (c Check) Satisfied(obj gjson.Result) bool {
	for _, field := range c.Fields {
		if !c.Constraint.Satisfied(lookup(obj, field)) {
			return false
		}
	}
	return true
}

// Rule is the validation contract of one operation id. Checks are
// evaluated in order and the first failing one decides the reason.
type Rule struct {
	OperationID string
	Checks      []Check
}

// RequiredFields lists the fields that must be present, in rule order.
func (r Rule) RequiredFields() []string {
	var fields []string
	seen := make(map[string]bool)
	for _, check := range r.Checks {
		switch check.Constraint.(type) {
		case present, defined, nonEmptyArray, each:
		default:
			continue
		}
		for _, field := range check.Fields {
			if !seen[field] {
				seen[field] = true
				fields = append(fields, field)
			}
		}
	}
	return fields
}

// Present requires the value to exist and be set: null, false, 0, "" and
// [] count as absent.
func Present() Constraint { return present{} }

// Defined requires the key to exist; null is allowed.
func Defined() Constraint { return defined{} }

// ArrayIfSet requires a non-empty value to be an array. Absent values pass.
func ArrayIfSet() Constraint { return arrayIfSet{} }

// NonEmptyArray requires an array with at least one element.
func NonEmptyArray() Constraint { return nonEmptyArray{} }

// OneOf requires a string equal to one of values.
func OneOf(values ...string) Constraint {
	return oneOf{values: append([]string(nil), values...)}
}

// NullableIntRange requires null or an integral JSON number within
// [min, max]. Numeric strings are rejected, not coerced.
func NullableIntRange(min, max int) Constraint {
	return intRange{min: min, max: max, nullable: true}
}

// Each requires a non-empty array whose elements are all objects passing
// every nested check.
func Each(checks ...Check) Constraint {
	return each{checks: append([]Check(nil), checks...)}
}

// Require builds a Present check over fields.
func Require(requirement string, fields ...string) Check {
	return Check{Fields: fields, Constraint: Present(), Requirement: requirement}
}

type present struct{}

func (present) Name() string { return "present" }

func (present) Satisfied(v gjson.Result) bool { return truthy(v) }

type defined struct{}

func (defined) Name() string { return "defined" }

func (defined) Satisfied(v gjson.Result) bool { return v.Exists() }

type arrayIfSet struct{}

func (arrayIfSet) Name() string { return "array-if-set" }

func (arrayIfSet) Satisfied(v gjson.Result) bool {
	return !truthy(v) || v.IsArray()
}

type nonEmptyArray struct{}

func (nonEmptyArray) Name() string { return "non-empty-array" }

func (nonEmptyArray) Satisfied(v gjson.Result) bool {
	return v.IsArray() && hasElements(v)
}

type oneOf struct {
	values []string
}

func (oneOf) Name() string { return "one-of" }

func (c oneOf) Satisfied(v gjson.Result) bool {
	if v.Type != gjson.String {
		return false
	}
	for _, allowed := range c.values {
		if v.Str == allowed {
			return true
		}
	}
	return false
}

type intRange struct {
	min, max int
	nullable bool
}

func (intRange) Name() string { return "int-range" }

func (c intRange) Satisfied(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null:
		return c.nullable && v.Exists()
	case gjson.Number:
		if v.Num != math.Trunc(v.Num) {
			return false
		}
		return v.Num >= float64(c.min) && v.Num <= float64(c.max)
	default:
		return false
	}
}

type each struct {
	checks []Check
}

func (each) Name() string { return "each" }

func (c each) Satisfied(v gjson.Result) bool {
	if !v.IsArray() || !hasElements(v) {
		return false
	}
	ok := true
	v.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			ok = false
			return false
		}
		for _, check := range c.checks {
			if !check.Satisfied(item) {
				ok = false
				return false
			}
		}
		return true
	})
	return ok
}

// truthy mirrors what producers consider "set": anything but a missing
// key, null, false, zero, an empty string or an empty array.
func truthy(v gjson.Result) bool {
	if !v.Exists() {
		return false
	}
	switch v.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return v.Num != 0
	case gjson.String:
		return v.Str != ""
	case gjson.JSON:
		if v.IsArray() {
			return hasElements(v)
		}
	}
	return true
}

func hasElements(v gjson.Result) bool {
	found := false
	v.ForEach(func(_, _ gjson.Result) bool {
		found = true
		return false
	})
	return found
}

// lookup reads a direct member of obj. Field names are escaped so they
// are never interpreted as gjson path syntax.
func lookup(obj gjson.Result, field string) gjson.Result {
	if !obj.IsObject() {
		return gjson.Result{}
	}
	return obj.Get(escapePath(field))
}

func escapePath(field string) string {
	if !strings.ContainsAny(field, `.*?|#@\!=<>%`) {
		return field
	}
	var b strings.Builder
	for _, r := range field {
		if strings.ContainsRune(`.*?|#@\!=<>%`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
