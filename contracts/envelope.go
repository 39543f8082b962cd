package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tidwall/gjson"
)

// Envelope member names
const (
	FieldOperationID = "operationId"
	FieldMessage     = "message"
	FieldDate        = "date"
)

// DateLayout matches the ISO-8601 form producers already parse
// (millisecond precision, UTC designator).
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	// ErrNotObject is returned when an envelope body is not a JSON object
	ErrNotObject = errors.New("contracts: envelope is not a JSON object")
)

// Envelope is the {operationId, message} pair submitted by a caller.
// Raw keeps the complete body so no member is lost on the way to the
// broker.
type Envelope struct {
	OperationID gjson.Result
	Message     gjson.Result
	Raw         []byte
}

// ParseEnvelope inspects a request body without decoding it into Go
// values, so the JSON types of every member stay observable. Bodies that
// repeat a member name anywhere are refused, since the validated and the
// forwarded occurrence could differ.
func ParseEnvelope(body []byte) (Envelope, error) {
	if !gjson.ValidBytes(body) {
		return Envelope{}, ErrNotObject
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return Envelope{}, ErrNotObject
	}
	if err := CheckUniqueMembers(body); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrNotObject, err)
	}
	return Envelope{
		OperationID: doc.Get(FieldOperationID),
		Message:     doc.Get(FieldMessage),
		Raw:         body,
	}, nil
}

// OutboundMessage is what reaches the broker: every top-level member of
// the inbound envelope plus the acceptance date.
type OutboundMessage struct {
	fields map[string]json.RawMessage
	Date   time.Time
}

// NewOutboundMessage copies the members of env and stamps them with date.
// An inbound "date" member is replaced by the server value.
func NewOutboundMessage(env Envelope, date time.Time) *OutboundMessage {
	fields := make(map[string]json.RawMessage)
	gjson.ParseBytes(env.Raw).ForEach(func(key, value gjson.Result) bool {
		if key.String() != FieldDate {
			fields[key.String()] = json.RawMessage(value.Raw)
		}
		return true
	})
	return &OutboundMessage{fields: fields, Date: date.UTC()}
}

// Field returns the raw JSON of an inbound member.
func (m *OutboundMessage) Field(name string) (json.RawMessage, bool) {
	raw, ok := m.fields[name]
	return raw, ok
}

// FieldNames returns the inbound member names in sorted order.
func (m *OutboundMessage) FieldNames() []string {
	names := make([]string, 0, len(m.fields))
	for name := range m.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON implements json.Marshaler
func (m *OutboundMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.fields)+1)
	for name, raw := range m.fields {
		out[name] = raw
	}
	date, err := json.Marshal(m.Date.Format(DateLayout))
	if err != nil {
		return nil, err
	}
	out[FieldDate] = date
	return json.Marshal(out)
}
