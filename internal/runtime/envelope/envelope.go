// Package envelope defines the immutable message envelope exchanged on the
// bus: {id, type, source, version, correlationId, timestamp, data}. Request
// and response events share the same shape and are distinguished by the type
// suffix (e.g. "employee.fetch.request" / "employee.fetch.response").
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	idspkg "github.com/hrmesh/hrmesh/internal/runtime/ids"
)

// Version is the envelope schema version stamped on every event.
const Version = "1.0"

const (
	requestSuffix  = ".request"
	responseSuffix = ".response"
)

// Event is the bus envelope. Published once, never mutated. Unknown JSON
// attributes survive a round trip via the Extensions map.
type Event struct {
	// ID uniquely identifies the event. Generated as a ULID when not set.
	ID string `json:"id"`

	// Type names the event, e.g. "employee.fetch.request".
	Type string `json:"type"`

	// Source is the logical service that produced the event.
	Source string `json:"source"`

	// Version is the envelope schema version.
	Version string `json:"version"`

	// CorrelationID links a request to its eventual reply. A UUID generated
	// by the bridge that issues the request.
	CorrelationID string `json:"correlationId"`

	// Time is when the event was produced.
	Time time.Time `json:"timestamp"`

	// Data is the event payload. Any JSON-serializable value.
	Data any `json:"data,omitempty"`

	// Extensions carries attributes outside the envelope schema. They are
	// flattened into the top-level JSON object.
	Extensions map[string]any `json:"-"`
}

// New creates an event with a generated ULID id and the current time.
func New(eventType, source string, data any) Event {
	return Event{
		ID:      idspkg.CreateULID(),
		Type:    eventType,
		Source:  source,
		Version: Version,
		Time:    time.Now().UTC(),
		Data:    data,
	}
}

// NewWithID creates an event with a specific id.
func NewWithID(id, eventType, source string, data any) Event {
	evt := New(eventType, source, data)
	evt.ID = id
	return evt
}

// NewRequest creates a request event for the given operation (e.g.
// "employee.fetch") carrying a fresh correlation id.
func NewRequest(operation, source string, data any) Event {
	evt := New(RequestType(operation), source, data)
	evt.CorrelationID = idspkg.CreateCorrelationID()
	return evt
}

// NewReply creates the response event for a request, copying its correlation
// id and flipping the type suffix.
func NewReply(req Event, source string, data any) Event {
	evt := New(ResponseType(Operation(req.Type)), source, data)
	evt.CorrelationID = req.CorrelationID
	return evt
}

// WithCorrelationID sets the correlation id and returns the event.
func (e Event) WithCorrelationID(id string) Event {
	e.CorrelationID = id
	return e
}

// WithExtension sets an extension attribute and returns the event.
func (e Event) WithExtension(key string, value any) Event {
	ext := make(map[string]any, len(e.Extensions)+1)
	for k, v := range e.Extensions {
		ext[k] = v
	}
	ext[key] = value
	e.Extensions = ext
	return e
}

// GetExtension retrieves an extension value by key, or nil.
func (e Event) GetExtension(key string) any {
	if e.Extensions == nil {
		return nil
	}
	return e.Extensions[key]
}

// GetExtensionString retrieves an extension value as a string.
func (e Event) GetExtensionString(key string) string {
	v := e.GetExtension(key)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// RequestType returns the request event type for an operation.
func RequestType(operation string) string {
	return operation + requestSuffix
}

// ResponseType returns the response event type for an operation.
func ResponseType(operation string) string {
	return operation + responseSuffix
}

// IsRequest reports whether the event type names a request.
func IsRequest(eventType string) bool {
	return strings.HasSuffix(eventType, requestSuffix)
}

// IsResponse reports whether the event type names a response.
func IsResponse(eventType string) bool {
	return strings.HasSuffix(eventType, responseSuffix)
}

// Operation strips the request/response suffix from an event type.
// "employee.fetch.request" -> "employee.fetch".
func Operation(eventType string) string {
	switch {
	case strings.HasSuffix(eventType, requestSuffix):
		return strings.TrimSuffix(eventType, requestSuffix)
	case strings.HasSuffix(eventType, responseSuffix):
		return strings.TrimSuffix(eventType, responseSuffix)
	default:
		return eventType
	}
}

// Validate checks that the event carries the required envelope attributes.
// Payload contents are deliberately not inspected.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if e.Source == "" {
		return fmt.Errorf("source is required")
	}
	if e.Version == "" {
		return fmt.Errorf("version is required")
	}
	if e.Version != Version {
		return fmt.Errorf("version must be %q, got %q", Version, e.Version)
	}
	return nil
}

// Clone creates a deep copy of the event envelope. The Data payload is
// shared; envelopes treat it as immutable.
func (e Event) Clone() Event {
	cloned := e
	if e.Extensions != nil {
		cloned.Extensions = make(map[string]any, len(e.Extensions))
		for k, v := range e.Extensions {
			cloned.Extensions[k] = v
		}
	}
	return cloned
}

// knownAttrs are the envelope's own JSON keys; everything else lands in
// Extensions on unmarshal.
var knownAttrs = map[string]bool{
	"id":            true,
	"type":          true,
	"source":        true,
	"version":       true,
	"correlationId": true,
	"timestamp":     true,
	"data":          true,
}

// MarshalJSON flattens extensions into the top-level object.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 7+len(e.Extensions))

	m["id"] = e.ID
	m["type"] = e.Type
	m["source"] = e.Source
	m["version"] = e.Version
	m["correlationId"] = e.CorrelationID
	if !e.Time.IsZero() {
		m["timestamp"] = e.Time.Format(time.RFC3339Nano)
	}
	if e.Data != nil {
		m["data"] = e.Data
	}

	for k, v := range e.Extensions {
		if knownAttrs[k] {
			continue
		}
		m[k] = v
	}

	return json.Marshal(m)
}

// UnmarshalJSON parses the envelope attributes and collects unknown keys
// into Extensions.
func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	stringAttr := func(key string, dst *string) error {
		raw, ok := m[key]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		return nil
	}

	if err := stringAttr("id", &e.ID); err != nil {
		return err
	}
	if err := stringAttr("type", &e.Type); err != nil {
		return err
	}
	if err := stringAttr("source", &e.Source); err != nil {
		return err
	}
	if err := stringAttr("version", &e.Version); err != nil {
		return err
	}
	if err := stringAttr("correlationId", &e.CorrelationID); err != nil {
		return err
	}

	if raw, ok := m["timestamp"]; ok {
		var timeStr string
		if err := json.Unmarshal(raw, &timeStr); err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, timeStr)
		if err != nil {
			t, err = time.Parse(time.RFC3339, timeStr)
			if err != nil {
				return fmt.Errorf("invalid timestamp format: %w", err)
			}
		}
		e.Time = t
	}

	if raw, ok := m["data"]; ok {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("invalid data: %w", err)
		}
		e.Data = v
	}

	for k, raw := range m {
		if knownAttrs[k] {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("invalid extension %q: %w", k, err)
		}
		if e.Extensions == nil {
			e.Extensions = make(map[string]any)
		}
		e.Extensions[k] = v
	}

	return nil
}
