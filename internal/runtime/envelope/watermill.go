package envelope

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	jsoncodec "github.com/hrmesh/hrmesh/internal/runtime/jsoncodec"
)

// Metadata keys stamped on every bus message so transports and middleware
// can route without unmarshalling the payload.
const (
	MetadataKeyCorrelationID = "hrmesh_correlation_id"
	MetadataKeyEventType     = "hrmesh_event_type"
	MetadataKeySource        = "hrmesh_source"
)

// ToMessage converts an event into a Watermill message. The message UUID is
// the event id; correlation id, type, and source are mirrored into metadata.
func ToMessage(evt Event) (*message.Message, error) {
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	payload, err := jsoncodec.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	msg := message.NewMessage(evt.ID, payload)
	msg.Metadata.Set(MetadataKeyCorrelationID, evt.CorrelationID)
	msg.Metadata.Set(MetadataKeyEventType, evt.Type)
	msg.Metadata.Set(MetadataKeySource, evt.Source)
	return msg, nil
}

// FromMessage parses a bus message back into an event envelope.
func FromMessage(msg *message.Message) (Event, error) {
	var evt Event
	if err := jsoncodec.Unmarshal(msg.Payload, &evt); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return Event{}, fmt.Errorf("invalid envelope: %w", err)
	}
	return evt, nil
}
