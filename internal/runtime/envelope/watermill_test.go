package envelope

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMessageStampsMetadata(t *testing.T) {
	evt := NewRequest("employee.fetch", "performance", map[string]any{"ids": []string{"e1"}})

	msg, err := ToMessage(evt)
	require.NoError(t, err)

	assert.Equal(t, evt.ID, msg.UUID)
	assert.Equal(t, evt.CorrelationID, msg.Metadata.Get(MetadataKeyCorrelationID))
	assert.Equal(t, "employee.fetch.request", msg.Metadata.Get(MetadataKeyEventType))
	assert.Equal(t, "performance", msg.Metadata.Get(MetadataKeySource))
}

func TestToMessageRejectsInvalidEnvelope(t *testing.T) {
	_, err := ToMessage(Event{Type: "employee.fetch.request"})
	assert.Error(t, err)
}

func TestFromMessageRoundTrip(t *testing.T) {
	evt := NewRequest("employee.fetch", "performance", map[string]any{"ids": []any{"e1", "e2"}})

	msg, err := ToMessage(evt)
	require.NoError(t, err)

	decoded, err := FromMessage(msg)
	require.NoError(t, err)

	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, evt.Type, decoded.Type)
	assert.Equal(t, evt.CorrelationID, decoded.CorrelationID)

	payload, ok := decoded.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"e1", "e2"}, payload["ids"])
}

func TestFromMessageRejectsGarbage(t *testing.T) {
	msg := message.NewMessage("m1", []byte("not-json"))
	_, err := FromMessage(msg)
	assert.Error(t, err)

	msg = message.NewMessage("m2", []byte(`{"type":"x"}`))
	_, err = FromMessage(msg)
	assert.Error(t, err, "shape check should reject envelopes missing required attributes")
}
