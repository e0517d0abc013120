package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock config for testing
type mockConfig struct {
	pubSubSystem string
}

func (m *mockConfig) GetPubSubSystem() string       { return m.pubSubSystem }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetAWSRegion() string          { return "" }
func (m *mockConfig) GetAWSAccountID() string       { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string     { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string { return "" }
func (m *mockConfig) GetAWSEndpoint() string        { return "" }

// Mock publisher and subscriber
type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error {
	return nil
}

func (m *mockPublisher) Close() error {
	return nil
}

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error {
	return nil
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg)
	assert.NotNil(t, reg.builders)
	assert.NotNil(t, reg.capabilities)
	assert.Empty(t, reg.Names())
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()

	builder := func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return Transport{
			Publisher:  &mockPublisher{},
			Subscriber: &mockSubscriber{},
		}, nil
	}

	reg.Register("test-transport", builder)
	assert.True(t, reg.Has("test-transport"))
	assert.Contains(t, reg.Names(), "test-transport")
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()

	builder := func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, nil
	}
	caps := Capabilities{Name: "test-transport", SupportsAck: true}

	reg.RegisterWithCapabilities("test-transport", builder, caps)
	assert.True(t, reg.Has("test-transport"))
	assert.Equal(t, caps, reg.GetCapabilities("test-transport"))
}

func TestRegistry_GetCapabilities_Unknown(t *testing.T) {
	reg := NewRegistry()
	caps := reg.GetCapabilities("nope")
	assert.Equal(t, "nope", caps.Name)
	assert.False(t, caps.SupportsAck)
}

func TestRegistry_Build(t *testing.T) {
	t.Run("builds registered transport", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register("test-transport", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
			return Transport{
				Publisher:  &mockPublisher{},
				Subscriber: &mockSubscriber{},
			}, nil
		})

		tr, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "test-transport"}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.NotNil(t, tr.Publisher)
		assert.NotNil(t, tr.Subscriber)
	})

	t.Run("fails for unknown transport", func(t *testing.T) {
		reg := NewRegistry()
		_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "missing"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown transport")
	})

	t.Run("fails for nil config", func(t *testing.T) {
		reg := NewRegistry()
		_, err := reg.Build(context.Background(), nil, watermill.NopLogger{})
		require.Error(t, err)
	})

	t.Run("propagates builder error", func(t *testing.T) {
		reg := NewRegistry()
		builderErr := errors.New("broker down")
		reg.Register("failing", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
			return Transport{}, builderErr
		})

		_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "failing"}, watermill.NopLogger{})
		assert.ErrorIs(t, err, builderErr)
	})
}
