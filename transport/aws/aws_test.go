package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrmesh/hrmesh/transport"
)

type mockConfig struct {
	region    string
	accountID string
	accessKey string
	secretKey string
	endpoint  string
}

func (m *mockConfig) GetPubSubSystem() string       { return TransportName }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetAWSRegion() string          { return m.region }
func (m *mockConfig) GetAWSAccountID() string       { return m.accountID }
func (m *mockConfig) GetAWSAccessKeyID() string     { return m.accessKey }
func (m *mockConfig) GetAWSSecretAccessKey() string { return m.secretKey }
func (m *mockConfig) GetAWSEndpoint() string        { return m.endpoint }

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}
func (m *mockSubscriber) Close() error { return nil }

func withMockedFactories(t *testing.T, pub func(sns.PublisherConfig), sub func(sns.SubscriberConfig, sqs.SubscriberConfig)) {
	t.Helper()

	originalLoader := DefaultConfigLoader
	originalPubFactory := PublisherFactory
	originalSubFactory := SubscriberFactory
	t.Cleanup(func() {
		DefaultConfigLoader = originalLoader
		PublisherFactory = originalPubFactory
		SubscriberFactory = originalSubFactory
	})

	DefaultConfigLoader = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, nil
	}
	PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		if pub != nil {
			pub(cfg)
		}
		return &mockPublisher{}, nil
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		if sub != nil {
			sub(cfg, sqsCfg)
		}
		return &mockSubscriber{}, nil
	}
}

func TestSelfRegistration(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "aws", caps.Name)
	assert.True(t, caps.SupportsReliableDelivery())
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.AWSCapabilities, caps)
	assert.Equal(t, "aws", caps.Name)
}

func TestBuild(t *testing.T) {
	t.Run("creates transport with mocked factories", func(t *testing.T) {
		withMockedFactories(t, nil, nil)

		cfg := &mockConfig{
			region:    "eu-central-1",
			accountID: "123456789012",
		}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.NotNil(t, tr.Publisher)
		assert.NotNil(t, tr.Subscriber)
	})

	t.Run("sets base endpoint on publisher options when configured", func(t *testing.T) {
		var publisherConfig sns.PublisherConfig
		withMockedFactories(t, func(cfg sns.PublisherConfig) {
			publisherConfig = cfg
		}, nil)

		cfg := &mockConfig{
			region:    "eu-central-1",
			accountID: "123456789012",
			endpoint:  "http://localhost:4566",
		}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)

		require.Len(t, publisherConfig.OptFns, 1)
		opts := amazonsns.Options{}
		publisherConfig.OptFns[0](&opts)
		require.NotNil(t, opts.BaseEndpoint)
		assert.Equal(t, "http://localhost:4566", *opts.BaseEndpoint)
	})

	t.Run("rejects malformed endpoint", func(t *testing.T) {
		withMockedFactories(t, nil, nil)

		cfg := &mockConfig{
			region:   "eu-central-1",
			endpoint: "http://bad endpoint",
		}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		assert.Error(t, err)
	})

	t.Run("propagates config loader error", func(t *testing.T) {
		withMockedFactories(t, nil, nil)

		loaderErr := errors.New("no credentials")
		DefaultConfigLoader = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, loaderErr
		}

		_, err := Build(context.Background(), &mockConfig{region: "eu-central-1"}, watermill.NopLogger{})
		assert.ErrorIs(t, err, loaderErr)
	})
}

func TestResolveAccountAndRegion(t *testing.T) {
	logger := watermill.NopLogger{}

	t.Run("passes through a valid account id", func(t *testing.T) {
		accountID, region := resolveAccountAndRegion(&mockConfig{
			accountID: "123456789012",
			region:    "eu-central-1",
		}, logger, "us-east-1")
		assert.Equal(t, "123456789012", accountID)
		assert.Equal(t, "eu-central-1", region)
	})

	t.Run("falls back to configured fallback region", func(t *testing.T) {
		_, region := resolveAccountAndRegion(&mockConfig{}, logger, "us-east-1")
		assert.Equal(t, "us-east-1", region)
	})

	t.Run("uses localstack account id when endpoint set and account empty", func(t *testing.T) {
		accountID, _ := resolveAccountAndRegion(&mockConfig{
			endpoint: "http://localhost:4566",
		}, logger, "us-east-1")
		assert.Equal(t, localstackAccountID, accountID)
	})

	t.Run("replaces invalid account id when targeting localstack", func(t *testing.T) {
		accountID, _ := resolveAccountAndRegion(&mockConfig{
			accountID: "42",
			endpoint:  "http://localhost:4566",
		}, logger, "us-east-1")
		assert.Equal(t, localstackAccountID, accountID)
	})
}
