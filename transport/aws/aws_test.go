package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/herald/internal/runtime/config"
	"github.com/drblury/herald/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "aws", caps.Name)
	assert.Equal(t, transport.AWSCapabilities, Capabilities())
}

func overrideFactories(t *testing.T) {
	t.Helper()
	originalLoader := DefaultConfigLoader
	originalResolver := TopicResolverFactory
	originalPub := PublisherFactory
	originalSub := SubscriberFactory
	t.Cleanup(func() {
		DefaultConfigLoader = originalLoader
		TopicResolverFactory = originalResolver
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})

	DefaultConfigLoader = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}
	TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		return sns.NewGenerateArnTopicResolver(accountID, region)
	}
}

func TestBuild(t *testing.T) {
	overrideFactories(t)

	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	var gotSub sns.SubscriberConfig
	var gotSQS sqs.SubscriberConfig
	var gotAccount, gotRegion string
	TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		gotAccount, gotRegion = accountID, region
		return sns.NewGenerateArnTopicResolver(accountID, region)
	}
	PublisherFactory = func(sns.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return pubSub, nil
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		gotSub, gotSQS = cfg, sqsCfg
		return pubSub, nil
	}

	conn, err := Build(context.Background(), &config.ConnectionConfig{
		Driver:       config.DriverAWS,
		AWSRegion:    "eu-central-1",
		AWSAccountID: "123456789012",
		Queue:        "billing",
	}, watermill.NopLogger{})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "123456789012", gotAccount)
	assert.Equal(t, "eu-central-1", gotRegion)
	assert.Equal(t, "eu-central-1", gotSQS.AWSConfig.Region)
	assert.Empty(t, gotSQS.OptFns, "no endpoint override without a custom endpoint")

	name, err := gotSub.GenerateSqsQueueName(context.Background(), "arn:aws:sns:eu-central-1:123456789012:herald-events")
	require.NoError(t, err)
	assert.Equal(t, "herald-events-billing", name)
}

func TestBuildWithLocalstackEndpoint(t *testing.T) {
	overrideFactories(t)

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	var gotPub sns.PublisherConfig
	var gotSQS sqs.SubscriberConfig
	PublisherFactory = func(cfg sns.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		gotPub = cfg
		return pubSub, nil
	}
	SubscriberFactory = func(_ sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		gotSQS = sqsCfg
		return pubSub, nil
	}

	conn, err := Build(context.Background(), &config.ConnectionConfig{
		Driver:      config.DriverAWS,
		AWSEndpoint: "http://localhost:4566",
	}, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Len(t, gotPub.OptFns, 1)
	assert.Len(t, gotSQS.OptFns, 1)
}

func TestBuildErrors(t *testing.T) {
	t.Run("config loader", func(t *testing.T) {
		overrideFactories(t)
		DefaultConfigLoader = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("config error")
		}
		_, err := Build(context.Background(), &config.ConnectionConfig{Driver: config.DriverAWS}, nil)
		assert.ErrorContains(t, err, "config error")
	})

	t.Run("publisher", func(t *testing.T) {
		overrideFactories(t)
		PublisherFactory = func(sns.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}
		_, err := Build(context.Background(), &config.ConnectionConfig{Driver: config.DriverAWS, AWSAccountID: "123456789012"}, nil)
		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("subscriber", func(t *testing.T) {
		overrideFactories(t)
		PublisherFactory = func(sns.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}), nil
		}
		SubscriberFactory = func(sns.SubscriberConfig, sqs.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}
		_, err := Build(context.Background(), &config.ConnectionConfig{Driver: config.DriverAWS, AWSAccountID: "123456789012"}, nil)
		assert.ErrorContains(t, err, "subscriber error")
	})
}

func TestResolveAccountAndRegion(t *testing.T) {
	t.Run("uses config values", func(t *testing.T) {
		cfg := &config.ConnectionConfig{AWSAccountID: "123456789012", AWSRegion: "us-west-2"}
		accountID, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "123456789012", accountID)
		assert.Equal(t, "us-west-2", region)
	})

	t.Run("uses fallback region", func(t *testing.T) {
		cfg := &config.ConnectionConfig{AWSAccountID: "'123456789012'"}
		accountID, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "123456789012", accountID)
		assert.Equal(t, "us-east-1", region)
	})

	t.Run("localstack default for missing or invalid account", func(t *testing.T) {
		for _, account := range []string{"", "42"} {
			cfg := &config.ConnectionConfig{AWSEndpoint: "http://localhost:4566", AWSAccountID: account}
			accountID, _ := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
			assert.Equal(t, localstackAccountID, accountID)
		}
	})
}

func TestAwsEndpointURL(t *testing.T) {
	u, err := awsEndpointURL(&config.ConnectionConfig{})
	assert.NoError(t, err)
	assert.Nil(t, u)

	u, err = awsEndpointURL(&config.ConnectionConfig{AWSEndpoint: "http://localhost:4566"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:4566", u.Host)

	_, err = awsEndpointURL(&config.ConnectionConfig{AWSEndpoint: "://bad"})
	assert.Error(t, err)
}
