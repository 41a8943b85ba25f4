// Package aws provides an AWS SNS/SQS transport. Topics are SNS topics; every
// consumer group subscribes its own SQS queue named "<topic>-<group>", so
// each group sees every message once.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/commitguard/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "aws"

// localstackAccountID is used when an endpoint override is configured
// without a usable account ID.
const localstackAccountID = "000000000000"

// Swappable constructors; tests replace them to avoid talking to AWS.
var (
	DefaultConfigLoader  = awsconfig.LoadDefaultConfig
	TopicResolverFactory = sns.NewGenerateArnTopicResolver
	PublisherFactory     = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sns.NewPublisher(cfg, logger)
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return sns.NewSubscriber(cfg, sqsCfg, logger)
	}
)

// Register registers the AWS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

// QueueName derives the SQS queue subscribed to topic for consumerGroup.
func QueueName(topic, consumerGroup string) string {
	if consumerGroup == "" {
		return topic
	}
	return topic + "-" + consumerGroup
}

// groupSettings is everything Build reads from the config, resolved once and
// shared by the publisher and the group's subscriber.
type groupSettings struct {
	group     string
	region    string
	accountID string
	accessKey string
	secretKey string
	endpoint  *url.URL
}

func resolveSettings(cfg transport.Config) (groupSettings, error) {
	if cfg == nil {
		return groupSettings{}, nil
	}
	s := groupSettings{
		group:     cfg.GetConsumerGroup(),
		region:    cfg.GetAWSRegion(),
		accountID: strings.Trim(cfg.GetAWSAccountID(), "\"' "),
		accessKey: cfg.GetAWSAccessKeyID(),
		secretKey: cfg.GetAWSSecretAccessKey(),
	}
	if raw := cfg.GetAWSEndpoint(); raw != "" {
		endpoint, err := url.Parse(raw)
		if err != nil {
			return groupSettings{}, fmt.Errorf("commitguard: aws endpoint %q: %w", raw, err)
		}
		s.endpoint = endpoint
		// Local emulators accept any 12-digit account.
		if len(s.accountID) != 12 {
			s.accountID = localstackAccountID
		}
	}
	return s, nil
}

func (s groupSettings) loadOptions() []func(*awsconfig.LoadOptions) error {
	var opts []func(*awsconfig.LoadOptions) error
	if s.region != "" {
		opts = append(opts, awsconfig.WithRegion(s.region))
	}
	if s.accessKey != "" && s.secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentials(s.accessKey, s.secretKey)))
	}
	return opts
}

func (s groupSettings) queueNamer() func(context.Context, sns.TopicArn) (string, error) {
	return func(_ context.Context, arn sns.TopicArn) (string, error) {
		topic, err := sns.ExtractTopicNameFromTopicArn(arn)
		if err != nil {
			return "", err
		}
		return QueueName(string(topic), s.group), nil
	}
}

func (s groupSettings) snsOptions() []func(*amazonsns.Options) {
	if s.endpoint == nil {
		return nil
	}
	override := smithyendpoints.Endpoint{URI: *s.endpoint}
	return []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{Endpoint: override}),
	}
}

func (s groupSettings) sqsOptions() []func(*amazonsqs.Options) {
	if s.endpoint == nil {
		return nil
	}
	override := smithyendpoints.Endpoint{URI: *s.endpoint}
	return []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{Endpoint: override}),
	}
}

// Build creates the SNS publisher and the consumer group's SNS/SQS
// subscriber.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	s, err := resolveSettings(cfg)
	if err != nil {
		return transport.Transport{}, err
	}

	awsCfg, err := DefaultConfigLoader(ctx, s.loadOptions()...)
	if err != nil {
		logger.Error("Failed to load AWS config", err, watermill.LogFields{"region": s.region})
		return transport.Transport{}, err
	}
	if s.region != "" {
		awsCfg.Region = s.region
	}
	if s.endpoint != nil {
		awsCfg.BaseEndpoint = aws.String(s.endpoint.String())
	}

	resolver, err := TopicResolverFactory(s.accountID, awsCfg.Region)
	if err != nil {
		logger.Error("Failed to create SNS topic resolver", err, watermill.LogFields{
			"account_id": s.accountID,
			"region":     awsCfg.Region,
		})
		return transport.Transport{}, err
	}

	logger.Info("Building AWS transport", watermill.LogFields{
		"region":          awsCfg.Region,
		"account_id":      s.accountID,
		"consumer_group":  s.group,
		"custom_endpoint": s.endpoint != nil,
	})

	snsOpts := s.snsOptions()
	publisher, err := PublisherFactory(sns.PublisherConfig{
		AWSConfig:     awsCfg,
		OptFns:        snsOpts,
		TopicResolver: resolver,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(sns.SubscriberConfig{
		AWSConfig:            awsCfg,
		OptFns:               snsOpts,
		TopicResolver:        resolver,
		GenerateSqsQueueName: s.queueNamer(),
	}, sqs.SubscriberConfig{
		AWSConfig: awsCfg,
		OptFns:    s.sqsOptions(),
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

func staticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			Source:          "commitguard",
		}, nil
	})
}
