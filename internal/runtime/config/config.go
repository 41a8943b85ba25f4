package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Defaults applied by WithDefaults and by Load.
const (
	DefaultPubSubSystem      = "channel"
	DefaultAppName           = "unknown"
	DefaultMaxProcessingTime = 300000 * time.Millisecond
	DefaultDedupBackend      = "memory"
)

// Log level adjustment uses a fixed binding. Its destination must be
// LogLevelAdjustmentTopic and its group LogLevelAdjustmentTopic + "_" + AppName
// so each application gets every adjustment message.
const (
	LogLevelAdjusterBinding = "logLevelAdjusterChannel-in-0"
	LogLevelAdjustmentTopic = "log_level_adjustment"
)

// Config groups the settings required to initialise the Service. Each
// transport only uses the keys that are relevant to it. Field tags name the
// environment variables read by Load.
type Config struct {
	// PubSubSystem selects the backing message infrastructure. Supported values:
	// "kafka", "rabbitmq", "nats", "nats-jetstream", "aws", "http" or "channel".
	PubSubSystem string `envconfig:"PUBSUB_SYSTEM" default:"channel"`

	// AppName tags diagnostics and scopes log level adjustment messages.
	AppName string `envconfig:"APP_NAME" default:"unknown"`

	// ConsumerGroup is used for bindings without their own group.
	ConsumerGroup string `envconfig:"CONSUMER_GROUP"`

	// Kafka configuration.
	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS"`
	KafkaClientID string   `envconfig:"KAFKA_CLIENT_ID"`

	// RabbitMQ configuration.
	RabbitMQURL string `envconfig:"RABBITMQ_URL"`

	// NATS configuration, shared by core NATS and JetStream.
	NATSURL string `envconfig:"NATS_URL"`

	// HTTP configuration.
	HTTPServerAddress string `envconfig:"HTTP_SERVER_ADDRESS"`
	// HTTPPublisherURL is the base URL where messages will be sent.
	HTTPPublisherURL string `envconfig:"HTTP_PUBLISHER_URL"`

	// AWS (SNS/SQS) configuration.
	AWSRegion          string `envconfig:"AWS_REGION"`
	AWSAccountID       string `envconfig:"AWS_ACCOUNT_ID"`
	AWSAccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `envconfig:"AWS_SECRET_ACCESS_KEY"`
	// AWSEndpoint optionally points to a custom endpoint (for example, LocalStack
	// in local development).
	AWSEndpoint string `envconfig:"AWS_ENDPOINT"`

	// Bindings maps a binding name to its destination topic. A binding that
	// is not listed publishes to or consumes from a topic of the same name.
	Bindings map[string]string `envconfig:"BINDINGS"`
	// ConsumeBindings maps inbound binding names to their consumer group.
	ConsumeBindings map[string]string `envconfig:"CONSUME_BINDINGS"`

	// MaxProcessingTime is how long one message may take between begin and
	// commit before the broker is assumed to have reassigned the partition.
	MaxProcessingTime time.Duration `envconfig:"MAX_PROCESSING_TIME" default:"5m"`
	// ManualAck makes handlers acknowledge through the commit only. When false
	// the commit logs an automatic ack.
	ManualAck bool `envconfig:"MANUAL_ACK"`
	// PartitionScopedDedup adds the partition to the dedup key.
	PartitionScopedDedup bool `envconfig:"PARTITION_SCOPED_DEDUP"`

	// Dedup store configuration. Backends: memory, redis, postgres, pgx, sqlite.
	DedupBackend  string        `envconfig:"DEDUP_BACKEND" default:"memory"`
	DedupDSN      string        `envconfig:"DEDUP_DSN"`
	DedupTable    string        `envconfig:"DEDUP_TABLE"`
	DedupTTL      time.Duration `envconfig:"DEDUP_TTL"`
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB"`
	// DedupCleanupInterval spaces the sweeps that drop entries older than
	// DedupTTL from stores without native expiry. Zero derives it from the TTL.
	DedupCleanupInterval time.Duration `envconfig:"DEDUP_CLEANUP_INTERVAL"`

	// LogLevelAdjustment enables the log level adjustment consumer.
	LogLevelAdjustment bool `envconfig:"LOG_LEVEL_ADJUSTMENT"`

	// Metrics configuration.
	MetricsEnabled bool `envconfig:"METRICS_ENABLED"`
	// MetricsPort is the port where Prometheus metrics will be exposed.
	MetricsPort int `envconfig:"METRICS_PORT" default:"9090"`

	// AdminPort serves the handler, channel and commit JSON endpoints. Zero
	// disables them.
	AdminPort               int      `envconfig:"ADMIN_PORT"`
	AdminCORSAllowedOrigins []string `envconfig:"ADMIN_CORS_ALLOWED_ORIGINS"`
}

// Getters satisfying transport.Config.
func (c *Config) GetPubSubSystem() string       { return c.PubSubSystem }
func (c *Config) GetConsumerGroup() string      { return c.ConsumerGroup }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetKafkaClientID() string      { return c.KafkaClientID }
func (c *Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c *Config) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// WithDefaults returns a copy with blank settings replaced by their defaults.
func (c Config) WithDefaults() Config {
	if c.PubSubSystem == "" {
		c.PubSubSystem = DefaultPubSubSystem
	}
	if strings.TrimSpace(c.AppName) == "" {
		c.AppName = DefaultAppName
	}
	if c.MaxProcessingTime == 0 {
		c.MaxProcessingTime = DefaultMaxProcessingTime
	}
	if c.DedupBackend == "" {
		c.DedupBackend = DefaultDedupBackend
	}
	return c
}

// Destination resolves the topic of a binding.
func (c *Config) Destination(binding string) string {
	if dest, ok := c.Bindings[binding]; ok && dest != "" {
		return dest
	}
	return binding
}

// GroupFor resolves the consumer group of an inbound binding.
func (c *Config) GroupFor(binding string) string {
	if group, ok := c.ConsumeBindings[binding]; ok && group != "" {
		return group
	}
	return c.ConsumerGroup
}

// ForGroup returns a copy whose default consumer group is group. Transports
// fix the group when they are built, so bindings with their own group get a
// transport built from this copy.
func (c *Config) ForGroup(group string) *Config {
	cp := *c
	cp.ConsumerGroup = group
	return &cp
}

const redacted = "***REDACTED***"

// dsnPassword finds the password in key=value DSNs such as
// "host=db user=guard password=secret".
var dsnPassword = regexp.MustCompile(`(?i)\b(password=)('[^']*'|\S+)`)

// String prints every setting with credentials masked, for startup logs and
// the check-config command.
func (c Config) String() string {
	type plain Config
	return fmt.Sprintf("%+v", plain(c.redacted()))
}

func (c Config) redacted() Config {
	for _, secret := range []*string{&c.AWSAccessKeyID, &c.AWSSecretAccessKey, &c.RedisPassword} {
		if *secret != "" {
			*secret = redacted
		}
	}
	for _, conn := range []*string{&c.RabbitMQURL, &c.NATSURL, &c.HTTPPublisherURL, &c.DedupDSN} {
		if *conn != "" {
			*conn = maskConnectionString(*conn)
		}
	}
	return c
}

// maskConnectionString hides the password of a URL or key=value DSN and
// keeps the user name so the log still says who connects.
func maskConnectionString(raw string) string {
	if dsnPassword.MatchString(raw) {
		return dsnPassword.ReplaceAllString(raw, "${1}"+redacted)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "***REDACTED_URL***"
	}
	if _, ok := parsed.User.Password(); ok {
		parsed.User = url.UserPassword(parsed.User.Username(), redacted)
	}
	return parsed.String()
}

// Validate reports every problem at once, joined with errors.Join. Unknown
// PubSubSystem values pass so custom transports can be registered.
func (c *Config) Validate() error {
	var errs []error
	for _, check := range []func() []error{
		c.validateTransport,
		c.validateProcessing,
		c.validateDedup,
		c.validateBindings,
		c.validatePorts,
	} {
		errs = append(errs, check()...)
	}
	if c.LogLevelAdjustment {
		errs = append(errs, c.ValidateLogLevelAdjustment())
	}
	return errors.Join(errs...)
}

// transportRequirements names the setting each built-in transport cannot
// start without.
var transportRequirements = map[string]struct {
	missing func(*Config) bool
	message string
}{
	"kafka":          {func(c *Config) bool { return len(c.KafkaBrokers) == 0 }, "kafka: brokers are required"},
	"rabbitmq":       {func(c *Config) bool { return c.RabbitMQURL == "" }, "rabbitmq: URL is required"},
	"nats":           {func(c *Config) bool { return c.NATSURL == "" }, "nats: URL is required"},
	"nats-jetstream": {func(c *Config) bool { return c.NATSURL == "" }, "nats: URL is required"},
	"aws":            {func(c *Config) bool { return c.AWSRegion == "" }, "aws: region is required"},
}

func (c *Config) validateTransport() []error {
	req, ok := transportRequirements[strings.ToLower(c.PubSubSystem)]
	if ok && req.missing(c) {
		return []error{errors.New(req.message)}
	}
	return nil
}

func (c *Config) validateProcessing() []error {
	if c.MaxProcessingTime < 0 {
		return []error{errors.New("processing: max processing time cannot be negative")}
	}
	return nil
}

func (c *Config) validateDedup() []error {
	var errs []error
	switch strings.ToLower(c.DedupBackend) {
	case "", "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("dedup: redis address is required"))
		}
	case "postgres", "pgx", "sqlite":
		if c.DedupDSN == "" {
			errs = append(errs, fmt.Errorf("dedup: DSN is required for %s", c.DedupBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("dedup: unknown backend %q", c.DedupBackend))
	}
	if c.DedupTTL < 0 {
		errs = append(errs, errors.New("dedup: TTL cannot be negative"))
	}
	if c.DedupCleanupInterval < 0 {
		errs = append(errs, errors.New("dedup: cleanup interval cannot be negative"))
	}
	if c.RedisDB < 0 {
		errs = append(errs, errors.New("dedup: redis DB cannot be negative"))
	}
	return errs
}

func (c *Config) validateBindings() []error {
	var errs []error
	for name, dest := range c.Bindings {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("bindings: binding name cannot be empty"))
			continue
		}
		if strings.TrimSpace(dest) == "" {
			errs = append(errs, fmt.Errorf("bindings: %s has no destination", name))
		}
	}
	return errs
}

func (c *Config) validatePorts() []error {
	var errs []error
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics: invalid port %d", c.MetricsPort))
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("admin: invalid port %d", c.AdminPort))
	}
	return errs
}

// ValidateLogLevelAdjustment checks the settings log level adjustment depends
// on and names every one of them when something is off.
func (c *Config) ValidateLogLevelAdjustment() error {
	app := strings.TrimSpace(c.AppName)
	topic := c.Bindings[LogLevelAdjusterBinding]
	group := c.ConsumeBindings[LogLevelAdjusterBinding]

	if app != "" && app != DefaultAppName &&
		topic == LogLevelAdjustmentTopic &&
		strings.HasPrefix(group, LogLevelAdjustmentTopic) &&
		strings.HasSuffix(group, app) {
		return nil
	}
	return fmt.Errorf("log level adjustment: settings are missing, confirm APP_NAME=<application name>, "+
		"binding %s destination=%s and group=%s_<application name>",
		LogLevelAdjusterBinding, LogLevelAdjustmentTopic, LogLevelAdjustmentTopic)
}

// ValidateConfig validates c, rejecting a nil config.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("commitguard: config is nil")
	}
	return c.Validate()
}
