package internal

import (
	"fmt"
	"os"
	"strings"

	"pullplatypus/pkg/notify"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	// Server holds server-specific configuration.
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
		WriteTimeoutMS int64  `yaml:"write_timeout_ms"`
		IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
	} `yaml:"server"`
	// Bitbucket configures the inbound webhook endpoint.
	Bitbucket BitbucketConfig `yaml:"bitbucket"`
	// Slack configures the outgoing incoming-webhook and identity mapping.
	Slack SlackConfig `yaml:"slack"`
	// IgnoreComments lists rules that suppress comment notifications.
	IgnoreComments []notify.IgnoreRule `yaml:"ignore_comments"`
	// Params points at the remote parameter store, if any.
	Params ParamsConfig `yaml:"params"`
	// Delivery selects how addressed messages reach Slack.
	Delivery DeliveryConfig `yaml:"delivery"`
	// Watermill holds configuration for queued delivery.
	Watermill WatermillConfig `yaml:"watermill"`
}

// BitbucketConfig holds the webhook path and HMAC secret.
type BitbucketConfig struct {
	Path   string `yaml:"path"`
	Secret string `yaml:"secret"`
}

// SlackConfig holds the outgoing webhook settings.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Username   string `yaml:"username"`
	TimeoutMS  int64  `yaml:"timeout_ms"`
	// RetryMax bounds retries on 429 and 5xx responses; -1 disables retries.
	RetryMax int `yaml:"retry_max"`
	// IdentityMap maps Bitbucket email addresses to Slack user IDs.
	IdentityMap map[string]string `yaml:"identity_map"`
	// IdentityMapJSON is the same mapping as a JSON object string.
	IdentityMapJSON string `yaml:"identity_map_json"`
}

// ParamsConfig configures the SQL-backed parameter store.
type ParamsConfig struct {
	Path        string `yaml:"path"`
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	Table       string `yaml:"table"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// DeliveryConfig selects between direct Slack calls and a queue.
type DeliveryConfig struct {
	Mode      string   `yaml:"mode"`
	Topic     string   `yaml:"topic"`
	Drivers   []string `yaml:"drivers"`
	TimeoutMS int64    `yaml:"timeout_ms"`
	// Concurrency bounds in-flight sends in the queue worker.
	Concurrency int `yaml:"concurrency"`
}

const (
	DeliveryDirect = "direct"
	DeliveryQueue  = "queue"
)

// WatermillConfig holds the configuration for Watermill, which carries queued notifications.
type WatermillConfig struct {
	Driver       string             `yaml:"driver"`
	Drivers      []string           `yaml:"drivers"`
	GoChannel    GoChannelConfig    `yaml:"gochannel"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	NATS         NATSConfig         `yaml:"nats"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	SQL          SQLConfig          `yaml:"sql"`
	HTTP         HTTPConfig         `yaml:"http"`
	RiverQueue   RiverQueueConfig   `yaml:"riverqueue"`
	PublishRetry PublishRetryConfig `yaml:"publish_retry"`
}

// GoChannelConfig holds configuration for the GoChannel pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig holds configuration for the Kafka pub/sub.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// NATSConfig holds configuration for the NATS streaming pub/sub.
type NATSConfig struct {
	ClusterID      string `yaml:"cluster_id"`
	ClientID       string `yaml:"client_id"`
	ClientIDSuffix string `yaml:"client_id_suffix"`
	URL            string `yaml:"url"`
	Durable        string `yaml:"durable"`
}

// AMQPConfig holds configuration for the AMQP pub/sub.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL pub/sub.
type SQLConfig struct {
	Driver               string `yaml:"driver"`
	DSN                  string `yaml:"dsn"`
	Dialect              string `yaml:"dialect"`
	ConsumerGroup        string `yaml:"consumer_group"`
	InitializeSchema     bool   `yaml:"initialize_schema"`
	AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
}

// HTTPConfig holds configuration for the HTTP publisher.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// RiverQueueConfig holds configuration for the RiverQueue publisher and worker.
type RiverQueueConfig struct {
	Driver      string   `yaml:"driver"`
	DSN         string   `yaml:"dsn"`
	Table       string   `yaml:"table"`
	Queue       string   `yaml:"queue"`
	Kind        string   `yaml:"kind"`
	MaxAttempts int      `yaml:"max_attempts"`
	MaxWorkers  int      `yaml:"max_workers"`
	Priority    int      `yaml:"priority"`
	Tags        []string `yaml:"tags"`
}

type PublishRetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

// LoadConfig loads the application configuration from a YAML file.
// It expands environment variables, applies defaults, and validates the
// delivery mode and ignore rules.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig for in-memory YAML.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	rules, err := normalizeIgnoreRules(cfg.IgnoreComments)
	if err != nil {
		return cfg, err
	}
	cfg.IgnoreComments = rules

	cfg.Delivery.Mode = strings.ToLower(strings.TrimSpace(cfg.Delivery.Mode))
	switch cfg.Delivery.Mode {
	case DeliveryDirect, DeliveryQueue:
	default:
		return cfg, fmt.Errorf("unsupported delivery mode: %s", cfg.Delivery.Mode)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 30000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Bitbucket.Path == "" {
		cfg.Bitbucket.Path = "/webhooks/bitbucket-server"
	}
	if cfg.Slack.Username == "" {
		cfg.Slack.Username = "Pull Platypus"
	}
	if cfg.Slack.TimeoutMS == 0 {
		cfg.Slack.TimeoutMS = 10000
	}
	if cfg.Slack.RetryMax == 0 {
		cfg.Slack.RetryMax = 2
	}
	if cfg.IgnoreComments == nil {
		cfg.IgnoreComments = append([]notify.IgnoreRule(nil), notify.DefaultIgnoreRules...)
	}
	if cfg.Params.Table == "" {
		cfg.Params.Table = "pullplatypus_parameters"
	}
	if cfg.Delivery.Mode == "" {
		cfg.Delivery.Mode = DeliveryDirect
	}
	if cfg.Delivery.Topic == "" {
		cfg.Delivery.Topic = "slack.notifications"
	}
	if cfg.Delivery.TimeoutMS == 0 {
		cfg.Delivery.TimeoutMS = 15000
	}
	if cfg.Delivery.Concurrency == 0 {
		cfg.Delivery.Concurrency = 5
	}
	if cfg.Watermill.Driver == "" && len(cfg.Watermill.Drivers) == 0 {
		cfg.Watermill.Driver = "gochannel"
	}
	if cfg.Watermill.GoChannel.OutputChannelBuffer == 0 {
		cfg.Watermill.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Watermill.HTTP.Mode == "" {
		cfg.Watermill.HTTP.Mode = "topic_url"
	}
	if cfg.Watermill.NATS.ClientIDSuffix == "" {
		cfg.Watermill.NATS.ClientIDSuffix = "-worker"
	}
	if cfg.Watermill.RiverQueue.Table == "" {
		cfg.Watermill.RiverQueue.Table = "river_job"
	}
	if cfg.Watermill.RiverQueue.Queue == "" {
		cfg.Watermill.RiverQueue.Queue = "default"
	}
	if cfg.Watermill.RiverQueue.Kind == "" {
		cfg.Watermill.RiverQueue.Kind = "pullplatypus.notification"
	}
	if cfg.Watermill.RiverQueue.MaxAttempts == 0 {
		cfg.Watermill.RiverQueue.MaxAttempts = 25
	}
	if cfg.Watermill.RiverQueue.MaxWorkers == 0 {
		cfg.Watermill.RiverQueue.MaxWorkers = 5
	}
	if cfg.Watermill.PublishRetry.Attempts == 0 {
		cfg.Watermill.PublishRetry.Attempts = 3
	}
	if cfg.Watermill.PublishRetry.DelayMS == 0 {
		cfg.Watermill.PublishRetry.DelayMS = 500
	}
}

func normalizeIgnoreRules(rules []notify.IgnoreRule) ([]notify.IgnoreRule, error) {
	out := make([]notify.IgnoreRule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		rule.Pattern = strings.TrimSpace(rule.Pattern)
		rule.When = strings.TrimSpace(rule.When)
		if rule.Pattern == "" && rule.When == "" {
			return nil, fmt.Errorf("ignore rule %d is missing pattern or when", i)
		}
		out = append(out, rule)
	}
	return out, nil
}
