package config

import (
	"time"
)

type Config struct {
	Server   ServerConfig
	Broker   BrokerConfig
	Logging  LoggingConfig
	Recorder RecorderConfig
	Output   OutputConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type BrokerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers     []string    `mapstructure:"brokers"`
	GroupID     string      `mapstructure:"group_id"`
	DataTopic   string      `mapstructure:"data_topic"`
	SchemaTopic string      `mapstructure:"schema_topic"`
	RateLimit   float64     `mapstructure:"rate_limit"`
	RateBurst   int         `mapstructure:"rate_burst"`
	Retry       RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RecorderConfig struct {
	InitialState      string        `mapstructure:"initial_state"`
	BufferSize        int           `mapstructure:"buffer_size"`
	EventWindow       time.Duration `mapstructure:"event_window"`
	CleanupPeriod     time.Duration `mapstructure:"cleanup_period"`
	MaxPendingSamples int           `mapstructure:"max_pending_samples"`
	OnlyWithSchema    bool          `mapstructure:"only_with_schema"`
	RecordTypes       bool          `mapstructure:"record_types"`
	Downsampling      int           `mapstructure:"downsampling"`
	TopicFilter       string        `mapstructure:"topic_filter"`
}

type OutputConfig struct {
	Path            string `mapstructure:"path"`
	Prefix          string `mapstructure:"prefix"`
	MaxFileSize     uint64 `mapstructure:"max_file_size"`
	MaxSize         uint64 `mapstructure:"max_size"`
	SafetyMargin    uint64 `mapstructure:"safety_margin"`
	TimestampFormat string `mapstructure:"timestamp_format"`
	Compression     string `mapstructure:"compression"`
}
