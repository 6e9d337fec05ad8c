package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

const (
	StoreModePostgres = "postgres"
	StoreModeSession  = "session"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
	PickupBox PickupBoxConfig `yaml:"pickupbox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnString builds a postgres URL; ssl_mode defaults to "disable".
func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	SMSReceivedTopicName string `yaml:"sms_received_topic_name"`
	PackageEventsTopic   string `yaml:"package_events_topic_name"`
}

// Enabled reports whether a broker address is configured.
func (k KafkaConfig) Enabled() bool {
	return k.Host != ""
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | console
}

type PickupBoxConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
	// "postgres" (durable) or "session" (per-client, kept in redis).
	StoreMode         string `yaml:"store_mode"`
	SessionTTLSeconds int    `yaml:"session_ttl_seconds"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	WorkerHTTPAddr           string `yaml:"worker_http_addr"`
	WorkerKafkaConsumerGroup string `yaml:"worker_kafka_consumer_group"`
	WorkerRetryDelaySeconds  int    `yaml:"worker_retry_delay_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	switch config.PickupBox.StoreMode {
	case "", StoreModePostgres, StoreModeSession:
	default:
		return nil, fmt.Errorf("unknown store_mode %q", config.PickupBox.StoreMode)
	}

	return &config, nil
}
