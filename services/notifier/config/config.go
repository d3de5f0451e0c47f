package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the notifier service.
type Config struct {
	LogLevel      string
	PostgresDSN   string
	KafkaBrokers  string
	RedisAddr     string
	PushGateway   string
	PushTimeout   time.Duration
	DrainInterval time.Duration
	OpsAddr       string
	OTelEndpoint  string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:      v.GetString("log_level"),
		PostgresDSN:   v.GetString("postgres_dsn"),
		KafkaBrokers:  v.GetString("kafka_brokers"),
		RedisAddr:     v.GetString("redis_addr"),
		PushGateway:   v.GetString("push_gateway"),
		PushTimeout:   v.GetDuration("push_timeout"),
		DrainInterval: v.GetDuration("drain_interval"),
		OpsAddr:       v.GetString("ops_addr"),
		OTelEndpoint:  v.GetString("otel_endpoint"),
	}
}
