package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the scheduler service.
type Config struct {
	LogLevel      string
	PostgresDSN   string
	RedisAddr     string
	KafkaBrokers  string
	OrgServiceURL string
	PushGateway   string
	PushTimeout   time.Duration
	ScanInterval  time.Duration
	OpsAddr       string
	OTelEndpoint  string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:      v.GetString("log_level"),
		PostgresDSN:   v.GetString("postgres_dsn"),
		RedisAddr:     v.GetString("redis_addr"),
		KafkaBrokers:  v.GetString("kafka_brokers"),
		OrgServiceURL: v.GetString("org_service_url"),
		PushGateway:   v.GetString("push_gateway"),
		PushTimeout:   v.GetDuration("push_timeout"),
		ScanInterval:  v.GetDuration("scan_interval"),
		OpsAddr:       v.GetString("ops_addr"),
		OTelEndpoint:  v.GetString("otel_endpoint"),
	}
}
