package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aulnovauk/fieldops/internal/kafka"
	"github.com/aulnovauk/fieldops/internal/postgres"
	"github.com/aulnovauk/fieldops/internal/push"
	redisstore "github.com/aulnovauk/fieldops/internal/redis"
	"github.com/aulnovauk/fieldops/pkg/telemetry"
	"github.com/aulnovauk/fieldops/services/notifier"
	"github.com/aulnovauk/fieldops/services/notifier/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the notifier",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().String("push-gateway", "http://localhost:8200/push", "push gateway URL")
	serveCmd.Flags().Duration("push-timeout", 15*time.Second, "per-call push gateway timeout")
	serveCmd.Flags().Duration("drain-interval", 10*time.Second, "interval between push queue drain passes")
	serveCmd.Flags().String("ops-addr", ":9095", "operational HTTP server address (metrics, health, queue inspection)")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("push_gateway", serveCmd.Flags(), "push-gateway")
	bindFlag("push_timeout", serveCmd.Flags(), "push-timeout")
	bindFlag("drain_interval", serveCmd.Flags(), "drain-interval")
	bindFlag("ops_addr", serveCmd.Flags(), "ops-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "notifier")

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "notifier", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	notifications := postgres.NewNotificationRepository(pool)
	tokens := postgres.NewTokenRepository(pool)
	queue := postgres.NewQueueRepository(pool)

	redisClient := redisstore.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	dedupe := redisstore.NewDeduper(redisClient)

	dispatcher := notifier.NewDispatcher(notifications, tokens, queue, dedupe, logger)

	transport := push.NewClient(cfg.PushGateway, cfg.PushTimeout)
	processor := notifier.NewQueueProcessor(queue, tokens, transport, logger)

	brokers := strings.Split(cfg.KafkaBrokers, ",")
	kafkaConsumer := kafka.NewConsumer(brokers, notifier.TopicRequests, "notifier-group", logger)
	defer func() { _ = kafkaConsumer.Close() }()
	consumer := notifier.NewConsumer(kafkaConsumer, dispatcher, logger)

	telemetry.StartOpsServer(ctx, cfg.OpsAddr, logger, notifier.MountInspection(queue, logger))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down...")
		cancel()
	}()

	interval := cfg.DrainInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := processor.Drain(ctx); err != nil && ctx.Err() == nil {
					logger.Error("queue drain failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	logger.Info("notifier starting", slog.String("topic", notifier.TopicRequests))
	if err := consumer.Run(ctx); err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	logger.Info("stopped")
	return nil
}
