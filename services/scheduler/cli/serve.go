package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aulnovauk/fieldops/internal/audit"
	"github.com/aulnovauk/fieldops/internal/directory"
	"github.com/aulnovauk/fieldops/internal/kafka"
	"github.com/aulnovauk/fieldops/internal/lifecycle"
	"github.com/aulnovauk/fieldops/internal/postgres"
	"github.com/aulnovauk/fieldops/internal/push"
	redisstore "github.com/aulnovauk/fieldops/internal/redis"
	"github.com/aulnovauk/fieldops/pkg/telemetry"
	"github.com/aulnovauk/fieldops/services/notifier"
	"github.com/aulnovauk/fieldops/services/scheduler"
	"github.com/aulnovauk/fieldops/services/scheduler/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	serveCmd.Flags().String("org-service-url", "http://localhost:8100", "org service base URL for directory lookups")
	serveCmd.Flags().String("push-gateway", "http://localhost:8200/push", "push gateway URL")
	serveCmd.Flags().Duration("push-timeout", 15*time.Second, "per-call push gateway timeout")
	serveCmd.Flags().Duration("scan-interval", scheduler.DefaultInterval, "interval between scheduler ticks")
	serveCmd.Flags().String("ops-addr", ":9096", "operational HTTP server address (metrics, health)")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("org_service_url", serveCmd.Flags(), "org-service-url")
	bindFlag("push_gateway", serveCmd.Flags(), "push-gateway")
	bindFlag("push_timeout", serveCmd.Flags(), "push-timeout")
	bindFlag("scan_interval", serveCmd.Flags(), "scan-interval")
	bindFlag("ops_addr", serveCmd.Flags(), "ops-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "scheduler")

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "scheduler", cfg.OTelEndpoint)
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

	tasks := postgres.NewTaskRepository(pool)
	assignments := postgres.NewAssignmentRepository(pool)
	notifications := postgres.NewNotificationRepository(pool)
	tokens := postgres.NewTokenRepository(pool)
	queue := postgres.NewQueueRepository(pool)

	redisClient := redisstore.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	brokers := strings.Split(cfg.KafkaBrokers, ",")
	producer := kafka.NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	// Notifications raised by scans go through Kafka; the notifier
	// service owns dispatch and dedupe.
	events := notifier.NewKafkaSink(producer, logger)
	sink := audit.NewKafkaSink(producer, logger)

	dir := directory.NewCached(
		directory.NewHTTPClient(cfg.OrgServiceURL, 10*time.Second),
		redisClient, directory.DefaultTTL, logger,
	)

	scanner := scheduler.NewSLAScanner(tasks, assignments, dir, events, logger)
	sweeper := lifecycle.NewService(tasks, assignments, sink, events, logger)
	transport := push.NewClient(cfg.PushGateway, cfg.PushTimeout)
	drainer := notifier.NewQueueProcessor(queue, tokens, transport, logger)
	cleaner := scheduler.NewCleanup(notifications, tokens, logger)

	sched, err := scheduler.NewScheduler(
		redisClient, uuid.NewString(),
		scanner, sweeper, drainer, cleaner, logger,
	)
	if err != nil {
		return err
	}
	sched.WithInterval(cfg.ScanInterval)

	telemetry.StartOpsServer(ctx, cfg.OpsAddr, logger, nil)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down...")
		cancel()
	}()

	logger.Info("scheduler starting")
	sched.Run(ctx)
	logger.Info("stopped")
	return nil
}
