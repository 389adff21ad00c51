/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the entitlement engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store (snapshots, ledger, compliance archive)
  3. Load precedence overrides if configured
  4. Wire the outbound chain: archive locally, then publish to Kafka
  5. Start the inbound Kafka consumer (when brokers are configured)
  6. Start the re-evaluation scheduler
  7. Start HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port              HTTP server port (default: 8080)
  -db                SQLite database path (default: entitlement.db)
                     Use ":memory:" for in-memory database
  -brokers           Comma-separated Kafka brokers (default: none, HTTP only)
  -group             Kafka consumer group (default: entitlement-engine)
  -precedence        YAML precedence-override file (default: none)
  -require-approval  Require caseworker approval before payment
  -sweep-interval    Re-evaluation sweep interval (default: 1h)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Stop the scheduler and the consumer
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # HTTP-only dev server with in-memory database
  ./server -db=":memory:"

  # Full deployment against a Kafka cluster
  ./server -db="./data/entitlement.db" -brokers="kafka-1:9092,kafka-2:9092"

SEE ALSO:
  - api/server.go: Router configuration
  - bus/kafka/consumer.go: Inbound event loop
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/warp/entitlement-engine/api"
	"github.com/warp/entitlement-engine/bus/kafka"
	"github.com/warp/entitlement-engine/engine"
	"github.com/warp/entitlement-engine/payment"
	"github.com/warp/entitlement-engine/store/sqlite"
	"github.com/warp/entitlement-engine/timeline"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "entitlement.db", "SQLite database path")
	brokers := flag.String("brokers", "", "comma-separated Kafka brokers (empty disables the bus)")
	group := flag.String("group", "entitlement-engine", "Kafka consumer group")
	precedencePath := flag.String("precedence", "", "YAML precedence-override file")
	requireApproval := flag.Bool("require-approval", false, "require caseworker approval before payment")
	sweepInterval := flag.Duration("sweep-interval", time.Hour, "re-evaluation sweep interval")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Error("failed to initialize database", slog.Any("err", err))
		os.Exit(1)
	}
	defer store.Close()

	// Precedence table, with operator overrides when configured
	table := timeline.DefaultPrecedenceTable()
	if *precedencePath != "" {
		f, err := os.Open(*precedencePath)
		if err != nil {
			log.Error("failed to open precedence overrides", slog.Any("err", err))
			os.Exit(1)
		}
		err = table.ApplyOverrides(f)
		f.Close()
		if err != nil {
			log.Error("invalid precedence overrides", slog.Any("err", err))
			os.Exit(1)
		}
		log.Info("precedence overrides applied", slog.String("path", *precedencePath))
	}

	// Outbound chain: archive locally, then publish to the bus
	var producer *kafka.Producer
	archiver := &sqlite.Archiver{Store: store}
	if *brokers != "" {
		producer, err = kafka.NewProducer(kafka.ProducerConfig{
			Brokers: strings.Split(*brokers, ","),
		}, log)
		if err != nil {
			log.Error("failed to create producer", slog.Any("err", err))
			os.Exit(1)
		}
		defer producer.Close()
		archiver.Next = producer
	}

	registry := engine.NewRegistry(engine.Config{
		Defaults:        payment.DefaultParameters(),
		RequireApproval: *requireApproval,
		Table:           table,
		Store:           store,
		Publisher:       archiver,
		Log:             log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Inbound consumer, when a bus is configured
	var consumer *kafka.Consumer
	if *brokers != "" {
		consumer, err = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: strings.Split(*brokers, ","),
			GroupID: *group,
		}, registry, log)
		if err != nil {
			log.Error("failed to create consumer", slog.Any("err", err))
			os.Exit(1)
		}
		consumer.Start(ctx)
	}

	// Re-evaluation scheduler
	scheduler := api.NewReevaluationScheduler(registry, log)
	scheduler.SweepInterval = *sweepInterval
	scheduler.Start()

	// HTTP server
	handler := api.NewHandler(registry, store, log)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting",
			slog.Int("port", *port),
			slog.Bool("bus", *brokers != ""),
			slog.String("db", *dbPath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	scheduler.Stop()
	cancel()
	if consumer != nil {
		consumer.Wait()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("server stopped")
}
