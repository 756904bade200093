// main package for the audiobook-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/audiobook-service/internal/config"
	"github.com/book-expert/audiobook-service/internal/credits"
	"github.com/book-expert/audiobook-service/internal/objectstore"
	"github.com/book-expert/audiobook-service/internal/pipeline"
	"github.com/book-expert/audiobook-service/internal/store"
	"github.com/book-expert/audiobook-service/internal/synthesis"
	"github.com/book-expert/audiobook-service/internal/text"
	"github.com/book-expert/audiobook-service/internal/voices"
	"github.com/book-expert/audiobook-service/internal/worker"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "audiobook-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

// serve wires the storage, broker and pipeline layers and runs the consumer
// until the context is canceled.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	jobStore, err := store.Open(ctx, store.Config{
		Path:             cfg.Storage.DatabasePath,
		DefaultTokenRate: cfg.Storage.DefaultTokenRate,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}

	defer func() {
		closeErr := jobStore.Close()
		if closeErr != nil {
			log.Error("Failed to close job store: %v", closeErr)
		}
	}()

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at '%s': %w", cfg.NATS.URL, err)
	}

	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	err = worker.EnsureStream(jetstreamContext, cfg.NATS.JobStreamName, cfg.NATS.JobQueuedSubject)
	if err != nil {
		return err
	}

	objects, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to create audio object store: %w", err)
	}

	tokenizer := text.NewWordTokenizer()
	voiceDirectory := voices.NewCachedDirectory(jobStore, voices.DefaultCacheSize, voices.DefaultCacheTTL)
	engineTimeout := time.Duration(cfg.Generation.TimeoutSeconds) * time.Second

	newProcessor := func() (worker.Processor, error) {
		return pipeline.New(pipeline.Dependencies{
			Jobs:       jobStore,
			Ledger:     jobStore,
			Voices:     voiceDirectory,
			Settings:   jobStore,
			Objects:    objects,
			Engine:     synthesis.NewHTTPEngine(cfg.Generation.SynthesisServiceURL, engineTimeout),
			Estimator:  credits.NewEstimator(tokenizer, jobStore),
			Gate:       credits.NewGate(jobStore, jobStore),
			Chunker:    text.NewChunker(tokenizer, cfg.Generation.MaxChunkTokens),
			SampleRate: cfg.Generation.SampleRate,
			Log:        log,
		}), nil
	}

	consumer, err := worker.NewConsumer(jetstreamContext, worker.Config{
		Subject:        cfg.NATS.JobQueuedSubject,
		Durable:        cfg.NATS.JobConsumerName,
		MaxRetries:     cfg.Generation.MaxRetries,
		PoolSize:       cfg.Generation.Workers,
		ProcessTimeout: time.Duration(cfg.Generation.JobTimeoutSeconds) * time.Second,
	}, newProcessor, log)
	if err != nil {
		return fmt.Errorf("failed to create job consumer: %w", err)
	}

	log.System("Audiobook-service initialized. Listening for jobs on subject: %s", cfg.NATS.JobQueuedSubject)

	return consumer.Run(ctx)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
