// Package main wires together the roast pipeline service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/roastmylanding/roastpipe/internal/api"
	"github.com/roastmylanding/roastpipe/internal/cache/memory"
	cachepostgres "github.com/roastmylanding/roastpipe/internal/cache/postgres"
	cacheredis "github.com/roastmylanding/roastpipe/internal/cache/redis"
	"github.com/roastmylanding/roastpipe/internal/capture"
	"github.com/roastmylanding/roastpipe/internal/clock/system"
	"github.com/roastmylanding/roastpipe/internal/config"
	"github.com/roastmylanding/roastpipe/internal/ensemble"
	"github.com/roastmylanding/roastpipe/internal/hash/sha256"
	"github.com/roastmylanding/roastpipe/internal/id/uuid"
	"github.com/roastmylanding/roastpipe/internal/imaging"
	"github.com/roastmylanding/roastpipe/internal/logging"
	"github.com/roastmylanding/roastpipe/internal/metrics"
	"github.com/roastmylanding/roastpipe/internal/pipeline"
	queuememory "github.com/roastmylanding/roastpipe/internal/queue/memory"
	queuepubsub "github.com/roastmylanding/roastpipe/internal/queue/pubsub"
	"github.com/roastmylanding/roastpipe/internal/roast"
	storagegcs "github.com/roastmylanding/roastpipe/internal/storage/gcs"
	storagememory "github.com/roastmylanding/roastpipe/internal/storage/memory"
	storememory "github.com/roastmylanding/roastpipe/internal/store/memory"
	storepostgres "github.com/roastmylanding/roastpipe/internal/store/postgres"
	"github.com/roastmylanding/roastpipe/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	fontPath := flag.String("share-card-font", "", "TTF font for share cards (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.NewGenerator()

	resultCache, cleanupCache, err := buildCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("cache init failed", zap.Error(err))
	}
	defer cleanupCache()

	records, cleanupRecords, err := buildRecordStore(ctx, cfg)
	if err != nil {
		logger.Fatal("record store init failed", zap.Error(err))
	}
	defer cleanupRecords()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	jobQueue, cleanupQueue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("queue init failed", zap.Error(err))
	}
	defer cleanupQueue()

	browser := capture.NewBrowser()
	defer browser.Close()
	capturer := capture.New(browser, capture.Config{
		UserAgent:      cfg.Capture.UserAgent,
		NavTimeout:     time.Duration(cfg.Capture.NavTimeoutSec) * time.Second,
		NavMaxAttempts: cfg.Capture.NavMaxAttempts,
		BackoffBase:    time.Duration(cfg.Capture.BackoffBaseMs) * time.Millisecond,
		SettleDelay:    time.Duration(cfg.Capture.SettleDelayMs) * time.Millisecond,
		ReadyFallback:  time.Duration(cfg.Capture.ReadyFallbackMs) * time.Millisecond,
		JPEGQuality:    cfg.Capture.JPEGQuality,
		MaxParallel:    cfg.Capture.MaxParallel,
	}, logger.Named("capture"))

	providers, weights := ensemble.DefaultRoster(ensemble.Credentials{
		OpenAIKey:      cfg.Providers.OpenAIKey,
		OpenAIModel:    cfg.Providers.OpenAIModel,
		AnthropicKey:   cfg.Providers.AnthropicKey,
		AnthropicModel: cfg.Providers.AnthropicModel,
		GeminiKey:      cfg.Providers.GeminiKey,
		GeminiModel:    cfg.Providers.GeminiModel,
	})
	if len(providers) == 0 {
		logger.Fatal("no AI providers configured, set at least one API key")
	}
	analyzer := ensemble.New(providers, weights, &ensemble.Options{
		ProviderTimeout: time.Duration(cfg.Ensemble.ProviderTimeoutSec) * time.Second,
		MaxIssues:       cfg.Ensemble.MaxIssues,
		ResultTTL:       time.Duration(cfg.Ensemble.ResultTTLSeconds) * time.Second,
	}, clock, logger.Named("ensemble"))

	jobWorker := worker.New(
		capturer,
		analyzer,
		blobs,
		records,
		resultCache,
		hasher,
		clock,
		&imaging.CardRenderer{FontPath: *fontPath},
		logger.Named("worker"),
	)

	pipe := pipeline.New(resultCache, records, jobQueue, hasher, clock, idGen, pipeline.Options{
		RatePerSec: cfg.Pipeline.SubmitRatePerSec,
		Burst:      cfg.Pipeline.SubmitBurst,
	}, logger.Named("pipeline"))

	apiServer := api.NewServer(pipe, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("queue consumer started", zap.String("provider", cfg.Queue.Provider))
		if err := jobQueue.Consume(ctx, jobWorker.Handle); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("queue consumer error", zap.Error(err))
			stop()
		}
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}

type jobQueue interface {
	roast.Enqueuer
	roast.Consumer
}

func buildQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (jobQueue, func(), error) {
	switch cfg.Queue.Provider {
	case "pubsub":
		q, err := queuepubsub.New(ctx, queuepubsub.Config{
			ProjectID:      cfg.Queue.ProjectID,
			TopicID:        cfg.Queue.TopicID,
			SubscriptionID: cfg.Queue.SubscriptionID,
			MaxConcurrent:  cfg.Queue.MaxConcurrent,
			AckDeadline:    time.Duration(cfg.Queue.VisibilityTimeoutSec) * time.Second,
		}, logger.Named("queue"))
		if err != nil {
			return nil, nil, err
		}
		return q, func() {
			if err := q.Close(); err != nil {
				logger.Warn("close pubsub queue", zap.Error(err))
			}
		}, nil
	case "memory":
		q := queuememory.New(queuememory.Config{
			Depth:          cfg.Queue.MemoryDepth,
			MaxConcurrent:  cfg.Queue.MaxConcurrent,
			MaxAttempts:    cfg.Queue.MemoryMaxAttempts,
			HandlerTimeout: time.Duration(cfg.Queue.VisibilityTimeoutSec) * time.Second,
		}, logger.Named("queue"))
		return q, q.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue provider %q", cfg.Queue.Provider)
	}
}

func buildCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (roast.Cache, func(), error) {
	switch cfg.Cache.Backend {
	case "redis":
		c, err := cacheredis.New(ctx, cacheredis.Config{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		}, logger.Named("cache"))
		if err != nil {
			return nil, nil, err
		}
		return c, func() {
			if err := c.Close(); err != nil {
				logger.Warn("close redis cache", zap.Error(err))
			}
		}, nil
	case "postgres":
		c, err := cachepostgres.New(ctx, cfg.DB.DSN, logger.Named("cache"))
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case "memory":
		return memory.New(nil), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func buildRecordStore(ctx context.Context, cfg config.Config) (roast.RecordStore, func(), error) {
	if cfg.DB.DSN == "" {
		return storememory.New(), func() {}, nil
	}
	s, err := storepostgres.New(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (roast.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return storagegcs.New(client, storagegcs.Config{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: cfg.Storage.Prefix,
		})
	case "memory":
		return storagememory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}
