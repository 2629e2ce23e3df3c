package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/niczy/changerequest/internal/approval"
	"github.com/niczy/changerequest/internal/auth"
	"github.com/niczy/changerequest/internal/changerequest"
	"github.com/niczy/changerequest/internal/config"
	"github.com/niczy/changerequest/internal/events"
	"github.com/niczy/changerequest/internal/logging"
	"github.com/niczy/changerequest/internal/metrics"
	changerequestservice "github.com/niczy/changerequest/internal/services/changerequest"
	"github.com/niczy/changerequest/internal/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("CHANGEREQUEST_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("ChangeRequestService failed", zap.Error(err))
	}
}

// dependencies holds everything that must be closed on shutdown.
type dependencies struct {
	storage   storage.Storage
	documents storage.DocumentStore
	notifier  events.Notifier
	redis     redis.UniversalClient
	nats      *nats.Conn
}

func (d *dependencies) Close() {
	if d.nats != nil {
		d.nats.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
}

// buildObjectStore creates the durable archive of the Redis backend.
func buildObjectStore(cfg config.StorageConfig) storage.ObjectStore {
	if cfg.Archive == config.BackendS3 {
		client := storage.NewS3Client(cfg.S3Region, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey)
		return storage.NewS3ObjectStore(client, cfg.S3Bucket, cfg.S3Prefix)
	}
	return storage.NewInMemoryObjectStore()
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{notifier: events.NopNotifier{}}

	switch cfg.Storage.Backend {
	case config.BackendRedis:
		deps.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		objects := buildObjectStore(cfg.Storage)
		if cfg.Storage.Archive != config.BackendS3 {
			logger.Warn("Redis backend with an in-memory archive: document content and archived change requests are lost on restart",
				zap.String("archive", cfg.Storage.Archive))
		}
		deps.storage = storage.NewRedisStorage(deps.redis, objects, cfg.Storage.KeyPrefix, storage.WithLogger(logger))
		deps.documents = storage.NewRedisDocumentStore(deps.redis, objects, cfg.Storage.KeyPrefix)
	default:
		deps.storage = storage.NewInMemoryStorage()
		deps.documents = storage.NewInMemoryDocumentStore()
	}

	if err := deps.storage.Ping(ctx); err != nil {
		deps.Close()
		return nil, fmt.Errorf("storage is not reachable: %w", err)
	}
	logger.Info("Storage ready",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("archive", cfg.Storage.Archive))

	if cfg.Events.NATSURL != "" {
		nc, err := nats.Connect(cfg.Events.NATSURL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Events.NATSURL, err)
		}
		deps.nats = nc
		deps.notifier = events.NewNATSNotifier(nc, cfg.Events.SubjectPrefix)
		logger.Info("Connected to NATS", zap.String("url", cfg.Events.NATSURL))
	}

	return deps, nil
}

func newManager(cfg *config.Config, deps *dependencies, reg prometheus.Registerer, logger *zap.Logger) (*changerequest.Manager, error) {
	strategy, err := approval.New(cfg.Approval.Strategy, cfg.Approval.MinApprovals)
	if err != nil {
		return nil, err
	}
	authz := auth.NewPolicyAuthorizer(auth.Policy{
		Admins:            cfg.Auth.Admins,
		Mergers:           cfg.Auth.Mergers,
		Reviewers:         cfg.Auth.Reviewers,
		AllowAuthorReview: cfg.Auth.AllowAuthorReview,
	})
	return changerequest.NewManager(deps.storage, deps.documents, strategy, authz,
		changerequest.WithNotifier(deps.notifier),
		changerequest.WithMetrics(metrics.NewMetrics(reg)),
		changerequest.WithLogger(logger),
	), nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	manager, err := newManager(cfg, deps, reg, logger)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr, err)
	}

	grpcServer := changerequestservice.NewGRPCServer(manager, deps.documents, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.storage.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("ChangeRequestService server listening", zap.String("addr", cfg.Server.GRPCAddr))
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Info("Metrics server listening", zap.String("addr", cfg.Server.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		grpcServer.Stop()
		_ = metricsServer.Close()
		return fmt.Errorf("server stopped: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop metrics server: %w", err)
	}
	return nil
}
