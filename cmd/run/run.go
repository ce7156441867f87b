// Package run contains the commands that run the segment mapper worker and enqueue work for it.
package run

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	goruntime "runtime"
	"sort"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/certwatcher"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/segmentmapper/segmentmapper/internal/api"
	"github.com/segmentmapper/segmentmapper/internal/batch"
	"github.com/segmentmapper/segmentmapper/internal/build"
	"github.com/segmentmapper/segmentmapper/internal/config"
	"github.com/segmentmapper/segmentmapper/internal/traversal"
	"github.com/segmentmapper/segmentmapper/internal/worker"
	"github.com/segmentmapper/segmentmapper/pkg/cache"
	"github.com/segmentmapper/segmentmapper/pkg/cache/redis"
	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
	"github.com/segmentmapper/segmentmapper/pkg/graphstore/caching"
	graphmemory "github.com/segmentmapper/segmentmapper/pkg/graphstore/memory"
	"github.com/segmentmapper/segmentmapper/pkg/graphstore/neo4j"
	"github.com/segmentmapper/segmentmapper/pkg/logger"
	"github.com/segmentmapper/segmentmapper/pkg/queue"
	queuememory "github.com/segmentmapper/segmentmapper/pkg/queue/memory"
	"github.com/segmentmapper/segmentmapper/pkg/queue/sqs"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
	"github.com/segmentmapper/segmentmapper/pkg/storage/memory"
	"github.com/segmentmapper/segmentmapper/pkg/storage/mysql"
	"github.com/segmentmapper/segmentmapper/pkg/storage/postgres"
	"github.com/segmentmapper/segmentmapper/pkg/storage/sqlcommon"
	"github.com/segmentmapper/segmentmapper/pkg/storage/sqlite"
	"github.com/segmentmapper/segmentmapper/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the segment mapper worker",
		Long:  "Run the segment mapper worker, its status API and its metrics server.",
		RunE:  run,
		Args:  cobra.NoArgs,
	}

	flags := cmd.Flags()
	defineConfigFlags(flags)

	// NOTE: if you add a new flag here, update the function below, too

	cmd.PreRun = bindRunFlagsFunc(flags)

	return cmd
}

// ReadConfig returns the worker configuration based on the values provided in the 'config.yaml' file.
// The 'config.yaml' file is loaded from '/etc/segmentmapper', '$HOME/.segmentmapper', or the current working
// directory. If no configuration file is present, the default values are returned.
func ReadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load server config: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server config: %w", err)
	}

	return cfg, nil
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := ReadConfig()
	if err != nil {
		return err
	}

	if err := cfg.Verify(); err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}

	workerCtx := &WorkerContext{Logger: log}
	return workerCtx.Run(cmd.Context(), cfg)
}

// WorkerContext builds and runs every component of the worker process.
type WorkerContext struct {
	Logger logger.Logger

	// Receiver and Completed replace the configured queues of the worker when set.
	Receiver  queue.Receiver
	Completed queue.Sender

	// Inbound replaces the queue the enqueue command sends batches to when set.
	Inbound queue.Sender
}

// telemetryConfig returns the function that must be called to shut down tracing.
// The context provided to this function should be error-free, or shut down will be incomplete.
func (s *WorkerContext) telemetryConfig(cfg *config.Config) func() error {
	if cfg.Trace.Enabled {
		s.Logger.Info(fmt.Sprintf("🕵 tracing enabled: sampling ratio is %v and sending traces to '%s', tls: %t", cfg.Trace.SampleRatio, cfg.Trace.OTLP.Endpoint, cfg.Trace.OTLP.TLS.Enabled))

		options := []telemetry.TracerOption{
			telemetry.WithOTLPEndpoint(
				cfg.Trace.OTLP.Endpoint,
			),
			telemetry.WithAttributes(
				semconv.ServiceNameKey.String(cfg.Trace.ServiceName),
				semconv.ServiceVersionKey.String(build.Version),
			),
			telemetry.WithSamplingRatio(cfg.Trace.SampleRatio),
		}

		if !cfg.Trace.OTLP.TLS.Enabled {
			options = append(options, telemetry.WithOTLPInsecure())
		}

		tp := telemetry.MustNewTracerProvider(options...)
		return func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
			defer cancel()
			return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
		}
	}
	otel.SetTracerProvider(noop.NewTracerProvider())
	return func() error {
		return nil
	}
}

func (s *WorkerContext) datastoreConfig(cfg *config.Config) (storage.MappingStore, error) {
	datastoreOptions := []sqlcommon.DatastoreOption{
		sqlcommon.WithUsername(cfg.Datastore.Username),
		sqlcommon.WithPassword(cfg.Datastore.Password),
		sqlcommon.WithLogger(s.Logger),
		sqlcommon.WithMaxOpenConns(cfg.Datastore.MaxOpenConns),
		sqlcommon.WithMaxIdleConns(cfg.Datastore.MaxIdleConns),
		sqlcommon.WithConnMaxIdleTime(cfg.Datastore.ConnMaxIdleTime),
		sqlcommon.WithConnMaxLifetime(cfg.Datastore.ConnMaxLifetime),
	}

	if cfg.Datastore.Metrics.Enabled {
		datastoreOptions = append(datastoreOptions, sqlcommon.WithMetrics())
	}

	dsCfg := sqlcommon.NewConfig(datastoreOptions...)

	var datastore storage.MappingStore
	var err error
	switch cfg.Datastore.Engine {
	case "memory":
		datastore = memory.New()
	case "mysql":
		datastore, err = mysql.New(cfg.Datastore.URI, dsCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize mysql datastore: %w", err)
		}
	case "postgres":
		datastore, err = postgres.New(cfg.Datastore.URI, dsCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres datastore: %w", err)
		}
	case "sqlite":
		datastore, err = sqlite.New(cfg.Datastore.URI, dsCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite datastore: %w", err)
		}
	default:
		return nil, fmt.Errorf("storage engine '%s' is unsupported", cfg.Datastore.Engine)
	}

	s.Logger.Info(fmt.Sprintf("using '%v' storage engine", cfg.Datastore.Engine))

	return datastore, nil
}

// remoteCacheConfig returns the shared cache tier, or nil when it is disabled.
func (s *WorkerContext) remoteCacheConfig(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	if !cfg.Cache.Enabled || !cfg.Cache.Redis.Enabled {
		return nil, nil
	}

	handle, err := redis.New(
		redis.WithAddr(cfg.Cache.Redis.Addr),
		redis.WithUsername(cfg.Cache.Redis.Username),
		redis.WithPassword(cfg.Cache.Redis.Password),
		redis.WithDatabase(cfg.Cache.Redis.DB),
		redis.WithKeyPrefix(cfg.Cache.Redis.KeyPrefix),
		redis.WithTTL(cfg.Cache.TTL),
	)
	if err != nil {
		return nil, fmt.Errorf("initialize redis cache: %w", err)
	}

	if err := handle.Ping(ctx); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("ping redis cache: %w", err)
	}

	s.Logger.Info("using redis graph cache", zap.String("addr", cfg.Cache.Redis.Addr))
	return handle, nil
}

// graphConfig opens the graph of every configured environment. The returned function closes all of
// them.
func (s *WorkerContext) graphConfig(ctx context.Context, cfg *config.Config, remote cache.Cache) (*graphstore.Registry, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	labels := make([]string, 0, len(cfg.Graph.Environments))
	for label := range cfg.Graph.Environments {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	readers := make(map[graphstore.Environment]graphstore.Reader, len(labels))
	for _, label := range labels {
		envCfg := cfg.Graph.Environments[label]
		env, err := graphstore.ParseEnvironment(label)
		if err != nil {
			closeAll()
			return nil, nil, err
		}

		var reader graphstore.Reader
		switch envCfg.Engine {
		case "neo4j":
			store, err := neo4j.New(ctx, neo4j.Config{
				URI:                   envCfg.URI,
				Username:              envCfg.Username,
				Password:              envCfg.Password,
				Database:              envCfg.Database,
				MaxConnectionPoolSize: envCfg.MaxConnectionPoolSize,
				ConnectTimeout:        envCfg.ConnectTimeout,
			}, neo4j.WithLogger(s.Logger))
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("environment %s: %w", env, err)
			}
			closers = append(closers, func() { _ = store.Close(context.Background()) })
			reader = store
		case "memory":
			graph := graphmemory.New()
			if envCfg.FixturePath != "" {
				graph, err = graphmemory.LoadFile(envCfg.FixturePath)
				if err != nil {
					closeAll()
					return nil, nil, fmt.Errorf("environment %s: %w", env, err)
				}
			}
			reader = graph
		default:
			closeAll()
			return nil, nil, fmt.Errorf("graph engine '%s' is unsupported", envCfg.Engine)
		}

		if cfg.Cache.Enabled {
			opts := []caching.Option{
				caching.WithMaxCacheSize(cfg.Cache.MaxSize),
				caching.WithCacheTTL(cfg.Cache.TTL),
				caching.WithKeyPrefix(string(env) + ":"),
				caching.WithLogger(s.Logger),
			}
			if remote != nil {
				opts = append(opts, caching.WithRemoteCache(remote))
			}

			cached, err := caching.New(reader, opts...)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("environment %s: %w", env, err)
			}
			closers = append(closers, cached.Close)
			reader = cached
		}

		s.Logger.Info(fmt.Sprintf("using '%s' graph for environment '%s'", envCfg.Engine, env))
		readers[env] = reader
	}

	registry, err := graphstore.NewRegistry(readers)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	return registry, closeAll, nil
}

// queueConfig returns the inbound receiver and the completion sender.
func (s *WorkerContext) queueConfig(ctx context.Context, cfg *config.Config) (queue.Receiver, queue.Sender, error) {
	if s.Receiver != nil && s.Completed != nil {
		return s.Receiver, s.Completed, nil
	}

	switch cfg.Queue.Engine {
	case "memory":
		s.Logger.Warn("using in-memory queues: batches can only be produced from within this process")
		return queuememory.New(queuememory.WithMaxMessages(int(cfg.Queue.MaxMessages))), queuememory.New(), nil
	case "sqs":
		client, err := sqs.NewClient(ctx, cfg.Queue.Region, cfg.Queue.Endpoint)
		if err != nil {
			return nil, nil, err
		}

		consumer, err := sqs.NewConsumer(client, cfg.Queue.InboundURL,
			sqs.WithDeadLetterURL(cfg.Queue.DeadLetterURL),
			sqs.WithMaxMessages(cfg.Queue.MaxMessages),
			sqs.WithWaitTimeSeconds(cfg.Queue.WaitTimeSeconds),
			sqs.WithVisibilityTimeout(int32(cfg.Queue.VisibilityTimeout/time.Second)),
			sqs.WithLogger(s.Logger),
		)
		if err != nil {
			return nil, nil, err
		}

		producer, err := sqs.NewProducer(client, cfg.Queue.CompletedURL)
		if err != nil {
			return nil, nil, err
		}

		s.Logger.Info("using sqs queues", zap.String("inbound", cfg.Queue.InboundURL), zap.String("completed", cfg.Queue.CompletedURL))
		return consumer, producer, nil
	default:
		return nil, nil, fmt.Errorf("queue engine '%s' is unsupported", cfg.Queue.Engine)
	}
}

// inboundConfig returns the sender batches are enqueued with.
func (s *WorkerContext) inboundConfig(ctx context.Context, cfg *config.Config) (queue.Sender, error) {
	if s.Inbound != nil {
		return s.Inbound, nil
	}

	switch cfg.Queue.Engine {
	case "sqs":
		client, err := sqs.NewClient(ctx, cfg.Queue.Region, cfg.Queue.Endpoint)
		if err != nil {
			return nil, err
		}
		producer, err := sqs.NewProducer(client, cfg.Queue.InboundURL)
		if err != nil {
			return nil, err
		}
		return producer, nil
	case "memory":
		return nil, errors.New("enqueue requires the 'sqs' queue engine: an in-memory queue is only visible to its own process")
	default:
		return nil, fmt.Errorf("queue engine '%s' is unsupported", cfg.Queue.Engine)
	}
}

func (s *WorkerContext) serve(ctx context.Context, g *errgroup.Group, name, addr string, tlsConfig *config.TLSConfig, handler http.Handler) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s for the %s: %w", addr, name, err)
	}

	if tlsConfig != nil && tlsConfig.Enabled {
		getCertificate, err := watchAndLoadCertificateWithCertWatcher(ctx, tlsConfig.CertPath, tlsConfig.KeyPath, s.Logger)
		if err != nil {
			_ = lis.Close()
			return fmt.Errorf("%s: %w", name, err)
		}
		lis = tls.NewListener(lis, &tls.Config{
			GetCertificate: getCertificate,
		})

		s.Logger.Info(name + " TLS is enabled, serving connections using the provided certificate")
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	g.Go(func() error {
		s.Logger.Info(fmt.Sprintf("starting %s on '%s'", name, lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: %w", name, err)
		}
		s.Logger.Info(name + " shut down.")
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.Logger.Info("failed to shutdown the "+name, zap.Error(err))
		}
		return nil
	})

	return nil
}

// Run builds every component from cfg and blocks until ctx is cancelled, a termination signal arrives
// or one of the servers fails.
func (s *WorkerContext) Run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerProviderCloser := s.telemetryConfig(cfg)
	defer func() {
		if err := tracerProviderCloser(); err != nil {
			s.Logger.Error("failed to shutdown tracing", zap.Error(err))
		}
	}()

	datastore, err := s.datastoreConfig(cfg)
	if err != nil {
		return err
	}
	defer datastore.Close()

	remote, err := s.remoteCacheConfig(ctx, cfg)
	if err != nil {
		return err
	}
	if remote != nil {
		defer remote.Close()
	}

	registry, closeGraphs, err := s.graphConfig(ctx, cfg, remote)
	if err != nil {
		return err
	}
	defer closeGraphs()

	receiver, completed, err := s.queueConfig(ctx, cfg)
	if err != nil {
		return err
	}

	engines := traversal.NewEngines(registry,
		traversal.WithMaxManifestations(cfg.Graph.MaxManifestations),
		traversal.WithLogger(s.Logger),
	)
	processor := batch.NewProcessor(engines, datastore, queue.NewNotifier(completed),
		batch.WithConcurrency(cfg.Batch.SegmentConcurrency),
		batch.WithLogger(s.Logger),
	)
	w := worker.New(receiver, processor, datastore,
		worker.WithConcurrency(cfg.Worker.Concurrency),
		worker.WithBatchTimeout(cfg.Worker.BatchTimeout),
		worker.WithPollBackoff(cfg.Worker.PollBackoff),
		worker.WithLogger(s.Logger),
	)

	s.Logger.Info(
		"starting segmentmapper worker...",
		zap.String("version", build.Version),
		zap.String("date", build.Date),
		zap.String("commit", build.Commit),
		zap.String("go-version", goruntime.Version()),
		zap.Any("environments", registry.Configured()),
	)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := s.serve(gctx, g, "prometheus metrics server", cfg.Metrics.Addr, nil, mux); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
	}

	if cfg.HTTP.Enabled {
		statusAPI := api.New(datastore,
			api.WithLogger(s.Logger),
			api.WithRequestTimeout(cfg.HTTP.RequestTimeout),
			api.WithCORSAllowedOrigins(cfg.HTTP.CORSAllowedOrigins),
			api.WithTracing(cfg.Trace.Enabled),
		)
		if err := s.serve(gctx, g, "status API", cfg.HTTP.Addr, cfg.HTTP.TLS, statusAPI.Handler()); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
	}

	g.Go(func() error {
		return w.Run(gctx)
	})

	err = g.Wait()
	s.Logger.Info("worker exited. goodbye 👋")

	return err
}

func watchAndLoadCertificateWithCertWatcher(ctx context.Context, certPath, keyPath string, logger logger.Logger) (func(*tls.ClientHelloInfo) (*tls.Certificate, error), error) {
	log.SetLogger(logr.Discard())

	watcher, err := certwatcher.New(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create certwatcher: %w", err)
	}

	if err := watcher.ReadCertificate(); err != nil {
		return nil, fmt.Errorf("failed to load initial certificate: %w", err)
	}
	logger.Info("initial TLS certificate loaded", zap.String("certPath", certPath), zap.String("keyPath", keyPath))

	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.Error("certwatcher encountered an error", zap.Error(err))
		}
	}()

	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		return watcher.GetCertificate(nil)
	}, nil
}
