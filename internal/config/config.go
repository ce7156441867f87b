// Package config contains all knobs and defaults used to configure the segment mapper when
// running as a standalone worker.
package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
)

const (
	DefaultWorkerConcurrency  = 4
	DefaultBatchTimeout       = 5 * time.Minute
	DefaultPollBackoff        = time.Second
	DefaultSegmentConcurrency = 1
	DefaultDispatchBatchSize  = 50

	DefaultGraphCacheSize = 10000
	DefaultGraphCacheTTL  = 10 * time.Minute

	DefaultQueueMaxMessages       = 10
	DefaultQueueWaitTimeSeconds   = 20
	DefaultQueueVisibilityTimeout = 10 * time.Minute
)

type DatastoreMetricsConfig struct {
	// Enabled enables export of the Datastore metrics.
	Enabled bool
}

// DatastoreConfig defines the mapping store connection settings.
type DatastoreConfig struct {
	// Engine is the datastore engine to use (e.g. 'memory', 'postgres', 'mysql', 'sqlite')
	Engine   string
	URI      string
	Username string
	Password string

	// MaxOpenConns is the maximum number of open connections to the database.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of connections to the datastore in the idle connection
	// pool.
	MaxIdleConns int

	// ConnMaxIdleTime is the maximum amount of time a connection to the datastore may be idle.
	ConnMaxIdleTime time.Duration

	// ConnMaxLifetime is the maximum amount of time a connection to the datastore may be reused.
	ConnMaxLifetime time.Duration

	// Metrics is configuration for the Datastore metrics.
	Metrics DatastoreMetricsConfig
}

// GraphEnvironmentConfig is the graph database of one environment.
type GraphEnvironmentConfig struct {
	// Engine is 'neo4j' or 'memory'.
	Engine   string
	URI      string
	Username string
	Password string
	Database string

	// FixturePath is the graph file loaded by the 'memory' engine. Empty starts an empty graph.
	FixturePath string `mapstructure:"fixture"`

	MaxConnectionPoolSize int
	ConnectTimeout        time.Duration
}

// GraphConfig maps environment labels to graph databases.
type GraphConfig struct {
	Environments map[string]GraphEnvironmentConfig

	// MaxManifestations bounds how many manifestations one traversal may reach. Zero is unbounded.
	MaxManifestations int
}

// RedisConfig defines the shared remote tier of the graph cache.
type RedisConfig struct {
	Enabled   bool
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// CacheConfig defines the graph read cache.
type CacheConfig struct {
	Enabled bool
	MaxSize int64
	TTL     time.Duration
	Redis   RedisConfig
}

// QueueConfig defines the inbound, completion and dead-letter queues.
type QueueConfig struct {
	// Engine is 'sqs' or 'memory'.
	Engine   string
	Region   string
	Endpoint string

	InboundURL    string
	CompletedURL  string
	DeadLetterURL string

	MaxMessages       int32
	WaitTimeSeconds   int32
	VisibilityTimeout time.Duration
}

// WorkerConfig defines the batch consumer loop.
type WorkerConfig struct {
	Concurrency  int
	BatchTimeout time.Duration
	PollBackoff  time.Duration
}

// BatchConfig defines how batches are processed and produced.
type BatchConfig struct {
	// SegmentConcurrency is the number of segments of one batch traversed in parallel.
	SegmentConcurrency int

	// Size is the number of segments per message sent by the enqueue command.
	Size int
}

// HTTPConfig defines the status API server.
type HTTPConfig struct {
	Enabled            bool
	Addr               string
	TLS                *TLSConfig
	RequestTimeout     time.Duration
	CORSAllowedOrigins []string
}

// TLSConfig defines configuration specific to Transport Layer Security (TLS) settings.
// The certificate is reloaded when the files change.
type TLSConfig struct {
	Enabled  bool
	CertPath string `mapstructure:"cert"`
	KeyPath  string `mapstructure:"key"`
}

// LogConfig defines log settings. For production we recommend using the 'json' log format.
type LogConfig struct {
	// Format is the log format to use in the log output (e.g. 'text' or 'json')
	Format string

	// Level is the log level to use in the log output (e.g. 'none', 'debug', or 'info')
	Level string
}

type TraceConfig struct {
	Enabled     bool
	OTLP        OTLPTraceConfig `mapstructure:"otlp"`
	SampleRatio float64
	ServiceName string
}

type OTLPTraceConfig struct {
	Endpoint string
	TLS      OTLPTraceTLSConfig
}

type OTLPTraceTLSConfig struct {
	Enabled bool
}

// MetricConfig defines configurations for serving prometheus metrics.
type MetricConfig struct {
	Enabled bool
	Addr    string
}

type Config struct {
	Datastore DatastoreConfig
	Graph     GraphConfig
	Cache     CacheConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Batch     BatchConfig
	HTTP      HTTPConfig
	Log       LogConfig
	Trace     TraceConfig
	Metrics   MetricConfig
}

func (cfg *Config) Verify() error {
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("config 'log.format' must be one of ['text', 'json']")
	}

	if !slices.Contains([]string{"none", "debug", "info", "warn", "error", "panic", "fatal"}, cfg.Log.Level) {
		return fmt.Errorf(
			"config 'log.level' must be one of ['none', 'debug', 'info', 'warn', 'error', 'panic', 'fatal']",
		)
	}

	if !slices.Contains([]string{"memory", "postgres", "mysql", "sqlite"}, cfg.Datastore.Engine) {
		return fmt.Errorf("config 'datastore.engine' must be one of ['memory', 'postgres', 'mysql', 'sqlite']")
	}

	if cfg.Datastore.Engine != "memory" && cfg.Datastore.URI == "" {
		return fmt.Errorf("config 'datastore.uri' is required for engine '%s'", cfg.Datastore.Engine)
	}

	if len(cfg.Graph.Environments) == 0 {
		return errors.New("config 'graph.environments' must configure at least one environment")
	}
	for label, env := range cfg.Graph.Environments {
		if _, err := graphstore.ParseEnvironment(label); err != nil {
			return fmt.Errorf("config 'graph.environments': %w", err)
		}
		switch env.Engine {
		case "neo4j":
			if env.URI == "" {
				return fmt.Errorf("config 'graph.environments.%s.uri' is required for engine 'neo4j'", label)
			}
		case "memory":
		default:
			return fmt.Errorf("config 'graph.environments.%s.engine' must be one of ['neo4j', 'memory']", label)
		}
	}

	if cfg.Graph.MaxManifestations < 0 {
		return errors.New("config 'graph.maxManifestations' must not be negative")
	}

	if cfg.Cache.Enabled {
		if cfg.Cache.MaxSize <= 0 {
			return errors.New("config 'cache.maxSize' must be positive when the cache is enabled")
		}
		if cfg.Cache.TTL <= 0 {
			return errors.New("config 'cache.ttl' must be positive when the cache is enabled")
		}
		if cfg.Cache.Redis.Enabled && cfg.Cache.Redis.Addr == "" {
			return errors.New("config 'cache.redis.addr' is required when redis is enabled")
		}
	}

	switch cfg.Queue.Engine {
	case "sqs":
		if cfg.Queue.InboundURL == "" || cfg.Queue.CompletedURL == "" {
			return errors.New("'queue.inboundURL' and 'queue.completedURL' configs must be set")
		}
	case "memory":
	default:
		return errors.New("config 'queue.engine' must be one of ['sqs', 'memory']")
	}

	if cfg.Worker.Concurrency < 1 {
		return errors.New("config 'worker.concurrency' must be at least 1")
	}
	if cfg.Worker.BatchTimeout <= 0 {
		return errors.New("config 'worker.batchTimeout' must be a positive duration")
	}

	if cfg.Batch.SegmentConcurrency < 1 {
		return errors.New("config 'batch.segmentConcurrency' must be at least 1")
	}
	if cfg.Batch.Size < 1 {
		return errors.New("config 'batch.size' must be at least 1")
	}

	if cfg.HTTP.TLS != nil && cfg.HTTP.TLS.Enabled {
		if cfg.HTTP.TLS.CertPath == "" || cfg.HTTP.TLS.KeyPath == "" {
			return errors.New("'http.tls.cert' and 'http.tls.key' configs must be set")
		}
	}

	if cfg.Trace.Enabled && (cfg.Trace.SampleRatio < 0 || cfg.Trace.SampleRatio > 1) {
		return errors.New("config 'trace.sampleRatio' must be between 0 and 1")
	}

	return nil
}

// DefaultConfig is the default worker configuration. It runs entirely in memory.
func DefaultConfig() *Config {
	return &Config{
		Datastore: DatastoreConfig{
			Engine:       "memory",
			MaxIdleConns: 10,
			MaxOpenConns: 30,
		},
		Graph: GraphConfig{
			Environments: map[string]GraphEnvironmentConfig{
				string(graphstore.EnvironmentDevelopment): {Engine: "memory"},
			},
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: DefaultGraphCacheSize,
			TTL:     DefaultGraphCacheTTL,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "segmentmapper:",
			},
		},
		Queue: QueueConfig{
			Engine:            "memory",
			MaxMessages:       DefaultQueueMaxMessages,
			WaitTimeSeconds:   DefaultQueueWaitTimeSeconds,
			VisibilityTimeout: DefaultQueueVisibilityTimeout,
		},
		Worker: WorkerConfig{
			Concurrency:  DefaultWorkerConcurrency,
			BatchTimeout: DefaultBatchTimeout,
			PollBackoff:  DefaultPollBackoff,
		},
		Batch: BatchConfig{
			SegmentConcurrency: DefaultSegmentConcurrency,
			Size:               DefaultDispatchBatchSize,
		},
		HTTP: HTTPConfig{
			Enabled:            true,
			Addr:               "0.0.0.0:8080",
			TLS:                &TLSConfig{Enabled: false},
			RequestTimeout:     10 * time.Second,
			CORSAllowedOrigins: []string{"*"},
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Trace: TraceConfig{
			Enabled: false,
			OTLP: OTLPTraceConfig{
				Endpoint: "0.0.0.0:4317",
				TLS: OTLPTraceTLSConfig{
					Enabled: false,
				},
			},
			SampleRatio: 0.2,
			ServiceName: "segmentmapper",
		},
		Metrics: MetricConfig{
			Enabled: true,
			Addr:    "0.0.0.0:2112",
		},
	}
}

// MustDefaultConfig returns default config with the status API and metrics turned off.
func MustDefaultConfig() *Config {
	config := DefaultConfig()

	config.HTTP.Enabled = false
	config.Metrics.Enabled = false

	return config
}

// MustDefaultConfigWithRandomPorts returns default config but with random ports for the status API and
// metrics addresses. This function may panic if somehow a random port cannot be chosen.
func MustDefaultConfigWithRandomPorts() *Config {
	config := DefaultConfig()

	httpPort, httpPortReleaser := TCPRandomPort()
	defer httpPortReleaser()
	metricsPort, metricsPortReleaser := TCPRandomPort()
	defer metricsPortReleaser()

	config.HTTP.Addr = fmt.Sprintf("127.0.0.1:%d", httpPort)
	config.Metrics.Addr = fmt.Sprintf("127.0.0.1:%d", metricsPort)

	return config
}

// TCPRandomPort tries to find a random TCP Port. If it can't find one, it panics. Else, it returns the port and a function that releases the port.
// It is the responsibility of the caller to call the release function right before trying to listen on the given port.
func TCPRandomPort() (int, func()) {
	l, err := net.Listen("tcp", "")
	if err != nil {
		panic(err)
	}
	return l.Addr().(*net.TCPAddr).Port, func() {
		l.Close()
	}
}
