package run

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/segmentmapper/segmentmapper/cmd/util"
	"github.com/segmentmapper/segmentmapper/internal/config"
)

// defineConfigFlags adds one flag per configuration value, defaulting to [config.DefaultConfig].
func defineConfigFlags(flags *pflag.FlagSet) {
	defaultConfig := config.DefaultConfig()

	flags.String("datastore-engine", defaultConfig.Datastore.Engine, "the datastore engine that will be used for persistence ('memory', 'postgres', 'mysql' or 'sqlite')")

	flags.String("datastore-uri", defaultConfig.Datastore.URI, "the connection uri to use to connect to the datastore (for any engine other than 'memory')")

	flags.String("datastore-username", "", "the connection username to use to connect to the datastore (overwrites any username provided in the connection uri)")

	flags.String("datastore-password", "", "the connection password to use to connect to the datastore (overwrites any password provided in the connection uri)")

	flags.Int("datastore-max-open-conns", defaultConfig.Datastore.MaxOpenConns, "the maximum number of open connections to the datastore")

	flags.Int("datastore-max-idle-conns", defaultConfig.Datastore.MaxIdleConns, "the maximum number of connections to the datastore in the idle connection pool")

	flags.Duration("datastore-conn-max-idle-time", defaultConfig.Datastore.ConnMaxIdleTime, "the maximum amount of time a connection to the datastore may be idle")

	flags.Duration("datastore-conn-max-lifetime", defaultConfig.Datastore.ConnMaxLifetime, "the maximum amount of time a connection to the datastore may be reused")

	flags.Bool("datastore-metrics-enabled", defaultConfig.Datastore.Metrics.Enabled, "enable/disable sql metrics")

	flags.Int("graph-max-manifestations", defaultConfig.Graph.MaxManifestations, "the maximum number of manifestations one traversal may reach (0 is unbounded)")

	flags.Bool("cache-enabled", defaultConfig.Cache.Enabled, "enable/disable the graph read cache")

	flags.Int64("cache-max-size", defaultConfig.Cache.MaxSize, "the maximum number of graph reads held by the local cache")

	flags.Duration("cache-ttl", defaultConfig.Cache.TTL, "the time a cached graph read is kept")

	flags.Bool("cache-redis-enabled", defaultConfig.Cache.Redis.Enabled, "enable/disable the shared redis tier of the graph cache")

	flags.String("cache-redis-addr", defaultConfig.Cache.Redis.Addr, "a comma separated list of redis host:port addresses")

	flags.String("cache-redis-username", defaultConfig.Cache.Redis.Username, "the redis username")

	flags.String("cache-redis-password", defaultConfig.Cache.Redis.Password, "the redis password")

	flags.Int("cache-redis-db", defaultConfig.Cache.Redis.DB, "the redis database number")

	flags.String("cache-redis-key-prefix", defaultConfig.Cache.Redis.KeyPrefix, "the prefix of every redis key")

	flags.String("queue-engine", defaultConfig.Queue.Engine, "the queue engine ('sqs' or 'memory')")

	flags.String("queue-region", defaultConfig.Queue.Region, "the AWS region of the queues")

	flags.String("queue-endpoint", defaultConfig.Queue.Endpoint, "overrides the SQS endpoint, e.g. for a local emulator")

	flags.String("queue-inbound-url", defaultConfig.Queue.InboundURL, "the URL of the queue batches are received from")

	flags.String("queue-completed-url", defaultConfig.Queue.CompletedURL, "the URL of the queue completion notifications are sent to")

	flags.String("queue-dead-letter-url", defaultConfig.Queue.DeadLetterURL, "the URL rejected batches are forwarded to (empty leaves them to the redrive policy)")

	flags.Int32("queue-max-messages", defaultConfig.Queue.MaxMessages, "the maximum number of messages received per poll")

	flags.Int32("queue-wait-time-seconds", defaultConfig.Queue.WaitTimeSeconds, "the long polling wait time")

	flags.Duration("queue-visibility-timeout", defaultConfig.Queue.VisibilityTimeout, "the visibility timeout of received messages")

	flags.Int("worker-concurrency", defaultConfig.Worker.Concurrency, "the number of batches processed concurrently")

	flags.Duration("worker-batch-timeout", defaultConfig.Worker.BatchTimeout, "the maximum time one batch may take")

	flags.Duration("worker-poll-backoff", defaultConfig.Worker.PollBackoff, "the wait after a failed poll")

	flags.Int("batch-segment-concurrency", defaultConfig.Batch.SegmentConcurrency, "the number of segments of one batch traversed concurrently")

	flags.Int("batch-size", defaultConfig.Batch.Size, "the number of segments per batch message sent by the enqueue command")

	flags.Bool("http-enabled", defaultConfig.HTTP.Enabled, "enable/disable the status API")

	flags.String("http-addr", defaultConfig.HTTP.Addr, "the host:port address to serve the status API on")

	flags.Bool("http-tls-enabled", defaultConfig.HTTP.TLS.Enabled, "enable/disable transport layer security (TLS)")

	flags.String("http-tls-cert", defaultConfig.HTTP.TLS.CertPath, "the (absolute) file path of the certificate to use for the TLS connection")

	flags.String("http-tls-key", defaultConfig.HTTP.TLS.KeyPath, "the (absolute) file path of the TLS key that should be used for the TLS connection")

	flags.Duration("http-request-timeout", defaultConfig.HTTP.RequestTimeout, "the timeout of a status API request")

	flags.StringSlice("http-cors-allowed-origins", defaultConfig.HTTP.CORSAllowedOrigins, "specifies the CORS allowed origins")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in ('text' or 'json')")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use ('none', 'debug', 'info', 'warn', 'error', 'panic', 'fatal')")

	flags.Bool("trace-enabled", defaultConfig.Trace.Enabled, "enable tracing")

	flags.String("trace-otlp-endpoint", defaultConfig.Trace.OTLP.Endpoint, "the endpoint of the trace collector")

	flags.Bool("trace-otlp-tls-enabled", defaultConfig.Trace.OTLP.TLS.Enabled, "use TLS connection for trace collector")

	flags.Float64("trace-sample-ratio", defaultConfig.Trace.SampleRatio, "the fraction of traces to sample. 1 means all, 0 means none.")

	flags.String("trace-service-name", defaultConfig.Trace.ServiceName, "the service name included in sampled traces.")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "enable/disable prometheus metrics on the '/metrics' endpoint")

	flags.String("metrics-addr", defaultConfig.Metrics.Addr, "the host:port address to serve the prometheus metrics server on")
}

// bindRunFlagsFunc binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindRunFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(command *cobra.Command, _ []string) {
		util.MustBindPFlag("datastore.engine", flags.Lookup("datastore-engine"))
		util.MustBindEnv("datastore.engine", "SEGMENTMAPPER_DATASTORE_ENGINE")

		util.MustBindPFlag("datastore.uri", flags.Lookup("datastore-uri"))
		util.MustBindEnv("datastore.uri", "SEGMENTMAPPER_DATASTORE_URI")

		util.MustBindPFlag("datastore.username", flags.Lookup("datastore-username"))
		util.MustBindEnv("datastore.username", "SEGMENTMAPPER_DATASTORE_USERNAME")

		util.MustBindPFlag("datastore.password", flags.Lookup("datastore-password"))
		util.MustBindEnv("datastore.password", "SEGMENTMAPPER_DATASTORE_PASSWORD")

		util.MustBindPFlag("datastore.maxOpenConns", flags.Lookup("datastore-max-open-conns"))
		util.MustBindEnv("datastore.maxOpenConns", "SEGMENTMAPPER_DATASTORE_MAX_OPEN_CONNS", "SEGMENTMAPPER_DATASTORE_MAXOPENCONNS")

		util.MustBindPFlag("datastore.maxIdleConns", flags.Lookup("datastore-max-idle-conns"))
		util.MustBindEnv("datastore.maxIdleConns", "SEGMENTMAPPER_DATASTORE_MAX_IDLE_CONNS", "SEGMENTMAPPER_DATASTORE_MAXIDLECONNS")

		util.MustBindPFlag("datastore.connMaxIdleTime", flags.Lookup("datastore-conn-max-idle-time"))
		util.MustBindEnv("datastore.connMaxIdleTime", "SEGMENTMAPPER_DATASTORE_CONN_MAX_IDLE_TIME", "SEGMENTMAPPER_DATASTORE_CONNMAXIDLETIME")

		util.MustBindPFlag("datastore.connMaxLifetime", flags.Lookup("datastore-conn-max-lifetime"))
		util.MustBindEnv("datastore.connMaxLifetime", "SEGMENTMAPPER_DATASTORE_CONN_MAX_LIFETIME", "SEGMENTMAPPER_DATASTORE_CONNMAXLIFETIME")

		util.MustBindPFlag("datastore.metrics.enabled", flags.Lookup("datastore-metrics-enabled"))
		util.MustBindEnv("datastore.metrics.enabled", "SEGMENTMAPPER_DATASTORE_METRICS_ENABLED")

		util.MustBindPFlag("graph.maxManifestations", flags.Lookup("graph-max-manifestations"))
		util.MustBindEnv("graph.maxManifestations", "SEGMENTMAPPER_GRAPH_MAX_MANIFESTATIONS", "SEGMENTMAPPER_GRAPH_MAXMANIFESTATIONS")

		util.MustBindPFlag("cache.enabled", flags.Lookup("cache-enabled"))
		util.MustBindEnv("cache.enabled", "SEGMENTMAPPER_CACHE_ENABLED")

		util.MustBindPFlag("cache.maxSize", flags.Lookup("cache-max-size"))
		util.MustBindEnv("cache.maxSize", "SEGMENTMAPPER_CACHE_MAX_SIZE", "SEGMENTMAPPER_CACHE_MAXSIZE")

		util.MustBindPFlag("cache.ttl", flags.Lookup("cache-ttl"))
		util.MustBindEnv("cache.ttl", "SEGMENTMAPPER_CACHE_TTL")

		util.MustBindPFlag("cache.redis.enabled", flags.Lookup("cache-redis-enabled"))
		util.MustBindEnv("cache.redis.enabled", "SEGMENTMAPPER_CACHE_REDIS_ENABLED")

		util.MustBindPFlag("cache.redis.addr", flags.Lookup("cache-redis-addr"))
		util.MustBindEnv("cache.redis.addr", "SEGMENTMAPPER_CACHE_REDIS_ADDR")

		util.MustBindPFlag("cache.redis.username", flags.Lookup("cache-redis-username"))
		util.MustBindEnv("cache.redis.username", "SEGMENTMAPPER_CACHE_REDIS_USERNAME")

		util.MustBindPFlag("cache.redis.password", flags.Lookup("cache-redis-password"))
		util.MustBindEnv("cache.redis.password", "SEGMENTMAPPER_CACHE_REDIS_PASSWORD")

		util.MustBindPFlag("cache.redis.db", flags.Lookup("cache-redis-db"))
		util.MustBindEnv("cache.redis.db", "SEGMENTMAPPER_CACHE_REDIS_DB")

		util.MustBindPFlag("cache.redis.keyPrefix", flags.Lookup("cache-redis-key-prefix"))
		util.MustBindEnv("cache.redis.keyPrefix", "SEGMENTMAPPER_CACHE_REDIS_KEY_PREFIX", "SEGMENTMAPPER_CACHE_REDIS_KEYPREFIX")

		util.MustBindPFlag("queue.engine", flags.Lookup("queue-engine"))
		util.MustBindEnv("queue.engine", "SEGMENTMAPPER_QUEUE_ENGINE")

		util.MustBindPFlag("queue.region", flags.Lookup("queue-region"))
		util.MustBindEnv("queue.region", "SEGMENTMAPPER_QUEUE_REGION")

		util.MustBindPFlag("queue.endpoint", flags.Lookup("queue-endpoint"))
		util.MustBindEnv("queue.endpoint", "SEGMENTMAPPER_QUEUE_ENDPOINT")

		util.MustBindPFlag("queue.inboundURL", flags.Lookup("queue-inbound-url"))
		util.MustBindEnv("queue.inboundURL", "SEGMENTMAPPER_QUEUE_INBOUND_URL", "SEGMENTMAPPER_QUEUE_INBOUNDURL")

		util.MustBindPFlag("queue.completedURL", flags.Lookup("queue-completed-url"))
		util.MustBindEnv("queue.completedURL", "SEGMENTMAPPER_QUEUE_COMPLETED_URL", "SEGMENTMAPPER_QUEUE_COMPLETEDURL")

		util.MustBindPFlag("queue.deadLetterURL", flags.Lookup("queue-dead-letter-url"))
		util.MustBindEnv("queue.deadLetterURL", "SEGMENTMAPPER_QUEUE_DEAD_LETTER_URL", "SEGMENTMAPPER_QUEUE_DEADLETTERURL")

		util.MustBindPFlag("queue.maxMessages", flags.Lookup("queue-max-messages"))
		util.MustBindEnv("queue.maxMessages", "SEGMENTMAPPER_QUEUE_MAX_MESSAGES", "SEGMENTMAPPER_QUEUE_MAXMESSAGES")

		util.MustBindPFlag("queue.waitTimeSeconds", flags.Lookup("queue-wait-time-seconds"))
		util.MustBindEnv("queue.waitTimeSeconds", "SEGMENTMAPPER_QUEUE_WAIT_TIME_SECONDS", "SEGMENTMAPPER_QUEUE_WAITTIMESECONDS")

		util.MustBindPFlag("queue.visibilityTimeout", flags.Lookup("queue-visibility-timeout"))
		util.MustBindEnv("queue.visibilityTimeout", "SEGMENTMAPPER_QUEUE_VISIBILITY_TIMEOUT", "SEGMENTMAPPER_QUEUE_VISIBILITYTIMEOUT")

		util.MustBindPFlag("worker.concurrency", flags.Lookup("worker-concurrency"))
		util.MustBindEnv("worker.concurrency", "SEGMENTMAPPER_WORKER_CONCURRENCY")

		util.MustBindPFlag("worker.batchTimeout", flags.Lookup("worker-batch-timeout"))
		util.MustBindEnv("worker.batchTimeout", "SEGMENTMAPPER_WORKER_BATCH_TIMEOUT", "SEGMENTMAPPER_WORKER_BATCHTIMEOUT")

		util.MustBindPFlag("worker.pollBackoff", flags.Lookup("worker-poll-backoff"))
		util.MustBindEnv("worker.pollBackoff", "SEGMENTMAPPER_WORKER_POLL_BACKOFF", "SEGMENTMAPPER_WORKER_POLLBACKOFF")

		util.MustBindPFlag("batch.segmentConcurrency", flags.Lookup("batch-segment-concurrency"))
		util.MustBindEnv("batch.segmentConcurrency", "SEGMENTMAPPER_BATCH_SEGMENT_CONCURRENCY", "SEGMENTMAPPER_BATCH_SEGMENTCONCURRENCY")

		util.MustBindPFlag("batch.size", flags.Lookup("batch-size"))
		util.MustBindEnv("batch.size", "SEGMENTMAPPER_BATCH_SIZE")

		util.MustBindPFlag("http.enabled", flags.Lookup("http-enabled"))
		util.MustBindEnv("http.enabled", "SEGMENTMAPPER_HTTP_ENABLED")

		util.MustBindPFlag("http.addr", flags.Lookup("http-addr"))
		util.MustBindEnv("http.addr", "SEGMENTMAPPER_HTTP_ADDR")

		util.MustBindPFlag("http.tls.enabled", flags.Lookup("http-tls-enabled"))
		util.MustBindEnv("http.tls.enabled", "SEGMENTMAPPER_HTTP_TLS_ENABLED")

		util.MustBindPFlag("http.tls.cert", flags.Lookup("http-tls-cert"))
		util.MustBindEnv("http.tls.cert", "SEGMENTMAPPER_HTTP_TLS_CERT")

		util.MustBindPFlag("http.tls.key", flags.Lookup("http-tls-key"))
		util.MustBindEnv("http.tls.key", "SEGMENTMAPPER_HTTP_TLS_KEY")

		util.MustBindPFlag("http.requestTimeout", flags.Lookup("http-request-timeout"))
		util.MustBindEnv("http.requestTimeout", "SEGMENTMAPPER_HTTP_REQUEST_TIMEOUT", "SEGMENTMAPPER_HTTP_REQUESTTIMEOUT")

		util.MustBindPFlag("http.corsAllowedOrigins", flags.Lookup("http-cors-allowed-origins"))
		util.MustBindEnv("http.corsAllowedOrigins", "SEGMENTMAPPER_HTTP_CORS_ALLOWED_ORIGINS", "SEGMENTMAPPER_HTTP_CORSALLOWEDORIGINS")

		util.MustBindPFlag("log.format", flags.Lookup("log-format"))
		util.MustBindEnv("log.format", "SEGMENTMAPPER_LOG_FORMAT")

		util.MustBindPFlag("log.level", flags.Lookup("log-level"))
		util.MustBindEnv("log.level", "SEGMENTMAPPER_LOG_LEVEL")

		util.MustBindPFlag("trace.enabled", flags.Lookup("trace-enabled"))
		util.MustBindEnv("trace.enabled", "SEGMENTMAPPER_TRACE_ENABLED")

		util.MustBindPFlag("trace.otlp.endpoint", flags.Lookup("trace-otlp-endpoint"))
		util.MustBindEnv("trace.otlp.endpoint", "SEGMENTMAPPER_TRACE_OTLP_ENDPOINT")

		util.MustBindPFlag("trace.otlp.tls.enabled", flags.Lookup("trace-otlp-tls-enabled"))
		util.MustBindEnv("trace.otlp.tls.enabled", "SEGMENTMAPPER_TRACE_OTLP_TLS_ENABLED")

		util.MustBindPFlag("trace.sampleRatio", flags.Lookup("trace-sample-ratio"))
		util.MustBindEnv("trace.sampleRatio", "SEGMENTMAPPER_TRACE_SAMPLE_RATIO", "SEGMENTMAPPER_TRACE_SAMPLERATIO")

		util.MustBindPFlag("trace.serviceName", flags.Lookup("trace-service-name"))
		util.MustBindEnv("trace.serviceName", "SEGMENTMAPPER_TRACE_SERVICE_NAME", "SEGMENTMAPPER_TRACE_SERVICENAME")

		util.MustBindPFlag("metrics.enabled", flags.Lookup("metrics-enabled"))
		util.MustBindEnv("metrics.enabled", "SEGMENTMAPPER_METRICS_ENABLED")

		util.MustBindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
		util.MustBindEnv("metrics.addr", "SEGMENTMAPPER_METRICS_ADDR")
	}
}
