package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/segmentmapper/segmentmapper/internal/build"
	"github.com/segmentmapper/segmentmapper/pkg/logger"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
	"github.com/segmentmapper/segmentmapper/pkg/storage/sqlcommon"
)

var tracer = otel.Tracer("segmentmapper/pkg/storage/postgres")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "postgres."+name)
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Datastore provides a PostgreSQL based implementation of [storage.MappingStore].
type Datastore struct {
	stbl             sq.StatementBuilderType
	db               *sql.DB
	dbInfo           *sqlcommon.DBInfo
	logger           logger.Logger
	dbStatsCollector prometheus.Collector
	skipVersionCheck bool
}

// Ensures that Datastore implements the MappingStore interface.
var _ storage.MappingStore = (*Datastore)(nil)

// prepareURI applies the configured credentials to uri, keeping the ones it carries otherwise.
func prepareURI(uri string, cfg *sqlcommon.Config) (string, error) {
	if cfg.Username == "" && cfg.Password == "" {
		return uri, nil
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse postgres connection uri: %w", err)
	}

	username := ""
	if cfg.Username != "" {
		username = cfg.Username
	} else if parsed.User != nil {
		username = parsed.User.Username()
	}

	switch {
	case cfg.Password != "":
		parsed.User = url.UserPassword(username, cfg.Password)
	case parsed.User != nil:
		if password, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(username, password)
		} else {
			parsed.User = url.User(username)
		}
	default:
		parsed.User = url.User(username)
	}

	return parsed.String(), nil
}

// initDB initializes a new postgres database connection.
func initDB(uri string, cfg *sqlcommon.Config) (*sql.DB, error) {
	uri, err := prepareURI(uri, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres connection: %w", err)
	}

	if cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns) // default is 2, not retaining connections(0) would be detrimental for performance
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// New creates a new [Datastore] storage.
func New(uri string, cfg *sqlcommon.Config) (*Datastore, error) {
	db, err := initDB(uri, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres connection: %w", err)
	}

	return NewWithDB(db, cfg)
}

// configureDB waits for the database to answer and registers its stats collector.
func configureDB(db *sql.DB, cfg *sqlcommon.Config) (prometheus.Collector, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 1 * time.Minute
	attempt := 1
	err := backoff.Retry(func() error {
		err := db.PingContext(context.Background())
		if err != nil {
			cfg.Logger.Info("waiting for database", zap.Int("attempt", attempt))
			attempt++
			return err
		}
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, build.ProjectName)
		if err := prometheus.Register(collector); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}

	return collector, nil
}

// NewWithDB creates a new [Datastore] storage with the provided database connection.
func NewWithDB(db *sql.DB, cfg *sqlcommon.Config) (*Datastore, error) {
	collector, err := configureDB(db, cfg)
	if err != nil {
		return nil, fmt.Errorf("configure db: %w", err)
	}

	stbl := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).RunWith(db)

	return &Datastore{
		stbl:             stbl,
		db:               db,
		dbInfo:           sqlcommon.NewDBInfo(db, stbl, HandleSQLError, "postgres"),
		logger:           cfg.Logger,
		dbStatsCollector: collector,
		skipVersionCheck: cfg.SkipVersionCheck,
	}, nil
}

// Close see [storage.MappingStore].Close.
func (s *Datastore) Close() {
	if s.dbStatsCollector != nil {
		prometheus.Unregister(s.dbStatsCollector)
	}
	s.db.Close()
}

// CreateRootJob see [storage.MappingStore].CreateRootJob.
func (s *Datastore) CreateRootJob(ctx context.Context, job storage.RootJob) error {
	ctx, span := startTrace(ctx, "CreateRootJob")
	defer span.End()

	return sqlcommon.CreateRootJob(ctx, s.dbInfo, job)
}

// GetRootJob see [storage.MappingStore].GetRootJob.
func (s *Datastore) GetRootJob(ctx context.Context, jobID string) (*storage.RootJob, error) {
	ctx, span := startTrace(ctx, "GetRootJob")
	defer span.End()

	return sqlcommon.GetRootJob(ctx, s.dbInfo, jobID)
}

// GetLatestRootJobByTextID see [storage.MappingStore].GetLatestRootJobByTextID.
func (s *Datastore) GetLatestRootJobByTextID(ctx context.Context, textID string) (*storage.RootJob, error) {
	ctx, span := startTrace(ctx, "GetLatestRootJobByTextID")
	defer span.End()

	return sqlcommon.GetLatestRootJobByTextID(ctx, s.dbInfo, textID)
}

// UpsertSegmentMapping see [storage.MappingStore].UpsertSegmentMapping.
func (s *Datastore) UpsertSegmentMapping(ctx context.Context, rootJobID, segmentID string, result []byte) error {
	ctx, span := startTrace(ctx, "UpsertSegmentMapping")
	defer span.End()

	return sqlcommon.UpsertSegmentMapping(ctx, s.dbInfo, rootJobID, segmentID, result)
}

// MarkSegmentFailed see [storage.MappingStore].MarkSegmentFailed.
func (s *Datastore) MarkSegmentFailed(ctx context.Context, rootJobID, segmentID, message string) error {
	ctx, span := startTrace(ctx, "MarkSegmentFailed")
	defer span.End()

	return sqlcommon.MarkSegmentFailed(ctx, s.dbInfo, rootJobID, segmentID, message)
}

// ListSegmentMappings see [storage.MappingStore].ListSegmentMappings.
func (s *Datastore) ListSegmentMappings(ctx context.Context, rootJobID string) ([]storage.SegmentMapping, error) {
	ctx, span := startTrace(ctx, "ListSegmentMappings")
	defer span.End()

	return sqlcommon.ListSegmentMappings(ctx, s.dbInfo, rootJobID)
}

// AdvanceJobProgress see [storage.MappingStore].AdvanceJobProgress.
func (s *Datastore) AdvanceJobProgress(ctx context.Context, jobID string, increment int) error {
	ctx, span := startTrace(ctx, "AdvanceJobProgress")
	defer span.End()

	return sqlcommon.AdvanceJobProgress(ctx, s.dbInfo, jobID, increment)
}

// IsReady see [storage.MappingStore].IsReady.
func (s *Datastore) IsReady(ctx context.Context) (storage.ReadinessStatus, error) {
	return sqlcommon.IsReady(ctx, s.skipVersionCheck, s.db)
}

// HandleSQLError processes an SQL error and converts it into a more
// specific error type based on the nature of the SQL error.
func HandleSQLError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return storage.ErrCollision
		case pgForeignKeyViolation:
			return fmt.Errorf("root job: %w", storage.ErrNotFound)
		}
	}

	return fmt.Errorf("sql error: %w", err)
}
