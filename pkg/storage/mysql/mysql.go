package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
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

var tracer = otel.Tracer("segmentmapper/pkg/storage/mysql")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "mysql."+name)
}

const (
	erDupEntry        = 1062
	erNoReferencedRow = 1452
)

// Datastore provides a MySQL based implementation of [storage.MappingStore].
type Datastore struct {
	stbl             sq.StatementBuilderType
	db               *sql.DB
	dbInfo           *sqlcommon.DBInfo
	logger           logger.Logger
	dbStatsCollector prometheus.Collector
	skipVersionCheck bool
}

var _ storage.MappingStore = (*Datastore)(nil)

// prepareDSN applies the configured credentials and makes DATETIME columns scan into time.Time.
func prepareDSN(uri string, cfg *sqlcommon.Config) (string, error) {
	dsnCfg, err := mysql.ParseDSN(uri)
	if err != nil {
		return "", fmt.Errorf("failed to parse mysql connection dsn: %w", err)
	}

	if cfg.Username != "" {
		dsnCfg.User = cfg.Username
	}
	if cfg.Password != "" {
		dsnCfg.Passwd = cfg.Password
	}
	dsnCfg.ParseTime = true
	dsnCfg.Loc = time.UTC

	return dsnCfg.FormatDSN(), nil
}

// New creates a new [Datastore] storage.
func New(uri string, cfg *sqlcommon.Config) (*Datastore, error) {
	uri, err := prepareDSN(uri, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mysql connection: %w", err)
	}

	if cfg.MaxOpenConns != 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if cfg.ConnMaxIdleTime != 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if cfg.ConnMaxLifetime != 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 1 * time.Minute
	attempt := 1
	err = backoff.Retry(func() error {
		err = db.PingContext(context.Background())
		if err != nil {
			cfg.Logger.Info("waiting for mysql", zap.Int("attempt", attempt))
			attempt++
			return err
		}
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mysql connection: %w", err)
	}

	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, build.ProjectName)
		if err := prometheus.Register(collector); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}

	stbl := sq.StatementBuilder.RunWith(db)

	return &Datastore{
		stbl:             stbl,
		db:               db,
		dbInfo:           sqlcommon.NewDBInfo(db, stbl, HandleSQLError, "mysql"),
		logger:           cfg.Logger,
		dbStatsCollector: collector,
		skipVersionCheck: cfg.SkipVersionCheck,
	}, nil
}

// Close closes the datastore and cleans up any residual resources.
func (m *Datastore) Close() {
	if m.dbStatsCollector != nil {
		prometheus.Unregister(m.dbStatsCollector)
	}
	m.db.Close()
}

// CreateRootJob see [storage.MappingStore].CreateRootJob.
func (m *Datastore) CreateRootJob(ctx context.Context, job storage.RootJob) error {
	ctx, span := startTrace(ctx, "CreateRootJob")
	defer span.End()

	return sqlcommon.CreateRootJob(ctx, m.dbInfo, job)
}

// GetRootJob see [storage.MappingStore].GetRootJob.
func (m *Datastore) GetRootJob(ctx context.Context, jobID string) (*storage.RootJob, error) {
	ctx, span := startTrace(ctx, "GetRootJob")
	defer span.End()

	return sqlcommon.GetRootJob(ctx, m.dbInfo, jobID)
}

// GetLatestRootJobByTextID see [storage.MappingStore].GetLatestRootJobByTextID.
func (m *Datastore) GetLatestRootJobByTextID(ctx context.Context, textID string) (*storage.RootJob, error) {
	ctx, span := startTrace(ctx, "GetLatestRootJobByTextID")
	defer span.End()

	return sqlcommon.GetLatestRootJobByTextID(ctx, m.dbInfo, textID)
}

// UpsertSegmentMapping see [storage.MappingStore].UpsertSegmentMapping.
func (m *Datastore) UpsertSegmentMapping(ctx context.Context, rootJobID, segmentID string, result []byte) error {
	ctx, span := startTrace(ctx, "UpsertSegmentMapping")
	defer span.End()

	return sqlcommon.UpsertSegmentMapping(ctx, m.dbInfo, rootJobID, segmentID, result)
}

// MarkSegmentFailed see [storage.MappingStore].MarkSegmentFailed.
func (m *Datastore) MarkSegmentFailed(ctx context.Context, rootJobID, segmentID, message string) error {
	ctx, span := startTrace(ctx, "MarkSegmentFailed")
	defer span.End()

	return sqlcommon.MarkSegmentFailed(ctx, m.dbInfo, rootJobID, segmentID, message)
}

// ListSegmentMappings see [storage.MappingStore].ListSegmentMappings.
func (m *Datastore) ListSegmentMappings(ctx context.Context, rootJobID string) ([]storage.SegmentMapping, error) {
	ctx, span := startTrace(ctx, "ListSegmentMappings")
	defer span.End()

	return sqlcommon.ListSegmentMappings(ctx, m.dbInfo, rootJobID)
}

// AdvanceJobProgress see [storage.MappingStore].AdvanceJobProgress.
func (m *Datastore) AdvanceJobProgress(ctx context.Context, jobID string, increment int) error {
	ctx, span := startTrace(ctx, "AdvanceJobProgress")
	defer span.End()

	return sqlcommon.AdvanceJobProgress(ctx, m.dbInfo, jobID, increment)
}

// IsReady see [storage.MappingStore].IsReady.
func (m *Datastore) IsReady(ctx context.Context) (storage.ReadinessStatus, error) {
	return sqlcommon.IsReady(ctx, m.skipVersionCheck, m.db)
}

// HandleSQLError processes an SQL error and converts it into a more
// specific error type based on the nature of the SQL error.
func HandleSQLError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case erDupEntry:
			return storage.ErrCollision
		case erNoReferencedRow:
			return fmt.Errorf("root job: %w", storage.ErrNotFound)
		}
	}

	return fmt.Errorf("sql error: %w", err)
}
