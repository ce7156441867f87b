package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/segmentmapper/segmentmapper/internal/build"
	"github.com/segmentmapper/segmentmapper/pkg/logger"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
	"github.com/segmentmapper/segmentmapper/pkg/storage/sqlcommon"
)

var tracer = otel.Tracer("segmentmapper/pkg/storage/sqlite")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sqlite."+name)
}

// Datastore provides a SQLite based implementation of [storage.MappingStore].
type Datastore struct {
	stbl             sq.StatementBuilderType
	db               *sql.DB
	dbInfo           *sqlcommon.DBInfo
	logger           logger.Logger
	dbStatsCollector prometheus.Collector
	skipVersionCheck bool
}

// Ensures that SQLite implements the MappingStore interface.
var _ storage.MappingStore = (*Datastore)(nil)

// PrepareDSN prepares a raw DSN for use with SQLite. Unless the DSN says otherwise it enables
// WAL journaling, a busy timeout, foreign keys, immediate transactions and a time format
// that scans back into time.Time.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}

		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	foundForeignKeys := false
	for _, val := range query["_pragma"] {
		switch {
		case strings.HasPrefix(val, "journal_mode"):
			foundJournalMode = true
		case strings.HasPrefix(val, "busy_timeout"):
			foundBusyTimeout = true
		case strings.HasPrefix(val, "foreign_keys"):
			foundForeignKeys = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(100)")
	}
	if !foundForeignKeys {
		query.Add("_pragma", "foreign_keys(1)")
	}

	// Set transaction mode to immediate if not specified
	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	if !query.Has("_time_format") {
		query.Set("_time_format", "sqlite")
	}

	uri += "?" + query.Encode()

	return uri, nil
}

// New creates a new [Datastore] storage.
func New(uri string, cfg *sqlcommon.Config) (*Datastore, error) {
	uri, err := PrepareDSN(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}

	if cfg.MaxOpenConns != 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
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
		dbInfo:           sqlcommon.NewDBInfo(db, stbl, HandleSQLError, "sqlite3"),
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

	return busyRetry(func() error {
		return sqlcommon.CreateRootJob(ctx, s.dbInfo, job)
	})
}

// GetRootJob see [storage.MappingStore].GetRootJob.
func (s *Datastore) GetRootJob(ctx context.Context, jobID string) (*storage.RootJob, error) {
	ctx, span := startTrace(ctx, "GetRootJob")
	defer span.End()

	var job *storage.RootJob
	err := busyRetry(func() error {
		var err error
		job, err = sqlcommon.GetRootJob(ctx, s.dbInfo, jobID)
		return err
	})
	return job, err
}

// GetLatestRootJobByTextID see [storage.MappingStore].GetLatestRootJobByTextID.
func (s *Datastore) GetLatestRootJobByTextID(ctx context.Context, textID string) (*storage.RootJob, error) {
	ctx, span := startTrace(ctx, "GetLatestRootJobByTextID")
	defer span.End()

	var job *storage.RootJob
	err := busyRetry(func() error {
		var err error
		job, err = sqlcommon.GetLatestRootJobByTextID(ctx, s.dbInfo, textID)
		return err
	})
	return job, err
}

// UpsertSegmentMapping see [storage.MappingStore].UpsertSegmentMapping.
func (s *Datastore) UpsertSegmentMapping(ctx context.Context, rootJobID, segmentID string, result []byte) error {
	ctx, span := startTrace(ctx, "UpsertSegmentMapping")
	defer span.End()

	return busyRetry(func() error {
		return sqlcommon.UpsertSegmentMapping(ctx, s.dbInfo, rootJobID, segmentID, result)
	})
}

// MarkSegmentFailed see [storage.MappingStore].MarkSegmentFailed.
func (s *Datastore) MarkSegmentFailed(ctx context.Context, rootJobID, segmentID, message string) error {
	ctx, span := startTrace(ctx, "MarkSegmentFailed")
	defer span.End()

	return busyRetry(func() error {
		return sqlcommon.MarkSegmentFailed(ctx, s.dbInfo, rootJobID, segmentID, message)
	})
}

// ListSegmentMappings see [storage.MappingStore].ListSegmentMappings.
func (s *Datastore) ListSegmentMappings(ctx context.Context, rootJobID string) ([]storage.SegmentMapping, error) {
	ctx, span := startTrace(ctx, "ListSegmentMappings")
	defer span.End()

	var mappings []storage.SegmentMapping
	err := busyRetry(func() error {
		var err error
		mappings, err = sqlcommon.ListSegmentMappings(ctx, s.dbInfo, rootJobID)
		return err
	})
	return mappings, err
}

// AdvanceJobProgress see [storage.MappingStore].AdvanceJobProgress.
func (s *Datastore) AdvanceJobProgress(ctx context.Context, jobID string, increment int) error {
	ctx, span := startTrace(ctx, "AdvanceJobProgress")
	defer span.End()

	return busyRetry(func() error {
		return sqlcommon.AdvanceJobProgress(ctx, s.dbInfo, jobID, increment)
	})
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

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
			return fmt.Errorf("root job: %w", storage.ErrNotFound)
		}
		if sqliteErr.Code()&0xFF == sqlite3.SQLITE_CONSTRAINT {
			return storage.ErrCollision
		}
	}

	return fmt.Errorf("sql error: %w", err)
}

// SQLite will return an SQLITE_BUSY error when the database is locked rather than waiting for the lock.
// This function retries the operation up to maxRetries times before returning the error.
func busyRetry(fn func() error) error {
	const maxRetries = 10
	for retries := 0; ; retries++ {
		err := fn()
		if err == nil {
			return nil
		}

		if isBusyError(err) {
			if retries < maxRetries {
				continue
			}

			return fmt.Errorf("sqlite busy error after %d retries: %w", maxRetries, err)
		}

		return err
	}
}

var busyErrors = map[int]struct{}{
	sqlite3.SQLITE_BUSY_RECOVERY:      {},
	sqlite3.SQLITE_BUSY_SNAPSHOT:      {},
	sqlite3.SQLITE_BUSY_TIMEOUT:       {},
	sqlite3.SQLITE_BUSY:               {},
	sqlite3.SQLITE_LOCKED_SHAREDCACHE: {},
	sqlite3.SQLITE_LOCKED:             {},
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	_, ok := busyErrors[sqliteErr.Code()]
	return ok
}
