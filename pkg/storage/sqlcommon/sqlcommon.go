// Package sqlcommon holds the configuration and statements shared by the SQL mapping store
// engines.
package sqlcommon

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"

	"github.com/segmentmapper/segmentmapper/internal/build"
	"github.com/segmentmapper/segmentmapper/pkg/id"
	"github.com/segmentmapper/segmentmapper/pkg/logger"
	"github.com/segmentmapper/segmentmapper/pkg/storage"
)

var tracer = otel.Tracer("segmentmapper/pkg/storage/sqlcommon")

// Config defines the configuration parameters
// for setting up and managing a sql connection.
type Config struct {
	Username string
	Password string
	Logger   logger.Logger

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	// SkipVersionCheck makes IsReady report ready without checking the schema revision.
	SkipVersionCheck bool

	ExportMetrics bool
}

// DatastoreOption defines a function type
// used for configuring a Config object.
type DatastoreOption func(*Config)

// WithUsername returns a DatastoreOption that sets the username in the Config.
func WithUsername(username string) DatastoreOption {
	return func(config *Config) {
		config.Username = username
	}
}

// WithPassword returns a DatastoreOption that sets the password in the Config.
func WithPassword(password string) DatastoreOption {
	return func(config *Config) {
		config.Password = password
	}
}

// WithLogger returns a DatastoreOption that sets the Logger in the Config.
func WithLogger(l logger.Logger) DatastoreOption {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// WithMaxOpenConns returns a DatastoreOption that sets the
// maximum number of open connections in the Config.
func WithMaxOpenConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxOpenConns = c
	}
}

// WithMaxIdleConns returns a DatastoreOption that sets the
// maximum number of idle connections in the Config.
func WithMaxIdleConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxIdleConns = c
	}
}

// WithConnMaxIdleTime returns a DatastoreOption that sets
// the maximum idle time for a connection in the Config.
func WithConnMaxIdleTime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxIdleTime = d
	}
}

// WithConnMaxLifetime returns a DatastoreOption that sets
// the maximum lifetime for a connection in the Config.
func WithConnMaxLifetime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxLifetime = d
	}
}

// WithSkipVersionCheck disables the schema revision check of IsReady.
func WithSkipVersionCheck() DatastoreOption {
	return func(cfg *Config) {
		cfg.SkipVersionCheck = true
	}
}

// WithMetrics returns a DatastoreOption that
// enables the export of metrics in the Config.
func WithMetrics() DatastoreOption {
	return func(cfg *Config) {
		cfg.ExportMetrics = true
	}
}

// NewConfig creates a new Config instance with default values
// and applies any provided DatastoreOption modifications.
func NewConfig(opts ...DatastoreOption) *Config {
	cfg := &Config{}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoopLogger()
	}

	return cfg
}

// DBInfo encapsulates DB information for use in common method.
type DBInfo struct {
	db             *sql.DB
	stbl           sq.StatementBuilderType
	dialect        string
	HandleSQLError errorHandlerFn
}

type errorHandlerFn func(error) error

// NewDBInfo constructs a [DBInfo] object. dialect is a goose dialect name.
func NewDBInfo(db *sql.DB, stbl sq.StatementBuilderType, errorHandler errorHandlerFn, dialect string) *DBInfo {
	if err := goose.SetDialect(dialect); err != nil {
		panic("failed to set database dialect: " + err.Error())
	}

	return &DBInfo{
		db:             db,
		stbl:           stbl,
		dialect:        dialect,
		HandleSQLError: errorHandler,
	}
}

// onConflict returns the statement suffix that turns an insert into an upsert on the conflict
// columns. With no update columns a conflicting insert does nothing.
func (d *DBInfo) onConflict(conflict []string, update ...string) string {
	if d.dialect == "mysql" {
		if len(update) == 0 {
			return fmt.Sprintf("ON DUPLICATE KEY UPDATE %[1]s = %[1]s", conflict[0])
		}

		sets := make([]string, 0, len(update))
		for _, col := range update {
			sets = append(sets, fmt.Sprintf("%[1]s = VALUES(%[1]s)", col))
		}
		return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}

	target := strings.Join(conflict, ", ")
	if len(update) == 0 {
		return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", target)
	}

	sets := make([]string, 0, len(update))
	for _, col := range update {
		sets = append(sets, fmt.Sprintf("%[1]s = excluded.%[1]s", col))
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", target, strings.Join(sets, ", "))
}

var (
	rootJobColumns = []string{
		"job_id", "text_id", "total_segments", "completed_segments", "status", "created_at", "updated_at",
	}
	segmentMappingColumns = []string{
		"id", "root_job_id", "segment_id", "result_json", "status", "error_message", "created_at", "updated_at",
	}
	segmentMappingConflict = []string{"root_job_id", "segment_id"}
)

// CreateRootJob inserts job unless a row with its id already exists.
func CreateRootJob(ctx context.Context, dbInfo *DBInfo, job storage.RootJob) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.CreateRootJob")
	defer span.End()

	if err := job.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err := dbInfo.stbl.
		Insert("root_jobs").
		Columns(rootJobColumns...).
		Values(job.JobID, job.TextID, job.TotalSegments, 0, string(storage.JobStatusQueued), now, now).
		Suffix(dbInfo.onConflict([]string{"job_id"})).
		ExecContext(ctx)
	if err != nil {
		return dbInfo.HandleSQLError(err)
	}

	return nil
}

// GetRootJob reads one job.
func GetRootJob(ctx context.Context, dbInfo *DBInfo, jobID string) (*storage.RootJob, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.GetRootJob")
	defer span.End()

	row := dbInfo.stbl.
		Select(rootJobColumns...).
		From("root_jobs").
		Where(sq.Eq{"job_id": jobID}).
		QueryRowContext(ctx)
	return scanRootJob(dbInfo, row)
}

// GetLatestRootJobByTextID reads the newest job of the document, served by idx_root_jobs_text_id.
func GetLatestRootJobByTextID(ctx context.Context, dbInfo *DBInfo, textID string) (*storage.RootJob, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.GetLatestRootJobByTextID")
	defer span.End()

	row := dbInfo.stbl.
		Select(rootJobColumns...).
		From("root_jobs").
		Where(sq.Eq{"text_id": textID}).
		OrderBy("created_at DESC", "job_id DESC").
		Limit(1).
		QueryRowContext(ctx)
	return scanRootJob(dbInfo, row)
}

func scanRootJob(dbInfo *DBInfo, row sq.RowScanner) (*storage.RootJob, error) {
	var (
		job    storage.RootJob
		status string
	)
	err := row.Scan(&job.JobID, &job.TextID, &job.TotalSegments, &job.CompletedSegments, &status, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, dbInfo.HandleSQLError(err)
	}

	job.Status = storage.JobStatus(status)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}

// UpsertSegmentMapping stores result for the segment in a single statement.
func UpsertSegmentMapping(ctx context.Context, dbInfo *DBInfo, rootJobID, segmentID string, result []byte) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.UpsertSegmentMapping")
	defer span.End()

	if err := storage.ValidateResult(result); err != nil {
		return err
	}

	rowID, err := id.NewRowID()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = dbInfo.stbl.
		Insert("segment_mapping").
		Columns(segmentMappingColumns...).
		Values(rowID, rootJobID, segmentID, string(result), string(storage.MappingStatusCompleted), nil, now, now).
		Suffix(dbInfo.onConflict(segmentMappingConflict, "result_json", "status", "error_message", "updated_at")).
		ExecContext(ctx)
	if err != nil {
		return dbInfo.HandleSQLError(err)
	}

	return nil
}

// MarkSegmentFailed records message against the segment, leaving any stored result in place.
func MarkSegmentFailed(ctx context.Context, dbInfo *DBInfo, rootJobID, segmentID, message string) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.MarkSegmentFailed")
	defer span.End()

	rowID, err := id.NewRowID()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = dbInfo.stbl.
		Insert("segment_mapping").
		Columns(segmentMappingColumns...).
		Values(rowID, rootJobID, segmentID, nil, string(storage.MappingStatusFailed), message, now, now).
		Suffix(dbInfo.onConflict(segmentMappingConflict, "status", "error_message", "updated_at")).
		ExecContext(ctx)
	if err != nil {
		return dbInfo.HandleSQLError(err)
	}

	return nil
}

// ListSegmentMappings returns the job's mappings ordered by segment id.
func ListSegmentMappings(ctx context.Context, dbInfo *DBInfo, rootJobID string) ([]storage.SegmentMapping, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.ListSegmentMappings")
	defer span.End()

	rows, err := dbInfo.stbl.
		Select(segmentMappingColumns...).
		From("segment_mapping").
		Where(sq.Eq{"root_job_id": rootJobID}).
		OrderBy("segment_id").
		QueryContext(ctx)
	if err != nil {
		return nil, dbInfo.HandleSQLError(err)
	}
	defer rows.Close()

	mappings := make([]storage.SegmentMapping, 0)
	for rows.Next() {
		var (
			m            storage.SegmentMapping
			result       sql.NullString
			status       string
			errorMessage sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.RootJobID, &m.SegmentID, &result, &status, &errorMessage, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, dbInfo.HandleSQLError(err)
		}

		if result.Valid {
			m.Result = []byte(result.String)
		}
		m.Status = storage.MappingStatus(status)
		m.ErrorMessage = errorMessage.String
		m.CreatedAt = m.CreatedAt.UTC()
		m.UpdatedAt = m.UpdatedAt.UTC()
		mappings = append(mappings, m)
	}

	if err := rows.Err(); err != nil {
		return nil, dbInfo.HandleSQLError(err)
	}

	return mappings, nil
}

// advanceJobProgressStatement assigns status before completed_segments: MySQL evaluates
// single-table assignments left to right, so the CASE must see the old count everywhere.
func advanceJobProgressStatement(stbl sq.StatementBuilderType, jobID string, increment int, now time.Time) sq.UpdateBuilder {
	return stbl.
		Update("root_jobs").
		Set("status", sq.Expr(
			"CASE WHEN completed_segments + ? >= total_segments THEN ? WHEN status = ? THEN ? ELSE status END",
			increment,
			string(storage.JobStatusCompleted),
			string(storage.JobStatusQueued),
			string(storage.JobStatusInProgress),
		)).
		Set("completed_segments", sq.Expr("completed_segments + ?", increment)).
		Set("updated_at", now).
		Where(sq.Eq{"job_id": jobID}).
		Where(sq.NotEq{"status": string(storage.JobStatusCompleted)})
}

// AdvanceJobProgress increments the job's completed count in a single conditional update.
func AdvanceJobProgress(ctx context.Context, dbInfo *DBInfo, jobID string, increment int) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.AdvanceJobProgress")
	defer span.End()

	if increment < 1 {
		return fmt.Errorf("%w: %d", storage.ErrInvalidIncrement, increment)
	}

	_, err := advanceJobProgressStatement(dbInfo.stbl, jobID, increment, time.Now().UTC()).ExecContext(ctx)
	if err != nil {
		return dbInfo.HandleSQLError(err)
	}

	return nil
}

// IsReady returns true if connection to datastore is successful AND
// (the datastore has the latest migration applied OR skipVersionCheck).
func IsReady(ctx context.Context, skipVersionCheck bool, db *sql.DB) (storage.ReadinessStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// do ping first to ensure we have better error message
	// if error is due to connection issue.
	if pingErr := db.PingContext(ctx); pingErr != nil {
		return storage.ReadinessStatus{}, pingErr
	}

	if skipVersionCheck {
		return storage.ReadinessStatus{
			IsReady: true,
		}, nil
	}

	revision, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return storage.ReadinessStatus{}, err
	}

	if revision < build.MinimumSupportedDatastoreSchemaRevision {
		return storage.ReadinessStatus{
			Message: "datastore requires migrations: at revision '" +
				strconv.FormatInt(revision, 10) +
				"', but requires '" +
				strconv.FormatInt(build.MinimumSupportedDatastoreSchemaRevision, 10) +
				"'. Run '" + build.ProjectName + " migrate'.",
			IsReady: false,
		}, nil
	}
	return storage.ReadinessStatus{
		IsReady: true,
	}, nil
}
