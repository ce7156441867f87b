package sqlcommon

import (
	"strings"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/require"

	"github.com/segmentmapper/segmentmapper/pkg/logger"
)

func TestOnConflict(t *testing.T) {
	postgres := &DBInfo{dialect: "postgres"}
	mysql := &DBInfo{dialect: "mysql"}

	require.Equal(t,
		"ON CONFLICT (root_job_id, segment_id) DO UPDATE SET result_json = excluded.result_json, status = excluded.status",
		postgres.onConflict(segmentMappingConflict, "result_json", "status"),
	)
	require.Equal(t, "ON CONFLICT (job_id) DO NOTHING", postgres.onConflict([]string{"job_id"}))

	require.Equal(t,
		"ON DUPLICATE KEY UPDATE result_json = VALUES(result_json), status = VALUES(status)",
		mysql.onConflict(segmentMappingConflict, "result_json", "status"),
	)
	require.Equal(t, "ON DUPLICATE KEY UPDATE job_id = job_id", mysql.onConflict([]string{"job_id"}))
}

func TestAdvanceJobProgressStatement(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("dollar_placeholders", func(t *testing.T) {
		stbl := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
		query, args, err := advanceJobProgressStatement(stbl, "job", 3, now).ToSql()
		require.NoError(t, err)

		require.Equal(t,
			"UPDATE root_jobs SET "+
				"status = CASE WHEN completed_segments + $1 >= total_segments THEN $2 WHEN status = $3 THEN $4 ELSE status END, "+
				"completed_segments = completed_segments + $5, "+
				"updated_at = $6 "+
				"WHERE job_id = $7 AND status <> $8",
			query,
		)
		require.Equal(t, []interface{}{3, "COMPLETED", "QUEUED", "IN_PROGRESS", 3, now, "job", "COMPLETED"}, args)
	})

	t.Run("status_is_assigned_before_the_count", func(t *testing.T) {
		query, _, err := advanceJobProgressStatement(sq.StatementBuilder, "job", 1, now).ToSql()
		require.NoError(t, err)
		require.Less(t, strings.Index(query, "status = CASE"), strings.Index(query, "completed_segments = completed_segments"))
	})
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg.Logger)
	require.False(t, cfg.ExportMetrics)

	l := logger.NewNoopLogger()
	cfg = NewConfig(
		WithUsername("user"),
		WithPassword("secret"),
		WithLogger(l),
		WithMaxOpenConns(10),
		WithMaxIdleConns(5),
		WithConnMaxIdleTime(time.Minute),
		WithConnMaxLifetime(time.Hour),
		WithSkipVersionCheck(),
		WithMetrics(),
	)
	require.Equal(t, &Config{
		Username:         "user",
		Password:         "secret",
		Logger:           l,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxIdleTime:  time.Minute,
		ConnMaxLifetime:  time.Hour,
		SkipVersionCheck: true,
		ExportMetrics:    true,
	}, cfg)
}
