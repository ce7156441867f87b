package run

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/segmentmapper/segmentmapper/cmd"
	"github.com/segmentmapper/segmentmapper/cmd/util"
	"github.com/segmentmapper/segmentmapper/internal/config"
	"github.com/segmentmapper/segmentmapper/internal/dispatcher"
	"github.com/segmentmapper/segmentmapper/pkg/id"
	"github.com/segmentmapper/segmentmapper/pkg/logger"
	"github.com/segmentmapper/segmentmapper/pkg/queue"
	queuememory "github.com/segmentmapper/segmentmapper/pkg/queue/memory"
	"github.com/segmentmapper/segmentmapper/pkg/storage/migrate"
	"github.com/segmentmapper/segmentmapper/pkg/storage/sqlcommon"
	"github.com/segmentmapper/segmentmapper/pkg/storage/sqlite"
)

func migrateSQLite(t *testing.T, uri string) {
	t.Helper()

	err := migrate.RunMigrations(context.Background(), migrate.MigrationConfig{
		Engine:  "sqlite",
		URI:     uri,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
}

func TestEnqueueCommandFlagsAreBound(t *testing.T) {
	t.Cleanup(viper.Reset)
	util.PrepareTempConfigDir(t)
	t.Setenv("SEGMENTMAPPER_ENQUEUE_DESTINATION_ENVIRONMENT", "production")

	enqueueCmd := NewEnqueueCommand()
	enqueueCmd.RunE = func(_ *cobra.Command, args []string) error {
		require.Equal(t, []string{"M1"}, args)
		require.Equal(t, "staging", viper.GetString("enqueue.environment"))
		require.Equal(t, "production", viper.GetString("enqueue.destinationEnvironment"))
		require.Equal(t, 10, viper.GetInt("batch.size"))
		require.Equal(t, config.DefaultDispatchBatchSize, config.DefaultConfig().Batch.Size)
		return nil
	}

	rootCmd := cmd.NewRootCommand()
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.SetArgs([]string{"enqueue", "M1", "--environment", "staging", "--batch-size", "10"})
	require.NoError(t, rootCmd.Execute())
}

func TestEnqueueCommandRequiresManifestation(t *testing.T) {
	t.Cleanup(viper.Reset)
	util.PrepareTempConfigDir(t)

	rootCmd := cmd.NewRootCommand()
	rootCmd.AddCommand(NewEnqueueCommand())
	rootCmd.SetArgs([]string{"enqueue"})
	rootCmd.SetOut(new(bytes.Buffer))
	rootCmd.SetErr(new(bytes.Buffer))
	require.ErrorContains(t, rootCmd.Execute(), "accepts 1 arg(s), received 0")
}

func TestEnqueueCommandRejectsMemoryQueue(t *testing.T) {
	t.Cleanup(viper.Reset)
	util.PrepareTempConfigDir(t)

	rootCmd := cmd.NewRootCommand()
	rootCmd.AddCommand(NewEnqueueCommand())
	rootCmd.SetArgs([]string{"enqueue", "A", "--log-level", "none"})
	rootCmd.SetOut(new(bytes.Buffer))
	rootCmd.SetErr(new(bytes.Buffer))
	require.ErrorContains(t, rootCmd.Execute(), "enqueue requires the 'sqs' queue engine")
}

func TestWorkerContext_Enqueue(t *testing.T) {
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.Datastore.Engine = "sqlite"
	cfg.Datastore.URI = "file:" + filepath.Join(t.TempDir(), "segmentmapper.db")
	cfg.Graph.Environments = map[string]config.GraphEnvironmentConfig{
		"development": {Engine: "memory", FixturePath: writeFixture(t)},
	}
	cfg.Batch.Size = 1

	migrateSQLite(t, cfg.Datastore.URI)

	inbound := queuememory.New()
	s := &WorkerContext{Logger: logger.NewNoopLogger(), Inbound: inbound}

	t.Run("dispatches_batches", func(t *testing.T) {
		jobID := id.NewJobID()
		res, err := s.Enqueue(ctx, cfg, dispatcher.Request{
			ManifestationID:        "A",
			Environment:            "development",
			DestinationEnvironment: "development",
			JobID:                  jobID,
		})
		require.NoError(t, err)
		require.Equal(t, jobID, res.JobID)
		require.Equal(t, 2, res.TotalSegments)
		require.Equal(t, 2, res.Batches)

		bodies := inbound.Pending()
		require.Len(t, bodies, 2)
		for i, body := range bodies {
			msg, err := queue.DecodeBatch(body)
			require.NoError(t, err)
			require.Equal(t, i+1, msg.BatchNumber)
			require.Len(t, msg.Segments, 1)
		}

		ds, err := sqlite.New(cfg.Datastore.URI, sqlcommon.NewConfig())
		require.NoError(t, err)
		t.Cleanup(ds.Close)

		job, err := ds.GetRootJob(ctx, jobID)
		require.NoError(t, err)
		require.Equal(t, 2, job.TotalSegments)
	})

	t.Run("unknown_destination", func(t *testing.T) {
		_, err := s.Enqueue(ctx, cfg, dispatcher.Request{
			ManifestationID:        "A",
			Environment:            "development",
			DestinationEnvironment: "qa",
		})
		require.ErrorContains(t, err, "unknown graph environment")
	})

	t.Run("no_segmentation", func(t *testing.T) {
		_, err := s.Enqueue(ctx, cfg, dispatcher.Request{
			ManifestationID:        "Z",
			Environment:            "development",
			DestinationEnvironment: "development",
		})
		require.ErrorIs(t, err, dispatcher.ErrNoSegmentation)
	})
}

func TestEnqueueCommandPrintsJobID(t *testing.T) {
	t.Cleanup(viper.Reset)
	util.PrepareTempConfigDir(t)

	jobID := id.NewJobID()
	out := new(bytes.Buffer)

	enqueueCmd := NewEnqueueCommand()
	enqueueCmd.RunE = func(c *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		cfg.Graph.Environments = map[string]config.GraphEnvironmentConfig{
			"development": {Engine: "memory", FixturePath: writeFixture(t)},
		}
		s := &WorkerContext{Logger: logger.NewNoopLogger(), Inbound: queuememory.New()}
		res, err := s.Enqueue(c.Context(), cfg, dispatcher.Request{
			ManifestationID:        args[0],
			Environment:            viper.GetString("enqueue.environment"),
			DestinationEnvironment: viper.GetString("enqueue.environment"),
			JobID:                  viper.GetString("enqueue.jobID"),
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.OutOrStdout(), res.JobID)
		return err
	}

	rootCmd := cmd.NewRootCommand()
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"enqueue", "B", "--job-id", jobID})
	require.NoError(t, rootCmd.Execute())
	require.Equal(t, jobID, strings.TrimSpace(out.String()))
}
