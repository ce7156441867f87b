package run

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/segmentmapper/segmentmapper/cmd/util"
	"github.com/segmentmapper/segmentmapper/internal/config"
	"github.com/segmentmapper/segmentmapper/internal/dispatcher"
	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
	"github.com/segmentmapper/segmentmapper/pkg/logger"
)

const (
	environmentFlag            = "environment"
	destinationEnvironmentFlag = "destination-environment"
	jobIDFlag                  = "job-id"
)

// NewEnqueueCommand returns the command that creates a root job for a manifestation and sends its
// segments to the inbound queue in batches.
func NewEnqueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <manifestation-id>",
		Short: "Enqueue the segments of a manifestation for mapping",
		Long: "Create a root job for the segmentation of a manifestation and send its segments to the inbound queue. " +
			"The job id is printed on success.",
		RunE: enqueue,
		Args: cobra.ExactArgs(1),
	}

	flags := cmd.Flags()
	defineConfigFlags(flags)

	flags.String(environmentFlag, string(graphstore.EnvironmentDevelopment), "the graph environment the manifestation is read from")

	flags.String(destinationEnvironmentFlag, "", "the graph environment the mappings are written to (defaults to the source environment)")

	flags.String(jobIDFlag, "", "the root job id to use (a new UUID when empty)")

	cmd.PreRun = bindEnqueueFlagsFunc(flags)

	return cmd
}

func bindEnqueueFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	bindConfig := bindRunFlagsFunc(flags)
	return func(command *cobra.Command, args []string) {
		bindConfig(command, args)

		util.MustBindPFlag("enqueue.environment", flags.Lookup(environmentFlag))
		util.MustBindEnv("enqueue.environment", "SEGMENTMAPPER_ENQUEUE_ENVIRONMENT")

		util.MustBindPFlag("enqueue.destinationEnvironment", flags.Lookup(destinationEnvironmentFlag))
		util.MustBindEnv("enqueue.destinationEnvironment", "SEGMENTMAPPER_ENQUEUE_DESTINATION_ENVIRONMENT")

		util.MustBindPFlag("enqueue.jobID", flags.Lookup(jobIDFlag))
	}
}

func enqueue(cmd *cobra.Command, args []string) error {
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

	req := dispatcher.Request{
		ManifestationID:        args[0],
		Environment:            viper.GetString("enqueue.environment"),
		DestinationEnvironment: viper.GetString("enqueue.destinationEnvironment"),
		JobID:                  viper.GetString("enqueue.jobID"),
	}
	if req.DestinationEnvironment == "" {
		req.DestinationEnvironment = req.Environment
	}

	workerCtx := &WorkerContext{Logger: log}
	res, err := workerCtx.Enqueue(cmd.Context(), cfg, req)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), res.JobID)
	return err
}

// Enqueue builds the datastore, the graph of the source environment and the inbound queue from cfg
// and dispatches req.
func (s *WorkerContext) Enqueue(ctx context.Context, cfg *config.Config, req dispatcher.Request) (*dispatcher.Result, error) {
	if _, err := graphstore.ParseEnvironment(req.DestinationEnvironment); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}

	datastore, err := s.datastoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	defer datastore.Close()

	sender, err := s.inboundConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry, closeGraphs, err := s.graphConfig(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	defer closeGraphs()

	d := dispatcher.New(registry, datastore, sender,
		dispatcher.WithBatchSize(cfg.Batch.Size),
		dispatcher.WithLogger(s.Logger),
	)

	res, err := d.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}

	s.Logger.Info("enqueued job",
		zap.String("root_job_id", res.JobID),
		zap.Int("total_segments", res.TotalSegments),
		zap.Int("batches", res.Batches),
	)
	return res, nil
}
