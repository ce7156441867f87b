package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/segmentmapper/segmentmapper/cmd"
	"github.com/segmentmapper/segmentmapper/cmd/migrate"
	"github.com/segmentmapper/segmentmapper/cmd/run"
)

func newCommand() *cobra.Command {
	rootCmd := cmd.NewRootCommand()

	runCmd := run.NewRunCommand()
	rootCmd.AddCommand(runCmd)

	enqueueCmd := run.NewEnqueueCommand()
	rootCmd.AddCommand(enqueueCmd)

	migrateCmd := migrate.NewMigrateCommand()
	rootCmd.AddCommand(migrateCmd)

	versionCmd := cmd.NewVersionCommand()
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
