package cmd

import (
	"github.com/spf13/cobra"

	"github.com/segmentmapper/segmentmapper/internal/build"
)

// NewVersionCommand returns the command to get the segmentmapper version
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Return the segmentmapper version",
		Long:  "Return the segmentmapper version.",
		RunE:  version,
		Args:  cobra.NoArgs,
	}

	return cmd
}

// print out the built version
func version(cmd *cobra.Command, _ []string) error {
	cmd.Printf("segmentmapper version %s date %s commit id %s\n", build.Version, build.Date, build.Commit)
	return nil
}
