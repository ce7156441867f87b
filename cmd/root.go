// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	datastoreEngineFlag = "datastore-engine"
	datastoreEngineConf = "datastore.engine"
	datastoreURIFlag    = "datastore-uri"
	datastoreURIConf    = "datastore.uri"
)

// NewRootCommand enables all children commands to read flags from CLI flags, environment variables prefixed with
// SEGMENTMAPPER, or config.yaml (in that order). Variables in a '.env' file of the working directory are loaded
// into the environment first and never override variables that are already set.
func NewRootCommand() *cobra.Command {
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("SEGMENTMAPPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/segmentmapper", "$HOME/.segmentmapper", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetDefault(datastoreEngineFlag, "")
	viper.SetDefault(datastoreURIFlag, "")
	err := viper.ReadInConfig()
	if err == nil {
		viper.SetDefault(datastoreEngineFlag, viper.Get(datastoreEngineConf))
		viper.SetDefault(datastoreURIFlag, viper.Get(datastoreURIConf))
	}

	return &cobra.Command{
		Use:   "segmentmapper",
		Short: "Maps text segments to every related segment reachable through alignments",
		Long: `Maps text segments to every related segment reachable through alignments.

The segment mapper consumes batches of source segments from a queue, walks the alignment graph
of the batch's environment breadth first and stores the related segments of every manifestation
it reaches. Job progress and results are served by a small status API.`,
		SilenceUsage: true,
	}
}
