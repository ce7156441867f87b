package migrate

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/segmentmapper/segmentmapper/cmd/util"
)

// bindRunFlagsFunc binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindRunFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(command *cobra.Command, args []string) {
		util.MustBindPFlag(datastoreEngineFlag, flags.Lookup(datastoreEngineFlag))
		util.MustBindPFlag(datastoreURIFlag, flags.Lookup(datastoreURIFlag))
		util.MustBindPFlag(datastoreUsernameFlag, flags.Lookup(datastoreUsernameFlag))
		util.MustBindPFlag(datastorePasswordFlag, flags.Lookup(datastorePasswordFlag))
		util.MustBindPFlag(versionFlag, flags.Lookup(versionFlag))
		util.MustBindPFlag(timeoutFlag, flags.Lookup(timeoutFlag))
		util.MustBindPFlag(verboseMigrationFlag, flags.Lookup(verboseMigrationFlag))
		util.MustBindPFlag(logFormatFlag, flags.Lookup(logFormatFlag))
		util.MustBindPFlag(logLevelFlag, flags.Lookup(logLevelFlag))
	}
}
