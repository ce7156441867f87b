package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestMustBindPFlag(t *testing.T) {
	t.Cleanup(viper.Reset)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("worker-concurrency", 4, "")
	MustBindPFlag("worker.concurrency", flags.Lookup("worker-concurrency"))

	require.Equal(t, 4, viper.GetInt("worker.concurrency"))
	require.NoError(t, flags.Parse([]string{"--worker-concurrency=9"}))
	require.Equal(t, 9, viper.GetInt("worker.concurrency"))

	require.Panics(t, func() {
		MustBindPFlag("worker.concurrency", nil)
	})
}

func TestMustBindEnv(t *testing.T) {
	t.Cleanup(viper.Reset)

	t.Setenv("SEGMENTMAPPER_WORKER_CONCURRENCY", "7")
	MustBindEnv("worker.concurrency", "SEGMENTMAPPER_WORKER_CONCURRENCY")
	require.Equal(t, 7, viper.GetInt("worker.concurrency"))

	require.Panics(t, func() {
		MustBindEnv()
	})
}

func TestPrepareTempConfigFile(t *testing.T) {
	PrepareTempConfigFile(t, "log:\n  level: debug\n")

	body, err := os.ReadFile(filepath.Join(os.Getenv("HOME"), ".segmentmapper", "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, "log:\n  level: debug\n", string(body))
}
