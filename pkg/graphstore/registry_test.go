package graphstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/segmentmapper/segmentmapper/pkg/graphstore"
	"github.com/segmentmapper/segmentmapper/pkg/graphstore/memory"
)

func TestRegistry(t *testing.T) {
	dev := memory.New()
	prod := memory.New()

	registry, err := graphstore.NewRegistry(map[graphstore.Environment]graphstore.Reader{
		graphstore.EnvironmentDevelopment: dev,
		graphstore.EnvironmentProduction:  prod,
	})
	require.NoError(t, err)
	require.Equal(t, []graphstore.Environment{graphstore.EnvironmentDevelopment, graphstore.EnvironmentProduction}, registry.Configured())

	reader, err := registry.Reader(" Production ")
	require.NoError(t, err)
	require.Same(t, prod, reader)

	_, err = registry.Reader("staging")
	require.ErrorIs(t, err, graphstore.ErrUnknownEnvironment)

	_, err = registry.Reader("qa")
	require.ErrorIs(t, err, graphstore.ErrUnknownEnvironment)
}

func TestNewRegistryRejectsUnknownLabels(t *testing.T) {
	_, err := graphstore.NewRegistry(map[graphstore.Environment]graphstore.Reader{
		graphstore.Environment("qa"): memory.New(),
	})
	require.ErrorIs(t, err, graphstore.ErrUnknownEnvironment)

	_, err = graphstore.NewRegistry(map[graphstore.Environment]graphstore.Reader{
		graphstore.EnvironmentStaging: nil,
	})
	require.Error(t, err)
}
