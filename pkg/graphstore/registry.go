package graphstore

import (
	"fmt"
	"slices"
	"strings"
)

// Environment labels a deployment whose graph a batch is read from.
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentStaging     Environment = "staging"
	EnvironmentProduction  Environment = "production"
)

// Environments lists every label a message may carry.
var Environments = []Environment{EnvironmentDevelopment, EnvironmentStaging, EnvironmentProduction}

// ParseEnvironment normalizes s (case and surrounding space) and checks it against Environments.
func ParseEnvironment(s string) (Environment, error) {
	env := Environment(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Environments, env) {
		return "", fmt.Errorf("%w: %q", ErrUnknownEnvironment, s)
	}
	return env, nil
}

// Registry holds one Reader per configured environment. It is built once at startup and only
// read afterwards, so it needs no locking.
type Registry struct {
	readers map[Environment]Reader
}

// NewRegistry returns a registry over readers. Keys that are not known environments are rejected.
func NewRegistry(readers map[Environment]Reader) (*Registry, error) {
	r := &Registry{readers: make(map[Environment]Reader, len(readers))}
	for env, reader := range readers {
		if !slices.Contains(Environments, env) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
		}
		if reader == nil {
			return nil, fmt.Errorf("no reader configured for environment %q", env)
		}
		r.readers[env] = reader
	}
	return r, nil
}

// Reader returns the reader for the environment named by label.
func (r *Registry) Reader(label string) (Reader, error) {
	env, err := ParseEnvironment(label)
	if err != nil {
		return nil, err
	}

	reader, ok := r.readers[env]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not configured", ErrUnknownEnvironment, env)
	}
	return reader, nil
}

// Configured returns the environments that have a reader, in declaration order.
func (r *Registry) Configured() []Environment {
	var envs []Environment
	for _, env := range Environments {
		if _, ok := r.readers[env]; ok {
			envs = append(envs, env)
		}
	}
	return envs
}
