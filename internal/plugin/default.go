package plugin

import (
	"encoding/json"

	"azflow/internal/blobstore"
	"azflow/internal/connector"
	"azflow/internal/connector/batch"
	"azflow/internal/connector/blob"
	"azflow/internal/executor/azurebatch"
	"azflow/internal/executor/docker"
)

// KindDockerBatch runs batch pools, jobs and tasks on the local Docker daemon.
const KindDockerBatch = "eu.across.docker.batch"

// DefaultOptions configures the built-in connector types.
type DefaultOptions struct {
	Batch  *azurebatch.Options
	Blob   *blobstore.Options
	Docker docker.Config
	// DockerFactory replaces the docker executor, e.g. in tests.
	DockerFactory batch.ExecutorFactory
}

// Default returns a registry with the Azure Batch, Azure Blob and local
// Docker connector types.
func Default(opts DefaultOptions) *Registry {
	r := NewRegistry()

	_ = r.Register(batch.Kind, func(raw json.RawMessage, env Env) (connector.Connector, error) {
		var cfg batch.Config
		if err := decodeStrict(raw, &cfg); err != nil {
			return nil, err
		}
		return batch.New(cfg, azurebatch.Factory(opts.Batch), env.Options()...)
	})

	_ = r.Register(blob.Kind, func(raw json.RawMessage, env Env) (connector.Connector, error) {
		var cfg blob.Config
		if err := decodeStrict(raw, &cfg); err != nil {
			return nil, err
		}
		return blob.New(cfg, blobstore.Factory(opts.Blob), env.Options()...)
	})

	dockerFactory := opts.DockerFactory
	if dockerFactory == nil {
		dockerFactory = docker.Factory(opts.Docker)
	}
	_ = r.Register(KindDockerBatch, func(raw json.RawMessage, env Env) (connector.Connector, error) {
		var cfg batch.Config
		if err := decodeStrict(raw, &cfg); err != nil {
			return nil, err
		}
		connOpts := append(env.Options(), connector.Local(), connector.WithKind(KindDockerBatch))
		return batch.New(cfg, dockerFactory, connOpts...)
	})

	return r
}
