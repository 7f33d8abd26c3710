// Package docker is a batch.Executor that emulates pools, jobs and tasks
// on the local Docker daemon. A pool is a labelled volume, a job is a
// local record bound to a pool, and a task is a container running the
// command line with the pool volume mounted.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	cerrdefs "github.com/containerd/errdefs"
	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
		ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"azflow/internal/apperrors"
	"azflow/internal/connector/batch"
)

// Operation labels for calls that have no batch equivalent.
const (
	OpConnect = "docker.connect"
	OpClose   = "docker.close"
)

// Labels on every resource the executor creates.
const (
	labelManagedBy = "managed-by"
	labelPool      = "azflow.pool.id"
	labelJob       = "azflow.job.id"
	labelTask      = "azflow.task.id"
	managedBy      = "azflow"
)

// Job states reported by JobState, matching the Batch service vocabulary.
const (
	JobStateActive    = "active"
	JobStateCompleted = "completed"
)

var (
	errPoolNotFound  = errors.New("pool not found")
	errPoolExists    = errors.New("pool volume already exists")
	errJobNotFound   = errors.New("job not found")
	errResourceFiles = errors.New("resource files are not supported by the docker executor")
)

// Container states that keep a job active.
var activeStates = map[string]bool{
	"created":    true,
	"running":    true,
	"restarting": true,
	"paused":     true,
}

// dockerAPI is the subset of the Docker client used by the executor.
type dockerAPI interface {
	VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error)
	VolumeInspect(ctx context.Context, volumeID string) (volume.Volume, error)
	VolumeRemove(ctx context.Context, volumeID string, force bool) error
	ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Ping(ctx context.Context) (dockertypes.Ping, error)
	Close() error
}

// Executor implements batch.Executor on the Docker API.
type Executor struct {
	client dockerAPI
	cfg    Config
	pools  *stateRepo[poolState]
	jobs   *stateRepo[jobState]
}

var _ batch.Executor = (*Executor)(nil)

// New creates an executor connected to the Docker daemon from the environment.
func New(cfg Config) (*Executor, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apperrors.Remote(OpConnect, fmt.Errorf("failed to create docker client: %w", err))
	}
	return newExecutor(dockerClient, cfg), nil
}

func newExecutor(api dockerAPI, cfg Config) *Executor {
	if cfg.MountPath == "" {
		cfg.MountPath = defaultMountPath
	}
	return &Executor{
		client: api,
		cfg:    cfg,
		pools:  newStateRepo[poolState]("pool"),
		jobs:   newStateRepo[jobState]("job"),
	}
}

// Factory adapts New to batch.ExecutorFactory. The credential is ignored.
func Factory(cfg Config) batch.ExecutorFactory {
	return func(_ context.Context, _ *batch.Config, _ azcore.TokenCredential) (batch.Executor, error) {
		return New(cfg)
	}
}

// CreatePool creates the pool volume and pulls the pool image.
func (e *Executor) CreatePool(ctx context.Context, spec batch.PoolSpec) (*batch.PoolHandle, error) {
	if err := e.pools.reserve(spec.ID); err != nil {
		return nil, apperrors.Remote(batch.OpCreatePool, err)
	}

	ps := &poolState{
		volumeName: volumeName(spec.ID),
		image:      e.cfg.imageFor(spec.Image),
	}

	success := false
	defer func() {
		if !success {
			e.pools.release(spec.ID)
		}
	}()

	if _, err := e.client.VolumeInspect(ctx, ps.volumeName); err == nil {
		return nil, apperrors.Remote(batch.OpCreatePool, errPoolExists)
	} else if !cerrdefs.IsNotFound(err) {
		return nil, apperrors.Remote(batch.OpCreatePool, err)
	}

	if _, err := e.client.VolumeCreate(ctx, volume.CreateOptions{
		Name: ps.volumeName,
		Labels: map[string]string{
			labelManagedBy: managedBy,
			labelPool:      spec.ID,
		},
	}); err != nil {
		return nil, apperrors.Remote(batch.OpCreatePool, err)
	}

	// Pull with a detached context so a caller deadline doesn't abort the download
	if err := e.pullImageIfNeeded(context.WithoutCancel(ctx), ps.image); err != nil {
		_ = e.client.VolumeRemove(ctx, ps.volumeName, true)
		return nil, apperrors.Remote(batch.OpCreatePool, fmt.Errorf("pull %s: %w", ps.image, err))
	}

	e.pools.commit(spec.ID, ps)
	success = true
	slog.Debug("Created pool volume", "poolId", spec.ID, "volume", ps.volumeName, "image", ps.image)
	return &batch.PoolHandle{ID: spec.ID}, nil
}

// SubmitJob records a job on an existing pool.
func (e *Executor) SubmitJob(_ context.Context, spec batch.JobSpec) (*batch.JobHandle, error) {
	if ps, ok := e.pools.get(spec.PoolID); !ok || ps == nil {
		return nil, apperrors.Remote(batch.OpSubmitJob, fmt.Errorf("%w: %s", errPoolNotFound, spec.PoolID))
	}
	if err := e.jobs.reserve(spec.ID); err != nil {
		return nil, apperrors.Remote(batch.OpSubmitJob, err)
	}
	e.jobs.commit(spec.ID, &jobState{poolID: spec.PoolID})
	return &batch.JobHandle{ID: spec.ID, PoolID: spec.PoolID}, nil
}

// SubmitTask creates and starts the task container. A second task with
// the same ID fails on the container name.
func (e *Executor) SubmitTask(ctx context.Context, spec batch.TaskSpec) (*batch.TaskHandle, error) {
	if len(spec.ResourceFiles) > 0 {
		return nil, apperrors.Remote(batch.OpSubmitTask, errResourceFiles)
	}
	js, ok := e.jobs.get(spec.JobID)
	if !ok || js == nil {
		return nil, apperrors.Remote(batch.OpSubmitTask, fmt.Errorf("%w: %s", errJobNotFound, spec.JobID))
	}
	ps, ok := e.pools.get(js.poolID)
	if !ok || ps == nil {
		return nil, apperrors.Remote(batch.OpSubmitTask, fmt.Errorf("%w: %s", errPoolNotFound, js.poolID))
	}

	containerConfig := &container.Config{
		Image:      ps.image,
		Cmd:        []string{"/bin/sh", "-c", spec.CommandLine},
		WorkingDir: e.cfg.MountPath,
		Labels: map[string]string{
			labelManagedBy: managedBy,
			labelPool:      js.poolID,
			labelJob:       spec.JobID,
			labelTask:      spec.ID,
		},
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeVolume,
				Source: ps.volumeName,
				Target: e.cfg.MountPath,
			},
		},
		ExtraHosts: e.cfg.ExtraHosts,
	}

	resp, err := e.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName(spec.JobID, spec.ID))
	if err != nil {
		return nil, apperrors.Remote(batch.OpSubmitTask, err)
	}
	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = e.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, apperrors.Remote(batch.OpSubmitTask, err)
	}

	slog.Debug("Started task container", "jobId", spec.JobID, "taskId", spec.ID, "containerId", resp.ID)
	return &batch.TaskHandle{ID: spec.ID, JobID: spec.JobID}, nil
}

// JobState is active while any task container is created or running, and
// completed once every task container has exited. A job without tasks is
// active.
func (e *Executor) JobState(ctx context.Context, jobID string) (string, error) {
	if js, ok := e.jobs.get(jobID); !ok || js == nil {
		return "", apperrors.Remote(batch.OpGetJobState, fmt.Errorf("%w: %s", errJobNotFound, jobID))
	}

	containers, err := e.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", labelManagedBy+"="+managedBy),
			filters.Arg("label", labelJob+"="+jobID),
		),
	})
	if err != nil {
		return "", apperrors.Remote(batch.OpGetJobState, err)
	}

	if len(containers) == 0 {
		return JobStateActive, nil
	}
	for _, c := range containers {
		if activeStates[string(c.State)] {
			return JobStateActive, nil
		}
	}
	return JobStateCompleted, nil
}

// DeletePool removes the pool's task containers and its volume. Jobs on
// the pool are forgotten. Deleting an unknown pool fails.
func (e *Executor) DeletePool(ctx context.Context, poolID string) error {
	ps, ok := e.pools.get(poolID)
	if !ok || ps == nil {
		return apperrors.Remote(batch.OpDeletePool, fmt.Errorf("%w: %s", errPoolNotFound, poolID))
	}

	containers, err := e.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", labelManagedBy+"="+managedBy),
			filters.Arg("label", labelPool+"="+poolID),
		),
	})
	if err != nil {
		return apperrors.Remote(batch.OpDeletePool, err)
	}
	for _, c := range containers {
		if err := e.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
			return apperrors.Remote(batch.OpDeletePool, err)
		}
	}

	if err := e.client.VolumeRemove(ctx, ps.volumeName, true); err != nil {
		return apperrors.Remote(batch.OpDeletePool, err)
	}

	e.pools.release(poolID)
	for _, id := range e.jobs.ids() {
		if js, ok := e.jobs.get(id); ok && js != nil && js.poolID == poolID {
			e.jobs.release(id)
		}
	}
	slog.Debug("Deleted pool volume", "poolId", poolID, "removedContainers", len(containers))
	return nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (e *Executor) Ready(ctx context.Context) error {
	_, err := e.client.Ping(ctx)
	return err
}

// Close closes the Docker client. Containers and volumes are left as is.
func (e *Executor) Close() error {
	if err := e.client.Close(); err != nil {
		return apperrors.Remote(OpClose, err)
	}
	return nil
}

func (e *Executor) pullImageIfNeeded(ctx context.Context, imageName string) error {
	_, err := e.client.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	reader, err := e.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func volumeName(poolID string) string {
	return "azflow-pool-" + poolID
}

func containerName(jobID, taskID string) string {
	return fmt.Sprintf("azflow-%s-%s", jobID, taskID)
}
