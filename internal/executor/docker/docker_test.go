package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azflow/internal/apperrors"
	"azflow/internal/connector/batch"
)

type fakeContainer struct {
	id     string
	name   string
	config *container.Config
	host   *container.HostConfig
	state  string
}

// fakeDocker is an in-memory stand-in for the Docker daemon.
type fakeDocker struct {
	mu         sync.Mutex
	volumes    map[string]volume.Volume
	images     map[string]bool
	containers map[string]*fakeContainer
	pulls      []string
	nextID     int
	closed     bool
	startErr   error
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		volumes:    make(map[string]volume.Volume),
		images:     make(map[string]bool),
		containers: make(map[string]*fakeContainer),
	}
}

func (f *fakeDocker) VolumeCreate(_ context.Context, options volume.CreateOptions) (volume.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := volume.Volume{Name: options.Name, Labels: options.Labels}
	f.volumes[options.Name] = v
	return v, nil
}

func (f *fakeDocker) VolumeInspect(_ context.Context, volumeID string) (volume.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.volumes[volumeID]
	if !ok {
		return volume.Volume{}, fmt.Errorf("volume %s: %w", volumeID, cerrdefs.ErrNotFound)
	}
	return v, nil
}

func (f *fakeDocker) VolumeRemove(_ context.Context, volumeID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.volumes[volumeID]; !ok {
		return fmt.Errorf("volume %s: %w", volumeID, cerrdefs.ErrNotFound)
	}
	delete(f.volumes, volumeID)
	return nil
}

func (f *fakeDocker) ImageInspect(_ context.Context, imageID string, _ ...client.ImageInspectOption) (image.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.images[imageID] {
		return image.InspectResponse{}, fmt.Errorf("image %s: %w", imageID, cerrdefs.ErrNotFound)
	}
	return image.InspectResponse{ID: imageID}, nil
}

func (f *fakeDocker) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, ref)
	f.images[ref] = true
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded"}`)), nil
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.name == name {
			return container.CreateResponse{}, fmt.Errorf("container name %q is already in use: %w", name, cerrdefs.ErrConflict)
		}
	}
	f.nextID++
	id := fmt.Sprintf("c%d", f.nextID)
	f.containers[id] = &fakeContainer{id: id, name: name, config: cfg, host: host, state: "created"}
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.containers[id].state = "running"
	return nil
}

func (f *fakeDocker) ContainerList(_ context.Context, options container.ListOptions) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := options.Filters.Get("label")
	var out []container.Summary
	for _, c := range f.containers {
		match := true
		for _, kv := range want {
			k, v, _ := strings.Cut(kv, "=")
			if c.config.Labels[k] != v {
				match = false
				break
			}
		}
		if match {
			summary := container.Summary{ID: c.id, Labels: c.config.Labels}
			switch c.state {
			case "running":
				summary.State = "running"
			case "exited":
				summary.State = "exited"
			default:
				summary.State = "created"
			}
			out = append(out, summary)
		}
	}
	return out, nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return fmt.Errorf("container %s: %w", id, cerrdefs.ErrNotFound)
	}
	delete(f.containers, id)
	return nil
}

func (f *fakeDocker) Ping(context.Context) (dockertypes.Ping, error) {
	return dockertypes.Ping{APIVersion: "1.51"}, nil
}

func (f *fakeDocker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeDocker) exitAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		c.state = "exited"
	}
}

var testPool = batch.PoolSpec{
	ID:        "pool-1",
	VMSize:    "STANDARD_A1_v2",
	NodeCount: 1,
	Image:     batch.OSImage{Publisher: "Canonical", Offer: "UbuntuServer", SKU: "18.04-LTS"},
}

func TestExecutorLifecycle(t *testing.T) {
	t.Parallel()
	fake := newFakeDocker()
	e := newExecutor(fake, Config{})
	ctx := context.Background()

	_, err := e.CreatePool(ctx, testPool)
	require.NoError(t, err)
	assert.Contains(t, fake.volumes, "azflow-pool-pool-1")
	assert.Equal(t, []string{"ubuntu:18.04"}, fake.pulls)

	_, err = e.SubmitJob(ctx, batch.JobSpec{ID: "job-1", PoolID: "pool-1"})
	require.NoError(t, err)

	state, err := e.JobState(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStateActive, state)

	_, err = e.SubmitTask(ctx, batch.TaskSpec{JobID: "job-1", ID: "task-1", CommandLine: "echo hi > out.txt"})
	require.NoError(t, err)

	var created *fakeContainer
	for _, c := range fake.containers {
		created = c
	}
	require.NotNil(t, created)
	assert.Equal(t, "azflow-job-1-task-1", created.name)
	assert.Equal(t, []string{"/bin/sh", "-c", "echo hi > out.txt"}, []string(created.config.Cmd))
	assert.Equal(t, "/mnt/pool", created.host.Mounts[0].Target)
	assert.Equal(t, "azflow-pool-pool-1", created.host.Mounts[0].Source)

	state, err = e.JobState(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStateActive, state)

	fake.exitAll()
	state, err = e.JobState(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStateCompleted, state)

	require.NoError(t, e.DeletePool(ctx, "pool-1"))
	assert.Empty(t, fake.volumes)
	assert.Empty(t, fake.containers)

	_, err = e.JobState(ctx, "job-1")
	assert.ErrorIs(t, err, errJobNotFound)

	require.NoError(t, e.Ready(ctx))
	require.NoError(t, e.Close())
	assert.True(t, fake.closed)
}

func TestCreatePoolTwice(t *testing.T) {
	t.Parallel()
	e := newExecutor(newFakeDocker(), Config{})
	ctx := context.Background()

	_, err := e.CreatePool(ctx, testPool)
	require.NoError(t, err)
	_, err = e.CreatePool(ctx, testPool)
	require.ErrorIs(t, err, apperrors.ErrRemoteOperation)
	assert.Contains(t, err.Error(), batch.OpCreatePool)
}

func TestCreatePoolExistingVolume(t *testing.T) {
	t.Parallel()
	fake := newFakeDocker()
	fake.volumes["azflow-pool-pool-1"] = volume.Volume{Name: "azflow-pool-pool-1"}
	e := newExecutor(fake, Config{})

	_, err := e.CreatePool(context.Background(), testPool)
	require.ErrorIs(t, err, errPoolExists)

	// The reservation is released on failure.
	delete(fake.volumes, "azflow-pool-pool-1")
	_, err = e.CreatePool(context.Background(), testPool)
	assert.NoError(t, err)
}

func TestCreatePoolSkipsPullWhenPresent(t *testing.T) {
	t.Parallel()
	fake := newFakeDocker()
	fake.images["busybox:latest"] = true
	e := newExecutor(fake, Config{Image: "busybox:latest"})

	_, err := e.CreatePool(context.Background(), testPool)
	require.NoError(t, err)
	assert.Empty(t, fake.pulls)
}

func TestSubmitJobUnknownPool(t *testing.T) {
	t.Parallel()
	e := newExecutor(newFakeDocker(), Config{})

	_, err := e.SubmitJob(context.Background(), batch.JobSpec{ID: "job-1", PoolID: "missing"})
	require.ErrorIs(t, err, apperrors.ErrRemoteOperation)
	assert.ErrorIs(t, err, errPoolNotFound)
}

func TestSubmitTaskTwice(t *testing.T) {
	t.Parallel()
	e := newExecutor(newFakeDocker(), Config{})
	ctx := context.Background()
	_, err := e.CreatePool(ctx, testPool)
	require.NoError(t, err)
	_, err = e.SubmitJob(ctx, batch.JobSpec{ID: "job-1", PoolID: "pool-1"})
	require.NoError(t, err)

	spec := batch.TaskSpec{JobID: "job-1", ID: "task-1", CommandLine: "true"}
	_, err = e.SubmitTask(ctx, spec)
	require.NoError(t, err)
	_, err = e.SubmitTask(ctx, spec)
	require.ErrorIs(t, err, apperrors.ErrRemoteOperation)
	assert.True(t, cerrdefs.IsConflict(err))
}

func TestSubmitTaskRejectsResourceFiles(t *testing.T) {
	t.Parallel()
	e := newExecutor(newFakeDocker(), Config{})

	_, err := e.SubmitTask(context.Background(), batch.TaskSpec{
		JobID:         "job-1",
		ID:            "task-1",
		ResourceFiles: []batch.ResourceFile{{HTTPURL: "https://x"}},
	})
	assert.ErrorIs(t, err, errResourceFiles)
}

func TestSubmitTaskStartFailureRemovesContainer(t *testing.T) {
	t.Parallel()
	fake := newFakeDocker()
	e := newExecutor(fake, Config{})
	ctx := context.Background()
	_, err := e.CreatePool(ctx, testPool)
	require.NoError(t, err)
	_, err = e.SubmitJob(ctx, batch.JobSpec{ID: "job-1", PoolID: "pool-1"})
	require.NoError(t, err)

	fake.startErr = errors.New("no space left on device")
	_, err = e.SubmitTask(ctx, batch.TaskSpec{JobID: "job-1", ID: "task-1", CommandLine: "true"})
	require.ErrorIs(t, err, apperrors.ErrRemoteOperation)
	assert.Empty(t, fake.containers)
}

func TestDeleteUnknownPool(t *testing.T) {
	t.Parallel()
	e := newExecutor(newFakeDocker(), Config{})

	err := e.DeletePool(context.Background(), "pool-1")
	require.ErrorIs(t, err, apperrors.ErrRemoteOperation)
	assert.ErrorIs(t, err, errPoolNotFound)
}

func TestImageFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		ref  batch.OSImage
		want string
	}{
		{"ubuntu 18.04", Config{}, batch.OSImage{Publisher: "Canonical", Offer: "UbuntuServer", SKU: "18.04-LTS"}, "ubuntu:18.04"},
		{"ubuntu 22.04 underscore", Config{}, batch.OSImage{Publisher: "canonical", SKU: "22_04-lts"}, "ubuntu:22.04"},
		{"unknown sku", Config{}, batch.OSImage{Publisher: "Canonical", SKU: "daily"}, defaultImage},
		{"other publisher", Config{}, batch.OSImage{Publisher: "MicrosoftWindowsServer"}, defaultImage},
		{"override", Config{Image: "alpine:3"}, batch.OSImage{Publisher: "Canonical", SKU: "18.04-LTS"}, "alpine:3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cfg.imageFor(tt.ref))
		})
	}
}
