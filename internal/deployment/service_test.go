package deployment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azflow/internal/apperrors"
	"azflow/internal/connector"
	"azflow/internal/plugin"
)

type fakeConnector struct {
	mu          sync.Mutex
	state       connector.State
	setupErr    error
	teardownErr error
	closeErr    error
	runs        []string
	teardowns   int
	closes      int
	env         plugin.Env

	// When set, Setup signals setupStarted and blocks until setupGate closes.
	setupStarted chan struct{}
	setupGate    chan struct{}
}

func (f *fakeConnector) Setup(ctx context.Context) error {
	if f.setupGate != nil {
		close(f.setupStarted)
		<-f.setupGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setupErr != nil {
		f.state = connector.StateFailed
		return f.setupErr
	}
	f.state = connector.StateReady
	f.env.Observer.Observe(ctx, connector.Event{Checkpoint: connector.CheckpointSetupDone, Name: f.env.Name})
	return nil
}

func (f *fakeConnector) Run(_ context.Context, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, command)
	return "task-" + command, nil
}

func (f *fakeConnector) Status(_ context.Context, taskID string) (*connector.Status, error) {
	return &connector.Status{JobID: "job", TaskID: taskID, State: "active"}, nil
}

func (f *fakeConnector) Teardown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
	if f.teardownErr != nil {
		return f.teardownErr
	}
	f.state = connector.StateTornDown
	return nil
}

func (f *fakeConnector) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.state = connector.StateClosed
	return f.closeErr
}

func (f *fakeConnector) State() connector.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConnector) Kind() string { return "fake" }

type fakeBuilder struct {
	mu       sync.Mutex
	next     func() *fakeConnector
	built    map[string]*fakeConnector
	buildErr error

	// When set, New signals buildStarted and blocks until buildGate closes.
	buildStarted chan struct{}
	buildGate    chan struct{}
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{
		next:  func() *fakeConnector { return &fakeConnector{state: connector.StateUninitialized} },
		built: make(map[string]*fakeConnector),
	}
}

func (b *fakeBuilder) New(kind string, raw json.RawMessage, env plugin.Env) (connector.Connector, error) {
	if kind != "fake" {
		return nil, apperrors.Validation("type", "unknown connector type")
	}
	if b.buildGate != nil {
		close(b.buildStarted)
		<-b.buildGate
	}
	if b.buildErr != nil {
		return nil, b.buildErr
	}
	c := b.next()
	c.env = env
	b.mu.Lock()
	b.built[env.Name] = c
	b.mu.Unlock()
	return c, nil
}

func (b *fakeBuilder) Kinds() []string { return []string{"fake"} }

func (b *fakeBuilder) get(id string) *fakeConnector {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.built[id]
}

func (f *fakeConnector) counts() (teardowns, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teardowns, f.closes
}

type activeCounter struct {
	mu   sync.Mutex
	open map[string]int
}

func (a *activeCounter) RecordDeploymentOpened(_ context.Context, kind string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open[kind]++
}

func (a *activeCounter) RecordDeploymentClosed(_ context.Context, kind string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open[kind]--
}

func TestCreateRunStatusDelete(t *testing.T) {
	b := newFakeBuilder()
	active := &activeCounter{open: map[string]int{}}
	var events []connector.Event
	svc := NewService(b,
		WithActiveRecorder(active),
		WithObserver(connector.ObserverFunc(func(_ context.Context, ev connector.Event) { events = append(events, ev) })),
	)
	ctx := context.Background()

	info, err := svc.Create(ctx, &Request{ID: "dep-1", Type: "fake"})
	require.NoError(t, err)
	assert.Equal(t, &Info{ID: "dep-1", Type: "fake", State: connector.StateReady}, info)
	assert.Equal(t, 1, active.open["fake"])
	require.Len(t, events, 1)
	assert.Equal(t, "dep-1", events[0].Name)

	run, err := svc.Run(ctx, "dep-1", &RunRequest{Command: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "task-echo", run.Result)

	st, err := svc.Status(ctx, "dep-1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", st.TaskID)
	assert.Equal(t, "active", st.State)

	require.NoError(t, svc.Delete(ctx, "dep-1"))
	fc := b.get("dep-1")
	assert.Equal(t, 1, fc.teardowns)
	assert.Equal(t, 1, fc.closes)
	assert.Equal(t, 0, active.open["fake"])

	_, err = svc.Get(ctx, "dep-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCreateGeneratesID(t *testing.T) {
	svc := NewService(newFakeBuilder())

	info, err := svc.Create(context.Background(), &Request{Type: "fake"})
	require.NoError(t, err)
	_, err = uuid.Parse(info.ID)
	assert.NoError(t, err)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	svc := NewService(newFakeBuilder())
	tests := []struct {
		name  string
		req   *Request
		field string
	}{
		{"missing type", &Request{ID: "ok"}, "type"},
		{"bad id", &Request{ID: "-bad", Type: "fake"}, "id"},
		{"id with slash", &Request{ID: "a/b", Type: "fake"}, "id"},
		{"unknown type", &Request{ID: "ok2", Type: "other"}, "type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.req)
			require.ErrorIs(t, err, apperrors.ErrValidation)
			var appErr *apperrors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list.Deployments)
}

func TestCreateDuplicateID(t *testing.T) {
	svc := NewService(newFakeBuilder())
	ctx := context.Background()

	_, err := svc.Create(ctx, &Request{ID: "dup", Type: "fake"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, &Request{ID: "dup", Type: "fake"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestBuildFailureReleasesID(t *testing.T) {
	b := newFakeBuilder()
	b.buildErr = apperrors.Configuration("tenant_id")
	svc := NewService(b)
	ctx := context.Background()

	_, err := svc.Create(ctx, &Request{ID: "x", Type: "fake"})
	require.ErrorIs(t, err, apperrors.ErrConfiguration)

	b.buildErr = nil
	_, err = svc.Create(ctx, &Request{ID: "x", Type: "fake"})
	assert.NoError(t, err)
}

func TestSetupFailureKeepsDeployment(t *testing.T) {
	b := newFakeBuilder()
	remote := apperrors.Remote("batch.createPool", errors.New("quota"))
	b.next = func() *fakeConnector {
		return &fakeConnector{state: connector.StateUninitialized, setupErr: remote}
	}
	active := &activeCounter{open: map[string]int{}}
	svc := NewService(b, WithActiveRecorder(active))
	ctx := context.Background()

	_, err := svc.Create(ctx, &Request{ID: "broken", Type: "fake"})
	require.ErrorIs(t, err, apperrors.ErrRemoteOperation)

	info, err := svc.Get(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, connector.StateFailed, info.State)
	assert.Zero(t, active.open["fake"])

	require.NoError(t, svc.Delete(ctx, "broken"))
	assert.Equal(t, 1, b.get("broken").closes)
	assert.Zero(t, active.open["fake"])
}

func TestDeleteTeardownFailureKeepsDeployment(t *testing.T) {
	b := newFakeBuilder()
	svc := NewService(b)
	ctx := context.Background()

	_, err := svc.Create(ctx, &Request{ID: "d", Type: "fake"})
	require.NoError(t, err)
	fc := b.get("d")
	fc.teardownErr = apperrors.Remote("batch.deletePool", errors.New("busy"))

	err = svc.Delete(ctx, "d")
	require.ErrorIs(t, err, apperrors.ErrRemoteOperation)
	assert.Zero(t, fc.closes)

	_, err = svc.Get(ctx, "d")
	require.NoError(t, err)

	fc.mu.Lock()
	fc.teardownErr = nil
	fc.mu.Unlock()
	require.NoError(t, svc.Delete(ctx, "d"))
	assert.Equal(t, 2, fc.teardowns)
	assert.Equal(t, 1, fc.closes)
}

func TestDeleteReturnsCloseError(t *testing.T) {
	b := newFakeBuilder()
	svc := NewService(b)
	ctx := context.Background()

	_, err := svc.Create(ctx, &Request{ID: "d", Type: "fake"})
	require.NoError(t, err)
	b.get("d").closeErr = apperrors.ResourceRelease(errors.New("revoke"))

	err = svc.Delete(ctx, "d")
	assert.ErrorIs(t, err, apperrors.ErrResourceRelease)
	_, err = svc.Get(ctx, "d")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUnknownDeployment(t *testing.T) {
	t.Parallel()
	svc := NewService(newFakeBuilder())
	ctx := context.Background()

	_, err := svc.Run(ctx, "nope", &RunRequest{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = svc.Status(ctx, "nope", "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "nope"), apperrors.ErrNotFound)
}

func TestListSorted(t *testing.T) {
	svc := NewService(newFakeBuilder())
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		_, err := svc.Create(ctx, &Request{ID: id, Type: "fake"})
		require.NoError(t, err)
	}

	list, err := svc.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(list.Deployments))
	for _, d := range list.Deployments {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestCloseTearsDownEverything(t *testing.T) {
	b := newFakeBuilder()
	active := &activeCounter{open: map[string]int{}}
	svc := NewService(b, WithActiveRecorder(active))
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := svc.Create(ctx, &Request{ID: id, Type: "fake"})
		require.NoError(t, err)
	}
	b.get("a").teardownErr = errors.New("stuck")

	err := svc.Close(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck")
	for _, id := range []string{"a", "b"} {
		assert.Equal(t, 1, b.get(id).closes, id)
	}
	assert.Zero(t, active.open["fake"])

	assert.ErrorIs(t, svc.Ready(ctx), ErrShuttingDown)
	_, err = svc.Create(ctx, &Request{ID: "late", Type: "fake"})
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.NoError(t, svc.Close(ctx))
}

func TestTypes(t *testing.T) {
	t.Parallel()
	svc := NewService(newFakeBuilder())
	assert.Equal(t, []string{"fake"}, svc.Types().Types)
	assert.NoError(t, svc.Ready(context.Background()))
}

func TestCloseWaitsForCreateInFlight(t *testing.T) {
	b := newFakeBuilder()
	b.buildStarted = make(chan struct{})
	b.buildGate = make(chan struct{})
	svc := NewService(b)
	ctx := context.Background()

	createErr := make(chan error, 1)
	go func() {
		_, err := svc.Create(ctx, &Request{ID: "slow", Type: "fake"})
		createErr <- err
	}()
	<-b.buildStarted

	closeErr := make(chan error, 1)
	go func() { closeErr <- svc.Close(ctx) }()
	require.Eventually(t, func() bool { return svc.Ready(ctx) != nil }, time.Second, 5*time.Millisecond)

	select {
	case <-closeErr:
		t.Fatal("Close returned while a create was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(b.buildGate)
	err := <-createErr
	require.ErrorIs(t, err, apperrors.ErrUnavailable)
	require.NoError(t, <-closeErr)

	teardowns, closes := b.get("slow").counts()
	assert.Equal(t, 0, teardowns)
	assert.Equal(t, 1, closes)
	assert.Equal(t, connector.StateUninitialized, b.get("slow").State(), "setup must not run after shutdown")

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list.Deployments)
}

func TestCreateOutlivingCloseCleansUp(t *testing.T) {
	b := newFakeBuilder()
	started := make(chan struct{})
	gate := make(chan struct{})
	b.next = func() *fakeConnector {
		return &fakeConnector{state: connector.StateUninitialized, setupStarted: started, setupGate: gate}
	}
	active := &activeCounter{open: map[string]int{}}
	svc := NewService(b, WithActiveRecorder(active))
	ctx := context.Background()

	createErr := make(chan error, 1)
	go func() {
		_, err := svc.Create(ctx, &Request{ID: "late", Type: "fake"})
		createErr <- err
	}()
	<-started

	assert.ErrorIs(t, svc.Delete(ctx, "late"), apperrors.ErrConflict)

	closeCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.NoError(t, svc.Close(closeCtx))
	teardowns, closes := b.get("late").counts()
	assert.Zero(t, teardowns+closes, "Close must leave a deployment that is still setting up to its create")

	close(gate)
	require.ErrorIs(t, <-createErr, apperrors.ErrUnavailable)

	teardowns, closes = b.get("late").counts()
	assert.Equal(t, 1, teardowns)
	assert.Equal(t, 1, closes)
	assert.Zero(t, active.open["fake"])
}
