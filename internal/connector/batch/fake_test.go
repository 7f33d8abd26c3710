package batch

import (
	"context"
	"errors"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"azflow/internal/apperrors"
	"azflow/internal/credential"
)

// fakeExecutor records calls and emulates the batch service in memory.
type fakeExecutor struct {
	mu sync.Mutex

	pools  map[string]PoolSpec
	jobs   map[string]JobSpec
	tasks  map[string]TaskSpec
	state  string
	calls  []string
	closed int

	createPoolErr error
	submitJobErr  error
	closeErr      error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		pools: make(map[string]PoolSpec),
		jobs:  make(map[string]JobSpec),
		tasks: make(map[string]TaskSpec),
		state: "active",
	}
}

func (f *fakeExecutor) record(op string) {
	f.calls = append(f.calls, op)
}

func (f *fakeExecutor) CreatePool(_ context.Context, spec PoolSpec) (*PoolHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpCreatePool)
	if f.createPoolErr != nil {
		return nil, apperrors.Remote(OpCreatePool, f.createPoolErr)
	}
	if _, ok := f.pools[spec.ID]; ok {
		return nil, apperrors.Remote(OpCreatePool, errors.New("PoolExists"))
	}
	f.pools[spec.ID] = spec
	return &PoolHandle{ID: spec.ID}, nil
}

func (f *fakeExecutor) SubmitJob(_ context.Context, spec JobSpec) (*JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpSubmitJob)
	if f.submitJobErr != nil {
		return nil, apperrors.Remote(OpSubmitJob, f.submitJobErr)
	}
	if _, ok := f.pools[spec.PoolID]; !ok {
		return nil, apperrors.Remote(OpSubmitJob, errors.New("PoolNotFound"))
	}
	f.jobs[spec.ID] = spec
	return &JobHandle{ID: spec.ID, PoolID: spec.PoolID}, nil
}

func (f *fakeExecutor) SubmitTask(_ context.Context, spec TaskSpec) (*TaskHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpSubmitTask)
	if _, ok := f.jobs[spec.JobID]; !ok {
		return nil, apperrors.Remote(OpSubmitTask, errors.New("JobNotFound"))
	}
	key := spec.JobID + "/" + spec.ID
	if _, ok := f.tasks[key]; ok {
		return nil, apperrors.Remote(OpSubmitTask, errors.New("TaskExists"))
	}
	f.tasks[key] = spec
	return &TaskHandle{ID: spec.ID, JobID: spec.JobID}, nil
}

func (f *fakeExecutor) JobState(_ context.Context, jobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpGetJobState)
	if _, ok := f.jobs[jobID]; !ok {
		return "", apperrors.Remote(OpGetJobState, errors.New("JobNotFound"))
	}
	return f.state, nil
}

func (f *fakeExecutor) DeletePool(_ context.Context, poolID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpDeletePool)
	if _, ok := f.pools[poolID]; !ok {
		return apperrors.Remote(OpDeletePool, errors.New("PoolNotFound"))
	}
	delete(f.pools, poolID)
	return nil
}

func (f *fakeExecutor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return f.closeErr
}

func (f *fakeExecutor) factory() ExecutorFactory {
	return func(context.Context, *Config, azcore.TokenCredential) (Executor, error) {
		return f, nil
	}
}

// countingProvider counts acquire and release calls.
type countingProvider struct {
	*credential.Session
	mu       sync.Mutex
	acquired int
	released int
	err      error
}

func newCountingProvider() *countingProvider {
	return &countingProvider{Session: credential.NewStatic("fake-token")}
}

func (p *countingProvider) Acquire() (azcore.TokenCredential, error) {
	p.mu.Lock()
	p.acquired++
	p.mu.Unlock()
	return p.Session.Acquire()
}

func (p *countingProvider) Release() error {
	p.mu.Lock()
	p.released++
	p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	return p.Session.Release()
}
