// Package batch implements the pool/job/task lifecycle connector.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"azflow/internal/apperrors"
	"azflow/internal/connector"
	"azflow/internal/credential"
)

// Kind is the registered type name of the Azure Batch connector.
const Kind = "eu.across.azure.batch"

// Connector sequences pool creation, job submission, task submission,
// status polling and teardown against an injected Executor.
type Connector struct {
	kind     string
	name     string
	cfg      *Config
	factory  ExecutorFactory
	creds    credential.Provider
	observer connector.Observer
	logger   *slog.Logger

	mu           sync.Mutex
	state        connector.State
	exec         Executor
	poolCreated  bool
	jobSubmitted bool
	closed       bool
}

var _ connector.Connector = (*Connector)(nil)

// New resolves the configuration and builds a connector. Missing
// connection fields fail here with a configuration error.
func New(explicit Config, factory ExecutorFactory, opts ...connector.Option) (*Connector, error) {
	if factory == nil {
		return nil, apperrors.Internal("batch.new", errors.New("executor factory is required"))
	}
	o := connector.ApplyOptions(opts)

	cfg, err := resolve(explicit, o.Lookup, !o.Local)
	if err != nil {
		return nil, err
	}

	creds := o.Credential
	if creds == nil {
		if o.Local {
			creds = credential.None()
		} else {
			creds = credential.NewClientSecret(cfg.TenantID, cfg.ClientID, cfg.ClientSecret)
		}
	}

	kind := o.Kind
	if kind == "" {
		kind = Kind
	}
	name := o.Name
	if name == "" {
		name = cfg.Job.ID
	}

	return &Connector{
		kind:     kind,
		name:     name,
		cfg:      cfg,
		factory:  factory,
		creds:    creds,
		observer: o.Observer,
		logger:   o.Logger.With("component", "batch", "name", name),
		state:    connector.StateUninitialized,
	}, nil
}

// Kind returns the registered type name.
func (c *Connector) Kind() string { return c.kind }

// Config returns the resolved configuration.
func (c *Connector) Config() Config { return *c.cfg }

// State returns the local lifecycle state.
func (c *Connector) State() connector.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Setup acquires the credential, connects the executor, creates the pool
// and submits the job. A failure leaves the connector failed; resources
// created before the failure are left for Teardown.
func (c *Connector) Setup(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.state != connector.StateUninitialized {
		state := c.state
		c.mu.Unlock()
		return apperrors.Conflict("connector", c.name, fmt.Sprintf("cannot set up connector in state %s", state))
	}
	c.state = connector.StateSettingUp
	c.mu.Unlock()

	start := time.Now()
	c.observe(ctx, connector.CheckpointSetupStart, 0, nil)
	defer func() {
		c.mu.Lock()
		if err != nil {
			c.state = connector.StateFailed
		} else {
			c.state = connector.StateReady
		}
		c.mu.Unlock()
		c.observe(ctx, connector.CheckpointSetupDone, time.Since(start), err)
	}()

	cred, err := c.creds.Acquire()
	if err != nil {
		return apperrors.Internal("credential.acquire", err)
	}

	exec, err := c.factory(ctx, c.cfg, cred)
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return err
		}
		return apperrors.Internal("batch.connect", err)
	}
	c.mu.Lock()
	c.exec = exec
	c.mu.Unlock()

	pool, err := exec.CreatePool(ctx, PoolSpec{
		ID:        c.cfg.Pool.ID,
		VMSize:    c.cfg.Pool.VMSize,
		NodeCount: c.cfg.Pool.NodeCount,
		Image:     c.cfg.Pool.OSImage,
	})
	if err != nil {
		return apperrors.Remote(OpCreatePool, err)
	}
	c.mu.Lock()
	c.poolCreated = true
	c.mu.Unlock()
	c.logger.DebugContext(ctx, "pool created", "poolId", pool.ID)

	job, err := exec.SubmitJob(ctx, JobSpec{ID: c.cfg.Job.ID, PoolID: c.jobPoolID()})
	if err != nil {
		return apperrors.Remote(OpSubmitJob, err)
	}
	c.mu.Lock()
	c.jobSubmitted = true
	c.mu.Unlock()
	c.logger.DebugContext(ctx, "job submitted", "jobId", job.ID, "poolId", job.PoolID)

	return nil
}

// Run submits the configured task under the job created by Setup. command
// supplies the command line; when empty, task.command_line is used. The
// task ID always comes from configuration, so a second Run resubmits the
// same ID and is rejected by the service.
func (c *Connector) Run(ctx context.Context, command string) (taskID string, err error) {
	c.mu.Lock()
	exec := c.exec
	if c.closed || exec == nil || !c.jobSubmitted {
		state := c.state
		c.mu.Unlock()
		return "", apperrors.Conflict("connector", c.name, fmt.Sprintf("cannot run connector in state %s", state))
	}
	c.mu.Unlock()

	commandLine := command
	if commandLine == "" {
		commandLine = c.cfg.Task.CommandLine
	}
	if commandLine == "" {
		return "", apperrors.Validation("command", "command line is required")
	}

	c.setState(connector.StateRunning)
	start := time.Now()
	defer func() {
		if err != nil {
			c.setState(connector.StateFailed)
		}
		c.observe(ctx, connector.CheckpointRunDone, time.Since(start), err)
	}()

	task, err := exec.SubmitTask(ctx, TaskSpec{
		JobID:         c.cfg.Job.ID,
		ID:            c.cfg.Task.ID,
		CommandLine:   commandLine,
		ResourceFiles: c.cfg.Task.ResourceFiles,
	})
	if err != nil {
		return "", apperrors.Remote(OpSubmitTask, err)
	}
	c.logger.DebugContext(ctx, "task submitted", "jobId", task.JobID, "taskId", task.ID)
	return task.ID, nil
}

// Status reports the job state exactly as the service returns it. taskID
// is echoed for correlation and not used to filter. The job outlives
// Teardown, so Status keeps querying it until Close.
func (c *Connector) Status(ctx context.Context, taskID string) (*connector.Status, error) {
	c.mu.Lock()
	exec := c.exec
	if c.closed || exec == nil {
		state := c.state
		c.mu.Unlock()
		return nil, apperrors.Conflict("connector", c.name, fmt.Sprintf("cannot query connector in state %s", state))
	}
	c.mu.Unlock()

	state, err := exec.JobState(ctx, c.cfg.Job.ID)
	if err != nil {
		return nil, apperrors.Remote(OpGetJobState, err)
	}

	if state == connector.StatusCompleted {
		c.mu.Lock()
		if c.state == connector.StateRunning {
			c.state = connector.StateCompleted
		}
		c.mu.Unlock()
	}

	return &connector.Status{JobID: c.cfg.Job.ID, TaskID: taskID, State: state}, nil
}

// Teardown deletes the pool. It does nothing when no pool was created.
// A failed delete is returned and the pool is still considered present.
// The job is never deleted explicitly.
func (c *Connector) Teardown(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.Conflict("connector", c.name, "connector is closed")
	}
	exec := c.exec
	created := c.poolCreated
	attempted := c.state != connector.StateUninitialized
	c.mu.Unlock()

	start := time.Now()
	defer func() {
		if attempted {
			c.observe(ctx, connector.CheckpointTeardownDone, time.Since(start), err)
		}
	}()

	if !created || exec == nil {
		if attempted {
			c.setState(connector.StateTornDown)
		}
		return nil
	}

	if err := exec.DeletePool(ctx, c.cfg.Pool.ID); err != nil {
		return apperrors.Remote(OpDeletePool, err)
	}

	c.mu.Lock()
	c.poolCreated = false
	c.state = connector.StateTornDown
	c.mu.Unlock()
	c.logger.DebugContext(ctx, "pool deleted", "poolId", c.cfg.Pool.ID)
	return nil
}

// Close releases the executor and the credential. Both releases are
// attempted; failures are combined into one resource release error.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	exec := c.exec
	c.exec = nil
	c.state = connector.StateClosed
	c.mu.Unlock()

	var err error
	if exec != nil {
		err = multierr.Append(err, exec.Close())
	}
	err = multierr.Append(err, c.creds.Release())
	if err != nil {
		return apperrors.ResourceRelease(err)
	}
	return nil
}

func (c *Connector) jobPoolID() string {
	if c.cfg.Job.PoolID != "" {
		return c.cfg.Job.PoolID
	}
	return c.cfg.Pool.ID
}

func (c *Connector) setState(s connector.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connector) observe(ctx context.Context, cp connector.Checkpoint, d time.Duration, err error) {
	c.observer.Observe(ctx, connector.Event{
		Checkpoint: cp,
		Kind:       c.kind,
		Name:       c.name,
		Duration:   d,
		Err:        err,
	})
}
