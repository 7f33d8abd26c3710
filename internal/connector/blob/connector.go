// Package blob implements the object-storage connector: one upload,
// download or read per Run against a single blob.
package blob

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

// Kind is the registered type name of the blob connector.
const Kind = "eu.across.azure.blob"

// Connector runs its configured action against one blob.
type Connector struct {
	kind     string
	name     string
	cfg      *Config
	action   Action
	factory  StoreFactory
	creds    credential.Provider
	observer connector.Observer
	logger   *slog.Logger

	mu     sync.Mutex
	state  connector.State
	store  Store
	closed bool
}

var _ connector.Connector = (*Connector)(nil)

// New resolves the configuration and builds a connector.
func New(explicit Config, factory StoreFactory, opts ...connector.Option) (*Connector, error) {
	if factory == nil {
		return nil, apperrors.Internal("blob.new", errors.New("store factory is required"))
	}
	o := connector.ApplyOptions(opts)

	cfg, err := Resolve(explicit, o.Lookup)
	if err != nil {
		return nil, err
	}
	creds := o.Credential
	if creds == nil {
		if o.Local {
			creds = credential.None()
		} else {
			creds = credential.NewDefault()
		}
	}

	kind := o.Kind
	if kind == "" {
		kind = Kind
	}
	name := o.Name
	if name == "" {
		name = cfg.Container + "/" + cfg.BlobName
	}

	logger := o.Logger.With("component", "blob", "name", name)
	action, err := newAction(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Connector{
		kind:     kind,
		name:     name,
		cfg:      cfg,
		action:   action,
		factory:  factory,
		creds:    creds,
		observer: o.Observer,
		logger:   logger,
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

// Setup acquires the credential and connects to the storage account.
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

	store, err := c.factory(ctx, c.cfg, cred)
	if err != nil {
		return apperrors.Remote(OpConnect, err)
	}

	c.mu.Lock()
	c.store = store
	c.mu.Unlock()
	c.logger.DebugContext(ctx, "storage connected", "account", c.cfg.BlobAccountURL)
	return nil
}

// Run performs the configured action. It may be called repeatedly; the
// command argument is ignored.
func (c *Connector) Run(ctx context.Context, _ string) (result string, err error) {
	c.mu.Lock()
	store := c.store
	if c.closed || store == nil {
		state := c.state
		c.mu.Unlock()
		return "", apperrors.Conflict("connector", c.name, fmt.Sprintf("cannot run connector in state %s", state))
	}
	c.mu.Unlock()

	start := time.Now()
	defer func() {
		c.observe(ctx, connector.CheckpointRunDone, time.Since(start), err)
	}()

	return c.action.Apply(ctx, store.Blob(c.cfg.Container, c.cfg.BlobName))
}

// Status always reports completed: blob actions finish inside Run.
func (c *Connector) Status(_ context.Context, taskID string) (*connector.Status, error) {
	return &connector.Status{TaskID: taskID, State: connector.StatusCompleted}, nil
}

// Teardown has nothing to delete. The checkpoint is only reported once
// setup was attempted.
func (c *Connector) Teardown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.Conflict("connector", c.name, "connector is closed")
	}
	attempted := c.state != connector.StateUninitialized
	c.mu.Unlock()

	if attempted {
		c.observe(ctx, connector.CheckpointTeardownDone, 0, nil)
	}
	return nil
}

// Close releases the store and the credential.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	store := c.store
	c.store = nil
	c.state = connector.StateClosed
	c.mu.Unlock()

	var err error
	if store != nil {
		err = multierr.Append(err, store.Close())
	}
	err = multierr.Append(err, c.creds.Release())
	if err != nil {
		return apperrors.ResourceRelease(err)
	}
	return nil
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
