// Package deployment hosts named connector instances behind the HTTP API.
package deployment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"azflow/internal/apperrors"
	"azflow/internal/config"
	"azflow/internal/connector"
	"azflow/internal/plugin"
)

const maxIDLength = 128

// idPattern allows alphanumeric, hyphens, and underscores
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ErrShuttingDown is returned once Close has started.
var ErrShuttingDown = errors.New("deployment service is shutting down")

// Builder creates connectors by type name. *plugin.Registry implements it.
type Builder interface {
	New(kind string, raw json.RawMessage, env plugin.Env) (connector.Connector, error)
	Kinds() []string
}

// ActiveRecorder tracks connectors that are set up and not yet closed.
type ActiveRecorder interface {
	RecordDeploymentOpened(ctx context.Context, kind string)
	RecordDeploymentClosed(ctx context.Context, kind string)
}

type entry struct {
	id        string
	kind      string
	conn      connector.Connector
	opened    bool
	settingUp bool
	deleting  bool
}

// Service owns every deployment it creates. Deployments live in memory and
// are torn down and closed by Delete or by Close on shutdown.
type Service struct {
	builder  Builder
	lookup   config.Lookup
	observer connector.Observer
	active   ActiveRecorder

	mu          sync.RWMutex
	deployments map[string]*entry
	closed      bool
	creating    sync.WaitGroup // creates between reserve and return
}

// Option configures a Service.
type Option func(*Service)

// WithObserver adds an observer to every connector the service builds.
func WithObserver(o connector.Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithActiveRecorder records the number of open deployments.
func WithActiveRecorder(r ActiveRecorder) Option {
	return func(s *Service) { s.active = r }
}

// WithLookup replaces the environment as the connectors' fallback source.
func WithLookup(l config.Lookup) Option {
	return func(s *Service) { s.lookup = l }
}

// NewService creates a deployment service.
func NewService(builder Builder, opts ...Option) *Service {
	s := &Service{
		builder:     builder,
		lookup:      config.EnvLookup,
		deployments: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Types returns the connector types the service can build.
func (s *Service) Types() *ConnectorsResponse {
	return &ConnectorsResponse{Types: s.builder.Kinds()}
}

// Create builds a connector and sets it up. A connector whose setup fails
// is kept in state failed so that Delete can clean up whatever was created.
func (s *Service) Create(ctx context.Context, req *Request) (*Info, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	if err := s.reserve(req.ID); err != nil {
		return nil, err
	}
	defer s.creating.Done()

	logger := slog.With("deploymentId", req.ID, "type", req.Type)
	conn, err := s.builder.New(req.Type, req.Config, plugin.Env{
		Name:     req.ID,
		Lookup:   s.lookup,
		Observer: connector.Observers{connector.LogObserver{Logger: logger}, s.observer},
		Logger:   logger,
	})
	if err != nil {
		s.release(req.ID)
		logger.Warn("Deployment rejected", "error", err)
		return nil, err
	}

	e := &entry{id: req.ID, kind: req.Type, conn: conn, settingUp: true}
	s.mu.Lock()
	if s.closed {
		delete(s.deployments, req.ID)
		s.mu.Unlock()
		if err := conn.Close(); err != nil {
			logger.Warn("Close of abandoned deployment failed", "error", err)
		}
		return nil, apperrors.Unavailable("deployment.create", ErrShuttingDown)
	}
	s.deployments[req.ID] = e
	s.mu.Unlock()

	setupErr := conn.Setup(ctx)

	s.mu.Lock()
	e.settingUp = false
	e.opened = setupErr == nil
	// Close skips entries still setting up; once it has swapped the map
	// this create owns the cleanup.
	orphaned := s.deployments[req.ID] != e
	s.mu.Unlock()
	if e.opened && s.active != nil {
		s.active.RecordDeploymentOpened(ctx, req.Type)
	}

	if orphaned {
		logger.Warn("Deployment setup finished after shutdown, tearing down", "setupError", setupErr)
		err := multierr.Append(conn.Teardown(context.WithoutCancel(ctx)), s.closeEntry(ctx, e))
		if err != nil {
			logger.Error("Cleanup of late deployment failed", "error", err)
		}
		return nil, apperrors.Unavailable("deployment.create", ErrShuttingDown)
	}
	if setupErr != nil {
		logger.Error("Deployment setup failed", "error", setupErr)
		return nil, setupErr
	}

	logger.Info("Deployment created")
	return e.info(), nil
}

// Get returns one deployment.
func (s *Service) Get(ctx context.Context, id string) (*Info, error) {
	e, err := s.lookupEntry(id)
	if err != nil {
		return nil, err
	}
	return e.info(), nil
}

// List returns every deployment sorted by id.
func (s *Service) List(ctx context.Context) (*ListResponse, error) {
	s.mu.RLock()
	infos := make([]Info, 0, len(s.deployments))
	for _, e := range s.deployments {
		if e.conn != nil {
			infos = append(infos, *e.info())
		}
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return &ListResponse{Deployments: infos}, nil
}

// Run performs the deployment's unit of work.
func (s *Service) Run(ctx context.Context, id string, req *RunRequest) (*RunResponse, error) {
	e, err := s.lookupEntry(id)
	if err != nil {
		return nil, err
	}
	result, err := e.conn.Run(ctx, req.Command)
	if err != nil {
		slog.Warn("Deployment run failed", "deploymentId", id, "error", err)
		return nil, err
	}
	return &RunResponse{Result: result}, nil
}

// Status returns a fresh remote status snapshot.
func (s *Service) Status(ctx context.Context, id, taskID string) (*connector.Status, error) {
	e, err := s.lookupEntry(id)
	if err != nil {
		return nil, err
	}
	return e.conn.Status(ctx, taskID)
}

// Delete tears the deployment down and closes it. When teardown fails the
// deployment is kept so the delete can be retried.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.deployments[id]
	if !ok || e.conn == nil {
		s.mu.Unlock()
		return apperrors.NotFound("deployment", id)
	}
	if e.deleting {
		s.mu.Unlock()
		return apperrors.Conflict("deployment", id, fmt.Sprintf("deployment %s is being deleted", id))
	}
	if e.settingUp {
		s.mu.Unlock()
		return apperrors.Conflict("deployment", id, fmt.Sprintf("deployment %s is being set up", id))
	}
	e.deleting = true
	s.mu.Unlock()

	logger := slog.With("deploymentId", id, "type", e.kind)
	if err := e.conn.Teardown(ctx); err != nil {
		s.mu.Lock()
		e.deleting = false
		s.mu.Unlock()
		logger.Error("Deployment teardown failed", "error", err)
		return err
	}

	s.mu.Lock()
	delete(s.deployments, id)
	s.mu.Unlock()

	err := s.closeEntry(ctx, e)
	if err != nil {
		logger.Error("Deployment close failed", "error", err)
		return err
	}
	logger.Info("Deployment deleted")
	return nil
}

// Ready reports whether the service accepts new deployments.
func (s *Service) Ready(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrShuttingDown
	}
	return nil
}

// Close stops accepting deployments, waits for creates in flight until ctx
// is done, then tears down and closes every remaining deployment. Errors
// are aggregated; remaining deployments are still processed. A create that
// outlives the wait cleans up after itself.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.creating.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Stopped waiting for deployments being created", "error", ctx.Err())
	}

	s.mu.Lock()
	entries := make([]*entry, 0, len(s.deployments))
	for _, e := range s.deployments {
		if e.conn != nil && !e.deleting && !e.settingUp {
			entries = append(entries, e)
		}
	}
	s.deployments = make(map[string]*entry)
	s.mu.Unlock()

	var errs error
	for _, e := range entries {
		if err := e.conn.Teardown(ctx); err != nil {
			slog.Warn("Teardown on shutdown failed", "deploymentId", e.id, "error", err)
			errs = multierr.Append(errs, err)
		}
		errs = multierr.Append(errs, s.closeEntry(ctx, e))
	}
	return errs
}

func (s *Service) closeEntry(ctx context.Context, e *entry) error {
	err := e.conn.Close()
	if e.opened && s.active != nil {
		s.active.RecordDeploymentClosed(ctx, e.kind)
	}
	return err
}

// reserve claims id before the connector exists so concurrent creates with
// the same id conflict.
func (s *Service) reserve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.Unavailable("deployment.create", ErrShuttingDown)
	}
	if _, exists := s.deployments[id]; exists {
		return apperrors.Conflict("deployment", id, fmt.Sprintf("deployment %s already exists", id))
	}
	s.deployments[id] = &entry{id: id}
	s.creating.Add(1)
	return nil
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deployments, id)
}

func (s *Service) lookupEntry(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.deployments[id]
	if !ok || e.conn == nil || e.deleting {
		return nil, apperrors.NotFound("deployment", id)
	}
	return e, nil
}

func (e *entry) info() *Info {
	return &Info{ID: e.id, Type: e.kind, State: e.conn.State()}
}

func validate(req *Request) error {
	if len(req.ID) > maxIDLength {
		return apperrors.Validation("id", fmt.Sprintf("deployment ID exceeds maximum length of %d", maxIDLength))
	}
	if !idPattern.MatchString(req.ID) {
		return apperrors.Validation("id", "deployment ID must be alphanumeric (hyphens and underscores allowed, cannot start with hyphen/underscore)")
	}
	if req.Type == "" {
		return apperrors.Validation("type", "connector type is required")
	}
	return nil
}
