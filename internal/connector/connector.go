// Package connector defines the lifecycle contract shared by all connector kinds.
package connector

import "context"

// Connector drives one remote resource lifecycle on behalf of a workflow engine.
//
// # Lifecycle
//
// A connector moves through Setup, Run, Status and Teardown and is finally
// closed:
//
//	uninitialized -> setting-up -> ready -> running -> completed
//	                            \-> failed                   \-> torn-down -> closed
//
// Setup failures leave the connector failed without cleaning up what was
// already created. Teardown is the caller's explicit decision.
//
// # Ownership
//
// A connector owns its credential provider and its remote client. Close
// releases both exactly once, even after a partial setup.
type Connector interface {
	// Setup acquires credentials and provisions remote resources.
	Setup(ctx context.Context) error

	// Run performs the connector's unit of work and returns an identifier
	// or result for the caller.
	Run(ctx context.Context, command string) (string, error)

	// Status returns a fresh snapshot of the remote state.
	Status(ctx context.Context, taskID string) (*Status, error)

	// Teardown deletes the remote resources created by Setup.
	Teardown(ctx context.Context) error

	// Close releases credentials and clients. Safe to call more than once.
	Close() error

	// State returns the local lifecycle state.
	State() State

	// Kind returns the registered connector type name.
	Kind() string
}

// State is the local lifecycle state of a connector.
type State string

// State constants
const (
	StateUninitialized State = "uninitialized"
	StateSettingUp     State = "setting-up"
	StateReady         State = "ready"
	StateRunning       State = "running"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateTornDown      State = "torn-down"
	StateClosed        State = "closed"
)

// Status is a point-in-time snapshot of remote state. It is never cached.
type Status struct {
	JobID  string `json:"jobId,omitempty"`
	TaskID string `json:"taskId"`
	State  string `json:"state"`
}

// StatusCompleted is reported by connectors whose work finishes inside Run.
const StatusCompleted = "completed"
