package batch

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// Operation labels carried by remote errors.
const (
	OpCreatePool  = "batch.createPool"
	OpSubmitJob   = "batch.submitJob"
	OpSubmitTask  = "batch.submitTask"
	OpGetJobState = "batch.getJobState"
	OpDeletePool  = "batch.deletePool"
)

// PoolSpec is the request to create a pool.
type PoolSpec struct {
	ID        string
	VMSize    string
	NodeCount int
	Image     OSImage
}

// JobSpec is the request to submit a job onto a pool.
type JobSpec struct {
	ID     string
	PoolID string
}

// TaskSpec is the request to submit a task under a job. A nil
// ResourceFiles slice is omitted from the request entirely.
type TaskSpec struct {
	JobID         string
	ID            string
	CommandLine   string
	ResourceFiles []ResourceFile
}

// PoolHandle identifies a created pool.
type PoolHandle struct {
	ID string
}

// JobHandle identifies a submitted job.
type JobHandle struct {
	ID     string
	PoolID string
}

// TaskHandle identifies a submitted task.
type TaskHandle struct {
	ID    string
	JobID string
}

// Executor performs single-attempt calls against a batch service.
// Every failure is an apperrors.ErrRemoteOperation error carrying the
// operation label and the provider error. Implementations must be safe
// for concurrent use.
type Executor interface {
	CreatePool(ctx context.Context, spec PoolSpec) (*PoolHandle, error)
	SubmitJob(ctx context.Context, spec JobSpec) (*JobHandle, error)
	SubmitTask(ctx context.Context, spec TaskSpec) (*TaskHandle, error)
	// JobState returns the provider's state string unchanged.
	JobState(ctx context.Context, jobID string) (string, error)
	// DeletePool is not idempotent; deleting an unknown pool fails.
	DeletePool(ctx context.Context, poolID string) error
	Close() error
}

// ExecutorFactory builds an executor from the resolved configuration and
// an acquired credential. The credential is nil for local executors.
type ExecutorFactory func(ctx context.Context, cfg *Config, cred azcore.TokenCredential) (Executor, error)
