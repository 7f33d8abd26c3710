// Package azurebatch is a batch.Executor for the Azure Batch data-plane
// REST API built on the azcore HTTP pipeline.
package azurebatch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"

	"azflow/internal/apperrors"
	"azflow/internal/connector/batch"
)

const (
	moduleName    = "azflow/azurebatch"
	moduleVersion = "v1.0.0"

	// DefaultAPIVersion is the Batch service REST API version.
	DefaultAPIVersion = "2024-07-01.20.0"

	// Scope is the token scope for the Batch service.
	Scope = "https://batch.core.windows.net//.default"

	contentType = "application/json; odata=minimalmetadata"
)

// ErrClosed is returned for calls made after Close.
var ErrClosed = errors.New("batch client closed")

// Options configures a Client.
type Options struct {
	APIVersion string
	// Transport replaces the default HTTP client, e.g. in tests.
	Transport policy.Transporter
	// InsecureAllowCredentialWithHTTP permits bearer tokens over plain
	// HTTP. Only for emulators.
	InsecureAllowCredentialWithHTTP bool
}

// Client issues single-attempt Batch REST calls. Retries are disabled in
// the pipeline.
type Client struct {
	endpoint   string
	apiVersion string
	pl         runtime.Pipeline
	closed     atomic.Bool
}

var _ batch.Executor = (*Client)(nil)

// NewClient creates a client for a Batch account URL. cred may be nil for
// unauthenticated emulators.
func NewClient(accountURL string, cred azcore.TokenCredential, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	endpoint, err := normalizeEndpoint(accountURL)
	if err != nil {
		return nil, apperrors.InvalidConfiguration("batch_account_url", err.Error())
	}

	apiVersion := opts.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	var perRetry []policy.Policy
	if cred != nil {
		perRetry = append(perRetry, runtime.NewBearerTokenPolicy(cred, []string{Scope}, &policy.BearerTokenOptions{
			InsecureAllowCredentialWithHTTP: opts.InsecureAllowCredentialWithHTTP,
		}))
	}

	clientOpts := &policy.ClientOptions{
		Retry:     policy.RetryOptions{MaxRetries: -1},
		Transport: opts.Transport,
	}
	pl := runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{PerRetry: perRetry}, clientOpts)

	return &Client{endpoint: endpoint, apiVersion: apiVersion, pl: pl}, nil
}

// Factory adapts NewClient to batch.ExecutorFactory.
func Factory(opts *Options) batch.ExecutorFactory {
	return func(_ context.Context, cfg *batch.Config, cred azcore.TokenCredential) (batch.Executor, error) {
		return NewClient(cfg.BatchAccountURL, cred, opts)
	}
}

// CreatePool adds a pool of dedicated nodes.
func (c *Client) CreatePool(ctx context.Context, spec batch.PoolSpec) (*batch.PoolHandle, error) {
	if err := c.do(ctx, batch.OpCreatePool, http.MethodPost, "/pools", newPoolAddParameter(spec), nil, http.StatusCreated); err != nil {
		return nil, err
	}
	return &batch.PoolHandle{ID: spec.ID}, nil
}

// SubmitJob adds a job bound to an existing pool.
func (c *Client) SubmitJob(ctx context.Context, spec batch.JobSpec) (*batch.JobHandle, error) {
	body := jobAddParameter{ID: spec.ID, PoolInfo: poolInformation{PoolID: spec.PoolID}}
	if err := c.do(ctx, batch.OpSubmitJob, http.MethodPost, "/jobs", body, nil, http.StatusCreated); err != nil {
		return nil, err
	}
	return &batch.JobHandle{ID: spec.ID, PoolID: spec.PoolID}, nil
}

// SubmitTask adds a task to a job.
func (c *Client) SubmitTask(ctx context.Context, spec batch.TaskSpec) (*batch.TaskHandle, error) {
	path := "/jobs/" + url.PathEscape(spec.JobID) + "/tasks"
	if err := c.do(ctx, batch.OpSubmitTask, http.MethodPost, path, newTaskAddParameter(spec), nil, http.StatusCreated); err != nil {
		return nil, err
	}
	return &batch.TaskHandle{ID: spec.ID, JobID: spec.JobID}, nil
}

// JobState returns the job's state field as reported by the service.
func (c *Client) JobState(ctx context.Context, jobID string) (string, error) {
	var job cloudJob
	if err := c.do(ctx, batch.OpGetJobState, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &job, http.StatusOK); err != nil {
		return "", err
	}
	return job.State, nil
}

// DeletePool deletes a pool. The service deletes asynchronously.
func (c *Client) DeletePool(ctx context.Context, poolID string) error {
	return c.do(ctx, batch.OpDeletePool, http.MethodDelete, "/pools/"+url.PathEscape(poolID), nil, nil, http.StatusAccepted)
}

// Close marks the client closed. The pipeline holds no connections of its own.
func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any, want int) error {
	if c.closed.Load() {
		return apperrors.Remote(op, ErrClosed)
	}

	req, err := runtime.NewRequest(ctx, method, c.endpoint+path)
	if err != nil {
		return apperrors.Remote(op, err)
	}
	q := req.Raw().URL.Query()
	q.Set("api-version", c.apiVersion)
	req.Raw().URL.RawQuery = q.Encode()
	req.Raw().Header.Set("Accept", "application/json")

	if body != nil {
		if err := runtime.MarshalAsJSON(req, body); err != nil {
			return apperrors.Remote(op, err)
		}
		req.Raw().Header.Set("Content-Type", contentType)
	}

	resp, err := c.pl.Do(req)
	if err != nil {
		return apperrors.Remote(op, err)
	}
	if !runtime.HasStatusCode(resp, want) {
		return apperrors.Remote(op, runtime.NewResponseError(resp))
	}

	if out != nil {
		if err := runtime.UnmarshalAsJSON(resp, out); err != nil {
			return apperrors.Remote(op, err)
		}
	} else {
		runtime.Drain(resp)
	}
	return nil
}

func normalizeEndpoint(accountURL string) (string, error) {
	raw := strings.TrimSpace(accountURL)
	if raw == "" {
		return "", errors.New("account URL is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", errors.New("account URL has no host")
	}
	return strings.TrimRight(u.String(), "/"), nil
}
