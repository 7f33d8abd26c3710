package batch

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/imdario/mergo"

	"azflow/internal/apperrors"
	"azflow/internal/config"
)

// Environment fallbacks for the connection fields.
const (
	EnvAccountURL   = "AZURE_BATCH_ACCOUNT_URL"
	EnvClientID     = "AZURE_CLIENT_ID"
	EnvClientSecret = "AZURE_CLIENT_SECRET"
	EnvTenantID     = "AZURE_TENANT_ID"
)

// Config is the batch connector configuration.
type Config struct {
	BatchAccountURL string     `json:"batch_account_url"`
	ClientID        string     `json:"client_id"`
	ClientSecret    string     `json:"client_secret"`
	TenantID        string     `json:"tenant_id"`
	Pool            PoolConfig `json:"pool"`
	Job             JobConfig  `json:"job"`
	Task            TaskConfig `json:"task"`
}

// OSImage identifies a marketplace VM image.
type OSImage struct {
	Publisher string `json:"publisher"`
	Offer     string `json:"offer"`
	SKU       string `json:"sku"`
}

// PoolConfig describes the compute pool created by Setup.
type PoolConfig struct {
	ID        string  `json:"id"`
	VMSize    string  `json:"vm_size"`
	NodeCount int     `json:"node_count"`
	OSImage   OSImage `json:"os_image"`
}

// JobConfig describes the job submitted by Setup.
type JobConfig struct {
	ID     string `json:"id"`
	PoolID string `json:"pool_id"`
}

// TaskConfig describes the task submitted by Run.
type TaskConfig struct {
	ID            string         `json:"id"`
	CommandLine   string         `json:"command_line"`
	ResourceFiles []ResourceFile `json:"resource_files,omitempty"`
}

// ResourceFile is a file staged onto the compute node before the task runs.
type ResourceFile struct {
	AutoStorageContainerName string `json:"auto_storage_container_name,omitempty"`
	StorageContainerURL      string `json:"storage_container_url,omitempty"`
	HTTPURL                  string `json:"http_url,omitempty"`
	BlobPrefix               string `json:"blob_prefix,omitempty"`
	FilePath                 string `json:"file_path,omitempty"`
	FileMode                 string `json:"file_mode,omitempty"`
}

// Resolve fills empty connection fields from lookup and validates that all
// four are present. Nothing remote is contacted.
func Resolve(explicit Config, lookup config.Lookup) (*Config, error) {
	return resolve(explicit, lookup, true)
}

func resolve(explicit Config, lookup config.Lookup, requireAccount bool) (*Config, error) {
	fallback := Config{
		BatchAccountURL: lookup.Value(EnvAccountURL),
		ClientID:        lookup.Value(EnvClientID),
		ClientSecret:    lookup.Value(EnvClientSecret),
		TenantID:        lookup.Value(EnvTenantID),
	}

	cfg := explicit
	if err := mergo.Merge(&cfg, fallback); err != nil {
		return nil, apperrors.Internal("config.merge", err)
	}

	if err := config.Required(cfg.validate(requireAccount)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate(requireAccount bool) error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BatchAccountURL, validation.When(requireAccount, validation.Required)),
		validation.Field(&c.ClientID, validation.When(requireAccount, validation.Required)),
		validation.Field(&c.ClientSecret, validation.When(requireAccount, validation.Required)),
		validation.Field(&c.TenantID, validation.When(requireAccount, validation.Required)),
		validation.Field(&c.Pool),
	)
}

// Validate checks the pool descriptor.
func (p PoolConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.NodeCount, validation.Min(0)),
	)
}

// String describes the configuration without the client secret.
func (c Config) String() string {
	return fmt.Sprintf("batch(account=%s, client=%s, tenant=%s, pool=%s, job=%s, task=%s)",
		c.BatchAccountURL, c.ClientID, c.TenantID, c.Pool.ID, c.Job.ID, c.Task.ID)
}

// LogValue implements slog.LogValuer without the client secret.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("account", c.BatchAccountURL),
		slog.String("clientId", c.ClientID),
		slog.String("tenantId", c.TenantID),
		slog.String("poolId", c.Pool.ID),
		slog.String("jobId", c.Job.ID),
		slog.String("taskId", c.Task.ID),
	)
}
