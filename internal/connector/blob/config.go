package blob

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/imdario/mergo"

	"azflow/internal/apperrors"
	"azflow/internal/config"
)

// EnvAccountURL is the fallback for blob_account_url.
const EnvAccountURL = "AZURE_STORAGE_ACCOUNT_URL"

// Actions
const (
	ActionUpload   = "upload"
	ActionDownload = "download"
	ActionRead     = "read"
)

// DefaultEncoding is used by the read action when none is configured.
const DefaultEncoding = "utf-8"

// Config is the blob connector configuration.
type Config struct {
	BlobAccountURL string `json:"blob_account_url"`
	Action         string `json:"action"`
	Container      string `json:"container"`
	BlobName       string `json:"blob_name"`
	LocalPath      string `json:"local_path,omitempty"`
	Encoding       string `json:"encoding,omitempty"`
}

// Resolve fills empty fields from lookup and defaults, then validates.
// Actions must match exactly; an unknown action is an invalid action
// error. Everything else missing is reported in one configuration error.
func Resolve(explicit Config, lookup config.Lookup) (*Config, error) {
	cfg := explicit

	fallback := Config{
		BlobAccountURL: lookup.Value(EnvAccountURL),
		Encoding:       DefaultEncoding,
	}
	if err := mergo.Merge(&cfg, fallback); err != nil {
		return nil, apperrors.Internal("config.merge", err)
	}

	if err := config.Required(cfg.validate()); err != nil {
		return nil, err
	}

	switch cfg.Action {
	case ActionUpload, ActionDownload, ActionRead:
	default:
		return nil, apperrors.InvalidAction(cfg.Action)
	}

	if _, err := lookupEncoding(cfg.Encoding); err != nil {
		return nil, apperrors.InvalidConfiguration("encoding", err.Error())
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	needsPath := c.Action == ActionUpload || c.Action == ActionDownload
	return validation.ValidateStruct(c,
		validation.Field(&c.BlobAccountURL, validation.Required),
		validation.Field(&c.Action, validation.Required),
		validation.Field(&c.Container, validation.Required),
		validation.Field(&c.BlobName, validation.Required),
		validation.Field(&c.LocalPath, validation.When(needsPath, validation.Required)),
	)
}

// String describes the blob reference.
func (c Config) String() string {
	return fmt.Sprintf("blob(%s %s/%s)", c.Action, c.Container, c.BlobName)
}

// LogValue implements slog.LogValuer.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("account", c.BlobAccountURL),
		slog.String("action", c.Action),
		slog.String("container", c.Container),
		slog.String("blob", c.BlobName),
	)
}
