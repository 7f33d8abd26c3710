package blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"azflow/internal/apperrors"
)

// Action is one blob operation performed by Run.
type Action interface {
	Name() string
	Apply(ctx context.Context, client Client) (string, error)
}

// Upload sends a local file to the blob, overwriting it.
type Upload struct {
	LocalPath string
	Logger    *slog.Logger
}

func (a *Upload) Name() string { return ActionUpload }

// Apply uploads the local file.
func (a *Upload) Apply(ctx context.Context, client Client) (string, error) {
	data, err := os.ReadFile(a.LocalPath)
	if err != nil {
		return "", apperrors.Internal(OpUpload, fmt.Errorf("failed to read file: %w", err))
	}
	if err := client.Upload(ctx, data); err != nil {
		return "", apperrors.Remote(OpUpload, err)
	}
	a.Logger.DebugContext(ctx, "uploaded blob", "bytes", len(data), "path", a.LocalPath)
	return "upload completed", nil
}

// Download writes the blob content to a local file.
type Download struct {
	LocalPath string
	Logger    *slog.Logger
}

func (a *Download) Name() string { return ActionDownload }

// Apply downloads the blob, creating parent directories as needed.
func (a *Download) Apply(ctx context.Context, client Client) (string, error) {
	data, err := client.Download(ctx)
	if err != nil {
		return "", apperrors.Remote(OpDownload, err)
	}

	if dir := filepath.Dir(a.LocalPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", apperrors.Internal(OpDownload, fmt.Errorf("failed to create directory: %w", err))
		}
	}
	if err := os.WriteFile(a.LocalPath, data, 0o644); err != nil {
		return "", apperrors.Internal(OpDownload, fmt.Errorf("failed to write file: %w", err))
	}

	a.Logger.DebugContext(ctx, "downloaded blob", "bytes", len(data), "path", a.LocalPath)
	return "download completed", nil
}

// Read returns the blob content decoded as text.
type Read struct {
	Encoding string
}

func (a *Read) Name() string { return ActionRead }

// Apply downloads and decodes the blob.
func (a *Read) Apply(ctx context.Context, client Client) (string, error) {
	data, err := client.Download(ctx)
	if err != nil {
		return "", apperrors.Remote(OpRead, err)
	}
	text, err := decode(data, a.Encoding)
	if err != nil {
		return "", apperrors.Internal(OpRead, err)
	}
	return text, nil
}

func newAction(cfg *Config, logger *slog.Logger) (Action, error) {
	switch cfg.Action {
	case ActionUpload:
		return &Upload{LocalPath: cfg.LocalPath, Logger: logger}, nil
	case ActionDownload:
		return &Download{LocalPath: cfg.LocalPath, Logger: logger}, nil
	case ActionRead:
		return &Read{Encoding: cfg.Encoding}, nil
	default:
		return nil, apperrors.InvalidAction(cfg.Action)
	}
}
