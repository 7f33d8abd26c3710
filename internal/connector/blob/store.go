package blob

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// Operation labels carried by remote errors.
const (
	OpConnect  = "blob.connect"
	OpUpload   = "blob.upload"
	OpDownload = "blob.download"
	OpRead     = "blob.read"
)

// Store opens per-blob clients on one storage account.
type Store interface {
	Blob(container, name string) Client
	Close() error
}

// Client moves the whole content of one blob.
type Client interface {
	// Upload replaces the blob content.
	Upload(ctx context.Context, data []byte) error
	Download(ctx context.Context) ([]byte, error)
}

// StoreFactory connects a store for the resolved configuration.
type StoreFactory func(ctx context.Context, cfg *Config, cred azcore.TokenCredential) (Store, error)
