// Package blobstore adapts the azblob client to the blob connector's Store.
package blobstore

import (
	"context"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"azflow/internal/apperrors"
	"azflow/internal/connector/blob"
)

// Options configures the underlying azblob client.
type Options struct {
	Transport policy.Transporter
	// InsecureAllowCredentialWithHTTP permits bearer tokens over plain
	// HTTP. Only for emulators such as Azurite.
	InsecureAllowCredentialWithHTTP bool
}

// Store is a blob.Store over one storage account.
type Store struct {
	client *azblob.Client
}

var _ blob.Store = (*Store)(nil)

// New connects to the account. A nil credential uses anonymous or SAS
// access encoded in the URL.
func New(accountURL string, cred azcore.TokenCredential, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	clientOpts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport:                       opts.Transport,
			InsecureAllowCredentialWithHTTP: opts.InsecureAllowCredentialWithHTTP,
			// One attempt per action; callers decide whether to rerun.
			Retry: policy.RetryOptions{MaxRetries: -1},
		},
	}

	var (
		client *azblob.Client
		err    error
	)
	if cred == nil {
		client, err = azblob.NewClientWithNoCredential(accountURL, clientOpts)
	} else {
		client, err = azblob.NewClient(accountURL, cred, clientOpts)
	}
	if err != nil {
		return nil, apperrors.Remote(blob.OpConnect, err)
	}
	return &Store{client: client}, nil
}

// Factory adapts New to blob.StoreFactory.
func Factory(opts *Options) blob.StoreFactory {
	return func(_ context.Context, cfg *blob.Config, cred azcore.TokenCredential) (blob.Store, error) {
		return New(cfg.BlobAccountURL, cred, opts)
	}
}

// Blob returns a client for one blob.
func (s *Store) Blob(container, name string) blob.Client {
	return &blobClient{client: s.client, container: container, name: name}
}

// Close is a no-op; the azblob client holds no per-store connections.
func (s *Store) Close() error {
	return nil
}

type blobClient struct {
	client    *azblob.Client
	container string
	name      string
}

// Upload writes data as a block blob, replacing any existing content.
func (b *blobClient) Upload(ctx context.Context, data []byte) error {
	_, err := b.client.UploadBuffer(ctx, b.container, b.name, data, nil)
	return err
}

// Download reads the whole blob.
func (b *blobClient) Download(ctx context.Context) ([]byte, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, b.name, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
