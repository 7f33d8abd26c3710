package blobstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azflow/internal/apperrors"
	"azflow/internal/config"
	"azflow/internal/connector"
	"azflow/internal/connector/blob"
	"azflow/internal/credential"
)

// blobServer is a minimal Blob service: PUT stores, GET returns.
type blobServer struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newBlobServer(t *testing.T) (*blobServer, string) {
	t.Helper()
	s := &blobServer{blobs: make(map[string][]byte)}
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts.URL + "/"
}

func (s *blobServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		s.blobs[r.URL.Path] = data
		w.Header().Set("ETag", `"0x1"`)
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		data, ok := s.blobs[r.URL.Path]
		if !ok {
			w.Header().Set("x-ms-error-code", string(bloberror.BlobNotFound))
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?><Error><Code>BlobNotFound</Code><Message>The specified blob does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("x-ms-blob-type", "BlockBlob")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestUploadAndDownload(t *testing.T) {
	t.Parallel()
	srv, url := newBlobServer(t)

	store, err := New(url, nil, nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	b := store.Blob("mycontainer", "myfile.txt")
	require.NoError(t, b.Upload(ctx, []byte("hello")))

	srv.mu.Lock()
	assert.Equal(t, []byte("hello"), srv.blobs["/mycontainer/myfile.txt"])
	srv.mu.Unlock()

	data, err := b.Download(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestDownloadMissing(t *testing.T) {
	t.Parallel()
	_, url := newBlobServer(t)

	store, err := New(url, nil, nil)
	require.NoError(t, err)

	_, err = store.Blob("c", "missing").Download(context.Background())
	require.Error(t, err)
	assert.True(t, bloberror.HasCode(err, bloberror.BlobNotFound))

	var respErr *azcore.ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusNotFound, respErr.StatusCode)
}

func TestBlobConnectorOverStore(t *testing.T) {
	t.Parallel()
	_, url := newBlobServer(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("round trip"), 0o644))
	ctx := context.Background()

	run := func(cfg blob.Config) (string, error) {
		cfg.BlobAccountURL = url
		c, err := blob.New(cfg, Factory(nil),
			connector.WithLookup(config.MapLookup(nil)),
			connector.WithCredential(credential.None()))
		require.NoError(t, err)
		defer c.Close()
		require.NoError(t, c.Setup(ctx))
		return c.Run(ctx, "")
	}

	out, err := run(blob.Config{Action: "upload", Container: "c", BlobName: "b.txt", LocalPath: src})
	require.NoError(t, err)
	assert.Equal(t, "upload completed", out)

	dst := filepath.Join(dir, "out", "b.txt")
	out, err = run(blob.Config{Action: "download", Container: "c", BlobName: "b.txt", LocalPath: dst})
	require.NoError(t, err)
	assert.Equal(t, "download completed", out)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "round trip", string(data))

	out, err = run(blob.Config{Action: "read", Container: "c", BlobName: "b.txt"})
	require.NoError(t, err)
	assert.Equal(t, "round trip", out)

	_, err = run(blob.Config{Action: "read", Container: "c", BlobName: "nope"})
	assert.ErrorIs(t, err, apperrors.ErrRemoteOperation)
}
