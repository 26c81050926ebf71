package gcs

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "shots"})
	require.NoError(t, err)
	return store
}

func TestNewRequiresClientAndBucket(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "shots"})
	assert.ErrorContains(t, err, "client is required")
	_, err = Dial(context.Background(), Config{Bucket: "  "})
	assert.ErrorContains(t, err, "bucket name is required")
}

func TestPutObjectUploadsOnce(t *testing.T) {
	t.Parallel()

	type upload struct {
		path  string
		query string
		body  string
	}
	uploads := make(chan upload, 1)
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		uploads <- upload{path: r.URL.Path, query: r.URL.RawQuery, body: string(body)}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"bucket":"shots","name":"screenshots/ab/abcd.png"}`)
	})

	uri, err := store.PutObject(context.Background(), "/screenshots/ab/abcd.png", "image/png", bytes.NewReader([]byte("png-bytes")))
	require.NoError(t, err)
	assert.Equal(t, "gs://shots/screenshots/ab/abcd.png", uri)

	got := <-uploads
	assert.Contains(t, got.path, "/b/shots/o")
	assert.Contains(t, got.query, "ifGenerationMatch=0")
	assert.Contains(t, got.body, "png-bytes")
	assert.Contains(t, got.body, "image/png")
	assert.Contains(t, got.body, "immutable")
	assert.NoError(t, store.Close())
}

func TestPutObjectExistingObjectIsNotAnError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		_, _ = io.WriteString(w, `{"error":{"code":412,"message":"At least one of the pre-conditions you specified did not hold."}}`)
	})

	uri, err := store.PutObject(context.Background(), "screenshots/ab/abcd.png", "image/png", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	assert.Equal(t, "gs://shots/screenshots/ab/abcd.png", uri)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := store.PutObject(context.Background(), "x.png", "image/png", bytes.NewReader([]byte("x")))
	assert.ErrorContains(t, err, "x.png")

	_, err = store.PutObject(context.Background(), " ", "image/png", bytes.NewReader(nil))
	assert.ErrorContains(t, err, "path is required")
}
