package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler, cfg Config) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	store, err := New(client, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	assert.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/evidence-bucket/o")
		assert.Equal(t, "offers/item-1/abc.html", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "<html>snapshot</html>")
		fmt.Fprintln(w, `{"name": "offers/item-1/abc.html", "bucket": "evidence-bucket"}`)
	})
	store := newTestStore(t, handler, Config{Bucket: "evidence-bucket", Prefix: "/offers/"})

	uri, err := store.PutObject(context.Background(), "item-1/abc.html", "text/html", strings.NewReader("<html>snapshot</html>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://evidence-bucket/offers/item-1/abc.html", uri)
}

func TestPutObjectError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store := newTestStore(t, handler, Config{Bucket: "evidence-bucket"})

	_, err := store.PutObject(context.Background(), "item-1/abc.html", "text/html", strings.NewReader("x"))
	assert.Error(t, err)

	_, err = store.PutObject(context.Background(), " ", "text/html", strings.NewReader("x"))
	assert.Error(t, err)
}
