package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/storage/memory"
	"github.com/JakeFAU/offerwatch/internal/store"
	"github.com/JakeFAU/offerwatch/internal/watch"
	"github.com/JakeFAU/offerwatch/internal/watcher"
)

type fakeFleet map[string]watcher.State

func (f fakeFleet) Status(id string) (watcher.State, bool) {
	state, ok := f[id]
	return state, ok
}

type failingItems struct{ ItemStore }

func (failingItems) List(context.Context) ([]watch.TrackedItem, error) {
	return nil, errors.New("store down")
}

type testEnv struct {
	server  *Server
	items   *memory.ItemStore
	history *memory.HistoryStore
}

func newTestEnv(t *testing.T, apiKey string) testEnv {
	t.Helper()
	items := memory.NewItemStore(watch.Settings{})
	history := memory.NewHistoryStore()
	ctx := context.Background()
	require.NoError(t, items.Upsert(ctx, watch.TrackedItem{
		ID:          "ps5",
		URL:         "https://www.amazon.it/dp/B0CLTBHXWQ",
		Name:        "PS5 Slim",
		TargetPrice: decimal.RequireFromString("449.99"),
	}))
	require.NoError(t, items.Upsert(ctx, watch.TrackedItem{
		ID:          "switch",
		URL:         "https://www.amazon.it/dp/B0D12345",
		Name:        "Switch",
		TargetPrice: decimal.NewFromInt(300),
	}))
	server := NewServer(Deps{
		Items:   items,
		Fleet:   fakeFleet{"ps5": watcher.StateChecking},
		History: history,
		Logger:  zap.NewNop(),
	}, apiKey)
	return testEnv{server: server, items: items, history: history}
}

func (e testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_RequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ready := NewServer(Deps{Ready: func(context.Context) error { return nil }}, "")
	rec := httptest.NewRecorder()
	ready.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	notReady := NewServer(Deps{Ready: func(context.Context) error { return errors.New("db down") }}, "")
	rec = httptest.NewRecorder()
	notReady.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	env.do(t, http.MethodGet, "/v1/items", nil)
	rec := env.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_ListItems(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/v1/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		Items []itemDTO `json:"items"`
	}](t, rec)
	require.Len(t, body.Items, 2)
	assert.Equal(t, "ps5", body.Items[0].ID)
	assert.Equal(t, "449.99", body.Items[0].TargetPrice)
	require.NotNil(t, body.Items[0].Watcher)
	assert.Equal(t, string(watcher.StateChecking), body.Items[0].Watcher.State)
	assert.Nil(t, body.Items[1].Watcher, "no live watcher for switch")
}

func TestServer_ListItemsStoreError(t *testing.T) {
	t.Parallel()

	server := NewServer(Deps{Items: failingItems{}}, "")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_GetItem(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/v1/items/switch", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Item itemDTO `json:"item"`
	}](t, rec)
	assert.Equal(t, "Switch", body.Item.Name)
	assert.Equal(t, "300.00", body.Item.TargetPrice)

	rec = env.do(t, http.MethodGet, "/v1/items/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_PutItemCreatesAndUpdates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	ctx := context.Background()

	rec := env.do(t, http.MethodPut, "/v1/items/xbox",
		[]byte(`{"url":"https://www.amazon.it/dp/B08H93ZRLL","name":"Xbox","target_price":"399.90","check_shipped":true}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	item, ok, err := env.items.Get(ctx, "xbox")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, item.TargetPrice.Equal(decimal.RequireFromString("399.90")))
	assert.True(t, item.RequireShippedByPlatform)

	available := true
	require.NoError(t, env.items.Update(ctx, "xbox", watch.Patch{Available: &available}))

	rec = env.do(t, http.MethodPut, "/v1/items/xbox",
		[]byte(`{"url":"https://www.amazon.it/dp/B08H93ZRLL","target_price":"350"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Item itemDTO `json:"item"`
	}](t, rec)
	assert.Equal(t, "350.00", body.Item.TargetPrice)
	assert.Equal(t, "xbox", body.Item.Name, "name defaults to the id")
	assert.True(t, body.Item.Available, "availability survives operator edits")
	assert.NotNil(t, body.Item.AvailableSince)
}

func TestServer_PutItemRejectsBadInput(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{`, "invalid JSON"},
		{"relative url", `{"url":"/dp/x","target_price":"1"}`, "url"},
		{"bad price", `{"url":"https://www.amazon.it/dp/x","target_price":"cheap"}`, "target_price"},
		{"zero price", `{"url":"https://www.amazon.it/dp/x","target_price":"0"}`, "target_price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, "/v1/items/x", []byte(tt.body))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
	_, ok, err := env.items.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServer_DeleteItem(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodDelete, "/v1/items/switch", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, ok, err := env.items.Get(context.Background(), "switch")
	require.NoError(t, err)
	assert.False(t, ok)

	rec = env.do(t, http.MethodDelete, "/v1/items/switch", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListChecks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, env.history.RecordChecks(context.Background(), []store.CheckRecord{
		{CheckID: uuid.New(), ItemID: "ps5", CheckedAt: base, Outcome: "not_qualified", Strategy: "core-offer", Price: "499.00"},
		{CheckID: uuid.New(), ItemID: "ps5", CheckedAt: base.Add(time.Minute), Outcome: "notified", Strategy: "offer-list", Price: "439.00", Duration: 1500 * time.Millisecond},
		{CheckID: uuid.New(), ItemID: "switch", CheckedAt: base, Outcome: "skipped"},
	}))

	rec := env.do(t, http.MethodGet, "/v1/items/ps5/checks?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Checks []checkDTO `json:"checks"`
	}](t, rec)
	require.Len(t, body.Checks, 1)
	assert.Equal(t, "notified", body.Checks[0].Outcome)
	assert.Equal(t, "439.00", body.Checks[0].Price)
	assert.Equal(t, int64(1500), body.Checks[0].DurationMs)

	rec = env.do(t, http.MethodGet, "/v1/items/ps5/checks?limit=zero", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListChecksWithoutRepository(t *testing.T) {
	t.Parallel()

	server := NewServer(Deps{}, "")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items/ps5/checks", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_APIKeyGuardsV1(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "secret")

	rec := env.do(t, http.MethodGet, "/v1/items", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/items", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/items?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code, "health checks stay open")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
