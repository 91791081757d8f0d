package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/config"
)

// MockNotifier is a mock implementation of watch.Notifier.
type MockNotifier struct {
	mock.Mock
}

// Send is the mock implementation of the Send method.
func (m *MockNotifier) Send(ctx context.Context, text string) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}

const expensivePage = `<html><body>
<span id="productTitle">PS5 Slim</span>
<div id="corePrice_feature_div"><span class="a-offscreen">€499,00</span></div>
</body></html>`

const cheapPage = `<html><body>
<span id="productTitle">PS5 Slim</span>
<div id="corePrice_feature_div"><span class="a-offscreen">€399,00</span></div>
<div id="offer-display-features">
  <div id="fulfillerInfoFeature_feature_div"><span class="offer-display-feature-text-message">Amazon</span></div>
  <div id="merchantInfoFeature_feature_div"><span class="offer-display-feature-text-message">Amazon</span></div>
</div>
</body></html>`

func shopServing(t *testing.T, html string) *httptest.Server {
	t.Helper()
	shop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	}))
	t.Cleanup(shop.Close)
	return shop
}

func testConfig(itemURL string) config.Config {
	return config.Config{
		Store:  config.StoreConfig{Backend: config.StoreMemory},
		Driver: config.DriverConfig{Kind: config.DriverStatic, RequestTimeout: 2 * time.Second},
		Extractor: config.ExtractorConfig{
			WaitTimeout: 20 * time.Millisecond,
			ScrollStep:  time.Millisecond,
			Platform:    "amazon",
		},
		Watcher: config.WatcherConfig{
			PollInterval: time.Hour,
			MinSkipSleep: time.Millisecond,
		},
		Notifier: config.NotifierConfig{Kind: config.NotifierLog},
		Evidence: config.EvidenceConfig{Backend: config.EvidenceMemory, Prefix: "evidence"},
		Progress: config.ProgressConfig{
			Enabled:        true,
			BufferSize:     16,
			MaxBatchEvents: 1,
			MaxBatchWait:   5 * time.Millisecond,
			SinkTimeout:    time.Second,
		},
		Items: []config.ItemConfig{{
			ID:          "ps5",
			URL:         itemURL,
			Name:        "PS5 Slim",
			TargetPrice: "449.99",
		}},
	}
}

func TestBuildRequiresTelegramSettings(t *testing.T) {
	cfg := testConfig("https://www.amazon.it/dp/B0CLTBHXWQ")
	cfg.Notifier.Kind = config.NotifierTelegram

	app, err := Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
	assert.Nil(t, app)
	assert.Contains(t, err.Error(), "token")
}

func TestBuildWithTelegramSettings(t *testing.T) {
	cfg := testConfig("https://www.amazon.it/dp/B0CLTBHXWQ")
	cfg.Notifier = config.NotifierConfig{
		Kind:      config.NotifierTelegram,
		Token:     "123:abc",
		ChatID:    "42",
		ServerURL: "http://127.0.0.1:1",
		Timeout:   time.Second,
	}

	app, err := Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	app.close(context.Background())
}

func TestBuildServesSeededItems(t *testing.T) {
	cfg := testConfig("https://www.amazon.it/dp/B0CLTBHXWQ")

	app, err := Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { app.close(context.Background()) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items/ps5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"target_price":"449.99"`)
}

func TestRunChecksItemsUntilCanceled(t *testing.T) {
	shop := shopServing(t, expensivePage)
	notifier := &MockNotifier{}

	cfg := testConfig(shop.URL + "/dp/B0CLTBHXWQ")
	app, err := Build(context.Background(), cfg, zap.NewNop(),
		WithRegisterer(prometheus.NewRegistry()),
		WithNotifier(notifier),
	)
	require.NoError(t, err)
	handler := app.Handler()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items/ps5/checks", nil))
		if rec.Code != http.StatusOK {
			return false
		}
		var body struct {
			Checks []struct {
				Outcome string `json:"outcome"`
				Price   string `json:"price"`
			} `json:"checks"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || len(body.Checks) == 0 {
			return false
		}
		return body.Checks[0].Outcome == "not_qualified" && body.Checks[0].Price == "499"
	}, 5*time.Second, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items/ps5", nil))
	assert.Contains(t, rec.Body.String(), `"watcher"`)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestRunNotifiesQualifyingOfferOnce(t *testing.T) {
	shop := shopServing(t, cheapPage)
	itemURL := shop.URL + "/dp/B0CLTBHXWQ"

	sent := make(chan string, 4)
	notifier := &MockNotifier{}
	notifier.On("Send", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "PS5 Slim is back in stock!") && strings.Contains(text, itemURL)
	})).Return(nil).Once().Run(func(args mock.Arguments) { sent <- args.String(1) })

	cfg := testConfig(itemURL)
	// A second poll would re-check if the cool-down were not honored.
	cfg.Watcher.PollInterval = 10 * time.Millisecond
	cfg.Watcher.MaxSkipSleep = 10 * time.Millisecond
	app, err := Build(context.Background(), cfg, zap.NewNop(),
		WithRegisterer(prometheus.NewRegistry()),
		WithNotifier(notifier),
	)
	require.NoError(t, err)
	handler := app.Handler()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case text := <-sent:
		assert.Contains(t, text, "💰 €399.00 (≤ €449.99)")
	case <-time.After(5 * time.Second):
		t.Fatal("no notification for a qualifying offer")
	}
	// Let a few cool-down cycles pass.
	time.Sleep(100 * time.Millisecond)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items/ps5", nil))
	assert.Contains(t, rec.Body.String(), `"available":true`)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	notifier.AssertExpectations(t)
	notifier.AssertNumberOfCalls(t, "Send", 1)
}
