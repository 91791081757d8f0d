package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/config"
)

const baseConfig = `
driver:
  kind: static
  request_timeout: 2s
region:
  enabled: false
extractor:
  wait_timeout: 10ms
  settle_delay: 0s
  scroll_duration: 0s
watcher:
  settle_delay: 0s
notifier:
  kind: log
logging:
  enabled: false
`

const productPage = `<html><body>
<span id="productTitle">PS5 Slim</span>
<div id="corePrice_feature_div"><span class="a-offscreen">%s</span></div>
<div id="offer-display-features">
  <div id="fulfillerInfoFeature_feature_div"><span class="offer-display-feature-text-message">Amazon</span></div>
  <div id="merchantInfoFeature_feature_div"><span class="offer-display-feature-text-message">Amazon</span></div>
</div>
</body></html>`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offerwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func shopServing(t *testing.T, price string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, productPage, price)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	envFile := filepath.Join(t.TempDir(), "missing.env")
	root.SetArgs(append([]string{"--env-file", envFile}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheckCommandPrintsMatch(t *testing.T) {
	shop := shopServing(t, "€399,00")
	cfgPath := writeConfig(t, baseConfig)

	out, err := execute(t, "--config", cfgPath, "check",
		"--url", shop.URL+"/dp/B0CLTBHXWQ",
		"--target", "449.99",
		"--name", "PS5 Slim",
		"--check-shipped", "--check-sold",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "✅ PS5 Slim is back in stock!")
	assert.Contains(t, out, "💰 €399.00 (≤ €449.99)")
	assert.Contains(t, out, "🏷️ Sold by: Amazon")
}

func TestCheckCommandReportsRejectedOffer(t *testing.T) {
	shop := shopServing(t, "€499,00")
	cfgPath := writeConfig(t, baseConfig)

	out, err := execute(t, "--config", cfgPath, "check",
		"--url", shop.URL+"/dp/B0CLTBHXWQ",
		"--target", "449.99",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "no match (core-offer)")
	assert.Contains(t, out, "499.00")
}

func TestCheckCommandRequiresTarget(t *testing.T) {
	cfgPath := writeConfig(t, baseConfig)

	_, err := execute(t, "--config", cfgPath, "check", "--url", "https://www.amazon.it/dp/B0CLTBHXWQ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target")
}

func TestCheckCommandRejectsBadPrice(t *testing.T) {
	cfgPath := writeConfig(t, baseConfig)

	_, err := execute(t, "--config", cfgPath, "check",
		"--url", "https://www.amazon.it/dp/B0CLTBHXWQ",
		"--target", "cheap",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target_price")
}

type fakeRunner struct {
	ran bool
	err error
}

func (f *fakeRunner) Run(context.Context) error {
	f.ran = true
	return f.err
}

func stubBuildApp(t *testing.T, r *fakeRunner, buildErr error) *config.Config {
	t.Helper()
	var seen config.Config
	orig := buildApp
	buildApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (runner, error) {
		seen = cfg
		if buildErr != nil {
			return nil, buildErr
		}
		return r, nil
	}
	t.Cleanup(func() { buildApp = orig })
	return &seen
}

func TestRunCommandRunsApp(t *testing.T) {
	r := &fakeRunner{err: context.Canceled}
	seen := stubBuildApp(t, r, nil)
	cfgPath := writeConfig(t, baseConfig+"\nserver:\n  port: 9090\n")

	_, err := execute(t, "--config", cfgPath, "run")
	require.NoError(t, err)
	assert.True(t, r.ran)
	assert.Equal(t, 9090, seen.Server.Port)
	assert.Equal(t, config.DriverStatic, seen.Driver.Kind)
}

func TestRunCommandSurfacesBuildError(t *testing.T) {
	r := &fakeRunner{}
	stubBuildApp(t, r, errors.New("boom"))
	cfgPath := writeConfig(t, baseConfig)

	_, err := execute(t, "--config", cfgPath, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build application: boom")
	assert.False(t, r.ran)
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	r := &fakeRunner{}
	stubBuildApp(t, r, nil)
	cfgPath := writeConfig(t, baseConfig+"\nstore:\n  backend: redis\n")

	_, err := execute(t, "--config", cfgPath, "run")
	require.Error(t, err)
	assert.False(t, r.ran)
}
