// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/routing"
)

const routingYAML = `
tiers:
  SIMPLE:
    primary: deepseek/deepseek-chat
    fallback: [google/gemini-2.5-flash]
`

func TestNewRouter_AppliesRoutingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(routingYAML), 0o600))

	cfg := config.Default()
	cfg.Routing.File = path
	reg, router, err := NewRouter(cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, reg.Models())
	assert.Equal(t, "deepseek/deepseek-chat", router.Config().Tiers[routing.TierSimple].Primary)
}

func TestNewRouter_MissingFile(t *testing.T) {
	cfg := config.Default()
	cfg.Routing.File = filepath.Join(t.TempDir(), "absent.yaml")
	_, _, err := NewRouter(cfg)
	assert.Error(t, err)
}

func TestBuild_WiresComponents(t *testing.T) {
	dir := t.TempDir()
	routingPath := filepath.Join(dir, "routing.yaml")
	require.NoError(t, os.WriteFile(routingPath, []byte(routingYAML), 0o600))
	hooksDir := filepath.Join(dir, "hooks")
	require.NoError(t, os.MkdirAll(hooksDir, 0o755))

	cfg := config.Default()
	cfg.Routing.File = routingPath
	cfg.Routing.Watch = true
	cfg.HooksDir = hooksDir
	cfg.Usage.Enabled = true
	cfg.Usage.DSN = filepath.Join(dir, "data", "usage.db")
	cfg.Balance.Mode = config.BalanceLedger
	cfg.Balance.InitialUSD = 5
	cfg.Dispatch.RetryRules = []config.RetryRule{{Name: "teapot", Condition: "status == 418", Retry: true}}

	g, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer g.Close()

	require.NotNil(t, g.Server)
	require.NotNil(t, g.usage)
	require.NotNil(t, g.watcher)
	require.NotNil(t, g.hookMgr)

	rr := httptest.NewRecorder()
	g.Server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health?full=true", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"balance":5`)

	_, err = os.Stat(cfg.Usage.DSN)
	assert.NoError(t, err)
}

func TestBuild_InvalidRetryRule(t *testing.T) {
	cfg := config.Default()
	cfg.Dispatch.RetryRules = []config.RetryRule{{Name: "broken", Condition: "status ==", Retry: true}}
	_, err := Build(context.Background(), cfg)
	assert.Error(t, err)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, int64(2_500_000), usdToMicros(2.5))

	hc := httpConfig(config.UpstreamConfig{
		BaseURL: "https://example.test/v1",
		APIKey:  "k",
		OAuth2:  &config.OAuth2Config{ClientID: "id", ClientSecret: "s", TokenURL: "https://example.test/token"},
	})
	assert.Equal(t, "https://example.test/v1", hc.BaseURL)
	require.NotNil(t, hc.OAuth2)
	assert.Equal(t, "id", hc.OAuth2.ClientID)

	rules := retryRules([]config.RetryRule{{Name: "a", Condition: "status == 409", Retry: true}})
	require.Len(t, rules, 1)
	assert.Equal(t, "status == 409", rules[0].Condition)
}
