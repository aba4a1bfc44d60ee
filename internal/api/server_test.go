// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/traylinx/switchAIRouter/internal/cache"
	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/dedup"
	"github.com/traylinx/switchAIRouter/internal/dispatch"
	"github.com/traylinx/switchAIRouter/internal/metrics"
	"github.com/traylinx/switchAIRouter/internal/registry"
	"github.com/traylinx/switchAIRouter/internal/routing"
	"github.com/traylinx/switchAIRouter/internal/transcode"
	"github.com/traylinx/switchAIRouter/internal/usage"
)

const completion = `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"Hello there"},"finish_reason":"stop"}]}`

// fakeUpstream answers chat completions and records the models it was asked for.
type fakeUpstream struct {
	t      *testing.T
	srv    *httptest.Server
	mu     sync.Mutex
	models []string
	bodies [][]byte
	// reply picks the status and body for a model; nil answers 200 completion.
	reply func(model string) (int, string)
	// gate, when set, is waited on before answering.
	gate    chan struct{}
	started chan struct{}
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{t: t, started: make(chan struct{}, 16)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		model := gjson.GetBytes(body, "model").String()
		f.mu.Lock()
		f.models = append(f.models, model)
		f.bodies = append(f.bodies, body)
		reply, gate := f.reply, f.gate
		f.mu.Unlock()
		f.started <- struct{}{}
		if gate != nil {
			<-gate
		}
		status, out := http.StatusOK, completion
		if reply != nil {
			status, out = reply(model)
		}
		if gjson.Valid(out) {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, out)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.models...)
}

func (f *fakeUpstream) lastBody() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bodies) == 0 {
		return nil
	}
	return f.bodies[len(f.bodies)-1]
}

func newTestServer(t *testing.T, up *fakeUpstream, mutate func(*config.Config, *Options)) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	reg := registry.NewModelRegistry(nil, nil)
	transport := dispatch.NewHTTPTransport(dispatch.HTTPConfig{BaseURL: up.srv.URL, APIKey: "test-key"})
	opts := Options{
		Registry:   reg,
		Router:     routing.NewRouter(routing.DefaultConfig(), reg, nil),
		Dispatcher: dispatch.New(transport, reg, nil, nil, dispatch.Options{}),
		Dedup:      dedup.New(time.Minute),
		Cache:      cache.New(cache.DefaultOptions()),
		Metrics:    metrics.New(),
		Version:    "test",
	}
	if mutate != nil {
		mutate(cfg, &opts)
	}
	return NewServer(cfg, opts)
}

func do(s *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "127.0.0.1:40000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func chatBody(model string, stream bool) string {
	b := `{"model":"` + model + `","messages":[{"role":"user","content":"hi"}]`
	if stream {
		b += `,"stream":true`
	}
	return b + `}`
}

func TestChatCompletions_ExplicitModel(t *testing.T) {
	up := newFakeUpstream(t)
	s := newTestServer(t, up, nil)

	rr := do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, completion, rr.Body.String())
	assert.Equal(t, []string{"openai/gpt-4o"}, up.calls())
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
}

func TestChatCompletions_CacheHit(t *testing.T) {
	up := newFakeUpstream(t)
	s := newTestServer(t, up, nil)

	first := do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false))
	require.Equal(t, http.StatusOK, first.Code)
	second := do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false))
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Len(t, up.calls(), 1)
	assert.Equal(t, int64(1), s.cache.Stats().Hits)

	noCache := do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false), "Cache-Control", "no-cache")
	require.Equal(t, http.StatusOK, noCache.Code)
}

func TestChatCompletions_RoutesAutoProfile(t *testing.T) {
	up := newFakeUpstream(t)
	s := newTestServer(t, up, nil)

	want := s.router.Route("hi", "", defaultMaxTokens, routing.Options{Profile: routing.ProfileAuto})
	rr := do(s, http.MethodPost, "/v1/chat/completions", chatBody("auto", false))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	calls := up.calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, want.Model, calls[0])
	assert.NotEqual(t, "auto", calls[0])
}

func TestChatCompletions_FreeProfile(t *testing.T) {
	up := newFakeUpstream(t)
	s := newTestServer(t, up, nil)

	rr := do(s, http.MethodPost, "/v1/chat/completions", chatBody("free", false))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{registry.FreeModel}, up.calls())
}

func TestChatCompletions_FallsBackOnServerError(t *testing.T) {
	up := newFakeUpstream(t)
	up.reply = func(model string) (int, string) {
		if model == "openai/gpt-4o" {
			return http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`
		}
		return http.StatusOK, completion
	}
	s := newTestServer(t, up, nil)

	rr := do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []string{"openai/gpt-4o", registry.FreeModel}, up.calls())
	assert.Equal(t, int64(1), s.counters.fallbacks.Load())
}

func TestChatCompletions_FatalErrorPassesThrough(t *testing.T) {
	up := newFakeUpstream(t)
	up.reply = func(string) (int, string) {
		return http.StatusBadRequest, `{"error":{"message":"messages must not be empty"}}`
	}
	s := newTestServer(t, up, nil)

	rr := do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "messages must not be empty", gjson.Get(rr.Body.String(), "error.message").String())
	assert.Len(t, up.calls(), 1)
	assert.Equal(t, int64(1), s.counters.failures.Load())
}

func TestChatCompletions_PlainTextErrorIsWrapped(t *testing.T) {
	up := newFakeUpstream(t)
	up.reply = func(string) (int, string) { return http.StatusBadGateway, "upstream down" }
	s := newTestServer(t, up, nil)

	rr := do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "upstream down", gjson.Get(rr.Body.String(), "error.message").String())
	assert.Equal(t, int64(http.StatusBadGateway), gjson.Get(rr.Body.String(), "error.status").Int())
	assert.Len(t, up.calls(), 2)
}

func TestChatCompletions_Stream(t *testing.T) {
	up := newFakeUpstream(t)
	s := newTestServer(t, up, nil)

	rr := do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", true))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, eventStream, rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	assert.Contains(t, body, `"object":"chat.completion.chunk"`)
	assert.Contains(t, body, `"content":"Hello there"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
	assert.Equal(t, gjson.False, gjson.GetBytes(up.lastBody(), "stream").Type)
}

func TestChatCompletions_StreamFromCachedJSON(t *testing.T) {
	up := newFakeUpstream(t)
	s := newTestServer(t, up, nil)

	// stream is not part of the cache key.
	require.Equal(t, http.StatusOK, do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false)).Code)
	rr := do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", true))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, eventStream, rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), `"content":"Hello there"`)
	assert.Len(t, up.calls(), 1)
}

func TestChatCompletions_StreamError(t *testing.T) {
	up := newFakeUpstream(t)
	up.reply = func(string) (int, string) {
		return http.StatusBadRequest, `{"error":{"message":"bad tool schema"}}`
	}
	s := newTestServer(t, up, nil)

	rr := do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", true))
	require.Equal(t, http.StatusOK, rr.Code)
	want := transcode.HeartbeatComment + `data: {"error":{"message":"bad tool schema"}}` + "\n\n" + transcode.Done
	assert.Equal(t, want, rr.Body.String())
}

func TestChatCompletions_InvalidRequest(t *testing.T) {
	up := newFakeUpstream(t)
	s := newTestServer(t, up, nil)

	for _, body := range []string{`not json`, `[1,2]`, `{"messages":[]}`, `{"model":""}`} {
		rr := do(s, http.MethodPost, "/v1/chat/completions", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		assert.Equal(t, "invalid_request_error", gjson.Get(rr.Body.String(), "error.type").String(), body)
	}
	assert.Empty(t, up.calls())
}

func TestChatCompletions_EmptyBalanceUsesFreeModel(t *testing.T) {
	up := newFakeUpstream(t)
	s := newTestServer(t, up, func(_ *config.Config, o *Options) {
		o.Balance = dispatch.NewLedgerBalance(0, 1_000_000)
	})

	rr := do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{registry.FreeModel}, up.calls())
	assert.Equal(t, int64(1), s.counters.freeFallbacks.Load())
}

func TestChatCompletions_LedgerDeductsOnSuccess(t *testing.T) {
	up := newFakeUpstream(t)
	ledger := dispatch.NewLedgerBalance(10_000_000, 0)
	s := newTestServer(t, up, func(_ *config.Config, o *Options) { o.Balance = ledger })

	rr := do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Less(t, ledger.Snapshot().BalanceMicros, int64(10_000_000))
}

func TestChatCompletions_CoalescesConcurrentDuplicates(t *testing.T) {
	up := newFakeUpstream(t)
	up.gate = make(chan struct{})
	s := newTestServer(t, up, func(cfg *config.Config, o *Options) {
		o.Cache = cache.New(cache.Options{Enabled: false})
	})

	var wg sync.WaitGroup
	results := make([]*httptest.ResponseRecorder, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false))
	}()
	<-up.started
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false))
	}()
	time.Sleep(50 * time.Millisecond)
	close(up.gate)
	wg.Wait()

	assert.Len(t, up.calls(), 1)
	for _, rr := range results {
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, completion, rr.Body.String())
	}
	assert.Equal(t, int64(1), s.counters.dedupHits.Load())
}

func TestChatCompletions_RelaysBodyAsItArrives(t *testing.T) {
	head, tail := completion[:40], completion[40:]
	release := make(chan struct{})
	up := &fakeUpstream{t: t, started: make(chan struct{}, 16)}
	up.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, head)
		w.(http.Flusher).Flush()
		<-release
		_, _ = io.WriteString(w, tail)
	}))
	t.Cleanup(up.srv.Close)
	s := newTestServer(t, up, nil)
	gw := httptest.NewServer(s.Handler())
	t.Cleanup(gw.Close)

	got := make(chan string, 1)
	go func() {
		resp, err := http.Post(gw.URL+"/v1/chat/completions", "application/json", strings.NewReader(chatBody("openai/gpt-4o", false)))
		if err != nil {
			got <- "error: " + err.Error()
			return
		}
		defer resp.Body.Close()
		buf := make([]byte, len(head))
		if _, err = io.ReadFull(resp.Body, buf); err != nil {
			got <- "error: " + err.Error()
			return
		}
		got <- string(buf)
		rest, _ := io.ReadAll(resp.Body)
		got <- string(rest)
	}()

	select {
	case first := <-got:
		assert.Equal(t, head, first)
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("no bytes reached the client while upstream was still sending")
	}
	close(release)
	assert.Equal(t, tail, <-got)

	rr := do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, completion, rr.Body.String())
	assert.Equal(t, int64(1), s.counters.cacheHits.Load())
}

type panickingTransport struct{}

func (panickingTransport) RoundTrip(context.Context, dispatch.Request) (*dispatch.Response, error) {
	panic("transport blew up")
}

func TestChatCompletions_PanicReleasesDedupSlot(t *testing.T) {
	up := newFakeUpstream(t)
	s := newTestServer(t, up, func(_ *config.Config, o *Options) {
		o.Dispatcher = dispatch.New(panickingTransport{}, o.Registry, nil, nil, dispatch.Options{})
	})

	rr := do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	inflight, _ := s.dedup.Len()
	assert.Zero(t, inflight)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false)) }()
	select {
	case rr = <-done:
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("second request waited on an abandoned dedup slot")
	}
}

func TestHealth(t *testing.T) {
	up := newFakeUpstream(t)
	s := newTestServer(t, up, func(_ *config.Config, o *Options) {
		o.Balance = dispatch.NewLedgerBalance(500_000, 1_000_000)
	})

	rr := do(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", gjson.Get(rr.Body.String(), "status").String())
	assert.False(t, gjson.Get(rr.Body.String(), "balance").Exists())

	rr = do(s, http.MethodGet, "/health?full=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.InDelta(t, 0.5, gjson.Get(rr.Body.String(), "balance").Float(), 1e-9)
	assert.True(t, gjson.Get(rr.Body.String(), "isLow").Bool())
	assert.False(t, gjson.Get(rr.Body.String(), "isEmpty").Bool())
}

func TestModels(t *testing.T) {
	s := newTestServer(t, newFakeUpstream(t), nil)

	rr := do(s, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "list", gjson.Get(rr.Body.String(), "object").String())
	ids := gjson.Get(rr.Body.String(), "data.#.id").Array()
	require.NotEmpty(t, ids)
	assert.Equal(t, "auto", ids[0].String())
}

func TestCacheEndpoints(t *testing.T) {
	up := newFakeUpstream(t)
	s := newTestServer(t, up, func(cfg *config.Config, _ *Options) {
		cfg.Management.SecretKey = "s3cret"
	})
	require.Equal(t, http.StatusOK, do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false)).Code)

	rr := do(s, http.MethodGet, "/cache", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(1), gjson.Get(rr.Body.String(), "size").Int())
	assert.Equal(t, "no-cache", rr.Header().Get("Cache-Control"))

	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodDelete, "/cache", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodDelete, "/cache", "", "Authorization", "Bearer wrong").Code)
	assert.Equal(t, 1, s.cache.Stats().Size)

	rr = do(s, http.MethodDelete, "/cache", "", "Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, s.cache.Stats().Size)

	rr = do(s, http.MethodDelete, "/cache", "", managementHeader, "s3cret")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCacheClear_Forbidden(t *testing.T) {
	s := newTestServer(t, newFakeUpstream(t), nil)
	assert.Equal(t, http.StatusForbidden, do(s, http.MethodDelete, "/cache", "", managementHeader, "x").Code)

	s = newTestServer(t, newFakeUpstream(t), func(cfg *config.Config, _ *Options) {
		cfg.Management.SecretKey = "s3cret"
	})
	req := httptest.NewRequest(http.MethodDelete, "/cache", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	req.Header.Set(managementHeader, "s3cret")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestStats(t *testing.T) {
	up := newFakeUpstream(t)
	store, err := usage.Open(context.Background(), usage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Record(context.Background(), usage.Entry{
		Model: "openai/gpt-4o", Tier: "MEDIUM", CostUSD: 0.01, BaselineUSD: 0.05, LatencyMs: 120, Status: 200,
	}))
	s := newTestServer(t, up, func(_ *config.Config, o *Options) { o.Usage = store })

	require.Equal(t, http.StatusOK, do(s, http.MethodPost, "/v1/chat/completions", chatBody("openai/gpt-4o", false)).Code)

	rr := do(s, http.MethodGet, "/stats?days=90", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := rr.Body.String()
	assert.Equal(t, int64(1), gjson.Get(body, "requests.total").Int())
	assert.Equal(t, int64(maxStatsDays), gjson.Get(body, "days").Int())
	assert.Equal(t, int64(1), gjson.Get(body, "usage.requests").Int())
	assert.Equal(t, "openai/gpt-4o", gjson.Get(body, "usage.by_model.0.key").String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, newFakeUpstream(t), nil)
	require.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health", "").Code)

	rr := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `switchai_http_requests_total{method="GET",path="/health",status="200"} 1`)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, newFakeUpstream(t), nil)

	rr := do(s, http.MethodGet, "/v1/unknown", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, rr.Body.String())
}
