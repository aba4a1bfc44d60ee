// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hooks

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func fastWebhook() *WebhookHandler {
	h := NewWebhookHandler()
	h.backoff = []time.Duration{time.Millisecond, time.Millisecond}
	return h
}

func TestWebhook_DeliversSignedPayload(t *testing.T) {
	var body []byte
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get("X-Hook-Signature")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := fastWebhook()
	hook := &Hook{ID: "h1", Params: map[string]any{"url": srv.URL, "secret": "s3cret"}}
	ev := &EventContext{Event: EventFallbackUsed, Model: "m/b", Data: map[string]any{"from": "m/a"}}
	require.NoError(t, h.Handle(hook, ev))

	assert.Equal(t, "fallback_used", gjson.GetBytes(body, "event").String())
	assert.Equal(t, "h1", gjson.GetBytes(body, "hook_id").String())
	assert.Equal(t, "m/b", gjson.GetBytes(body, "model").String())
	assert.Equal(t, "m/a", gjson.GetBytes(body, "data.from").String())
	assert.Equal(t, "sha256="+Sign("s3cret", body), sig)
}

func TestWebhook_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := fastWebhook().Handle(&Hook{Params: map[string]any{"url": srv.URL}}, &EventContext{Event: EventUsage})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhook_Validation(t *testing.T) {
	h := fastWebhook()
	assert.Error(t, h.Handle(&Hook{Params: map[string]any{}}, &EventContext{}))
	assert.Error(t, h.Handle(&Hook{Params: map[string]any{"url": "http://example.com/hook"}}, &EventContext{}))
}

func TestWebhook_RateLimit(t *testing.T) {
	h := NewWebhookHandler()
	now := time.Unix(0, 0)
	h.now = func() time.Time { return now }

	for i := 0; i < webhookLimit; i++ {
		assert.True(t, h.checkRateLimit("https://x"))
	}
	assert.False(t, h.checkRateLimit("https://x"))
	assert.True(t, h.checkRateLimit("https://y"))

	now = now.Add(time.Minute + time.Second)
	assert.True(t, h.checkRateLimit("https://x"))
}

func TestLogWarning(t *testing.T) {
	assert.NoError(t, handleLogWarning(&Hook{Name: "n", Params: map[string]any{"message": "hi"}}, &EventContext{Event: EventUsage, Model: "m"}))
	assert.NoError(t, handleLogWarning(&Hook{Name: "n"}, &EventContext{Event: EventUsage}))
}
