// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hooks

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHook(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const rateLimitHook = `
id: rl
name: rate limit alert
event: rate_limited
condition: Data.status == 429 && Model startsWith "m/"
action: capture
enabled: true
`

func TestLoadHooks(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "a.yaml", rateLimitHook)
	writeHook(t, dir, "b.yml", "id: off\nname: off\nevent: usage\naction: log_warning\nenabled: false\n")
	writeHook(t, dir, "c.yaml", "id: bad-event\nevent: nope\naction: log_warning\nenabled: true\n")
	writeHook(t, dir, "d.yaml", "id: bad-cond\nevent: usage\ncondition: 'Data.x =='\naction: log_warning\nenabled: true\n")
	writeHook(t, dir, "e.yaml", ":: not yaml")
	writeHook(t, dir, "notes.txt", rateLimitHook)

	m := NewHookManager(dir, nil)
	require.NoError(t, m.LoadHooks())

	hooks := m.GetHooks()
	require.Len(t, hooks, 1)
	assert.Equal(t, "rl", hooks[0].ID)
	assert.Equal(t, filepath.Join(dir, "a.yaml"), hooks[0].FilePath)
	assert.NotNil(t, m.GetHook("rl"))
	assert.Nil(t, m.GetHook("off"))
}

func TestLoadHooks_MissingDir(t *testing.T) {
	m := NewHookManager(filepath.Join(t.TempDir(), "absent"), nil)
	require.NoError(t, m.LoadHooks())
	assert.Empty(t, m.GetHooks())
}

func TestHookManager_ConditionSelectsAction(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "a.yaml", rateLimitHook)

	bus := NewEventBus()
	defer bus.Shutdown()
	m := NewHookManager(dir, bus)
	require.NoError(t, m.LoadHooks())

	fired := make(chan string, 4)
	m.RegisterAction("capture", func(h *Hook, ctx *EventContext) error {
		fired <- ctx.Model
		return nil
	})
	m.SubscribeToAllEvents()
	defer m.Stop()

	bus.Publish(&EventContext{Event: EventRateLimited, Model: "x/other", Data: map[string]any{"status": 429}})
	bus.Publish(&EventContext{Event: EventRateLimited, Model: "m/a", Data: map[string]any{"status": 503}})
	bus.Publish(&EventContext{Event: EventRateLimited, Model: "m/a", Data: map[string]any{"status": 429}})

	select {
	case model := <-fired:
		assert.Equal(t, "m/a", model)
	case <-time.After(2 * time.Second):
		t.Fatal("hook did not fire")
	}
	select {
	case model := <-fired:
		t.Fatalf("unexpected hook execution for %s", model)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEvaluateCondition(t *testing.T) {
	m := NewHookManager("", nil)
	ctx := &EventContext{Event: EventRequestFailed, Model: "m/a", Data: map[string]any{"attempts": 3}, ErrorMessage: "boom"}

	tests := []struct {
		cond string
		want bool
	}{
		{"", true},
		{"true", true},
		{`Event == "request_failed"`, true},
		{`Data.attempts >= 3`, true},
		{`Error contains "boom"`, true},
		{`Model == "m/b"`, false},
	}
	for _, tt := range tests {
		got, err := m.evaluateCondition(tt.cond, ctx)
		require.NoError(t, err, tt.cond)
		assert.Equal(t, tt.want, got, tt.cond)
	}

	_, err := m.evaluateCondition(`Data.attempts + 1`, ctx)
	assert.Error(t, err)
}

func TestHookManager_Watcher(t *testing.T) {
	dir := t.TempDir()
	m := NewHookManager(dir, nil)
	require.NoError(t, m.LoadHooks())
	require.NoError(t, m.StartWatcher())
	defer m.Stop()

	writeHook(t, dir, "a.yaml", rateLimitHook)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && m.GetHook("rl") == nil {
		time.Sleep(20 * time.Millisecond)
	}
	assert.NotNil(t, m.GetHook("rl"))
}
