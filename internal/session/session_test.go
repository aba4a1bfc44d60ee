// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clockedStore(cfg Config) (*Store, *time.Time) {
	s := NewStore(cfg)
	now := time.Unix(50_000, 0)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestStore_PinGetTouch(t *testing.T) {
	s, now := clockedStore(DefaultConfig())

	_, ok := s.Get("abc")
	assert.False(t, ok)

	s.Pin("abc", "m/a", "SIMPLE")
	e, ok := s.Get("abc")
	require.True(t, ok)
	assert.Equal(t, "m/a", e.Model)
	assert.Equal(t, 1, e.RequestCount)

	*now = now.Add(20 * time.Minute)
	s.Touch("abc")
	*now = now.Add(20 * time.Minute)
	e, ok = s.Get("abc")
	require.True(t, ok, "touch extends the session")
	assert.Equal(t, 2, e.RequestCount)

	s.Pin("abc", "m/b", "COMPLEX")
	e, _ = s.Get("abc")
	assert.Equal(t, "m/b", e.Model)
	assert.Equal(t, 2, e.RequestCount)

	*now = now.Add(DefaultTimeout + time.Second)
	_, ok = s.Get("abc")
	assert.False(t, ok)
	assert.Zero(t, s.Stats().Count)
}

func TestStore_Disabled(t *testing.T) {
	s := NewStore(Config{Enabled: false})
	s.Pin("abc", "m/a", "SIMPLE")
	_, ok := s.Get("abc")
	assert.False(t, ok)
	assert.False(t, s.Enabled())
}

func TestStore_CleanupAndStats(t *testing.T) {
	s, now := clockedStore(Config{Enabled: true, Timeout: time.Minute})
	s.Pin("session-one-long-id", "m/a", "SIMPLE")
	*now = now.Add(45 * time.Second)
	s.Pin("two", "m/b", "MEDIUM")

	st := s.Stats()
	require.Equal(t, 2, st.Count)
	assert.Equal(t, "session-...", st.Sessions[0].ID)
	assert.Equal(t, int64(45000), st.Sessions[0].AgeMs)
	assert.Equal(t, "two...", st.Sessions[1].ID)

	*now = now.Add(30 * time.Second)
	assert.Equal(t, 1, s.Cleanup())
	assert.Equal(t, 1, s.Stats().Count)

	s.Clear("two")
	assert.Zero(t, s.Stats().Count)

	s.Pin("a", "m", "")
	s.Pin("b", "m", "")
	s.ClearAll()
	assert.Zero(t, s.Stats().Count)
}

func TestStore_Run(t *testing.T) {
	s, now := clockedStore(Config{Enabled: true, Timeout: time.Minute})
	s.Pin("a", "m", "")
	*now = now.Add(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return s.Stats().Count == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestDeriveID(t *testing.T) {
	first := []byte(`{"messages":[{"role":"user","content":"what is the capital of France?"}]}`)
	later := []byte(`{"messages":[{"role":"system","content":"be nice"},{"role":"user","content":"what is the capital of France?"},{"role":"assistant","content":"Paris"},{"role":"user","content":"and Germany?"}]}`)
	other := []byte(`{"messages":[{"role":"user","content":"second conversation"}]}`)

	id := DeriveID(first)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{8}$`), id)
	assert.Equal(t, id, DeriveID(later))
	assert.NotEqual(t, id, DeriveID(other))

	assert.Empty(t, DeriveID([]byte(`{"messages":[]}`)))
	assert.Empty(t, DeriveID([]byte(`{"messages":[{"role":"system","content":"only system"}]}`)))
	assert.Len(t, DeriveID([]byte(`{"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`)), 8)
}

func TestResolveID(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)
	s := NewStore(DefaultConfig())
	assert.Equal(t, "explicit", s.ResolveID("explicit", body))
	assert.Equal(t, DeriveID(body), s.ResolveID("", body))

	noDerive := NewStore(Config{Enabled: true})
	assert.Empty(t, noDerive.ResolveID("", body))
}
