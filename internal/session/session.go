// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session pins a routed model to a conversation so that follow-up
// turns keep talking to the same model.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// HeaderName carries an explicit session id.
const HeaderName = "X-Session-Id"

// Defaults for Config.
const (
	DefaultTimeout         = 30 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
)

// Config tunes a Store.
type Config struct {
	Enabled bool
	Timeout time.Duration
	// Derive enables DeriveID when the request carries no session header.
	Derive bool
}

// DefaultConfig enables pinning with the default timeout.
func DefaultConfig() Config {
	return Config{Enabled: true, Timeout: DefaultTimeout, Derive: true}
}

// Entry is one pinned conversation.
type Entry struct {
	Model        string    `json:"model"`
	Tier         string    `json:"tier"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
	RequestCount int       `json:"request_count"`
}

// Stats summarizes the live sessions.
type Stats struct {
	Count    int            `json:"count"`
	Sessions []SessionStats `json:"sessions"`
}

// SessionStats describes one session without exposing its full id.
type SessionStats struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	AgeMs int64  `json:"age"`
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*Entry
	now      func() time.Time
}

// NewStore creates a store. A non-positive timeout selects DefaultTimeout.
func NewStore(cfg Config) *Store {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Store{cfg: cfg, sessions: make(map[string]*Entry), now: time.Now}
}

// Enabled reports whether pinning is on.
func (s *Store) Enabled() bool { return s.cfg.Enabled }

// Get returns the live entry of id. Expired entries are removed.
func (s *Store) Get(id string) (Entry, bool) {
	if !s.cfg.Enabled || id == "" {
		return Entry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return Entry{}, false
	}
	if s.now().Sub(e.LastUsedAt) > s.cfg.Timeout {
		delete(s.sessions, id)
		return Entry{}, false
	}
	return *e, true
}

// Pin records model for id. An existing pin keeps its creation time and
// request count but takes the new model.
func (s *Store) Pin(id, model, tier string) {
	if !s.cfg.Enabled || id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.sessions[id]; ok {
		e.Model = model
		e.Tier = tier
		e.LastUsedAt = now
		return
	}
	s.sessions[id] = &Entry{Model: model, Tier: tier, CreatedAt: now, LastUsedAt: now, RequestCount: 1}
	log.Debugf("session %s pinned to %s", shortID(id), model)
}

// Touch extends the session and counts a request.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		e.LastUsedAt = s.now()
		e.RequestCount++
	}
}

// Clear forgets one session.
func (s *Store) Clear(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// ClearAll forgets every session.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.sessions = make(map[string]*Entry)
	s.mu.Unlock()
}

// Stats lists the stored sessions ordered by id.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := Stats{Count: len(s.sessions), Sessions: make([]SessionStats, 0, len(s.sessions))}
	for id, e := range s.sessions {
		out.Sessions = append(out.Sessions, SessionStats{
			ID:    shortID(id) + "...",
			Model: e.Model,
			AgeMs: now.Sub(e.CreatedAt).Milliseconds(),
		})
	}
	sort.Slice(out.Sessions, func(i, j int) bool { return out.Sessions[i].ID < out.Sessions[j].ID })
	return out
}

// Cleanup removes expired sessions and returns how many were dropped.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.sessions {
		if now.Sub(e.LastUsedAt) > s.cfg.Timeout {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Run calls Cleanup every interval until ctx ends.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Cleanup(); n > 0 {
				log.Debugf("session cleanup removed %d expired sessions", n)
			}
		}
	}
}

// ResolveID returns the header value, or a derived id when derivation is
// enabled and the header is empty.
func (s *Store) ResolveID(header string, body []byte) string {
	if header != "" {
		return header
	}
	if !s.cfg.Derive {
		return ""
	}
	return DeriveID(body)
}

// DeriveID hashes the first user message of a chat body into 8 hex
// characters. It returns "" when there is no user message.
func DeriveID(body []byte) string {
	for _, m := range gjson.GetBytes(body, "messages").Array() {
		if m.Get("role").String() != "user" {
			continue
		}
		content := m.Get("content")
		text := content.Raw
		if content.Type == gjson.String {
			text = content.Str
		}
		sum := sha256.Sum256([]byte(text))
		return hex.EncodeToString(sum[:])[:8]
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
