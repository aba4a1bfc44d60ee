// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cache is a bounded in-process store of completed chat responses.
package cache

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/traylinx/switchAIRouter/internal/canonical"
)

// Defaults applied by New for zero-valued options.
const (
	DefaultMaxSize     = 200
	DefaultTTL         = 600 * time.Second
	DefaultMaxItemSize = 1 << 20
)

// volatileFields are dropped from the body before hashing.
var volatileFields = map[string]bool{
	"stream":       true,
	"user":         true,
	"request_id":   true,
	"x-request-id": true,
}

// Options configures a Cache. Enabled must be set explicitly.
type Options struct {
	Enabled     bool
	MaxSize     int
	TTL         time.Duration
	MaxItemSize int
}

// Response is what callers store.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Model  string
}

// Entry is a stored response with its lifetime.
type Entry struct {
	Response
	CachedAt  time.Time
	ExpiresAt time.Time
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Size      int    `json:"size"`
	MaxSize   int    `json:"maxSize"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Evictions int64  `json:"evictions"`
	HitRate   string `json:"hitRate"`
}

// Cache is safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	opts      Options
	entries   map[string]*Entry
	hits      int64
	misses    int64
	evictions int64
	now       func() time.Time
}

// New creates a cache. MaxSize is taken as given so that zero disables
// storage; TTL and MaxItemSize fall back to the defaults when non-positive.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxItemSize <= 0 {
		opts.MaxItemSize = DefaultMaxItemSize
	}
	return &Cache{opts: opts, entries: make(map[string]*Entry), now: time.Now}
}

// DefaultOptions returns an enabled cache configuration with the defaults.
func DefaultOptions() Options {
	return Options{Enabled: true, MaxSize: DefaultMaxSize, TTL: DefaultTTL, MaxItemSize: DefaultMaxItemSize}
}

// GenerateKey hashes the request body with volatile fields removed and
// message timestamps stripped. The first 32 hex characters are returned.
func GenerateKey(body []byte) string {
	return canonical.Key(body, 32, normalize)
}

func normalize(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(obj))
	for k, val := range obj {
		if volatileFields[k] {
			continue
		}
		if msgs, ok := val.([]any); ok && k == "messages" {
			out[k] = stripMessageTimestamps(msgs)
			continue
		}
		out[k] = val
	}
	return out
}

func stripMessageTimestamps(msgs []any) []any {
	out := make([]any, len(msgs))
	for i, m := range msgs {
		msg, ok := m.(map[string]any)
		if !ok {
			out[i] = m
			continue
		}
		content, ok := msg["content"].(string)
		if !ok {
			out[i] = m
			continue
		}
		cp := make(map[string]any, len(msg))
		for k, val := range msg {
			cp[k] = val
		}
		cp["content"] = canonical.StripTimestamp(content)
		out[i] = cp
	}
	return out
}

// Enabled reports whether the cache stores anything at all.
func (c *Cache) Enabled() bool { return c.opts.Enabled }

// ShouldCache reports whether a request may be served from or stored into
// the cache.
func (c *Cache) ShouldCache(body []byte, header http.Header) bool {
	if !c.opts.Enabled {
		return false
	}
	if header != nil && strings.Contains(header.Get("Cache-Control"), "no-cache") {
		return false
	}
	if gjson.ValidBytes(body) {
		if v := gjson.GetBytes(body, "cache"); v.Type == gjson.False {
			return false
		}
		if v := gjson.GetBytes(body, "no_cache"); v.Type == gjson.True {
			return false
		}
	}
	return true
}

// Get returns a live entry. Expired entries are removed and count as misses.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().After(e.ExpiresAt) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.hits++
	cp := *e
	return &cp, true
}

// Set stores resp under key. A non-positive ttl selects the configured TTL.
// Error statuses and oversized bodies are skipped.
func (c *Cache) Set(key string, resp Response, ttl time.Duration) {
	if !c.opts.Enabled || c.opts.MaxSize <= 0 {
		return
	}
	if len(resp.Body) > c.opts.MaxItemSize {
		log.Debugf("response cache: skipping item of %d bytes", len(resp.Body))
		return
	}
	if resp.Status >= http.StatusBadRequest {
		return
	}
	if ttl <= 0 {
		ttl = c.opts.TTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.opts.MaxSize {
		c.evictLocked()
	}
	now := c.now()
	c.entries[key] = &Entry{Response: resp, CachedAt: now, ExpiresAt: now.Add(ttl)}
}

// Evict purges expired entries, then removes the soonest-expiring entries
// until the cache is below capacity.
func (c *Cache) Evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()
}

func (c *Cache) evictLocked() {
	type item struct {
		key string
		exp time.Time
	}
	items := make([]item, 0, len(c.entries))
	for k, e := range c.entries {
		items = append(items, item{k, e.ExpiresAt})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].exp.Before(items[j].exp) })

	now := c.now()
	i := 0
	for ; i < len(items) && !items[i].exp.After(now); i++ {
		delete(c.entries, items[i].key)
		c.evictions++
	}
	for ; i < len(items) && len(c.entries) >= c.opts.MaxSize; i++ {
		delete(c.entries, items[i].key)
		c.evictions++
	}
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	rate := "0%"
	if total := c.hits + c.misses; total > 0 {
		rate = fmt.Sprintf("%.1f%%", float64(c.hits)/float64(total)*100)
	}
	return Stats{
		Size:      len(c.entries),
		MaxSize:   c.opts.MaxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		HitRate:   rate,
	}
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
}
