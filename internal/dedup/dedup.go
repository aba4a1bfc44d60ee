// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dedup coalesces concurrent identical requests so that only one
// upstream attempt runs per canonical request body.
package dedup

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/traylinx/switchAIRouter/internal/canonical"
)

const (
	// DefaultTTL is how long a completed response is served to late duplicates.
	DefaultTTL = 30 * time.Second
	// MaxBodySize caps responses retained after completion.
	MaxBodySize = 1 << 20
)

// originFailedBody is delivered to waiters when the origin request fails.
var originFailedBody = []byte(`{"error":{"message":"Original request failed, please retry","type":"dedup_origin_failed"}}`)

// Response is the outcome shared with every caller of one key.
type Response struct {
	Status      int
	Header      http.Header
	Body        []byte
	CompletedAt time.Time
}

// Waiter is a handle on a pending request. All waiters of one key observe
// the same Response.
type Waiter struct {
	done chan struct{}
	resp Response
}

// Done is closed once the response is available.
func (w *Waiter) Done() <-chan struct{} { return w.done }

// Response returns the shared result. It blocks until Done is closed.
func (w *Waiter) Response() Response {
	<-w.done
	return w.resp
}

// Wait blocks until the result is available or ctx ends.
func (w *Waiter) Wait(ctx context.Context) (Response, error) {
	select {
	case <-w.done:
		return w.resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (w *Waiter) resolve(resp Response) {
	w.resp = resp
	close(w.done)
}

// Deduplicator tracks pending and recently completed requests by key.
type Deduplicator struct {
	mu        sync.Mutex
	ttl       time.Duration
	inflight  map[string]*Waiter
	completed map[string]Response
	now       func() time.Time
}

// New creates a deduplicator. A non-positive ttl selects DefaultTTL.
func New(ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Deduplicator{
		ttl:       ttl,
		inflight:  make(map[string]*Waiter),
		completed: make(map[string]Response),
		now:       time.Now,
	}
}

// Hash derives the dedup key for a request body: the first 16 hex characters
// of the SHA-256 of its canonical form with content timestamps removed.
func Hash(body []byte) string {
	return canonical.Key(body, 16, canonical.StripContentTimestamps)
}

// GetCached returns a completed response that is still within the TTL.
func (d *Deduplicator) GetCached(key string) (Response, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp, ok := d.completed[key]
	if !ok {
		return Response{}, false
	}
	if d.now().Sub(resp.CompletedAt) > d.ttl {
		delete(d.completed, key)
		return Response{}, false
	}
	return resp, true
}

// GetInflight returns the waiter for a pending key, or nil.
func (d *Deduplicator) GetInflight(key string) *Waiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight[key]
}

// MarkInflight registers key as pending. It reports false, and changes
// nothing, when the key is already pending.
func (d *Deduplicator) MarkInflight(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[key]; ok {
		return false
	}
	d.inflight[key] = &Waiter{done: make(chan struct{})}
	return true
}

// Acquire atomically either joins a pending request or claims the key.
// The returned waiter is nil when the caller became the origin.
func (d *Deduplicator) Acquire(key string) *Waiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.inflight[key]; ok {
		return w
	}
	d.inflight[key] = &Waiter{done: make(chan struct{})}
	return nil
}

// Complete records resp for key, releases every waiter and prunes expired
// entries. Bodies above MaxBodySize reach waiters but are not retained.
func (d *Deduplicator) Complete(key string, resp Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if resp.CompletedAt.IsZero() {
		resp.CompletedAt = d.now()
	}
	if len(resp.Body) <= MaxBodySize {
		d.completed[key] = resp
	}
	if w, ok := d.inflight[key]; ok {
		delete(d.inflight, key)
		w.resolve(resp)
	}
	d.prune()
}

// RemoveInflight drops a pending key without caching anything. Waiters
// receive a 503 telling them to retry on their own.
func (d *Deduplicator) RemoveInflight(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.inflight[key]
	if !ok {
		return
	}
	delete(d.inflight, key)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	w.resolve(Response{
		Status:      http.StatusServiceUnavailable,
		Header:      header,
		Body:        originFailedBody,
		CompletedAt: d.now(),
	})
}

// Len reports pending and completed entry counts.
func (d *Deduplicator) Len() (inflight, completed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight), len(d.completed)
}

func (d *Deduplicator) prune() {
	now := d.now()
	for key, resp := range d.completed {
		if now.Sub(resp.CompletedAt) > d.ttl {
			delete(d.completed, key)
		}
	}
}
