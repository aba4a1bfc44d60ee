// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transcode

import (
	"context"
	"io"
	"sync"
	"time"
)

// HeartbeatInterval is the default spacing of keep-alive comments.
const HeartbeatInterval = 2 * time.Second

// HeartbeatComment is an SSE comment line ignored by clients.
const HeartbeatComment = ": heartbeat\n\n"

// Heartbeat writes keep-alive comments to a stream while the response is
// still being produced.
type Heartbeat struct {
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// StartHeartbeat writes one comment immediately and then one per interval
// until Stop is called, ctx ends or a write fails. flush may be nil.
func StartHeartbeat(ctx context.Context, w io.Writer, flush func(), interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = HeartbeatInterval
	}
	h := &Heartbeat{stop: make(chan struct{})}
	beat := func() bool {
		if _, err := io.WriteString(w, HeartbeatComment); err != nil {
			return false
		}
		if flush != nil {
			flush()
		}
		return true
	}
	if !beat() {
		close(h.stop)
		return h
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !beat() {
					return
				}
			case <-ctx.Done():
				return
			case <-h.stop:
				return
			}
		}
	}()
	return h
}

// Stop halts the heartbeat and waits for any in-progress write, so the
// caller owns the writer once Stop returns. Safe to call repeatedly.
func (h *Heartbeat) Stop() {
	h.once.Do(func() {
		select {
		case <-h.stop:
		default:
			close(h.stop)
		}
	})
	h.wg.Wait()
}
