// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

// DefaultCooldown is how long a rate-limited model is deprioritized.
const DefaultCooldown = 60 * time.Second

// CooldownTable remembers models that recently answered 429.
type CooldownTable struct {
	mu     sync.Mutex
	window time.Duration
	marks  map[string]time.Time
	now    func() time.Time
}

// NewCooldownTable creates a table. A non-positive window selects DefaultCooldown.
func NewCooldownTable(window time.Duration) *CooldownTable {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &CooldownTable{window: window, marks: make(map[string]time.Time), now: time.Now}
}

// Mark records a rate limit for model.
func (c *CooldownTable) Mark(model string) {
	c.mu.Lock()
	c.marks[model] = c.now()
	c.mu.Unlock()
}

// IsCooling reports whether model was rate limited within the window.
// Expired marks are dropped.
func (c *CooldownTable) IsCooling(model string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coolingLocked(model)
}

func (c *CooldownTable) coolingLocked(model string) bool {
	at, ok := c.marks[model]
	if !ok {
		return false
	}
	if c.now().Sub(at) >= c.window {
		delete(c.marks, model)
		return false
	}
	return true
}

// Prioritize moves cooling models behind the others, keeping relative order
// within both groups. No model is removed.
func (c *CooldownTable) Prioritize(chain []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cooling, ready := lo.FilterReject(chain, func(m string, _ int) bool { return c.coolingLocked(m) })
	return append(ready, cooling...)
}

// Len returns the number of models currently cooling.
func (c *CooldownTable) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for m := range c.marks {
		if c.coolingLocked(m) {
			n++
		}
	}
	return n
}
