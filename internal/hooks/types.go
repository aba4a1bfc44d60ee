// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hooks carries gateway events to in-process subscribers and to
// user-defined YAML hooks whose expr conditions select an action.
package hooks

import (
	"time"
)

// HookEvent names a gateway event.
type HookEvent string

const (
	EventRoutingDecision HookEvent = "routing_decision"
	EventFallbackUsed    HookEvent = "fallback_used"
	EventRateLimited     HookEvent = "rate_limited"
	EventRequestFailed   HookEvent = "request_failed"
	EventBalanceLow      HookEvent = "balance_low"
	EventUsage           HookEvent = "usage"
)

// AllEvents lists every event hooks may subscribe to.
var AllEvents = []HookEvent{
	EventRoutingDecision, EventFallbackUsed, EventRateLimited,
	EventRequestFailed, EventBalanceLow, EventUsage,
}

// HookAction names what a matching hook does.
type HookAction string

const (
	ActionLogWarning    HookAction = "log_warning"
	ActionNotifyWebhook HookAction = "notify_webhook"
)

// Hook is one automation rule loaded from a YAML file.
type Hook struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Event       HookEvent      `yaml:"event" json:"event"`
	Condition   string         `yaml:"condition" json:"condition"`
	Action      HookAction     `yaml:"action" json:"action"`
	Params      map[string]any `yaml:"params" json:"params"`
	Enabled     bool           `yaml:"enabled" json:"enabled"`

	FilePath string `yaml:"-" json:"-"`
}

// EventContext is one published event.
type EventContext struct {
	Event     HookEvent      `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Model     string         `json:"model,omitempty"`
	Data      map[string]any `json:"data"`
	// Payload carries a typed value for in-process subscribers. It is not
	// visible to hook conditions.
	Payload      any    `json:"-"`
	ErrorMessage string `json:"error,omitempty"`
}

// ActionHandler executes a hook action.
type ActionHandler func(hook *Hook, ctx *EventContext) error
