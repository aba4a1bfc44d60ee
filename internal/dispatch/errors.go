// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var (
	// ErrChainExhausted wraps the last failure once no model is left to try.
	ErrChainExhausted = errors.New("dispatch: fallback chain exhausted")
	// ErrNoModel is returned for an empty chain.
	ErrNoModel = errors.New("dispatch: no model to try")
)

// Kind classifies a failed attempt.
type Kind int

const (
	// KindRetryableProvider is an upstream failure worth trying on another model.
	KindRetryableProvider Kind = iota + 1
	// KindFatalRequest is a failure that another model would repeat.
	KindFatalRequest
	// KindTimeout is an attempt that ran out of time.
	KindTimeout
	// KindNetwork is a transport failure before any status was received.
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindRetryableProvider:
		return "retryable_provider_error"
	case KindFatalRequest:
		return "fatal_request_error"
	case KindTimeout:
		return "timeout_error"
	case KindNetwork:
		return "network_error"
	default:
		return "unknown"
	}
}

// ProviderError describes one failed attempt.
type ProviderError struct {
	Kind   Kind
	Status int
	Body   []byte
	Model  string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: model %s: status %d: %v", e.Kind, e.Model, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: model %s: status %d: %s", e.Kind, e.Model, e.Status, truncateBody(e.Body, 200))
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the next model in the chain should be tried.
func (e *ProviderError) Retryable() bool { return e.Kind != KindFatalRequest }

func truncateBody(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Verdict is the outcome of classifying an upstream status and body.
type Verdict int

const (
	Fatal Verdict = iota
	Retryable
)

// StatusRange is an inclusive range of HTTP status codes.
type StatusRange struct{ Lo, Hi int }

// ErrorRule is one row of the error table. A rule matches when the status
// falls in one of its ranges and, if Pattern is set, the body matches it.
type ErrorRule struct {
	Name     string
	Statuses []StatusRange
	Pattern  *regexp.Regexp
	Verdict  Verdict
}

func (r ErrorRule) matches(status int, body []byte) bool {
	in := false
	for _, s := range r.Statuses {
		if status >= s.Lo && status <= s.Hi {
			in = true
			break
		}
	}
	if !in {
		return false
	}
	return r.Pattern == nil || r.Pattern.Match(body)
}

// providerErrorPattern matches bodies of 4xx responses that stem from the
// provider rather than the request.
var providerErrorPattern = regexp.MustCompile(`(?i)billing|insufficient.*balance|credits|quota.*exceeded|` +
	`rate.*limit|model.*unavailable|model.*not.*available|service.*unavailable|capacity|overloaded|` +
	`temporarily.*unavailable|api.*key.*invalid|authentication.*failed|request too large|` +
	`request.*size.*exceeds|payload too large`)

// DefaultErrorRules is the built-in table. Statuses outside every row are fatal.
func DefaultErrorRules() []ErrorRule {
	return []ErrorRule{
		{Name: "server-error", Statuses: []StatusRange{{500, 599}}, Verdict: Retryable},
		{Name: "rate-limited", Statuses: []StatusRange{{http.StatusTooManyRequests, http.StatusTooManyRequests}}, Verdict: Retryable},
		{Name: "payload-too-large", Statuses: []StatusRange{{http.StatusRequestEntityTooLarge, http.StatusRequestEntityTooLarge}}, Verdict: Retryable},
		{Name: "provider-client-error", Statuses: []StatusRange{{400, 403}}, Pattern: providerErrorPattern, Verdict: Retryable},
	}
}

// RetryRule is a configured expr condition evaluated before the built-in
// rows. The environment exposes status, body and model.
type RetryRule struct {
	Name      string `yaml:"name" json:"name"`
	Condition string `yaml:"condition" json:"condition"`
	Retry     bool   `yaml:"retry" json:"retry"`
}

type compiledRule struct {
	name    string
	program *vm.Program
	verdict Verdict
}

func ruleEnv(status int, body, model string) map[string]any {
	return map[string]any{"status": status, "body": body, "model": model}
}

// ErrorTable decides whether a failed attempt may fall back.
type ErrorTable struct {
	mu     sync.RWMutex
	custom []compiledRule
	rules  []ErrorRule
}

// NewErrorTable compiles the custom rules in front of the built-in table.
func NewErrorTable(custom []RetryRule) (*ErrorTable, error) {
	t := &ErrorTable{rules: DefaultErrorRules()}
	if err := t.SetRetryRules(custom); err != nil {
		return nil, err
	}
	return t, nil
}

// SetRetryRules replaces the configured expr rules.
func (t *ErrorTable) SetRetryRules(custom []RetryRule) error {
	compiled := make([]compiledRule, 0, len(custom))
	for _, r := range custom {
		program, err := expr.Compile(r.Condition, expr.Env(ruleEnv(0, "", "")), expr.AsBool())
		if err != nil {
			return fmt.Errorf("retry rule %q: %w", r.Name, err)
		}
		v := Fatal
		if r.Retry {
			v = Retryable
		}
		compiled = append(compiled, compiledRule{name: r.Name, program: program, verdict: v})
	}
	t.mu.Lock()
	t.custom = compiled
	t.mu.Unlock()
	return nil
}

// Classify returns the verdict for an upstream response.
func (t *ErrorTable) Classify(status int, body []byte, model string) Verdict {
	t.mu.RLock()
	custom := t.custom
	t.mu.RUnlock()

	if len(custom) > 0 {
		env := ruleEnv(status, string(body), model)
		for _, r := range custom {
			out, err := expr.Run(r.program, env)
			if err != nil {
				continue
			}
			if ok, _ := out.(bool); ok {
				return r.verdict
			}
		}
	}
	for _, r := range t.rules {
		if r.matches(status, body) {
			return r.Verdict
		}
	}
	return Fatal
}
