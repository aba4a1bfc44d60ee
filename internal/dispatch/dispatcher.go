// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dispatch sends a chat completion upstream, walking a fallback
// chain of models until one answers or the chain is exhausted.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIRouter/internal/hooks"
	"github.com/traylinx/switchAIRouter/internal/metrics"
	"github.com/traylinx/switchAIRouter/internal/routing"
)

const (
	// DefaultMaxAttempts caps the models tried for one request.
	DefaultMaxAttempts = 5
	// DefaultAttemptTimeout bounds a single upstream attempt.
	DefaultAttemptTimeout = 180 * time.Second
)

// Options tunes a Dispatcher.
type Options struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	MaxMessages    int
}

// DefaultOptions returns the built-in limits.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    DefaultMaxAttempts,
		AttemptTimeout: DefaultAttemptTimeout,
		MaxMessages:    DefaultMaxMessages,
	}
}

// Catalog is the registry view the dispatcher needs.
type Catalog interface {
	routing.Catalog
	IsReasoningModel(modelID string) bool
}

// Attempt is one client request to be served by the first working model of
// Chain.
type Attempt struct {
	Body   []byte
	Header http.Header
	Chain  []string
	// Decision is the routing decision for Chain[0], nil for explicit models.
	Decision  *routing.RoutingDecision
	RequestID string
}

// Result describes how a request was served.
type Result struct {
	// Response is set on success; its Body must be closed by the caller.
	Response *Response
	Model    string
	Decision *routing.RoutingDecision
	Attempts int
	Failures []*ProviderError
}

// Fallback reports whether a model other than the first choice answered.
func (r *Result) Fallback() bool { return r.Response != nil && r.Attempts > 1 }

// Dispatcher runs the fallback loop. It is safe for concurrent use.
type Dispatcher struct {
	transport Transport
	errors    *ErrorTable
	cooldown  *CooldownTable
	catalog   Catalog
	opts      Options
	bus       *hooks.EventBus
	metrics   *metrics.Metrics
}

// New creates a Dispatcher. errTable and cooldown may be nil for defaults.
func New(transport Transport, catalog Catalog, errTable *ErrorTable, cooldown *CooldownTable, opts Options) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	if errTable == nil {
		errTable = &ErrorTable{rules: DefaultErrorRules()}
	}
	if cooldown == nil {
		cooldown = NewCooldownTable(DefaultCooldown)
	}
	return &Dispatcher{transport: transport, errors: errTable, cooldown: cooldown, catalog: catalog, opts: opts}
}

// WithEvents publishes gateway events on bus.
func (d *Dispatcher) WithEvents(bus *hooks.EventBus) *Dispatcher {
	d.bus = bus
	return d
}

// WithMetrics records attempt metrics.
func (d *Dispatcher) WithMetrics(m *metrics.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// Cooldown exposes the rate-limit table.
func (d *Dispatcher) Cooldown() *CooldownTable { return d.cooldown }

// Errors exposes the error table.
func (d *Dispatcher) Errors() *ErrorTable { return d.errors }

// PlanChain caps chain at the attempt limit and moves rate-limited models
// to the end.
func (d *Dispatcher) PlanChain(chain []string) []string {
	if len(chain) > d.opts.MaxAttempts {
		chain = chain[:d.opts.MaxAttempts]
	}
	return d.cooldown.Prioritize(chain)
}

// Dispatch tries the models of a.Chain in order. A retryable failure moves
// on to the next model unless it was the last one; a fatal failure stops
// immediately. On failure the returned error is a *ProviderError, wrapped in
// ErrChainExhausted when every model was tried.
func (d *Dispatcher) Dispatch(ctx context.Context, a Attempt) (*Result, error) {
	chain := a.Chain
	if len(chain) > d.opts.MaxAttempts {
		chain = chain[:d.opts.MaxAttempts]
	}
	if len(chain) == 0 {
		return nil, ErrNoModel
	}

	res := &Result{Decision: a.Decision}
	var last *ProviderError
	for i, model := range chain {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts = i + 1
		resp, perr := d.try(ctx, a, model)
		if perr == nil {
			res.Response = resp
			res.Model = model
			if i > 0 {
				d.onFallback(a, res, chain[0], model)
			}
			return res, nil
		}

		last = perr
		res.Failures = append(res.Failures, perr)
		if perr.Status == http.StatusTooManyRequests {
			d.cooldown.Mark(model)
			d.metrics.ObserveRateLimited(model)
			d.publish(hooks.EventRateLimited, a, model, map[string]any{"status": perr.Status})
		}
		isLast := i == len(chain)-1
		if !perr.Retryable() || isLast {
			break
		}
		log.Warnf("[%s] %s failed with %d (%s), trying %s", a.RequestID, model, perr.Status, perr.Kind, chain[i+1])
	}

	res.Model = last.Model
	d.publish(hooks.EventRequestFailed, a, last.Model, map[string]any{
		"status":   last.Status,
		"kind":     last.Kind.String(),
		"attempts": res.Attempts,
	})
	if last.Retryable() {
		return res, fmt.Errorf("%w: %w", ErrChainExhausted, last)
	}
	return res, last
}

func (d *Dispatcher) onFallback(a Attempt, res *Result, from, to string) {
	if a.Decision != nil {
		next := a.Decision.WithModel(to, d.catalog)
		res.Decision = &next
	}
	d.metrics.ObserveFallback(from, to)
	d.publish(hooks.EventFallbackUsed, a, to, map[string]any{
		"from":     from,
		"to":       to,
		"attempts": res.Attempts,
	})
	log.Infof("[%s] fallback from %s to %s after %d attempts", a.RequestID, from, to, res.Attempts)
}

// try runs one attempt. A nil error means a 200 response whose body stays
// open until the caller closes it.
func (d *Dispatcher) try(ctx context.Context, a Attempt, model string) (*Response, *ProviderError) {
	reasoning := d.catalog != nil && d.catalog.IsReasoningModel(model)
	body, err := Normalize(a.Body, model, NormalizeOptions{MaxMessages: d.opts.MaxMessages, Reasoning: reasoning})
	if err != nil {
		return nil, &ProviderError{Kind: KindFatalRequest, Status: http.StatusBadRequest, Model: model, Err: err}
	}

	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, d.opts.AttemptTimeout)
	resp, err := d.transport.RoundTrip(actx, Request{Model: model, Body: body, Header: a.Header})
	if err != nil {
		perr := d.transportError(ctx, actx, model, err)
		cancel()
		d.metrics.ObserveAttempt(model, perr.Kind.String(), time.Since(start))
		return nil, perr
	}

	if resp.Status == http.StatusOK {
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		d.metrics.ObserveAttempt(model, "ok", time.Since(start))
		return resp, nil
	}

	errBody, readErr := io.ReadAll(resp.Body)
	if errClose := resp.Body.Close(); errClose != nil {
		log.Errorf("upstream: close response body error: %v", errClose)
	}
	if readErr != nil {
		perr := d.transportError(ctx, actx, model, readErr)
		cancel()
		d.metrics.ObserveAttempt(model, perr.Kind.String(), time.Since(start))
		return nil, perr
	}
	cancel()

	kind := KindFatalRequest
	if d.errors.Classify(resp.Status, errBody, model) == Retryable {
		kind = KindRetryableProvider
	}
	d.metrics.ObserveAttempt(model, kind.String(), time.Since(start))
	log.Debugf("[%s] %s returned %d: %s", a.RequestID, model, resp.Status, truncateBody(errBody, 300))
	return nil, &ProviderError{Kind: kind, Status: resp.Status, Body: errBody, Model: model}
}

func (d *Dispatcher) transportError(parent, attempt context.Context, model string, err error) *ProviderError {
	if parent.Err() == nil && errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return &ProviderError{
			Kind:   KindTimeout,
			Status: http.StatusGatewayTimeout,
			Body:   []byte(fmt.Sprintf("upstream timed out after %s", d.opts.AttemptTimeout)),
			Model:  model,
			Err:    err,
		}
	}
	return &ProviderError{
		Kind:   KindNetwork,
		Status: http.StatusInternalServerError,
		Body:   []byte(err.Error()),
		Model:  model,
		Err:    err,
	}
}

func (d *Dispatcher) publish(event hooks.HookEvent, a Attempt, model string, data map[string]any) {
	if d.bus == nil {
		return
	}
	data["request_id"] = a.RequestID
	d.bus.PublishAsync(&hooks.EventContext{
		Event:     event,
		Timestamp: time.Now(),
		Model:     model,
		Data:      data,
	})
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
