// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"context"
	"math"
	"sync"

	"github.com/traylinx/switchAIRouter/internal/registry"
	"github.com/traylinx/switchAIRouter/internal/routing"
)

const (
	// minEstimateMicros is the floor of any estimate, in micro-USD.
	minEstimateMicros = 100
	// estimateMargin is added on top of list price.
	estimateMargin = 1.2
	// defaultOutputTokens is assumed when neither the request nor the model
	// bounds the completion.
	defaultOutputTokens = 4096
)

// EstimateAmount prices a request for model in micro-USD: input tokens are
// approximated from the body length, output tokens from maxTokens or the
// model limit. The result carries a 20% margin and is at least 100.
func EstimateAmount(catalog routing.Catalog, model string, bodyLen, maxTokens int) int64 {
	var info *registry.ModelInfo
	if catalog != nil {
		info = catalog.GetModelInfo(model)
	}
	if info == nil {
		return minEstimateMicros
	}
	input := int(math.Ceil(float64(bodyLen) / 4))
	output := maxTokens
	if output <= 0 {
		output = info.MaxCompletionTokens
	}
	if output <= 0 {
		output = defaultOutputTokens
	}
	cost := float64(input)/1e6*info.InputPrice + float64(output)/1e6*info.OutputPrice
	micros := int64(math.Ceil(cost * estimateMargin * 1e6))
	if micros < minEstimateMicros {
		return minEstimateMicros
	}
	return micros
}

// BufferedAmount is the balance required before an attempt is allowed.
func BufferedAmount(micros int64) int64 {
	return micros * 3 / 2
}

// BalanceStatus is the outcome of a balance check.
type BalanceStatus struct {
	Sufficient    bool  `json:"sufficient"`
	Empty         bool  `json:"empty"`
	Low           bool  `json:"low"`
	Unlimited     bool  `json:"unlimited"`
	BalanceMicros int64 `json:"balance_micros"`
}

// BalanceGate decides whether a paid model may be used.
type BalanceGate interface {
	Check(ctx context.Context, requiredMicros int64) (BalanceStatus, error)
	DeductEstimated(micros int64)
	Invalidate()
	Snapshot() BalanceStatus
}

// UnlimitedBalance always reports sufficient funds.
type UnlimitedBalance struct{}

func (UnlimitedBalance) Check(context.Context, int64) (BalanceStatus, error) {
	return BalanceStatus{Sufficient: true, Unlimited: true}, nil
}
func (UnlimitedBalance) DeductEstimated(int64) {}
func (UnlimitedBalance) Invalidate()           {}
func (UnlimitedBalance) Snapshot() BalanceStatus {
	return BalanceStatus{Sufficient: true, Unlimited: true}
}

// LedgerBalance tracks a prepaid allowance in process. Successful requests
// deduct their estimate.
type LedgerBalance struct {
	mu        sync.Mutex
	balance   int64
	lowMicros int64
}

// NewLedgerBalance starts a ledger at initialMicros. Balances below
// lowMicros are flagged as low.
func NewLedgerBalance(initialMicros, lowMicros int64) *LedgerBalance {
	return &LedgerBalance{balance: initialMicros, lowMicros: lowMicros}
}

// Check implements BalanceGate.
func (l *LedgerBalance) Check(_ context.Context, requiredMicros int64) (BalanceStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.statusLocked()
	st.Sufficient = !st.Empty && l.balance >= requiredMicros
	return st, nil
}

// DeductEstimated implements BalanceGate.
func (l *LedgerBalance) DeductEstimated(micros int64) {
	l.mu.Lock()
	l.balance -= micros
	if l.balance < 0 {
		l.balance = 0
	}
	l.mu.Unlock()
}

// Invalidate implements BalanceGate. The ledger is authoritative, so there
// is nothing to refresh.
func (l *LedgerBalance) Invalidate() {}

// Snapshot implements BalanceGate.
func (l *LedgerBalance) Snapshot() BalanceStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.statusLocked()
	st.Sufficient = !st.Empty
	return st
}

func (l *LedgerBalance) statusLocked() BalanceStatus {
	return BalanceStatus{
		Empty:         l.balance <= 0,
		Low:           l.balance < l.lowMicros,
		BalanceMicros: l.balance,
	}
}
