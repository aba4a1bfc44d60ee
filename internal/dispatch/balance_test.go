// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/switchAIRouter/internal/registry"
)

func testCatalog() *registry.ModelRegistry {
	return registry.NewModelRegistry([]*registry.ModelInfo{
		{ID: "m/a", InputPrice: 1, OutputPrice: 10, ContextLength: 100000},
		{ID: "m/b", InputPrice: 3, OutputPrice: 15, MaxCompletionTokens: 1000},
		{ID: "m/think", InputPrice: 1, OutputPrice: 1, Reasoning: true},
		{ID: "m/free"},
	}, map[string]string{})
}

func TestEstimateAmount(t *testing.T) {
	cat := testCatalog()

	// 4000 bytes -> 1000 input tokens; 1000 output tokens.
	// (1000/1e6*1 + 1000/1e6*10) * 1.2 = 0.0132 USD.
	assert.InDelta(t, 13200, EstimateAmount(cat, "m/a", 4000, 1000), 1)

	// Model limit used when max_tokens is absent: 1000 output tokens at $15.
	assert.InDelta(t, 21600, EstimateAmount(cat, "m/b", 4000, 0), 1)

	// Default of 4096 output tokens.
	assert.InDelta(t, 4916, EstimateAmount(cat, "m/think", 0, 0), 1)

	assert.Equal(t, int64(minEstimateMicros), EstimateAmount(cat, "m/free", 4000, 1000))
	assert.Equal(t, int64(minEstimateMicros), EstimateAmount(cat, "unknown/model", 4000, 1000))
	assert.Equal(t, int64(minEstimateMicros), EstimateAmount(nil, "m/a", 4000, 1000))

	assert.Equal(t, int64(150), BufferedAmount(100))
}

func TestUnlimitedBalance(t *testing.T) {
	var g BalanceGate = UnlimitedBalance{}
	st, err := g.Check(context.Background(), 1<<40)
	require.NoError(t, err)
	assert.True(t, st.Sufficient)
	assert.True(t, st.Unlimited)
	g.DeductEstimated(10)
	g.Invalidate()
	assert.True(t, g.Snapshot().Sufficient)
}

func TestLedgerBalance(t *testing.T) {
	l := NewLedgerBalance(10_000, 5_000)

	st, err := l.Check(context.Background(), 8_000)
	require.NoError(t, err)
	assert.True(t, st.Sufficient)
	assert.False(t, st.Low)

	l.DeductEstimated(6_000)
	st, _ = l.Check(context.Background(), 8_000)
	assert.False(t, st.Sufficient)
	assert.True(t, st.Low)
	assert.False(t, st.Empty)
	assert.Equal(t, int64(4_000), st.BalanceMicros)

	l.DeductEstimated(50_000)
	st, _ = l.Check(context.Background(), 1)
	assert.True(t, st.Empty)
	assert.False(t, st.Sufficient)
	assert.Zero(t, l.Snapshot().BalanceMicros)
	assert.False(t, l.Snapshot().Sufficient)
}
