// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/switchAIRouter/internal/routing"
)

func TestNew(t *testing.T) {
	assert.IsType(t, routing.CharEstimator{}, New(""))
	assert.IsType(t, routing.CharEstimator{}, New("simple"))
	assert.IsType(t, routing.CharEstimator{}, New("bogus"))
	assert.IsType(t, &TiktokenEstimator{}, New(" TikToken "))
}

func TestTiktokenEstimator(t *testing.T) {
	est, err := NewTiktokenEstimator()
	require.NoError(t, err)

	assert.Zero(t, est.Estimate(""))
	hello := est.Estimate("hello world")
	assert.Equal(t, 2, hello)

	long := est.Estimate("Prove step by step that the square root of two is irrational.")
	assert.Greater(t, long, hello)
	assert.Less(t, long, 30)
}
