// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tokens selects the token estimator used by the router.
package tokens

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"

	"github.com/traylinx/switchAIRouter/internal/routing"
)

// Estimator names accepted in configuration.
const (
	EstimatorSimple   = "simple"
	EstimatorTiktoken = "tiktoken"
)

// TiktokenEstimator counts cl100k_base tokens. Texts the codec rejects fall
// back to the character estimate.
type TiktokenEstimator struct {
	codec tokenizer.Codec
}

// NewTiktokenEstimator loads the cl100k_base encoding.
func NewTiktokenEstimator() (*TiktokenEstimator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base: %w", err)
	}
	return &TiktokenEstimator{codec: codec}, nil
}

// Estimate implements routing.TokenEstimator.
func (e *TiktokenEstimator) Estimate(text string) int {
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return routing.CharEstimator{}.Estimate(text)
	}
	return len(ids)
}

// New returns the estimator called name. Unknown names and tiktoken load
// failures select the character estimator.
func New(name string) routing.TokenEstimator {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case EstimatorTiktoken:
		est, err := NewTiktokenEstimator()
		if err != nil {
			log.Warnf("token estimator: %v, using simple estimator", err)
			return routing.CharEstimator{}
		}
		return est
	case "", EstimatorSimple:
		return routing.CharEstimator{}
	default:
		log.Warnf("token estimator: unknown %q, using simple estimator", name)
		return routing.CharEstimator{}
	}
}
