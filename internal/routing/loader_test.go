// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const overrideYAML = `
scoring:
  keywords:
    simple: ["howdy"]
  dimension-weights:
    tokenCount: 0.1
  confidence-threshold: 0.6
tiers:
  SIMPLE:
    primary: deepseek/deepseek-chat
    fallback: [google/gemini-2.5-flash]
overrides:
  ambiguous-default-tier: COMPLEX
  agentic-mode: true
`

func TestParseConfig_Overrides(t *testing.T) {
	cfg, err := ParseConfig([]byte(overrideYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"howdy"}, cfg.Scoring.Keywords.SimpleKeywords)
	assert.Equal(t, DefaultKeywords().CodeKeywords, cfg.Scoring.Keywords.CodeKeywords)
	assert.Equal(t, 0.1, cfg.Scoring.DimensionWeights[DimTokenCount])
	assert.Equal(t, 0.15, cfg.Scoring.DimensionWeights[DimCodePresence])
	assert.Equal(t, 0.6, cfg.Scoring.ConfidenceThreshold)
	assert.Equal(t, 12.0, cfg.Scoring.ConfidenceSteepness)

	assert.Equal(t, "deepseek/deepseek-chat", cfg.Tiers[TierSimple].Primary)
	assert.Equal(t, []string{"google/gemini-2.5-flash"}, cfg.Tiers[TierSimple].Fallback)
	assert.Equal(t, "xai/grok-code-fast-1", cfg.Tiers[TierMedium].Primary)

	assert.Equal(t, TierComplex, cfg.Overrides.AmbiguousDefaultTier)
	assert.True(t, cfg.Overrides.AgenticMode)
	assert.Equal(t, 100000, cfg.Overrides.MaxTokensForceComplex)
}

func TestParseConfig_Empty(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown tier", "tiers:\n  HUGE:\n    primary: a/b\n"},
		{"missing primary", "tiers:\n  SIMPLE:\n    fallback: [a/b]\n"},
		{"unknown keyword list", "scoring:\n  keywords:\n    emoji: [x]\n"},
		{"unknown dimension", "scoring:\n  dimension-weights:\n    vibes: 1\n"},
		{"boundaries", "scoring:\n  tier-boundaries:\n    simple-medium: 0.5\n    medium-complex: 0.3\n    complex-reasoning: 0.6\n"},
		{"bad default tier", "overrides:\n  ambiguous-default-tier: HUGE\n"},
		{"malformed", "tiers: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFile_Missing(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWatchFile_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("overrides:\n  agentic-mode: false\n"), 0o644))

	changes := make(chan Config, 4)
	w, err := WatchFile(path, func(cfg Config) {
		select {
		case changes <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("overrides:\n  agentic-mode: true\n"), 0o644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Overrides.AgenticMode {
				w.Stop()
				return
			}
		case <-deadline:
			t.Fatal("routing file change was not picked up")
		}
	}
}
