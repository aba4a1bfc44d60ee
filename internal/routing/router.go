// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

var structuredOutputPattern = regexp.MustCompile(`(?i)json|structured|schema`)

// TokenEstimator approximates the token count of a text.
type TokenEstimator interface {
	Estimate(text string) int
}

// CharEstimator estimates one token per four characters, rounded up.
type CharEstimator struct{}

// Estimate implements TokenEstimator.
func (CharEstimator) Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// Options tune a single Route call.
type Options struct {
	Profile     Profile
	AgenticMode bool
}

// Router combines the classifier and selector under a swappable config.
type Router struct {
	mu        sync.RWMutex
	cfg       Config
	catalog   Catalog
	estimator TokenEstimator
}

// NewRouter creates a router. A nil estimator falls back to CharEstimator.
func NewRouter(cfg Config, catalog Catalog, estimator TokenEstimator) *Router {
	if estimator == nil {
		estimator = CharEstimator{}
	}
	return &Router{cfg: cfg, catalog: catalog, estimator: estimator}
}

// Config returns the active configuration.
func (r *Router) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// SetConfig swaps the active configuration. Used by hot reload.
func (r *Router) SetConfig(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// Catalog returns the model catalog used for pricing.
func (r *Router) Catalog() Catalog { return r.catalog }

// EstimateTokens runs the configured estimator over system + prompt.
func (r *Router) EstimateTokens(prompt, systemPrompt string) int {
	return r.estimator.Estimate(systemPrompt + " " + prompt)
}

// TableFor resolves which tier table serves a request and the reasoning
// suffix naming it.
func (c Config) TableFor(profile Profile, agenticScore float64, agenticMode bool) (TierTable, Profile, string) {
	switch {
	case profile == ProfileEco && c.EcoTiers != nil:
		return c.EcoTiers, ProfileEco, " | eco"
	case profile == ProfilePremium && c.PremiumTiers != nil:
		return c.PremiumTiers, ProfilePremium, " | premium"
	}
	if (agenticScore >= 0.5 || agenticMode || c.Overrides.AgenticMode) && c.AgenticTiers != nil {
		return c.AgenticTiers, ProfileAgentic, " | agentic"
	}
	return c.Tiers, ProfileAuto, ""
}

// Route classifies the prompt and selects a model.
func (r *Router) Route(prompt, systemPrompt string, maxOutputTokens int, opts Options) RoutingDecision {
	cfg := r.Config()
	tokens := r.EstimateTokens(prompt, systemPrompt)
	result := Classify(prompt, systemPrompt, tokens, cfg.Scoring)

	table, profile, suffix := cfg.TableFor(opts.Profile, result.AgenticScore, opts.AgenticMode)

	if limit := cfg.Overrides.MaxTokensForceComplex; limit > 0 && tokens > limit {
		d := SelectModel(TierComplex, 0.95, MethodRules,
			fmt.Sprintf("Input exceeds %d tokens%s", limit, suffix),
			table, r.catalog, tokens, maxOutputTokens, profile)
		d.AgenticScore = result.AgenticScore
		return d
	}

	tier, confidence := result.Tier, result.Confidence
	reasoning := fmt.Sprintf("score=%.2f | %s", result.Score, strings.Join(result.Signals, ", "))
	if result.Ambiguous() {
		tier = cfg.Overrides.AmbiguousDefaultTier
		if !tier.Valid() {
			tier = TierMedium
		}
		confidence = 0.5
		reasoning += " | ambiguous -> default: " + string(tier)
	}

	if systemPrompt != "" && structuredOutputPattern.MatchString(systemPrompt) {
		if floor := cfg.Overrides.StructuredOutputMinTier; floor.Valid() && tier.Rank() < floor.Rank() {
			reasoning += fmt.Sprintf(" | upgraded to %s (structured output)", floor)
			tier = floor
		}
	}
	reasoning += suffix

	d := SelectModel(tier, confidence, MethodRules, reasoning, table, r.catalog, tokens, maxOutputTokens, profile)
	d.AgenticScore = result.AgenticScore
	return d
}
