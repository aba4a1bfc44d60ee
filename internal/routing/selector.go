// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

import (
	"math"

	"github.com/samber/lo"
	"github.com/traylinx/switchAIRouter/internal/registry"
)

// BaselineModel is the premium reference used to report savings.
const BaselineModel = "anthropic/claude-opus-4.6"

// Baseline prices used when BaselineModel is missing from the catalog.
const (
	baselineInputPrice  = 5.0
	baselineOutputPrice = 25.0
)

// contextHeadroom is the multiplier applied to the estimated token total
// before comparing against a model's context window.
const contextHeadroom = 1.1

// Catalog is the subset of the model registry the selector needs.
type Catalog interface {
	GetModelInfo(modelID string) *registry.ModelInfo
}

// Cost holds the economics of serving a request with one model.
type Cost struct {
	CostEstimate float64 `json:"cost_estimate"`
	BaselineCost float64 `json:"baseline_cost"`
	Savings      float64 `json:"savings"`
}

// SelectModel builds a decision for the primary model of tier.
func SelectModel(tier Tier, confidence float64, method, reasoning string, tiers TierTable,
	catalog Catalog, inputTokens, maxOutputTokens int, profile Profile) RoutingDecision {
	model := tiers[tier].Primary
	cost := CalculateModelCost(model, catalog, inputTokens, maxOutputTokens, profile)
	return RoutingDecision{
		Model:           model,
		Tier:            tier,
		Confidence:      confidence,
		Method:          method,
		Reasoning:       reasoning,
		CostEstimate:    cost.CostEstimate,
		BaselineCost:    cost.BaselineCost,
		Savings:         cost.Savings,
		Profile:         profile,
		InputTokens:     inputTokens,
		MaxOutputTokens: maxOutputTokens,
	}
}

// CalculateModelCost prices a request against model. Missing pricing counts
// as zero. Savings are clamped to [0,1] and are always zero for premium.
func CalculateModelCost(model string, catalog Catalog, inputTokens, maxOutputTokens int, profile Profile) Cost {
	var inPrice, outPrice float64
	if m := lookup(catalog, model); m != nil {
		inPrice, outPrice = m.InputPrice, m.OutputPrice
	}
	cost := price(inputTokens, maxOutputTokens, inPrice, outPrice)

	baseIn, baseOut := baselineInputPrice, baselineOutputPrice
	if m := lookup(catalog, BaselineModel); m != nil {
		baseIn, baseOut = m.InputPrice, m.OutputPrice
	}
	baseline := price(inputTokens, maxOutputTokens, baseIn, baseOut)

	var savings float64
	if profile != ProfilePremium && baseline > 0 {
		savings = math.Min(1, math.Max(0, (baseline-cost)/baseline))
	}
	return Cost{CostEstimate: cost, BaselineCost: baseline, Savings: savings}
}

// WithModel returns a copy of d attributed to model with cost fields
// recomputed. The reasoning records the substitution.
func (d RoutingDecision) WithModel(model string, catalog Catalog) RoutingDecision {
	if model == d.Model {
		return d
	}
	cost := CalculateModelCost(model, catalog, d.InputTokens, d.MaxOutputTokens, d.Profile)
	next := d
	next.Model = model
	next.CostEstimate = cost.CostEstimate
	next.BaselineCost = cost.BaselineCost
	next.Savings = cost.Savings
	next.Reasoning = d.Reasoning + " | fallback to " + model
	return next
}

func price(inputTokens, outputTokens int, inPrice, outPrice float64) float64 {
	return float64(inputTokens)/1e6*inPrice + float64(outputTokens)/1e6*outPrice
}

func lookup(catalog Catalog, model string) *registry.ModelInfo {
	if catalog == nil {
		return nil
	}
	return catalog.GetModelInfo(model)
}

// FallbackChain returns [primary, fallback...] for tier without duplicates.
func FallbackChain(tier Tier, tiers TierTable) []string {
	cfg, ok := tiers[tier]
	if !ok {
		return nil
	}
	chain := append([]string{cfg.Primary}, cfg.Fallback...)
	return lo.Uniq(lo.Compact(chain))
}

// FallbackChainFiltered drops models whose known context window cannot hold
// estimatedTotalTokens with headroom. An empty result yields the full chain.
func FallbackChainFiltered(tier Tier, tiers TierTable, estimatedTotalTokens int, catalog Catalog) []string {
	chain := FallbackChain(tier, tiers)
	need := float64(estimatedTotalTokens) * contextHeadroom
	filtered := lo.Filter(chain, func(model string, _ int) bool {
		m := lookup(catalog, model)
		if m == nil || m.ContextLength <= 0 {
			return true
		}
		return float64(m.ContextLength) >= need
	})
	if len(filtered) == 0 {
		return chain
	}
	return filtered
}

// FilterByToolCalling keeps tool-capable models when the request carries
// tools. An empty result yields the input list.
func FilterByToolCalling(models []string, hasTools bool, supports func(string) bool) []string {
	return filterOrKeep(models, hasTools, supports)
}

// FilterByVision keeps vision-capable models when the request carries image
// parts. An empty result yields the input list.
func FilterByVision(models []string, hasVision bool, supports func(string) bool) []string {
	return filterOrKeep(models, hasVision, supports)
}

func filterOrKeep(models []string, active bool, keep func(string) bool) []string {
	if !active || keep == nil {
		return models
	}
	filtered := lo.Filter(models, func(m string, _ int) bool { return keep(m) })
	if len(filtered) == 0 {
		return models
	}
	return filtered
}
