// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package routing implements the rule-based prompt classifier and the
// tier-to-model selector used for the virtual auto/eco/premium models.
package routing

// Tier is a coarse complexity bucket. The empty Tier means "ambiguous".
type Tier string

const (
	TierSimple    Tier = "SIMPLE"
	TierMedium    Tier = "MEDIUM"
	TierComplex   Tier = "COMPLEX"
	TierReasoning Tier = "REASONING"
)

// Tiers lists every concrete tier in ascending order.
var Tiers = []Tier{TierSimple, TierMedium, TierComplex, TierReasoning}

// Rank orders tiers; unknown tiers rank below SIMPLE.
func (t Tier) Rank() int {
	switch t {
	case TierSimple:
		return 0
	case TierMedium:
		return 1
	case TierComplex:
		return 2
	case TierReasoning:
		return 3
	}
	return -1
}

// Valid reports whether t is one of the four concrete tiers.
func (t Tier) Valid() bool { return t.Rank() >= 0 }

// ScoreDimension is the output of one scoring rule. Signal is empty when the
// rule did not fire.
type ScoreDimension struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Signal string  `json:"signal,omitempty"`
}

// ClassificationResult is produced once per request by Classify.
type ClassificationResult struct {
	Score        float64          `json:"score"`
	Tier         Tier             `json:"tier,omitempty"`
	Confidence   float64          `json:"confidence"`
	Signals      []string         `json:"signals"`
	AgenticScore float64          `json:"agentic_score"`
	Dimensions   []ScoreDimension `json:"dimensions,omitempty"`
}

// Ambiguous reports whether the classifier declined to pick a tier.
func (r ClassificationResult) Ambiguous() bool { return r.Tier == "" }

// TierConfig is the primary model and ordered fallbacks for one tier.
type TierConfig struct {
	Primary  string   `json:"primary" yaml:"primary"`
	Fallback []string `json:"fallback" yaml:"fallback"`
}

// TierTable maps every tier to its models.
type TierTable map[Tier]TierConfig

// Profile names a routing table.
type Profile string

const (
	ProfileAuto    Profile = "auto"
	ProfileEco     Profile = "eco"
	ProfilePremium Profile = "premium"
	ProfileAgentic Profile = "agentic"
	ProfileFree    Profile = "free"
)

// Method records how a decision was made. Only rule-based routing exists.
const MethodRules = "rules"

// RoutingDecision is built once by the selector. A fallback substitution
// produces a new value via WithModel rather than mutating the original.
type RoutingDecision struct {
	Model        string  `json:"model"`
	Tier         Tier    `json:"tier"`
	Confidence   float64 `json:"confidence"`
	Method       string  `json:"method"`
	Reasoning    string  `json:"reasoning"`
	CostEstimate float64 `json:"cost_estimate"`
	BaselineCost float64 `json:"baseline_cost"`
	Savings      float64 `json:"savings"`
	Profile      Profile `json:"profile,omitempty"`
	AgenticScore float64 `json:"agentic_score,omitempty"`

	InputTokens     int `json:"input_tokens"`
	MaxOutputTokens int `json:"max_output_tokens"`
}
