// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

// KeywordSets holds the per-dimension keyword lists.
type KeywordSets struct {
	CodeKeywords           []string `yaml:"code"`
	ReasoningKeywords      []string `yaml:"reasoning"`
	SimpleKeywords         []string `yaml:"simple"`
	TechnicalKeywords      []string `yaml:"technical"`
	CreativeKeywords       []string `yaml:"creative"`
	ImperativeVerbs        []string `yaml:"imperative"`
	ConstraintIndicators   []string `yaml:"constraints"`
	OutputFormatKeywords   []string `yaml:"output-format"`
	ReferenceKeywords      []string `yaml:"references"`
	NegationKeywords       []string `yaml:"negation"`
	DomainSpecificKeywords []string `yaml:"domain-specific"`
	AgenticTaskKeywords    []string `yaml:"agentic"`
}

// TokenThresholds bounds the token-count rule.
type TokenThresholds struct {
	Simple  int `yaml:"simple"`
	Complex int `yaml:"complex"`
}

// TierBoundaries partition the weighted-score axis.
type TierBoundaries struct {
	SimpleMedium     float64 `yaml:"simple-medium"`
	MediumComplex    float64 `yaml:"medium-complex"`
	ComplexReasoning float64 `yaml:"complex-reasoning"`
}

// ScoringConfig parameterizes Classify.
type ScoringConfig struct {
	TokenCountThresholds TokenThresholds    `yaml:"token-count-thresholds"`
	Keywords             KeywordSets        `yaml:"keywords"`
	DimensionWeights     map[string]float64 `yaml:"dimension-weights"`
	TierBoundaries       TierBoundaries     `yaml:"tier-boundaries"`
	ConfidenceSteepness  float64            `yaml:"confidence-steepness"`
	ConfidenceThreshold  float64            `yaml:"confidence-threshold"`
}

// Overrides tune the router around the classifier.
type Overrides struct {
	MaxTokensForceComplex   int  `yaml:"max-tokens-force-complex"`
	StructuredOutputMinTier Tier `yaml:"structured-output-min-tier"`
	AmbiguousDefaultTier    Tier `yaml:"ambiguous-default-tier"`
	AgenticMode             bool `yaml:"agentic-mode"`
}

// Config is the complete routing configuration: scoring plus one tier table
// per profile.
type Config struct {
	Scoring      ScoringConfig `yaml:"scoring"`
	Tiers        TierTable     `yaml:"tiers"`
	EcoTiers     TierTable     `yaml:"eco-tiers"`
	PremiumTiers TierTable     `yaml:"premium-tiers"`
	AgenticTiers TierTable     `yaml:"agentic-tiers"`
	Overrides    Overrides     `yaml:"overrides"`
}

// Dimension names used as weight keys.
const (
	DimTokenCount          = "tokenCount"
	DimCodePresence        = "codePresence"
	DimReasoningMarkers    = "reasoningMarkers"
	DimTechnicalTerms      = "technicalTerms"
	DimCreativeMarkers     = "creativeMarkers"
	DimSimpleIndicators    = "simpleIndicators"
	DimMultiStepPatterns   = "multiStepPatterns"
	DimQuestionComplexity  = "questionComplexity"
	DimImperativeVerbs     = "imperativeVerbs"
	DimConstraintCount     = "constraintCount"
	DimOutputFormat        = "outputFormat"
	DimReferenceComplexity = "referenceComplexity"
	DimNegationComplexity  = "negationComplexity"
	DimDomainSpecificity   = "domainSpecificity"
	DimAgenticTask         = "agenticTask"
)

// DefaultScoringConfig returns the tuned scoring defaults. Weights sum to 1.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		TokenCountThresholds: TokenThresholds{Simple: 50, Complex: 500},
		Keywords:             DefaultKeywords(),
		DimensionWeights: map[string]float64{
			DimTokenCount:          0.08,
			DimCodePresence:        0.15,
			DimReasoningMarkers:    0.18,
			DimTechnicalTerms:      0.10,
			DimCreativeMarkers:     0.05,
			DimSimpleIndicators:    0.02,
			DimMultiStepPatterns:   0.12,
			DimQuestionComplexity:  0.05,
			DimImperativeVerbs:     0.03,
			DimConstraintCount:     0.04,
			DimOutputFormat:        0.03,
			DimReferenceComplexity: 0.02,
			DimNegationComplexity:  0.01,
			DimDomainSpecificity:   0.02,
			DimAgenticTask:         0.04,
		},
		TierBoundaries:      TierBoundaries{SimpleMedium: 0, MediumComplex: 0.3, ComplexReasoning: 0.5},
		ConfidenceSteepness: 12,
		ConfidenceThreshold: 0.7,
	}
}

// DefaultOverrides returns the router override defaults.
func DefaultOverrides() Overrides {
	return Overrides{
		MaxTokensForceComplex:   100000,
		StructuredOutputMinTier: TierMedium,
		AmbiguousDefaultTier:    TierMedium,
	}
}

// DefaultConfig returns the full built-in routing configuration.
func DefaultConfig() Config {
	return Config{
		Scoring:      DefaultScoringConfig(),
		Tiers:        DefaultTiers(),
		EcoTiers:     DefaultEcoTiers(),
		PremiumTiers: DefaultPremiumTiers(),
		AgenticTiers: DefaultAgenticTiers(),
		Overrides:    DefaultOverrides(),
	}
}
