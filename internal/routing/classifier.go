// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// keywordRule scores a dimension by counting distinct keyword hits.
type keywordRule struct {
	Name     string
	Label    string
	UserOnly bool
	Keywords func(*KeywordSets) []string
	Low      int
	High     int
	// Scores for none / low / high match counts.
	Scores [3]float64
}

var (
	codeRule = keywordRule{
		Name: DimCodePresence, Label: "code",
		Keywords: func(k *KeywordSets) []string { return k.CodeKeywords },
		Low:      1, High: 2, Scores: [3]float64{0, 0.5, 1},
	}
	// Reasoning markers are matched against the user text only.
	reasoningRule = keywordRule{
		Name: DimReasoningMarkers, Label: "reasoning", UserOnly: true,
		Keywords: func(k *KeywordSets) []string { return k.ReasoningKeywords },
		Low:      1, High: 2, Scores: [3]float64{0, 0.7, 1},
	}
	technicalRule = keywordRule{
		Name: DimTechnicalTerms, Label: "technical",
		Keywords: func(k *KeywordSets) []string { return k.TechnicalKeywords },
		Low:      2, High: 4, Scores: [3]float64{0, 0.5, 1},
	}
	creativeRule = keywordRule{
		Name: DimCreativeMarkers, Label: "creative",
		Keywords: func(k *KeywordSets) []string { return k.CreativeKeywords },
		Low:      1, High: 2, Scores: [3]float64{0, 0.5, 0.7},
	}
	simpleRule = keywordRule{
		Name: DimSimpleIndicators, Label: "simple",
		Keywords: func(k *KeywordSets) []string { return k.SimpleKeywords },
		Low:      1, High: 2, Scores: [3]float64{0, -1, -1},
	}
	trailingRules = []keywordRule{
		{
			Name: DimImperativeVerbs, Label: "imperative",
			Keywords: func(k *KeywordSets) []string { return k.ImperativeVerbs },
			Low:      1, High: 2, Scores: [3]float64{0, 0.3, 0.5},
		},
		{
			Name: DimConstraintCount, Label: "constraints",
			Keywords: func(k *KeywordSets) []string { return k.ConstraintIndicators },
			Low:      1, High: 3, Scores: [3]float64{0, 0.3, 0.7},
		},
		{
			Name: DimOutputFormat, Label: "format",
			Keywords: func(k *KeywordSets) []string { return k.OutputFormatKeywords },
			Low:      1, High: 2, Scores: [3]float64{0, 0.4, 0.7},
		},
		{
			Name: DimReferenceComplexity, Label: "references",
			Keywords: func(k *KeywordSets) []string { return k.ReferenceKeywords },
			Low:      1, High: 2, Scores: [3]float64{0, 0.3, 0.5},
		},
		{
			Name: DimNegationComplexity, Label: "negation",
			Keywords: func(k *KeywordSets) []string { return k.NegationKeywords },
			Low:      2, High: 3, Scores: [3]float64{0, 0.3, 0.5},
		},
		{
			Name: DimDomainSpecificity, Label: "domain-specific",
			Keywords: func(k *KeywordSets) []string { return k.DomainSpecificKeywords },
			Low:      1, High: 2, Scores: [3]float64{0, 0.5, 0.8},
		},
	}

	multiStepPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)first.*then`),
		regexp.MustCompile(`(?i)step \d`),
		regexp.MustCompile(`\d\.\s`),
	}
)

// Classify scores prompt (and optional system prompt) along every dimension
// and maps the weighted sum onto a tier. It is a pure function of its inputs.
func Classify(prompt, systemPrompt string, estimatedTokens int, cfg ScoringConfig) ClassificationResult {
	text := strings.ToLower(systemPrompt + " " + prompt)
	userText := strings.ToLower(prompt)

	dims := make([]ScoreDimension, 0, 15)
	dims = append(dims,
		scoreTokenCount(estimatedTokens, cfg.TokenCountThresholds),
		codeRule.score(text, userText, &cfg.Keywords),
		reasoningRule.score(text, userText, &cfg.Keywords),
		technicalRule.score(text, userText, &cfg.Keywords),
		creativeRule.score(text, userText, &cfg.Keywords),
		simpleRule.score(text, userText, &cfg.Keywords),
		scoreMultiStep(text),
		scoreQuestionComplexity(prompt),
	)
	for _, rule := range trailingRules {
		dims = append(dims, rule.score(text, userText, &cfg.Keywords))
	}
	agentic := scoreAgenticTask(text, cfg.Keywords.AgenticTaskKeywords)
	dims = append(dims, agentic)

	signals := make([]string, 0, len(dims))
	var weighted float64
	for _, d := range dims {
		if d.Signal != "" {
			signals = append(signals, d.Signal)
		}
		weighted += d.Score * cfg.DimensionWeights[d.Name]
	}

	result := ClassificationResult{
		Score:        weighted,
		Signals:      signals,
		AgenticScore: agentic.Score,
		Dimensions:   dims,
	}

	if len(matchKeywords(userText, cfg.Keywords.ReasoningKeywords)) >= 2 {
		result.Tier = TierReasoning
		result.Confidence = math.Max(calibrateConfidence(math.Max(weighted, 0.3), cfg.ConfidenceSteepness), 0.85)
		return result
	}

	b := cfg.TierBoundaries
	var distance float64
	switch {
	case weighted < b.SimpleMedium:
		result.Tier = TierSimple
		distance = b.SimpleMedium - weighted
	case weighted < b.MediumComplex:
		result.Tier = TierMedium
		distance = math.Min(weighted-b.SimpleMedium, b.MediumComplex-weighted)
	case weighted < b.ComplexReasoning:
		result.Tier = TierComplex
		distance = math.Min(weighted-b.MediumComplex, b.ComplexReasoning-weighted)
	default:
		result.Tier = TierReasoning
		distance = weighted - b.ComplexReasoning
	}

	result.Confidence = calibrateConfidence(distance, cfg.ConfidenceSteepness)
	if result.Confidence < cfg.ConfidenceThreshold {
		result.Tier = ""
	}
	return result
}

// calibrateConfidence is a logistic curve over the distance to a boundary.
func calibrateConfidence(distance, steepness float64) float64 {
	c := 1 / (1 + math.Exp(-steepness*distance))
	if math.IsNaN(c) {
		return 0
	}
	return c
}

func scoreTokenCount(tokens int, t TokenThresholds) ScoreDimension {
	switch {
	case tokens < t.Simple:
		return ScoreDimension{Name: DimTokenCount, Score: -1, Signal: fmt.Sprintf("short (%d tokens)", tokens)}
	case tokens > t.Complex:
		return ScoreDimension{Name: DimTokenCount, Score: 1, Signal: fmt.Sprintf("long (%d tokens)", tokens)}
	}
	return ScoreDimension{Name: DimTokenCount}
}

func (r keywordRule) score(text, userText string, k *KeywordSets) ScoreDimension {
	target := text
	if r.UserOnly {
		target = userText
	}
	matches := matchKeywords(target, r.Keywords(k))
	switch {
	case len(matches) >= r.High:
		return ScoreDimension{Name: r.Name, Score: r.Scores[2], Signal: keywordSignal(r.Label, matches)}
	case len(matches) >= r.Low:
		return ScoreDimension{Name: r.Name, Score: r.Scores[1], Signal: keywordSignal(r.Label, matches)}
	}
	return ScoreDimension{Name: r.Name, Score: r.Scores[0]}
}

func matchKeywords(text string, keywords []string) []string {
	var matches []string
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			matches = append(matches, kw)
		}
	}
	return matches
}

func keywordSignal(label string, matches []string) string {
	if len(matches) > 3 {
		matches = matches[:3]
	}
	return label + " (" + strings.Join(matches, ", ") + ")"
}

func scoreMultiStep(text string) ScoreDimension {
	for _, p := range multiStepPatterns {
		if p.MatchString(text) {
			return ScoreDimension{Name: DimMultiStepPatterns, Score: 0.5, Signal: "multi-step"}
		}
	}
	return ScoreDimension{Name: DimMultiStepPatterns}
}

func scoreQuestionComplexity(prompt string) ScoreDimension {
	if n := strings.Count(prompt, "?"); n > 3 {
		return ScoreDimension{Name: DimQuestionComplexity, Score: 0.5, Signal: fmt.Sprintf("%d questions", n)}
	}
	return ScoreDimension{Name: DimQuestionComplexity}
}

// scoreAgenticTask steps at 1/3/4 matches. Its score doubles as the
// agentic score that gates the agentic tier table.
func scoreAgenticTask(text string, keywords []string) ScoreDimension {
	matches := matchKeywords(text, keywords)
	shown := matches
	if len(shown) > 3 {
		shown = shown[:3]
	}
	joined := strings.Join(shown, ", ")
	switch n := len(matches); {
	case n >= 4:
		return ScoreDimension{Name: DimAgenticTask, Score: 1, Signal: "agentic (" + joined + ")"}
	case n >= 3:
		return ScoreDimension{Name: DimAgenticTask, Score: 0.6, Signal: "agentic (" + joined + ")"}
	case n >= 1:
		return ScoreDimension{Name: DimAgenticTask, Score: 0.2, Signal: "agentic-light (" + joined + ")"}
	}
	return ScoreDimension{Name: DimAgenticTask}
}
