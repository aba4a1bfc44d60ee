// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

import (
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/traylinx/switchAIRouter/internal/registry"
)

var promptFragments = []interface{}{
	"hello", "what is", "prove", "step by step", "function", "async", "kubernetes",
	"write a poem", "first do this then that", "1. ", "json", "?", "deploy", "edit",
	"read the file", "not", "without", "algorithm", "你好", "证明",
}

func genPrompt() gopter.Gen {
	return gen.SliceOfN(6, gen.OneConstOf(promptFragments...)).Map(func(parts []string) string {
		return strings.Join(parts, " ") + " "
	})
}

func TestProperty_ClassifierBounds(t *testing.T) {
	properties := gopter.NewProperties(nil)
	cfg := DefaultScoringConfig()

	properties.Property("confidence stays within [0,1]", prop.ForAll(
		func(prompt string, tokens int) bool {
			r := Classify(prompt, "", tokens, cfg)
			return r.Confidence >= 0 && r.Confidence <= 1
		},
		genPrompt(),
		gen.IntRange(0, 200000),
	))

	properties.Property("classification is deterministic", prop.ForAll(
		func(prompt, system string) bool {
			a := Classify(prompt, system, 40, cfg)
			b := Classify(prompt, system, 40, cfg)
			return reflect.DeepEqual(a, b)
		},
		genPrompt(),
		gen.OneConstOf("", "Respond in JSON", "Think step by step"),
	))

	properties.Property("agentic score is one of the step values", prop.ForAll(
		func(prompt string) bool {
			switch Classify(prompt, "", 10, cfg).AgenticScore {
			case 0, 0.2, 0.6, 1:
				return true
			}
			return false
		},
		genPrompt(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_CostInvariants(t *testing.T) {
	properties := gopter.NewProperties(nil)
	reg := registry.NewModelRegistry(nil, nil)
	models := make([]interface{}, 0)
	for _, m := range reg.Models() {
		models = append(models, m.ID)
	}

	properties.Property("savings stay within [0,1]", prop.ForAll(
		func(model string, in, out int, premium bool) bool {
			profile := ProfileAuto
			if premium {
				profile = ProfilePremium
			}
			c := CalculateModelCost(model, reg, in, out, profile)
			return c.Savings >= 0 && c.Savings <= 1 && c.CostEstimate >= 0
		},
		gen.OneConstOf(models...),
		gen.IntRange(0, 1_000_000),
		gen.IntRange(0, 100_000),
		gen.Bool(),
	))

	properties.Property("cheaper models never cost more than the baseline", prop.ForAll(
		func(model string, in, out int) bool {
			m := reg.GetModelInfo(model)
			base := reg.GetModelInfo(BaselineModel)
			if m.InputPrice > base.InputPrice || m.OutputPrice > base.OutputPrice {
				return true
			}
			c := CalculateModelCost(model, reg, in, out, ProfileAuto)
			return c.CostEstimate <= c.BaselineCost
		},
		gen.OneConstOf(models...),
		gen.IntRange(0, 1_000_000),
		gen.IntRange(0, 100_000),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_RouteAlwaysPicksTableModel(t *testing.T) {
	properties := gopter.NewProperties(nil)
	r := newTestRouter()
	cfg := DefaultConfig()

	properties.Property("decision model is the primary of its tier", prop.ForAll(
		func(prompt string, profile string) bool {
			d := r.Route(prompt, "", 1024, Options{Profile: Profile(profile)})
			table, _, _ := cfg.TableFor(Profile(profile), d.AgenticScore, false)
			return d.Tier.Valid() && d.Model == table[d.Tier].Primary
		},
		genPrompt(),
		gen.OneConstOf("auto", "eco", "premium"),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
