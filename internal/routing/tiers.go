// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

// DefaultTiers is the balanced (auto) table.
func DefaultTiers() TierTable {
	return TierTable{
		TierSimple: {
			Primary:  "moonshot/kimi-k2.5",
			Fallback: []string{"google/gemini-2.5-flash", "nvidia/gpt-oss-120b", "deepseek/deepseek-chat"},
		},
		TierMedium: {
			Primary:  "xai/grok-code-fast-1",
			Fallback: []string{"google/gemini-2.5-flash", "deepseek/deepseek-chat", "xai/grok-4-1-fast-non-reasoning"},
		},
		TierComplex: {
			Primary: "google/gemini-3-pro-preview",
			Fallback: []string{
				"google/gemini-2.5-flash", "google/gemini-2.5-pro", "deepseek/deepseek-chat",
				"xai/grok-4-0709", "openai/gpt-5.2", "openai/gpt-4o", "anthropic/claude-sonnet-4.6",
			},
		},
		TierReasoning: {
			Primary:  "xai/grok-4-1-fast-reasoning",
			Fallback: []string{"deepseek/deepseek-reasoner", "openai/o4-mini", "openai/o3"},
		},
	}
}

// DefaultEcoTiers favors the cheapest capable models.
func DefaultEcoTiers() TierTable {
	return TierTable{
		TierSimple: {
			Primary:  "moonshot/kimi-k2.5",
			Fallback: []string{"nvidia/gpt-oss-120b", "deepseek/deepseek-chat", "google/gemini-2.5-flash"},
		},
		TierMedium: {
			Primary:  "deepseek/deepseek-chat",
			Fallback: []string{"xai/grok-code-fast-1", "google/gemini-2.5-flash", "moonshot/kimi-k2.5"},
		},
		TierComplex: {
			Primary:  "xai/grok-4-0709",
			Fallback: []string{"deepseek/deepseek-chat", "google/gemini-2.5-flash", "openai/gpt-4o-mini"},
		},
		TierReasoning: {
			Primary:  "deepseek/deepseek-reasoner",
			Fallback: []string{"xai/grok-4-1-fast-reasoning"},
		},
	}
}

// DefaultPremiumTiers favors quality over cost.
func DefaultPremiumTiers() TierTable {
	return TierTable{
		TierSimple: {
			Primary:  "moonshot/kimi-k2.5",
			Fallback: []string{"anthropic/claude-haiku-4.5", "google/gemini-2.5-flash", "xai/grok-code-fast-1"},
		},
		TierMedium: {
			Primary: "openai/gpt-5.2-codex",
			Fallback: []string{
				"moonshot/kimi-k2.5", "google/gemini-2.5-pro", "xai/grok-4-0709", "anthropic/claude-sonnet-4.6",
			},
		},
		TierComplex: {
			Primary: "anthropic/claude-opus-4.6",
			Fallback: []string{
				"openai/gpt-5.2-codex", "anthropic/claude-opus-4.5", "anthropic/claude-sonnet-4.6",
				"google/gemini-3-pro-preview", "moonshot/kimi-k2.5",
			},
		},
		TierReasoning: {
			Primary: "anthropic/claude-sonnet-4.6",
			Fallback: []string{
				"anthropic/claude-opus-4.6", "anthropic/claude-opus-4.5", "openai/o4-mini", "openai/o3",
				"xai/grok-4-1-fast-reasoning",
			},
		},
	}
}

// DefaultAgenticTiers favors models that handle multi-step tool use.
func DefaultAgenticTiers() TierTable {
	return TierTable{
		TierSimple: {
			Primary:  "moonshot/kimi-k2.5",
			Fallback: []string{"anthropic/claude-haiku-4.5", "xai/grok-4-1-fast-non-reasoning", "openai/gpt-4o-mini"},
		},
		TierMedium: {
			Primary:  "xai/grok-code-fast-1",
			Fallback: []string{"moonshot/kimi-k2.5", "anthropic/claude-haiku-4.5", "anthropic/claude-sonnet-4.6"},
		},
		TierComplex: {
			Primary: "anthropic/claude-sonnet-4.6",
			Fallback: []string{
				"anthropic/claude-opus-4.6", "openai/gpt-5.2", "google/gemini-3-pro-preview", "xai/grok-4-0709",
			},
		},
		TierReasoning: {
			Primary:  "anthropic/claude-sonnet-4.6",
			Fallback: []string{"anthropic/claude-opus-4.6", "xai/grok-4-1-fast-reasoning", "deepseek/deepseek-reasoner"},
		},
	}
}
