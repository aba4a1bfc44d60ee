// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package registry

import "strings"

// ProfilePrefix is accepted in front of any model or profile name.
const ProfilePrefix = "blockrun/"

// FreeModel is the zero-cost model used by the free profile and when the
// balance gate reports insufficient funds.
const FreeModel = "nvidia/gpt-oss-120b"

// Virtual routing profiles. Requests naming one of these are classified.
const (
	ProfileAuto    = "auto"
	ProfileFree    = "free"
	ProfileEco     = "eco"
	ProfilePremium = "premium"
)

// VirtualProfiles lists the routing profile IDs exposed on /v1/models.
var VirtualProfiles = []string{ProfileAuto, ProfileFree, ProfileEco, ProfilePremium}

// ParseProfile reports whether model names a routing profile, returning the
// bare profile name.
func ParseProfile(model string) (string, bool) {
	m := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(model)), ProfilePrefix)
	switch m {
	case ProfileAuto, ProfileFree, ProfileEco, ProfilePremium:
		return m, true
	}
	return "", false
}

// DefaultAliases is the built-in alias table.
func DefaultAliases() map[string]string {
	return map[string]string{
		"claude":                    "anthropic/claude-sonnet-4.6",
		"sonnet":                    "anthropic/claude-sonnet-4.6",
		"sonnet-4.6":                "anthropic/claude-sonnet-4.6",
		"anthropic/claude-sonnet-4": "anthropic/claude-sonnet-4.6",
		"opus":                      "anthropic/claude-opus-4.6",
		"opus-4.6":                  "anthropic/claude-opus-4.6",
		"anthropic/claude-opus-4":   "anthropic/claude-opus-4.6",
		"anthropic/claude-opus-4.5": "anthropic/claude-opus-4.6",
		"opus-46":                   "anthropic/claude-opus-4.6",
		"opus-45":                   "anthropic/claude-opus-4.5",
		"haiku":                     "anthropic/claude-haiku-4.5",
		"anthropic/sonnet":          "anthropic/claude-sonnet-4.6",
		"anthropic/opus":            "anthropic/claude-opus-4.6",
		"anthropic/haiku":           "anthropic/claude-haiku-4.5",
		"anthropic/claude":          "anthropic/claude-sonnet-4.6",
		"gpt":                       "openai/gpt-4o",
		"gpt4":                      "openai/gpt-4o",
		"gpt5":                      "openai/gpt-5.2",
		"codex":                     "openai/gpt-5.2-codex",
		"mini":                      "openai/gpt-4o-mini",
		"o3":                        "openai/o3",
		"deepseek":                  "deepseek/deepseek-chat",
		"reasoner":                  "deepseek/deepseek-reasoner",
		"kimi":                      "moonshot/kimi-k2.5",
		"gemini":                    "google/gemini-2.5-pro",
		"flash":                     "google/gemini-2.5-flash",
		"grok":                      "xai/grok-3",
		"grok-fast":                 "xai/grok-4-fast-reasoning",
		"grok-code":                 "xai/grok-code-fast-1",
		"nvidia":                    FreeModel,
		"gpt-120b":                  FreeModel,
		"nvidia/gpt-120b":           FreeModel,
	}
}

// DefaultModels is the built-in catalog. Prices are USD per 1M tokens.
func DefaultModels() []*ModelInfo {
	m := func(id string, in, out float64, ctx int, flags ...string) *ModelInfo {
		info := &ModelInfo{ID: id, InputPrice: in, OutputPrice: out, ContextLength: ctx, ToolCalling: true}
		for _, f := range flags {
			switch f {
			case "reasoning":
				info.Reasoning = true
			case "vision":
				info.Vision = true
			case "agentic":
				info.Agentic = true
			case "no-tools":
				info.ToolCalling = false
			}
		}
		return info
	}
	return []*ModelInfo{
		m("openai/gpt-5.2", 1.75, 14, 400000, "reasoning", "vision", "agentic"),
		m("openai/gpt-5-mini", 0.25, 2, 200000),
		m("openai/gpt-5-nano", 0.05, 0.4, 128000),
		m("openai/gpt-5.2-pro", 21, 168, 400000, "reasoning"),
		m("openai/gpt-5.2-codex", 2.5, 12, 128000, "agentic"),
		m("openai/gpt-4.1", 2, 8, 128000, "vision"),
		m("openai/gpt-4.1-mini", 0.4, 1.6, 128000),
		m("openai/gpt-4o", 2.5, 10, 128000, "vision", "agentic"),
		m("openai/gpt-4o-mini", 0.15, 0.6, 128000, "vision"),
		m("openai/o3", 2, 8, 200000, "reasoning"),
		m("openai/o3-mini", 1.1, 4.4, 128000, "reasoning"),
		m("openai/o4-mini", 1.1, 4.4, 128000, "reasoning"),
		m("anthropic/claude-haiku-4.5", 1, 5, 200000, "vision"),
		m("anthropic/claude-sonnet-4.6", 3, 15, 200000, "reasoning", "vision", "agentic"),
		m("anthropic/claude-opus-4", 15, 75, 200000, "vision"),
		m("anthropic/claude-opus-4.5", 5, 25, 200000, "vision", "agentic"),
		m("anthropic/claude-opus-4.6", 5, 25, 200000, "reasoning", "vision", "agentic"),
		m("google/gemini-3-pro-preview", 2, 12, 1050000, "reasoning", "vision"),
		m("google/gemini-2.5-pro", 1.25, 10, 1050000, "reasoning", "vision"),
		m("google/gemini-2.5-flash", 0.15, 0.6, 1000000, "vision"),
		m("deepseek/deepseek-chat", 0.28, 0.42, 128000),
		m("deepseek/deepseek-reasoner", 0.28, 0.42, 128000, "reasoning"),
		m("moonshot/kimi-k2.5", 0.5, 2.4, 262144, "reasoning", "vision", "agentic"),
		m("xai/grok-3", 3, 15, 131072),
		m("xai/grok-3-mini", 0.3, 0.5, 131072),
		m("xai/grok-4-fast-reasoning", 0.2, 0.5, 131072, "reasoning"),
		m("xai/grok-4-fast-non-reasoning", 0.2, 0.5, 131072),
		m("xai/grok-4-1-fast-reasoning", 0.2, 0.5, 131072, "reasoning"),
		m("xai/grok-4-1-fast-non-reasoning", 0.2, 0.5, 131072),
		m("xai/grok-code-fast-1", 0.2, 1.5, 131072, "agentic"),
		m("xai/grok-4-0709", 0.2, 1.5, 131072, "reasoning"),
		m(FreeModel, 0, 0, 128000, "no-tools"),
		m("nvidia/kimi-k2.5", 0.55, 2.5, 262144),
	}
}
