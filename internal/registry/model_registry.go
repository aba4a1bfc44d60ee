// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package registry holds the catalog of upstream models the gateway can route to,
// together with their pricing, context windows and capability flags, and the
// alias table that maps short client-facing names onto catalog IDs.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ModelInfo represents information about an available model
type ModelInfo struct {
	// ID is the unique identifier for the model, e.g. "openai/gpt-4o".
	ID string `json:"id" yaml:"id"`
	// Object type for the model (always "model").
	Object string `json:"object" yaml:"-"`
	// Created timestamp when the model was registered.
	Created int64 `json:"created" yaml:"-"`
	// OwnedBy is the provider prefix of the ID.
	OwnedBy string `json:"owned_by" yaml:"-"`
	// DisplayName is the human-readable name for the model.
	DisplayName string `json:"display_name,omitempty" yaml:"name"`
	// InputPrice is USD per 1M input tokens.
	InputPrice float64 `json:"input_price" yaml:"input-price"`
	// OutputPrice is USD per 1M output tokens.
	OutputPrice float64 `json:"output_price" yaml:"output-price"`
	// ContextLength is the context window size; 0 means unknown.
	ContextLength int `json:"context_length,omitempty" yaml:"context-window"`
	// MaxCompletionTokens is the maximum completion tokens.
	MaxCompletionTokens int `json:"max_completion_tokens,omitempty" yaml:"max-output"`

	Reasoning   bool `json:"reasoning,omitempty" yaml:"reasoning"`
	Vision      bool `json:"vision,omitempty" yaml:"vision"`
	Agentic     bool `json:"agentic,omitempty" yaml:"agentic"`
	ToolCalling bool `json:"tool_calling,omitempty" yaml:"tool-calling"`
}

// ModelRegistry is a read-mostly catalog of models and aliases.
type ModelRegistry struct {
	models  map[string]*ModelInfo
	aliases map[string]string
	mutex   *sync.RWMutex
}

// NewModelRegistry builds a registry from the given models and aliases.
// Nil arguments fall back to the built-in catalog and alias table.
func NewModelRegistry(models []*ModelInfo, aliases map[string]string) *ModelRegistry {
	if models == nil {
		models = DefaultModels()
	}
	if aliases == nil {
		aliases = DefaultAliases()
	}
	r := &ModelRegistry{
		models:  make(map[string]*ModelInfo, len(models)),
		aliases: make(map[string]string, len(aliases)),
		mutex:   &sync.RWMutex{},
	}
	for _, m := range models {
		r.register(m)
	}
	for k, v := range aliases {
		r.aliases[strings.ToLower(k)] = v
	}
	return r
}

func (r *ModelRegistry) register(model *ModelInfo) {
	if model == nil || model.ID == "" {
		return
	}
	m := cloneModelInfo(model)
	m.Object = "model"
	if m.Created == 0 {
		m.Created = time.Now().Unix()
	}
	if m.OwnedBy == "" {
		if idx := strings.Index(m.ID, "/"); idx > 0 {
			m.OwnedBy = m.ID[:idx]
		} else {
			m.OwnedBy = "switchai"
		}
	}
	r.models[m.ID] = m
}

// Register adds or replaces models at runtime (used for configured extras).
func (r *ModelRegistry) Register(models ...*ModelInfo) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, m := range models {
		r.register(m)
		log.Debugf("registered model %s", m.ID)
	}
}

func cloneModelInfo(model *ModelInfo) *ModelInfo {
	copied := *model
	return &copied
}

// GetModelInfo returns a copy of the catalog entry, or nil when unknown.
func (r *ModelRegistry) GetModelInfo(modelID string) *ModelInfo {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	m, ok := r.models[modelID]
	if !ok {
		return nil
	}
	return cloneModelInfo(m)
}

// SupportsToolCalling reports the tool-calling flag of a model.
func (r *ModelRegistry) SupportsToolCalling(modelID string) bool {
	m := r.GetModelInfo(modelID)
	return m != nil && m.ToolCalling
}

// SupportsVision reports the vision flag of a model.
func (r *ModelRegistry) SupportsVision(modelID string) bool {
	m := r.GetModelInfo(modelID)
	return m != nil && m.Vision
}

// IsReasoningModel reports the reasoning flag of a model.
func (r *ModelRegistry) IsReasoningModel(modelID string) bool {
	m := r.GetModelInfo(modelID)
	return m != nil && m.Reasoning
}

// ResolveAlias normalizes a client-supplied model name: trims, lowercases,
// strips the "blockrun/" prefix and maps aliases. Unknown names are returned
// in normalized form.
func (r *ModelRegistry) ResolveAlias(model string) string {
	normalized := strings.ToLower(strings.TrimSpace(model))
	bare := strings.TrimPrefix(normalized, ProfilePrefix)

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if target, ok := r.aliases[bare]; ok {
		return target
	}
	if bare != normalized {
		return bare
	}
	return normalized
}

// GetAvailableModels lists every catalog entry plus the virtual routing
// profiles, sorted by ID, in the OpenAI list shape.
func (r *ModelRegistry) GetAvailableModels() []map[string]any {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]map[string]any, 0, len(r.models)+len(VirtualProfiles))
	now := time.Now().Unix()
	for _, p := range VirtualProfiles {
		out = append(out, map[string]any{
			"id":       p,
			"object":   "model",
			"created":  now,
			"owned_by": "switchai",
		})
	}
	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m := r.models[id]
		out = append(out, map[string]any{
			"id":       m.ID,
			"object":   m.Object,
			"created":  m.Created,
			"owned_by": m.OwnedBy,
		})
	}
	return out
}

// Models returns copies of all catalog entries sorted by ID.
func (r *ModelRegistry) Models() []*ModelInfo {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]*ModelInfo, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, cloneModelInfo(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
