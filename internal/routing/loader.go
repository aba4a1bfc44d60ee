// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	log "github.com/sirupsen/logrus"
)

// routingFile mirrors Config with optional fields so a file only needs to
// name what it overrides.
type routingFile struct {
	Scoring struct {
		TokenCountThresholds *TokenThresholds    `yaml:"token-count-thresholds"`
		Keywords             map[string][]string `yaml:"keywords"`
		DimensionWeights     map[string]float64  `yaml:"dimension-weights"`
		TierBoundaries       *TierBoundaries     `yaml:"tier-boundaries"`
		ConfidenceSteepness  *float64            `yaml:"confidence-steepness"`
		ConfidenceThreshold  *float64            `yaml:"confidence-threshold"`
	} `yaml:"scoring"`
	Tiers        TierTable `yaml:"tiers"`
	EcoTiers     TierTable `yaml:"eco-tiers"`
	PremiumTiers TierTable `yaml:"premium-tiers"`
	AgenticTiers TierTable `yaml:"agentic-tiers"`
	Overrides    struct {
		MaxTokensForceComplex   *int  `yaml:"max-tokens-force-complex"`
		StructuredOutputMinTier *Tier `yaml:"structured-output-min-tier"`
		AmbiguousDefaultTier    *Tier `yaml:"ambiguous-default-tier"`
		AgenticMode             *bool `yaml:"agentic-mode"`
	} `yaml:"overrides"`
}

// LoadConfigFile reads a routing override file and layers it over
// DefaultConfig. Tier entries replace the matching default entry whole;
// keyword lists replace the named list; weights merge per dimension.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read routing file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig layers YAML overrides over DefaultConfig and validates the
// result.
func ParseConfig(data []byte) (Config, error) {
	var f routingFile
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &f); err != nil {
			return Config{}, fmt.Errorf("parse routing file: %w", err)
		}
	}

	cfg := DefaultConfig()
	s := &cfg.Scoring
	if f.Scoring.TokenCountThresholds != nil {
		s.TokenCountThresholds = *f.Scoring.TokenCountThresholds
	}
	for name, words := range f.Scoring.Keywords {
		list := s.Keywords.byName(name)
		if list == nil {
			return Config{}, fmt.Errorf("unknown keyword list %q", name)
		}
		*list = words
	}
	for dim, w := range f.Scoring.DimensionWeights {
		if _, ok := s.DimensionWeights[dim]; !ok {
			return Config{}, fmt.Errorf("unknown scoring dimension %q", dim)
		}
		s.DimensionWeights[dim] = w
	}
	if f.Scoring.TierBoundaries != nil {
		s.TierBoundaries = *f.Scoring.TierBoundaries
	}
	if f.Scoring.ConfidenceSteepness != nil {
		s.ConfidenceSteepness = *f.Scoring.ConfidenceSteepness
	}
	if f.Scoring.ConfidenceThreshold != nil {
		s.ConfidenceThreshold = *f.Scoring.ConfidenceThreshold
	}

	mergeTable(cfg.Tiers, f.Tiers)
	mergeTable(cfg.EcoTiers, f.EcoTiers)
	mergeTable(cfg.PremiumTiers, f.PremiumTiers)
	mergeTable(cfg.AgenticTiers, f.AgenticTiers)

	o := &cfg.Overrides
	if f.Overrides.MaxTokensForceComplex != nil {
		o.MaxTokensForceComplex = *f.Overrides.MaxTokensForceComplex
	}
	if f.Overrides.StructuredOutputMinTier != nil {
		o.StructuredOutputMinTier = *f.Overrides.StructuredOutputMinTier
	}
	if f.Overrides.AmbiguousDefaultTier != nil {
		o.AmbiguousDefaultTier = *f.Overrides.AmbiguousDefaultTier
	}
	if f.Overrides.AgenticMode != nil {
		o.AgenticMode = *f.Overrides.AgenticMode
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeTable(dst, src TierTable) {
	for tier, tc := range src {
		dst[tier] = tc
	}
}

func (k *KeywordSets) byName(name string) *[]string {
	switch name {
	case "code":
		return &k.CodeKeywords
	case "reasoning":
		return &k.ReasoningKeywords
	case "simple":
		return &k.SimpleKeywords
	case "technical":
		return &k.TechnicalKeywords
	case "creative":
		return &k.CreativeKeywords
	case "imperative":
		return &k.ImperativeVerbs
	case "constraints":
		return &k.ConstraintIndicators
	case "output-format":
		return &k.OutputFormatKeywords
	case "references":
		return &k.ReferenceKeywords
	case "negation":
		return &k.NegationKeywords
	case "domain-specific":
		return &k.DomainSpecificKeywords
	case "agentic":
		return &k.AgenticTaskKeywords
	}
	return nil
}

// Validate checks that every table covers all tiers with a primary model,
// that boundaries ascend and that override tiers are real tiers.
func (c Config) Validate() error {
	var errs []error
	for name, table := range map[string]TierTable{
		"tiers": c.Tiers, "eco-tiers": c.EcoTiers, "premium-tiers": c.PremiumTiers, "agentic-tiers": c.AgenticTiers,
	} {
		if table == nil {
			continue
		}
		for tier := range table {
			if !tier.Valid() {
				errs = append(errs, fmt.Errorf("%s: unknown tier %q", name, tier))
			}
		}
		for _, tier := range Tiers {
			if table[tier].Primary == "" {
				errs = append(errs, fmt.Errorf("%s: tier %s has no primary model", name, tier))
			}
		}
	}
	b := c.Scoring.TierBoundaries
	if !(b.SimpleMedium < b.MediumComplex && b.MediumComplex < b.ComplexReasoning) {
		errs = append(errs, fmt.Errorf("tier boundaries must ascend, got %v/%v/%v",
			b.SimpleMedium, b.MediumComplex, b.ComplexReasoning))
	}
	if !c.Overrides.AmbiguousDefaultTier.Valid() {
		errs = append(errs, fmt.Errorf("ambiguous-default-tier: unknown tier %q", c.Overrides.AmbiguousDefaultTier))
	}
	if t := c.Overrides.StructuredOutputMinTier; t != "" && !t.Valid() {
		errs = append(errs, fmt.Errorf("structured-output-min-tier: unknown tier %q", t))
	}
	return errors.Join(errs...)
}

// FileWatcher reloads a routing file on change and hands the new config to
// onChange. Invalid files are logged and the previous config stays active.
type FileWatcher struct {
	path     string
	onChange func(Config)
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	once     sync.Once
}

// WatchFile starts watching path. The parent directory is watched so editors
// that replace the file by rename are picked up.
func WatchFile(path string, onChange func(Config)) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}
	w := &FileWatcher{path: abs, onChange: onChange, watcher: watcher, stop: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *FileWatcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			time.Sleep(100 * time.Millisecond)
			cfg, err := LoadConfigFile(w.path)
			if err != nil {
				log.Errorf("routing file reload failed, keeping previous config: %v", err)
				continue
			}
			log.Infof("routing file %s reloaded", w.path)
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("routing watcher error: %v", err)
		case <-w.stop:
			return
		}
	}
}

// Stop ends the watch. It is safe to call more than once.
func (w *FileWatcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		w.watcher.Close()
	})
}
