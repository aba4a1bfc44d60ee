// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the switchAIRouter
// gateway. It loads and sanitizes the YAML configuration file: listener,
// upstream, routing, dedup, cache, session, dispatch, balance, usage and
// management settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/traylinx/switchAIRouter/internal/util"
)

// Environment variables that override file values.
const (
	EnvUpstreamKey = "SWITCHAI_UPSTREAM_KEY"
	EnvPort        = "SWITCHAI_PORT"
)

// DefaultPort is the listener port used when none is configured.
const DefaultPort = 8402

// DefaultUpstreamURL is the OpenAI-compatible API the gateway forwards to.
const DefaultUpstreamURL = "https://blockrun.ai/api/v1"

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the interface the API server binds. Empty binds all interfaces.
	Host string `yaml:"host" json:"host"`
	// Port is the listener port.
	Port int `yaml:"port" json:"port"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`
	// LoggingToFile writes logs to rotating files under LogDir instead of stdout.
	LoggingToFile bool   `yaml:"logging-to-file" json:"logging-to-file"`
	LogDir        string `yaml:"log-dir" json:"log-dir"`
	LogMaxSizeMB  int    `yaml:"log-max-size-mb" json:"log-max-size-mb"`
	LogMaxBackups int    `yaml:"log-max-backups" json:"log-max-backups"`

	Upstream      UpstreamConfig `yaml:"upstream" json:"upstream"`
	Routing       RoutingConfig  `yaml:"routing" json:"routing"`
	Dedup         DedupConfig    `yaml:"dedup" json:"dedup"`
	ResponseCache CacheConfig    `yaml:"response-cache" json:"response-cache"`
	Session       SessionConfig  `yaml:"session" json:"session"`
	Dispatch      DispatchConfig `yaml:"dispatch" json:"dispatch"`
	Balance       BalanceConfig  `yaml:"balance" json:"balance"`
	Usage         UsageConfig    `yaml:"usage" json:"usage"`

	// HooksDir holds YAML hook definitions. Empty disables hooks.
	HooksDir string `yaml:"hooks-dir" json:"hooks-dir"`

	Management ManagementConfig `yaml:"management" json:"-"`

	// TokenEstimator selects "simple" (4 characters per token) or "tiktoken".
	TokenEstimator string `yaml:"token-estimator" json:"token-estimator"`
}

// UpstreamConfig describes the provider API.
type UpstreamConfig struct {
	BaseURL   string `yaml:"base-url" json:"base-url"`
	APIKey    string `yaml:"api-key" json:"-"`
	UserAgent string `yaml:"user-agent" json:"user-agent"`
	// OAuth2 switches authentication to the client-credentials flow.
	OAuth2 *OAuth2Config `yaml:"oauth2,omitempty" json:"oauth2,omitempty"`
}

// OAuth2Config holds client-credentials settings.
type OAuth2Config struct {
	ClientID     string   `yaml:"client-id" json:"client-id"`
	ClientSecret string   `yaml:"client-secret" json:"-"`
	TokenURL     string   `yaml:"token-url" json:"token-url"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
}

// RoutingConfig controls the smart router.
type RoutingConfig struct {
	// File is an optional YAML routing file with tier tables and scoring.
	File string `yaml:"file" json:"file"`
	// Watch reloads File when it changes.
	Watch bool `yaml:"watch" json:"watch"`
	// AgenticMode forces the agentic tier tables for every routed request.
	AgenticMode bool `yaml:"agentic-mode" json:"agentic-mode"`
}

// DedupConfig controls request coalescing.
type DedupConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	TTLSeconds int  `yaml:"ttl-seconds" json:"ttl-seconds"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled      bool `yaml:"enabled" json:"enabled"`
	MaxSize      int  `yaml:"max-size" json:"max-size"`
	TTLSeconds   int  `yaml:"ttl-seconds" json:"ttl-seconds"`
	MaxItemBytes int  `yaml:"max-item-bytes" json:"max-item-bytes"`
}

// SessionConfig controls model pinning per conversation.
type SessionConfig struct {
	Enabled        bool `yaml:"enabled" json:"enabled"`
	TimeoutMinutes int  `yaml:"timeout-minutes" json:"timeout-minutes"`
	// DeriveFromMessages derives a session id from the first user message
	// when the client sends no session header.
	DeriveFromMessages bool `yaml:"derive-from-messages" json:"derive-from-messages"`
}

// RetryRule is an extra error-table row evaluated before the built-in ones.
type RetryRule struct {
	Name      string `yaml:"name" json:"name"`
	Condition string `yaml:"condition" json:"condition"`
	Retry     bool   `yaml:"retry" json:"retry"`
}

// DispatchConfig tunes the fallback loop.
type DispatchConfig struct {
	MaxAttempts           int         `yaml:"max-attempts" json:"max-attempts"`
	AttemptTimeoutSeconds int         `yaml:"attempt-timeout-seconds" json:"attempt-timeout-seconds"`
	CooldownSeconds       int         `yaml:"cooldown-seconds" json:"cooldown-seconds"`
	MaxMessages           int         `yaml:"max-messages" json:"max-messages"`
	CompressThresholdKB   int         `yaml:"compress-threshold-kb" json:"compress-threshold-kb"`
	RetryRules            []RetryRule `yaml:"retry-rules" json:"retry-rules"`
}

// Balance modes.
const (
	BalanceUnlimited = "unlimited"
	BalanceLedger    = "ledger"
)

// BalanceConfig selects the balance gate.
type BalanceConfig struct {
	Mode       string  `yaml:"mode" json:"mode"`
	InitialUSD float64 `yaml:"initial-usd" json:"initial-usd"`
	LowUSD     float64 `yaml:"low-usd" json:"low-usd"`
}

// Usage drivers.
const (
	UsageSQLite   = "sqlite3"
	UsagePostgres = "pgx"
)

// UsageConfig controls the usage store.
type UsageConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Driver        string `yaml:"driver" json:"driver"`
	DSN           string `yaml:"dsn" json:"-"`
	RetentionDays int    `yaml:"retention-days" json:"retention-days"`
}

// ManagementConfig protects mutating introspection endpoints.
type ManagementConfig struct {
	// SecretKey is the management key, plaintext or bcrypt hashed. Empty
	// disables the protected endpoints.
	SecretKey string `yaml:"secret-key"`
	// AllowRemote permits management calls from non-loopback clients.
	AllowRemote bool `yaml:"allow-remote"`
}

// LoadConfig reads and sanitizes configFile.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile. If optional is true and the
// file is missing or empty, the defaults are returned.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			cfg.ApplyEnv()
			cfg.Sanitize()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if len(bytes.TrimSpace(data)) > 0 {
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Hash a plaintext management key and persist the hash in place.
	if cfg.Management.SecretKey != "" && !looksLikeBcrypt(cfg.Management.SecretKey) {
		hashed, errHash := hashSecret(cfg.Management.SecretKey)
		if errHash != nil {
			return nil, fmt.Errorf("failed to hash management key: %w", errHash)
		}
		cfg.Management.SecretKey = hashed
		_ = SaveConfigPreserveCommentsUpdateNestedScalar(configFile, []string{"management", "secret-key"}, hashed)
	}

	cfg.ApplyEnv()
	cfg.Sanitize()
	return cfg, nil
}

// Default returns the configuration used for absent keys.
func Default() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          DefaultPort,
		LogDir:        "logs",
		LogMaxSizeMB:  10,
		LogMaxBackups: 3,
		Upstream: UpstreamConfig{
			BaseURL:   DefaultUpstreamURL,
			UserAgent: "switchai-router",
		},
		Dedup:         DedupConfig{Enabled: true, TTLSeconds: 30},
		ResponseCache: CacheConfig{Enabled: true, MaxSize: 200, TTLSeconds: 600, MaxItemBytes: 1 << 20},
		Session:       SessionConfig{Enabled: true, TimeoutMinutes: 30, DeriveFromMessages: true},
		Dispatch: DispatchConfig{
			MaxAttempts:           5,
			AttemptTimeoutSeconds: 180,
			CooldownSeconds:       60,
			MaxMessages:           200,
			CompressThresholdKB:   180,
		},
		Balance:        BalanceConfig{Mode: BalanceUnlimited},
		Usage:          UsageConfig{Driver: UsageSQLite, DSN: "data/usage.db", RetentionDays: 30},
		TokenEstimator: "simple",
	}
}

// ApplyEnv overrides file values from the environment.
func (cfg *Config) ApplyEnv() {
	if key := strings.TrimSpace(os.Getenv(EnvUpstreamKey)); key != "" {
		cfg.Upstream.APIKey = key
	}
	if raw := strings.TrimSpace(os.Getenv(EnvPort)); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 && port < 65536 {
			cfg.Port = port
		}
	}
}

// Sanitize clamps every section to usable values.
func (cfg *Config) Sanitize() {
	if cfg == nil {
		return
	}
	def := Default()
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = def.Port
	}
	if strings.TrimSpace(cfg.LogDir) == "" {
		cfg.LogDir = def.LogDir
	}
	if cfg.LogMaxSizeMB <= 0 {
		cfg.LogMaxSizeMB = def.LogMaxSizeMB
	}
	if cfg.LogMaxBackups < 0 {
		cfg.LogMaxBackups = 0
	}
	cfg.SanitizeUpstream()
	cfg.SanitizeDispatch()
	cfg.SanitizeCache()
	cfg.SanitizeSession()
	cfg.SanitizeBalance()
	cfg.SanitizeUsage()
	cfg.HooksDir = strings.TrimSpace(cfg.HooksDir)
	switch strings.ToLower(strings.TrimSpace(cfg.TokenEstimator)) {
	case "tiktoken":
		cfg.TokenEstimator = "tiktoken"
	default:
		cfg.TokenEstimator = "simple"
	}
}

// SanitizeUpstream trims the base URL and drops an incomplete OAuth2 block.
func (cfg *Config) SanitizeUpstream() {
	u := &cfg.Upstream
	u.BaseURL = strings.TrimRight(strings.TrimSpace(u.BaseURL), "/")
	if u.BaseURL == "" {
		u.BaseURL = DefaultUpstreamURL
	}
	u.APIKey = strings.TrimSpace(u.APIKey)
	if u.OAuth2 != nil {
		u.OAuth2.TokenURL = strings.TrimSpace(u.OAuth2.TokenURL)
		u.OAuth2.ClientID = strings.TrimSpace(u.OAuth2.ClientID)
		if u.OAuth2.TokenURL == "" || u.OAuth2.ClientID == "" {
			u.OAuth2 = nil
		}
	}
}

// SanitizeDispatch replaces non-positive limits with defaults and drops
// retry rules without a condition.
func (cfg *Config) SanitizeDispatch() {
	d := &cfg.Dispatch
	def := Default().Dispatch
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = def.MaxAttempts
	}
	if d.AttemptTimeoutSeconds <= 0 {
		d.AttemptTimeoutSeconds = def.AttemptTimeoutSeconds
	}
	if d.CooldownSeconds <= 0 {
		d.CooldownSeconds = def.CooldownSeconds
	}
	if d.MaxMessages <= 0 {
		d.MaxMessages = def.MaxMessages
	}
	if d.CompressThresholdKB < 0 {
		d.CompressThresholdKB = 0
	}
	rules := make([]RetryRule, 0, len(d.RetryRules))
	for _, r := range d.RetryRules {
		r.Condition = strings.TrimSpace(r.Condition)
		if r.Condition == "" {
			continue
		}
		rules = append(rules, r)
	}
	d.RetryRules = rules
}

// SanitizeCache keeps MaxSize as given (zero disables storage) and
// defaults the TTL and item cap.
func (cfg *Config) SanitizeCache() {
	c := &cfg.ResponseCache
	def := Default().ResponseCache
	if c.MaxSize < 0 {
		c.MaxSize = 0
	}
	if c.TTLSeconds <= 0 {
		c.TTLSeconds = def.TTLSeconds
	}
	if c.MaxItemBytes <= 0 {
		c.MaxItemBytes = def.MaxItemBytes
	}
	if cfg.Dedup.TTLSeconds <= 0 {
		cfg.Dedup.TTLSeconds = Default().Dedup.TTLSeconds
	}
}

// SanitizeSession defaults the idle timeout.
func (cfg *Config) SanitizeSession() {
	if cfg.Session.TimeoutMinutes <= 0 {
		cfg.Session.TimeoutMinutes = Default().Session.TimeoutMinutes
	}
}

// SanitizeBalance falls back to the unlimited gate on unknown modes.
func (cfg *Config) SanitizeBalance() {
	b := &cfg.Balance
	b.Mode = strings.ToLower(strings.TrimSpace(b.Mode))
	if b.Mode != BalanceLedger {
		b.Mode = BalanceUnlimited
	}
	if b.InitialUSD < 0 {
		b.InitialUSD = 0
	}
	if b.LowUSD < 0 {
		b.LowUSD = 0
	}
}

// SanitizeUsage accepts the postgres aliases and disables the store when
// no DSN is left.
func (cfg *Config) SanitizeUsage() {
	u := &cfg.Usage
	switch strings.ToLower(strings.TrimSpace(u.Driver)) {
	case "pgx", "postgres", "postgresql":
		u.Driver = UsagePostgres
	default:
		u.Driver = UsageSQLite
	}
	u.DSN = strings.TrimSpace(u.DSN)
	if u.DSN == "" {
		u.Enabled = false
	}
	if u.RetentionDays < 0 {
		u.RetentionDays = 0
	}
}

// Addr is the listen address.
func (cfg *Config) Addr() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

// AttemptTimeout is the per-attempt upstream deadline.
func (d DispatchConfig) AttemptTimeout() time.Duration {
	return time.Duration(d.AttemptTimeoutSeconds) * time.Second
}

// Cooldown is how long a rate-limited model is deprioritized.
func (d DispatchConfig) Cooldown() time.Duration {
	return time.Duration(d.CooldownSeconds) * time.Second
}

// TTL is the completed-response retention of the deduplicator.
func (d DedupConfig) TTL() time.Duration { return time.Duration(d.TTLSeconds) * time.Second }

// TTL is the default entry lifetime of the response cache.
func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSeconds) * time.Second }

// Timeout is the idle time after which a session pin is dropped.
func (s SessionConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// Enabled reports whether management endpoints are available.
func (m ManagementConfig) Enabled() bool { return m.SecretKey != "" }

// CheckKey compares provided against the stored key.
func (m ManagementConfig) CheckKey(provided string) bool {
	if m.SecretKey == "" || provided == "" {
		return false
	}
	if looksLikeBcrypt(m.SecretKey) {
		return bcrypt.CompareHashAndPassword([]byte(m.SecretKey), []byte(provided)) == nil
	}
	return m.SecretKey == provided
}

// looksLikeBcrypt returns true if the provided string appears to be a bcrypt hash.
func looksLikeBcrypt(s string) bool {
	return len(s) > 4 && (s[:4] == "$2a$" || s[:4] == "$2b$" || s[:4] == "$2y$")
}

// hashSecret hashes the given secret using bcrypt.
func hashSecret(secret string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// SaveConfigPreserveCommentsUpdateNestedScalar updates a nested scalar key path like ["a","b"]
// while preserving comments and positions.
func SaveConfigPreserveCommentsUpdateNestedScalar(configFile string, path []string, value string) error {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return err
	}
	var root yaml.Node
	if err = yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return fmt.Errorf("invalid yaml document structure")
	}
	node := root.Content[0]
	for i, key := range path {
		v := getOrCreateMapValue(node, key)
		if i == len(path)-1 {
			v.Kind = yaml.ScalarNode
			v.Tag = "!!str"
			v.Value = value
			break
		}
		if v.Kind != yaml.MappingNode {
			v.Kind = yaml.MappingNode
			v.Tag = "!!map"
		}
		node = v
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err = enc.Encode(&root); err != nil {
		_ = enc.Close()
		return err
	}
	if err = enc.Close(); err != nil {
		return err
	}
	return util.WriteFileAtomic(configFile, NormalizeCommentIndentation(buf.Bytes()), util.WriteOptions{Perm: 0o600})
}

// NormalizeCommentIndentation removes indentation from standalone YAML comment lines to keep them left aligned.
func NormalizeCommentIndentation(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	changed := false
	for i, line := range lines {
		trimmed := bytes.TrimLeft(line, " \t")
		if len(trimmed) == 0 || trimmed[0] != '#' || len(trimmed) == len(line) {
			continue
		}
		lines[i] = append([]byte(nil), trimmed...)
		changed = true
	}
	if !changed {
		return data
	}
	return bytes.Join(lines, []byte("\n"))
}

// getOrCreateMapValue finds the value node for key in a mapping node,
// appending an empty pair when absent.
func getOrCreateMapValue(mapNode *yaml.Node, key string) *yaml.Node {
	if mapNode.Kind != yaml.MappingNode {
		mapNode.Kind = yaml.MappingNode
		mapNode.Tag = "!!map"
		mapNode.Content = nil
	}
	for i := 0; i+1 < len(mapNode.Content); i += 2 {
		if mapNode.Content[i].Value == key {
			return mapNode.Content[i+1]
		}
	}
	k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	v := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null"}
	mapNode.Content = append(mapNode.Content, k, v)
	return v
}
