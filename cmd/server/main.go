// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main is the entry point of the switchAI router: an
// OpenAI-compatible gateway that picks the cheapest capable model for each
// request and falls back across models on provider errors.
package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/traylinx/switchAIRouter/internal/buildinfo"
	"github.com/traylinx/switchAIRouter/internal/cmd"
	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/logging"
	"github.com/traylinx/switchAIRouter/internal/registry"
	"github.com/traylinx/switchAIRouter/internal/routing"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var configPath string

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("failed to load .env: %v", err)
	}

	rootCmd := &cobra.Command{
		Use:     "switchai-router",
		Short:   "Cost-aware OpenAI-compatible LLM gateway",
		Version: buildinfo.String(),
		Long: `switchai-router accepts OpenAI chat completion requests, classifies each
prompt into a complexity tier and forwards it to the cheapest model able to
serve it, falling back along the tier's chain when a provider fails.`,
		SilenceUsage: true,
		RunE: func(c *cobra.Command, _ []string) error {
			return serve()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(modelsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.LoadConfigOptional("config.yaml", true)
	}
	return config.LoadConfig(configPath)
}

func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return cmd.StartService(cfg)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (default)",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return serve()
		},
	}
}

func classifyCmd() *cobra.Command {
	var profile string
	var system string
	var maxTokens int
	var asJSON bool

	c := &cobra.Command{
		Use:   "classify [prompt]",
		Short: "Show the routing decision for a prompt without calling upstream",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			_, router, err := cmd.NewRouter(cfg)
			if err != nil {
				return err
			}
			p, ok := registry.ParseProfile(strings.ToLower(profile))
			if !ok {
				return fmt.Errorf("unknown profile %q", profile)
			}
			var d routing.RoutingDecision
			if p == registry.ProfileFree {
				d = routing.RoutingDecision{
					Model:      registry.FreeModel,
					Tier:       routing.TierSimple,
					Profile:    routing.ProfileFree,
					Confidence: 1,
					Method:     "profile",
					Reasoning:  "free profile",
					Savings:    1,
				}
			} else {
				d = router.Route(strings.Join(args, " "), system, maxTokens, routing.Options{
					Profile:     routing.Profile(p),
					AgenticMode: cfg.Routing.AgenticMode,
				})
			}
			out := c.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}
			w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
			fmt.Fprintf(w, "model\t%s\n", d.Model)
			fmt.Fprintf(w, "tier\t%s\n", d.Tier)
			fmt.Fprintf(w, "profile\t%s\n", d.Profile)
			fmt.Fprintf(w, "confidence\t%.2f\n", d.Confidence)
			fmt.Fprintf(w, "method\t%s\n", d.Method)
			fmt.Fprintf(w, "cost\t$%.6f (baseline $%.6f, savings %.0f%%)\n", d.CostEstimate, d.BaselineCost, d.Savings*100)
			fmt.Fprintf(w, "reasoning\t%s\n", d.Reasoning)
			return w.Flush()
		},
	}
	c.Flags().StringVar(&profile, "profile", "auto", "routing profile: auto, eco, premium or free")
	c.Flags().StringVar(&system, "system", "", "system prompt")
	c.Flags().IntVar(&maxTokens, "max-tokens", 4096, "requested completion tokens")
	c.Flags().BoolVar(&asJSON, "json", false, "print the decision as JSON")
	return c
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the model catalog with prices per million tokens",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			reg, _, err := cmd.NewRouter(cfg)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tINPUT\tOUTPUT\tCONTEXT\tTOOLS\tVISION\tREASONING")
			for _, m := range reg.Models() {
				fmt.Fprintf(w, "%s\t$%.2f\t$%.2f\t%d\t%t\t%t\t%t\n",
					m.ID, m.InputPrice, m.OutputPrice, m.ContextLength, m.ToolCalling, m.Vision, m.Reasoning)
			}
			return w.Flush()
		},
	}
}
