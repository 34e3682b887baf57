// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rootgate/internal/config"
	"github.com/jeranaias/rootgate/internal/gateway"
	"github.com/jeranaias/rootgate/internal/ledger"
	"github.com/jeranaias/rootgate/internal/model"
	"github.com/jeranaias/rootgate/internal/router"
	"github.com/jeranaias/rootgate/internal/util"
)

// =============================================================================
// ROUTE
// =============================================================================

func newRouteCmd(flags *globalFlags) *cobra.Command {
	var (
		opts     router.Options
		params   []string
		asJSON   bool
		timeout  time.Duration
		provider string
	)

	cmd := &cobra.Command{
		Use:   "route [query]",
		Short: "Route a natural-language query to the best tool",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			opts.Provider = provider
			if opts.Params, err = parseParams(params); err != nil {
				return err
			}

			ctx := cmd.Context()
			gw, err := gateway.New(ctx, cfg, gateway.Options{Offline: opts.DryRun})
			if err != nil {
				return err
			}
			defer gw.Close()

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			res := gw.RouteQuery(ctx, strings.Join(args, " "), opts)
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			renderResult(cmd.OutOrStdout(), res)
			if !res.Success {
				if res.Err != nil {
					return res.Err
				}
				return errors.New(res.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&opts.DryRun, "dry-run", "n", false, "Classify and build parameters without calling the provider")
	cmd.Flags().StringVarP(&opts.Tool, "tool", "t", "", "Force a specific tool")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Restrict routing to one provider")
	cmd.Flags().StringVarP(&opts.Language, "language", "l", "", "Override language detection (BCP 47)")
	cmd.Flags().BoolVar(&opts.SkipCache, "skip-cache", false, "Bypass the response cache")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Extra parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall request timeout")
	return cmd
}

// parseParams turns key=value pairs into a parameter map.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func renderResult(w io.Writer, res *router.Result) {
	fmt.Fprintln(w, titleStyle.Render("Route"))
	fmt.Fprintf(w, "  intent    %s %s\n", res.Intent.Type, dimStyle.Render(fmt.Sprintf("(%.2f)", res.Intent.Confidence)))
	fmt.Fprintf(w, "  language  %s\n", res.Language)
	if res.Tool != "" {
		fmt.Fprintf(w, "  tool      %s/%s %s\n", res.Provider, res.Tool, dimStyle.Render(fmt.Sprintf("score %.2f", res.Score)))
	}
	for _, e := range res.Entities {
		fmt.Fprintf(w, "  entity    %s=%q %s\n", e.Type, e.Value, dimStyle.Render(string(e.Source)))
	}
	if len(res.Params) > 0 {
		data, _ := json.Marshal(res.Params)
		fmt.Fprintf(w, "  params    %s\n", data)
	}

	switch {
	case !res.Success:
		fmt.Fprintln(w, errorStyle.Render("  "+string(res.ErrorKind)+": ")+res.Error)
		return
	case res.DryRun:
		fmt.Fprintln(w, warningStyle.Render("  dry run")+dimStyle.Render(" no provider call made"))
		return
	}

	if res.Credits != nil {
		fmt.Fprintf(w, "  credits   -%d, %d left %s\n", res.Credits.Consumed, res.Credits.Remaining, dimStyle.Render(res.Credits.Status))
	}
	if res.FromCache {
		fmt.Fprintln(w, dimStyle.Render("  served from cache"))
	}
	data, err := json.MarshalIndent(res.Data, "  ", "  ")
	if err == nil {
		fmt.Fprintf(w, "\n  %s\n", data)
	}
}

// =============================================================================
// TOOLS
// =============================================================================

func newToolsCmd(flags *globalFlags) *cobra.Command {
	var (
		filter router.ToolFilter
		level  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools of registered providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if level != "" {
				lv, err := model.ParseLevel(level)
				if err != nil {
					return err
				}
				filter.Level = &lv
			}

			gw, err := gateway.New(cmd.Context(), cfg, gateway.Options{Offline: !filter.Accessible})
			if err != nil {
				return err
			}
			defer gw.Close()

			tools := gw.AvailableTools(filter)
			if asJSON {
				return printJSON(cmd.OutOrStdout(), tools)
			}
			renderTools(cmd.OutOrStdout(), tools)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Provider, "provider", "", "Only this provider")
	cmd.Flags().StringVar(&filter.Category, "category", "", "Only this category")
	cmd.Flags().StringVar(&level, "level", "", "Only tools available at this level (basic, plus, pro)")
	cmd.Flags().BoolVar(&filter.Accessible, "accessible", false, "Only tools usable now (probes the live balance)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func renderTools(w io.Writer, tools []router.ToolInfo) {
	fmt.Fprintln(w, headerStyle.Render(util.PadRight("TOOL", 26)+util.PadRight("CATEGORY", 14)+util.PadRight("LEVEL", 7)+"CREDITS"))
	for _, t := range tools {
		row := util.PadRight(t.Tool.Name, 26) + util.PadRight(t.Tool.Category, 14) +
			util.PadRight(t.Tool.RequiredLevel.String(), 7) + fmt.Sprintf("%d", t.Tool.CreditsPerCall)
		if !t.Accessible {
			row = dimStyle.Render(row)
		}
		fmt.Fprintln(w, row)
		if t.Tool.Description != "" {
			fmt.Fprintln(w, dimStyle.Render("  "+util.TruncateWidth(t.Tool.Description, 72)))
		}
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d tools", len(tools))))
}

// =============================================================================
// CREDITS
// =============================================================================

func newCreditsCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Show provider credit balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			gw, err := gateway.New(cmd.Context(), cfg, gateway.Options{})
			if err != nil {
				return err
			}
			defer gw.Close()

			ov := gw.Ledger().Overview()
			if asJSON {
				return printJSON(cmd.OutOrStdout(), ov)
			}
			renderOverview(cmd.OutOrStdout(), gw.Ledger(), ov)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	cmd.AddCommand(newCreditsHistoryCmd(flags))
	return cmd
}

func renderOverview(w io.Writer, l *ledger.Ledger, ov ledger.Overview) {
	fmt.Fprintln(w, titleStyle.Render("Credits"))
	for _, p := range ov.Providers {
		status := statusStyle(p.Status).Render(util.PadRight(p.Status.String(), 10))
		fmt.Fprintf(w, "  %s %s %6d  level %s\n", util.PadRight(p.ProviderID, 14), status, p.Credits, p.Level)
		if pred, err := l.PredictConsumption(p.ProviderID, 24); err == nil && pred.HourlyAverage > 0 {
			fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("    ~%.1f/hour, %.0f projected over 24h", pred.HourlyAverage, pred.Projected)))
		}
	}
	fmt.Fprintf(w, "  total %d credits, %d consumed, %d/%d active\n", ov.TotalCredits, ov.TotalConsumed, ov.Active, len(ov.Providers))
}

func newCreditsHistoryCmd(flags *globalFlags) *cobra.Command {
	var (
		since  time.Duration
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history [provider]",
		Short: "Show recorded consumption and status changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.Credits.HistoryDB == "" {
				return fmt.Errorf("no history database configured: set [credits] history_db or ROOTGATE_HISTORY_DB")
			}
			id := cfg.Provider.ID
			if len(args) == 1 {
				id = args[0]
			}

			// History is read straight from the store; no balance probe needed.
			gw, err := gateway.New(cmd.Context(), cfg, gateway.Options{Offline: true})
			if err != nil {
				return err
			}
			defer gw.Close()

			records, err := gw.Ledger().History(cmd.Context(), id, time.Now().Add(-since))
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), records)
			}
			renderHistory(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "How far back to look")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func renderHistory(w io.Writer, records []ledger.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no records"))
		return
	}
	for _, r := range records {
		at := r.At.Local().Format("2006-01-02 15:04:05")
		switch r.Kind {
		case ledger.RecordTransition:
			if r.From != nil && r.To != nil {
				fmt.Fprintf(w, "%s  %s -> %s  balance %d\n", dimStyle.Render(at),
					statusStyle(*r.From).Render(r.From.String()), statusStyle(*r.To).Render(r.To.String()), r.Balance)
			}
		default:
			fmt.Fprintf(w, "%s  -%d  balance %d\n", dimStyle.Render(at), r.Consumed, r.Balance)
		}
	}
}

// =============================================================================
// CONFIG
// =============================================================================

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialise configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (secrets redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			v, err := cfg.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.configPath
			if path == "" {
				p, err := config.ConfigPathTOML()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.SaveTOML(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("wrote ")+path)
			return nil
		},
	})
	return cmd
}

// =============================================================================
// HELPERS
// =============================================================================

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
