// rootgate - intent-routed gateway for Web3 data APIs.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rootgate/internal/config"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "rootgate",
		Short: "Intent-routed gateway for Web3 data APIs",
		Long: "rootgate classifies natural-language queries, routes them to the best " +
			"provider tool, and guards every call with caching, rate limiting and credit tracking.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file (default ~/.rootgate/config.toml)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "Load environment variables from this file (default .env when present)")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newRouteCmd(flags))
	root.AddCommand(newToolsCmd(flags))
	root.AddCommand(newCreditsCmd(flags))
	root.AddCommand(newConfigCmd(flags))
	return root
}

// loadConfig reads the dotenv file, then the config file, so ROOTGATE_*
// variables from .env take part in env overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	if err := loadEnvFile(flags.envFile); err != nil {
		return nil, err
	}
	if flags.configPath != "" {
		return config.LoadFromPath(flags.configPath)
	}
	return config.Load()
}

// loadEnvFile loads an explicit env file or an optional ./.env. Variables
// already set in the environment are not overwritten.
func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// configFilePath is the file serve watches for changes.
func configFilePath(flags *globalFlags) string {
	if flags.configPath != "" {
		return flags.configPath
	}
	for _, fn := range []func() (string, error){config.ConfigPathTOML, config.ConfigPathJSON} {
		if p, err := fn(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				return p
			}
		}
	}
	return ""
}
