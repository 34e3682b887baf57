// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jeranaias/rootgate/internal/config"
	"github.com/jeranaias/rootgate/internal/gateway"
	"github.com/jeranaias/rootgate/internal/server"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		addr    string
		offline bool
		watch   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if closer := setupLogging(cfg.Log); closer != nil {
				defer closer.Close()
			}
			return runServe(cmd.Context(), cfg, configFilePath(flags), offline, watch)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides [server] addr)")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the startup balance probe")
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload limits and thresholds when the config file changes")
	return cmd
}

// setupLogging sends the standard logger to a rotating file when one is
// configured, keeping stderr as a second sink.
func setupLogging(lc config.LogConfig) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if lc.File == "" {
		return nil
	}
	rotator := &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return rotator
}

func runServe(ctx context.Context, cfg *config.Config, cfgPath string, offline, watch bool) error {
	gw, err := gateway.New(ctx, cfg, gateway.Options{Offline: offline})
	if err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	defer gw.Close()
	gw.Start(ctx)

	if watch && cfgPath != "" {
		stopWatch, err := config.Watch(cfgPath, func(next *config.Config, err error) {
			if err != nil {
				return
			}
			if err := gw.Reconfigure(next); err != nil {
				log.Printf("CONFIG_APPLY_FAILED | error=%v", err)
			}
		})
		if err != nil {
			log.Printf("CONFIG_WATCH_ERROR | path=%s error=%v", cfgPath, err)
		} else {
			defer stopWatch()
		}
	}

	var auth *server.AuthConfig
	if cfg.Server.AuthToken != "" || len(cfg.Server.AllowedIPs) > 0 {
		auth = &server.AuthConfig{BearerToken: cfg.Server.AuthToken, AllowedIPs: cfg.Server.AllowedIPs}
	}
	srv := server.New(gw, server.Options{
		Addr:              cfg.Server.Addr,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
		Auth:              auth,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Println(titleStyle.Render("rootgate") + " listening on " + successStyle.Render(srv.Addr()))
	if auth == nil {
		fmt.Println(warningStyle.Render("warning:") + " authentication is disabled")
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Printf("SHUTDOWN | reason=signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
