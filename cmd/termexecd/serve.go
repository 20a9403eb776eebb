package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/twistedxcom/termexecd/internal/config"
	"github.com/twistedxcom/termexecd/internal/logging"
	"github.com/twistedxcom/termexecd/internal/metrics"
	"github.com/twistedxcom/termexecd/internal/rpcserver"
	"github.com/twistedxcom/termexecd/internal/sink"
	"github.com/twistedxcom/termexecd/internal/termsession"
	"github.com/twistedxcom/termexecd/internal/toolsurface"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var dbPath string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, dbPath, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "path to an optional TOML config overlay")
	cmd.Flags().StringVar(&dbPath, "db", defaultDBPath(), "path to the completion sink's SQLite database")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (disabled if empty)")
	return cmd
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "termexecd.db"
	}
	return filepath.Join(home, ".termexecd", "completions.db")
}

func runServe(configPath, dbPath, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}

	logDir := filepath.Join(os.Getenv("HOME"), ".termexecd")
	logging.Init(logging.Config{
		LogDir: logDir,
		Level:  cfg.LogLevel,
		Format: "json",
	})
	defer logging.Shutdown()

	live := config.NewLive(cfg, configPath)
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	live.Watch(stopWatch)

	db, err := sink.Open(dbPath)
	if err != nil {
		return fmt.Errorf("serve: open completion sink: %w", err)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store := termsession.NewStore(termsession.StoreParams{
		Sink:                 db,
		MaxSessionsFunc:      live.MaxSessions,
		SessionTimeoutMsFunc: live.SessionTimeoutMs,
		OnSoftCapExceeded:    m.SoftCapExceeded.Inc,
	})
	defer store.Close()

	surface := toolsurface.New(store, cfg.UsePTY, m)
	server := rpcserver.New(surface, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, metricsAddr, reg); err != nil {
				fmt.Fprintln(os.Stderr, "serve: metrics server:", err)
			}
		}()
	}

	if err := server.Serve(ctx, os.Stdin); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
