package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"SignalPulse/internal/di"
	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/usecase"
	"SignalPulse/pkg/config"
)

// exit codes
const (
	exitFailure = 1
	exitConfig  = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, errs.ErrConfig) {
			os.Exit(exitConfig)
		}
		os.Exit(exitFailure)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "signalpulse",
		Short:         "Scheduled market signals classified by an LLM and posted to chat",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "config file path")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and HTTP server until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), configPath)
		},
	}

	var (
		symbol, interval, provider, link string
		noDeliver                        bool
	)
	once := &cobra.Command{
		Use:   "once",
		Short: "Run the pipeline once and print the result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), configPath, symbol, interval, usecase.RunOptions{
				Provider:    provider,
				ContextLink: link,
				SkipDeliver: noDeliver,
			})
		},
	}
	once.Flags().StringVarP(&symbol, "symbol", "s", "", "asset symbol, e.g. BTCUSDT")
	_ = once.MarkFlagRequired("symbol")
	once.Flags().StringVarP(&interval, "interval", "i", "", "candle interval (default from config)")
	once.Flags().StringVarP(&provider, "provider", "p", "", "data provider (default from config)")
	once.Flags().StringVar(&link, "link", "", "chart link attached to the signal")
	once.Flags().BoolVar(&noDeliver, "no-deliver", false, "classify without delivering")

	root.AddCommand(run, once)
	root.RunE = run.RunE
	return root
}

func runServer(parent context.Context, configPath string) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return err
	}
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}

func runOnce(parent context.Context, configPath, symbol, interval string, opts usecase.RunOptions) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return err
	}
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runErr := app.Scheduler().RunOnce(ctx, symbol, interval, opts)
	if res != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}
	return runErr
}
