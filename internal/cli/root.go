// Package cli implements the aegis command line tool.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goflare.io/aegis"
	"goflare.io/aegis/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for the aegis CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "aegis",
		Short: "Aegis - client resilience layer",
		Long: `Exercise the dashboard client resilience layer from the terminal:
cached and retried API reads, the realtime notification channel,
and the persistent response cache.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewFetchCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewCacheCommand(opts))

	return cmd
}

// loadConfig reads --config, or the defaults when it is unset.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	logger, err := newLogger(opts.Verbose)
	if err != nil {
		return nil, err
	}
	if opts.ConfigPath == "" {
		return config.NewConfig(config.WithLogger(logger))
	}
	return config.Load(opts.ConfigPath, config.WithLogger(logger))
}

// newLogger logs to stderr so stdout stays machine-readable.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func newClient(ctx context.Context, opts *RootOptions, extra ...aegis.Option) (*aegis.Client, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	client, err := aegis.New(ctx, append([]aegis.Option{aegis.WithConfig(cfg), aegis.WithoutJanitor()}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize client: %w", err)
	}
	return client, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
