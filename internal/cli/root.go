// Package cli implements the docbridge command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/docbridge/pkg/docbridge"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string

	// NewAdapter opens the adapter. Tests replace it.
	NewAdapter func(ctx context.Context, config *docbridge.Config, logger *slog.Logger) (docbridge.Adapter, error)

	config *docbridge.Config
	logger *slog.Logger
}

// ValidFormats defines the allowed log formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the docbridge CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{NewAdapter: openAdapter})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "docbridge",
		Short:         "docbridge - documents on Postgres",
		Long:          "Stores schemaless documents in Postgres tables and serves a small HTTP demo on top.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML or JSON config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error), overrides logging.level")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewClassesCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func (o *RootOptions) setup(stderr io.Writer) error {
	config := &docbridge.Config{}
	if o.ConfigPath != "" {
		loaded, err := docbridge.LoadConfig(o.ConfigPath)
		if err != nil {
			return err
		}
		config = loaded
	}
	if o.LogLevel != "" {
		config.Logging.Level = o.LogLevel
	}

	logger, err := newLogger(stderr, config.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	o.config = config
	o.logger = logger
	return nil
}

func newLogger(w io.Writer, cfg docbridge.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: must be one of %v", cfg.Format, ValidFormats)
	}
}

func openAdapter(ctx context.Context, config *docbridge.Config, logger *slog.Logger) (docbridge.Adapter, error) {
	return docbridge.NewAdapter(ctx, config, docbridge.WithLogger(logger))
}

func (o *RootOptions) open(ctx context.Context) (docbridge.Adapter, error) {
	adapter, err := o.NewAdapter(ctx, o.config, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open adapter: %w", err)
	}
	return adapter, nil
}
