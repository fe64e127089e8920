package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"dlnamedia/internal/api"
	"dlnamedia/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "dlnamedia",
		Short:        "UPnP/DLNA audio media server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to config file")

	root.AddCommand(
		newServeCmd(opts),
		newScanCmd(opts),
		newDiscoverCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), api.Version)
			},
		},
	)
	return root
}

// load reads the configuration and builds the logger. The returned closer
// flushes the log file, if any.
func load(opts *options) (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("load config: %w", err)
	}
	logger, closer := setupLogger(cfg.Logging)
	return cfg, logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func setupLogger(cfg config.LoggingConfig) (zerolog.Logger, io.Closer) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	var console io.Writer = os.Stdout
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	if cfg.File == "" {
		return zerolog.New(console).
			With().
			Timestamp().
			Logger(), nopCloser{}
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}
	return zerolog.New(zerolog.MultiLevelWriter(console, file)).
		With().
		Timestamp().
		Logger(), file
}
