package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/proxide/proxide/internal/config"
	"github.com/proxide/proxide/version"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	debug      bool
	configPath string
}

var opts rootOptions

// rootCommand builds Proxide's command tree: one cobra.Command per verb,
// attached under a root that only carries process-wide flags.
func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "proxide",
		Short: "A debugging proxy for HTTP/2 and gRPC traffic",
		Long: `Proxide intercepts HTTP/2 and gRPC traffic between a client and a
target server, decodes the exchanged frames into structured request and
response records, and optionally terminates TLS via an on-the-fly
man-in-the-middle certificate authority.

Records are written to a capture file, streamed as newline-delimited JSON,
or served live to a terminal UI, depending on the subcommand used.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.String(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newProcessLogger(opts.debug)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			setProcessLogger(cmd, logger)
			return nil
		},
	}

	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a proxide.yaml config file")

	root.AddCommand(
		newConfigCommand(),
		newCaptureCommand(),
		newMonitorCommand(),
		newViewCommand(),
	)
	return root
}

// newProcessLogger builds the zap logger used for process-lifecycle
// events (startup, shutdown, signal handling) and, separately, sets the
// default slog logger for per-connection/per-flow logging to a slog text
// handler on stderr, with level and AddSource gated on debug the way
// cmd/go-mitmproxy/main.go does. The two loggers are independent: slog
// output does not go through zap.
func newProcessLogger(debug bool) (*zap.Logger, error) {
	var zcfg zap.Config
	if debug {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})))

	return logger, nil
}

type loggerKey struct{}

func setProcessLogger(cmd *cobra.Command, logger *zap.Logger) {
	cmd.SetContext(contextWithLogger(cmd.Context(), logger))
}

func loadConfig() (config.Config, error) {
	return config.Load(opts.configPath)
}
