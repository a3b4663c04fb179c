package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/proxide/proxide/internal/accept"
	"github.com/proxide/proxide/internal/emit"
	"github.com/proxide/proxide/internal/grpcreg"
	"github.com/proxide/proxide/internal/perr"
	"github.com/proxide/proxide/internal/session"
)

type monitorOptions struct {
	listenPort int
	target     string
	caCertPath string
	caKeyPath  string
	protoFiles []string
}

func newMonitorCommand() *cobra.Command {
	var o monitorOptions
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the proxy and serve decoded traffic to an interactive terminal UI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd, o)
		},
	}
	cmd.Flags().IntVarP(&o.listenPort, "listen", "l", 0, "listen port (required)")
	cmd.Flags().StringVarP(&o.target, "target", "t", "", "fixed upstream host:port (direct mode); omit for CONNECT mode")
	cmd.Flags().StringVar(&o.caCertPath, "ca-cert", "", "path to the CA's root certificate PEM file")
	cmd.Flags().StringVar(&o.caKeyPath, "ca-key", "", "path to the CA's private key PEM file")
	cmd.Flags().StringSliceVar(&o.protoFiles, "grpc", nil, "compiled FileDescriptorSet files for gRPC type resolution")
	_ = cmd.MarkFlagRequired("listen")
	return cmd
}

// runMonitor starts the proxy and feeds a LiveView plus a gRPC type
// Registry to a renderer. A real interactive terminal UI is expected to
// consume that same feed; printSummary below is a minimal built-in
// fallback renderer that exercises the same LiveView/Registry contract
// for headless operation.
func runMonitor(cmd *cobra.Command, o monitorOptions) error {
	logger := loggerFromContext(cmd.Context())

	ca, err := loadCA(o.caCertPath, o.caKeyPath, false)
	if err != nil {
		return fmt.Errorf("load CA: %w", err)
	}

	store := session.New()
	registry := grpcreg.New()
	if err := loadProtoFiles(registry, o.protoFiles); err != nil {
		return fmt.Errorf("load gRPC type registry: %w", err)
	}

	view := emit.NewLiveView(store)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", o.listenPort))
	if err != nil {
		return perr.New(perr.IoError, "listen", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go printSummary(ctx, cmd.OutOrStdout(), view, registry)

	logger.Info("monitor started", zap.Int("port", o.listenPort), zap.String("target", o.target))

	err = accept.Serve(ctx, ln, accept.Config{
		CA:           ca,
		Store:        store,
		DirectTarget: o.target,
		Logger:       slog.Default().With("in", "accept"),
	})
	if err != nil && err != context.Canceled {
		return err
	}
	if err != nil {
		return perr.New(perr.Shutdown, "signal", err)
	}
	return nil
}

// loadProtoFiles is the handoff point for the external schema-decoder
// frontend: it is expected to have already compiled .proto sources into
// FileDescriptorSet files, which this registers for RPC path lookup.
// Proxide parses none of the underlying .proto syntax itself.
func loadProtoFiles(registry *grpcreg.Registry, paths []string) error {
	for _, path := range paths {
		fds, err := grpcreg.LoadFileDescriptorSet(path)
		if err != nil {
			return err
		}
		if err := registry.RegisterFileDescriptorSet(fds); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}
