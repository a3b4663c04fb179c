package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/proxide/proxide/internal/accept"
	"github.com/proxide/proxide/internal/emit"
	"github.com/proxide/proxide/internal/perr"
	"github.com/proxide/proxide/internal/session"
)

type captureOptions struct {
	listenPort   int
	target       string
	outFile      string
	caCertPath   string
	caKeyPath    string
	jsonToStdout bool
}

func newCaptureCommand() *cobra.Command {
	var o captureOptions
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run the proxy, recording traffic to a capture file and/or stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCapture(cmd, o)
		},
	}
	cmd.Flags().IntVarP(&o.listenPort, "listen", "l", 0, "listen port (required)")
	cmd.Flags().StringVarP(&o.target, "target", "t", "", "fixed upstream host:port (direct mode); omit for CONNECT mode")
	cmd.Flags().StringVarP(&o.outFile, "file", "f", "", "binary capture output file")
	cmd.Flags().StringVar(&o.caCertPath, "ca-cert", "", "path to the CA's root certificate PEM file")
	cmd.Flags().StringVar(&o.caKeyPath, "ca-key", "", "path to the CA's private key PEM file")
	cmd.Flags().BoolVar(&o.jsonToStdout, "json", false, "also emit JSON-line events to stdout")
	_ = cmd.MarkFlagRequired("listen")
	return cmd
}

// runCapture keeps the accept loop's fate separate from each emitter's: a
// capture-file or stdout write failure is surfaced to the operator and
// stops that one emitter, but the proxy itself keeps serving. Only the
// accept loop's own exit (listener failure or shutdown) ends the command.
func runCapture(cmd *cobra.Command, o captureOptions) error {
	logger := loggerFromContext(cmd.Context())

	ca, err := loadCA(o.caCertPath, o.caKeyPath, false)
	if err != nil {
		return fmt.Errorf("load CA: %w", err)
	}

	store := session.New()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", o.listenPort))
	if err != nil {
		return perr.New(perr.IoError, "listen", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	if o.outFile != "" {
		f, err := os.Create(o.outFile)
		if err != nil {
			return perr.New(perr.IoError, "create capture file "+o.outFile, err)
		}

		writer, err := emit.NewCaptureWriter(f)
		if err != nil {
			_ = f.Close()
			return perr.New(perr.IoError, "open capture stream", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer f.Close()

			if err := writer.Run(ctx, store); err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintln(cmd.ErrOrStderr(), "capture: capture file write failed, continuing without it:", err)
			}
			if err := writer.Close(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "capture: close capture file:", err)
			}
		}()
	}

	if o.jsonToStdout {
		jsonWriter := emit.NewJSONLineWriter(cmd.OutOrStdout())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := jsonWriter.Run(ctx, store); err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintln(cmd.ErrOrStderr(), "capture: json stream write failed, continuing without it:", err)
			}
		}()
	}

	logger.Info("capture started", zap.Int("port", o.listenPort), zap.String("target", o.target))

	serveErr := accept.Serve(ctx, ln, accept.Config{
		CA:           ca,
		Store:        store,
		DirectTarget: o.target,
		Logger:       slog.Default().With("in", "accept"),
	})

	// accept.Serve returning -- whether from a listener error or from ctx
	// being cancelled by a signal -- is what ends the emitters' lifetime.
	stop()
	wg.Wait()

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	if serveErr != nil {
		return perr.New(perr.Shutdown, "signal", serveErr)
	}
	return nil
}
