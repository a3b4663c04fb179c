package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/proxide/proxide/internal/emit"
	"github.com/proxide/proxide/internal/grpcreg"
)

type viewOptions struct {
	protoFiles []string
}

func newViewCommand() *cobra.Command {
	var o viewOptions
	cmd := &cobra.Command{
		Use:   "view FILE",
		Short: "Load a previously captured file and summarize it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(cmd, args[0], o)
		},
	}
	cmd.Flags().StringSliceVar(&o.protoFiles, "grpc", nil, "compiled FileDescriptorSet files for gRPC type resolution")
	return cmd
}

func runView(cmd *cobra.Command, path string, o viewOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	changes, err := emit.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read capture file: %w", err)
	}

	store, err := emit.ReplayAll(changes)
	if err != nil {
		return fmt.Errorf("replay capture file: %w", err)
	}

	registry := grpcreg.New()
	if err := loadProtoFiles(registry, o.protoFiles); err != nil {
		return fmt.Errorf("load gRPC type registry: %w", err)
	}

	view := emit.NewLiveView(store)
	conns, reqs, resps := view.Snapshot()
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d connections, %d requests, %d responses\n", path, len(conns), len(reqs), len(resps))
	for _, r := range reqs {
		resp, hasResp := view.ResponseByRequest(r.ID)
		status := "pending"
		if hasResp {
			status = string(resp.Status)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %s -> %s\n", r.Method, r.Path, status)
	}
	return nil
}
