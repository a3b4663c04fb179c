package main

import (
	"context"
	"fmt"
	"io"

	"github.com/proxide/proxide/internal/emit"
	"github.com/proxide/proxide/internal/grpcreg"
	"github.com/proxide/proxide/internal/session"
)

// printSummary is a minimal built-in renderer: one line per lifecycle
// Change, with gRPC message bodies rendered through registry when a
// matching RPC path is known. A real terminal UI consumes the same
// view.Subscribe feed; this exists so "monitor" produces visible output
// without one.
func printSummary(ctx context.Context, w io.Writer, view *emit.LiveView, registry *grpcreg.Registry) {
	ch, lagged, cancel := view.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-lagged:
			fmt.Fprintln(w, "[warning] dropped events: consumer fell behind")
		case change, ok := <-ch:
			if !ok {
				return
			}
			printChange(w, view, registry, change)
		}
	}
}

func printChange(w io.Writer, view *emit.LiveView, registry *grpcreg.Registry, change session.Change) {
	switch change.Kind {
	case session.ConnectionOpened:
		c := change.Connection
		fmt.Fprintf(w, "conn %s open %s -> %s (%s)\n", shortID(c.ID), c.ClientAddr, c.ServerAddr, c.Mode)
	case session.ConnectionClosed:
		c := change.Connection
		fmt.Fprintf(w, "conn %s closed (%s)\n", shortID(c.ID), c.Status)
	case session.RequestStarted:
		r := change.Request
		fmt.Fprintf(w, "-> %s %s (req %s)\n", r.Method, r.Path, shortID(r.ID))
	case session.RequestDone:
		r := change.Request
		fmt.Fprintf(w, "-> %s %s done (%s)\n", r.Method, r.Path, r.Status)
	case session.ResponseStarted:
		fmt.Fprintf(w, "<- response started (res %s)\n", shortID(change.Response.ID))
	case session.ResponseDone:
		r := change.Response
		fmt.Fprintf(w, "<- response done (%s)\n", r.Status)
	case session.MessageDone:
		printMessage(w, view, registry, change.Message)
	case session.ErrorEvent:
		fmt.Fprintf(w, "error: %s\n", change.Detail)
	}
}

func printMessage(w io.Writer, view *emit.LiveView, registry *grpcreg.Registry, m *session.Message) {
	path := pathForMessage(view, m)
	method, ok := registry.Lookup(path)
	if !ok || len(m.Bytes) < 5 {
		fmt.Fprintf(w, "   message %d bytes (%s)\n", len(m.Bytes), path)
		return
	}

	mt := method.Request
	if m.ParentKind == session.ParentResponse {
		mt = method.Response
	}
	body, err := grpcreg.DecodeMessage(mt, m.Bytes[5:])
	if err != nil {
		fmt.Fprintf(w, "   message %d bytes (%s, undecodable: %v)\n", len(m.Bytes), path, err)
		return
	}
	fmt.Fprintf(w, "   %s %s\n", path, body)
}

func pathForMessage(view *emit.LiveView, m *session.Message) string {
	switch m.ParentKind {
	case session.ParentRequest:
		if r, ok := view.RequestDetail(m.ParentID); ok {
			return r.Path
		}
	case session.ParentResponse:
		if resp, ok := view.ResponseDetail(m.ParentID); ok {
			if r, ok := view.RequestDetail(resp.RequestID); ok {
				return r.Path
			}
		}
	}
	return ""
}

func shortID(id interface{ String() string }) string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
