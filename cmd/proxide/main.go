// Command proxide is a debugging proxy for HTTP/2 and gRPC traffic: it
// terminates TLS via an on-the-fly MITM certificate authority, decodes
// frames into structured request/response records, and serves them to a
// capture file, a JSON-line stream, or a live terminal UI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/proxide/proxide/internal/perr"
)

func main() {
	os.Exit(run())
}

func run() int {
	err := rootCommand().Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "proxide:", err)
	return exitCode(err)
}

// exitCode maps a command's returned error to Proxide's documented exit
// status: 0 success, 1 configuration error, 2 a runtime/setup failure,
// 130 a clean shutdown on SIGINT/SIGTERM. An error with no perr.Kind
// (e.g. cobra's own flag-parsing errors) falls back to 1.
func exitCode(err error) int {
	var pe *perr.Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case perr.Shutdown:
			return 130
		case perr.ConfigError:
			return 1
		case perr.IoError, perr.TlsError, perr.H2ProtocolError, perr.UpstreamError, perr.DecodeError:
			return 2
		}
	}
	return 1
}
