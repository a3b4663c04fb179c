package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proxide/proxide/internal/perr"
)

func TestExitCodeMapsPerrKinds(t *testing.T) {
	cases := []struct {
		kind perr.Kind
		want int
	}{
		{perr.ConfigError, 1},
		{perr.Shutdown, 130},
		{perr.IoError, 2},
		{perr.TlsError, 2},
		{perr.H2ProtocolError, 2},
		{perr.UpstreamError, 2},
		{perr.DecodeError, 2},
	}
	for _, tc := range cases {
		err := perr.New(tc.kind, "op", errors.New("boom"))
		require.Equal(t, tc.want, exitCode(err))
	}
}

func TestExitCodeDefaultsToOneForUnclassifiedError(t *testing.T) {
	require.Equal(t, 1, exitCode(errors.New("plain failure")))
}
