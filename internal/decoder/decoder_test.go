package decoder_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proxide/proxide/internal/decoder"
)

func grpcFrame(payload []byte) []byte {
	buf := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[5:], payload)
	return buf
}

func TestOnHeadersPromotesPseudoHeaders(t *testing.T) {
	s := decoder.NewStream()
	promoted, isTrailer := s.OnHeaders(decoder.DirRequest, []decoder.HeaderPair{
		{Name: ":method", Value: "POST"},
		{Name: ":path", Value: "/pkg.Service/Method"},
		{Name: ":authority", Value: "example.test"},
		{Name: "Content-Type", Value: "application/grpc"},
		{Name: "X-Custom-Bin", Value: "\x01\x02"},
	})

	require.False(t, isTrailer)
	require.Equal(t, "POST", promoted.Method)
	require.Equal(t, "/pkg.Service/Method", promoted.Path)
	require.Equal(t, "example.test", promoted.Authority)

	var found bool
	for _, h := range promoted.Headers {
		if h.Name == "x-custom-bin" {
			found = true
			require.Equal(t, "AQI=", h.Value)
		}
	}
	require.True(t, found)
}

func TestOnHeadersSecondBlockIsTrailer(t *testing.T) {
	s := decoder.NewStream()
	s.OnHeaders(decoder.DirResponse, []decoder.HeaderPair{{Name: ":status", Value: "200"}})
	_, isTrailer := s.OnHeaders(decoder.DirResponse, []decoder.HeaderPair{{Name: "grpc-status", Value: "0"}})
	require.True(t, isTrailer)
}

func TestOnDataNonGRPCOneMessagePerFrame(t *testing.T) {
	s := decoder.NewStream()
	s.OnHeaders(decoder.DirRequest, []decoder.HeaderPair{{Name: "content-type", Value: "application/json"}})

	msgs := s.OnData(decoder.DirRequest, []byte("hello"), false)
	require.Len(t, msgs, 1)
	require.Equal(t, []byte("hello"), msgs[0].Bytes)
	require.False(t, msgs[0].EndStream)

	msgs = s.OnData(decoder.DirRequest, []byte("world"), true)
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].EndStream)
}

func TestOnDataGRPCReframesLengthPrefixedMessages(t *testing.T) {
	s := decoder.NewStream()
	s.OnHeaders(decoder.DirRequest, []decoder.HeaderPair{{Name: "content-type", Value: "application/grpc+proto"}})

	f1 := grpcFrame([]byte("one"))
	f2 := grpcFrame([]byte("two"))

	// deliver across two DATA frames that split a gRPC frame boundary
	msgs := s.OnData(decoder.DirRequest, f1[:3], false)
	require.Len(t, msgs, 0)

	rest := append(append([]byte{}, f1[3:]...), f2...)
	msgs = s.OnData(decoder.DirRequest, rest, true)
	require.Len(t, msgs, 2)
	require.Equal(t, f1, msgs[0].Bytes)
	require.Equal(t, f2, msgs[1].Bytes)
	require.True(t, msgs[1].EndStream)
	require.False(t, msgs[0].EndStream)
}

func TestOnDataGRPCTruncatedFrameAtEndOfStream(t *testing.T) {
	s := decoder.NewStream()
	s.OnHeaders(decoder.DirResponse, []decoder.HeaderPair{{Name: "content-type", Value: "application/grpc"}})

	full := grpcFrame([]byte("complete"))
	partial := full[:len(full)-2]

	msgs := s.OnData(decoder.DirResponse, partial, true)
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].Truncated)
	require.True(t, msgs[0].EndStream)
}

func TestGRPCStatusFromTrailers(t *testing.T) {
	s := decoder.NewStream()
	s.OnHeaders(decoder.DirResponse, []decoder.HeaderPair{{Name: ":status", Value: "200"}})
	promoted, isTrailer := s.OnHeaders(decoder.DirResponse, []decoder.HeaderPair{
		{Name: "grpc-status", Value: "5"},
		{Name: "grpc-message", Value: "not found"},
	})
	require.True(t, isTrailer)

	status, msg := decoder.GRPCStatus(promoted.Headers)
	require.NotNil(t, status)
	require.Equal(t, 5, *status)
	require.Equal(t, "not found", msg)
}
