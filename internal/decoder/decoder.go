// Package decoder implements the Stream Demultiplexer & Decoder: it turns
// a wire-ordered sequence of (direction, frame_kind, payload) events for
// one HTTP/2 stream into Request/Response header fields and a sequence of
// Messages, reframing gRPC's length-prefixed messages out of DATA frames.
package decoder

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/proxide/proxide/internal/session"
)

// Direction is which leg of a paired stream a frame travelled on.
type Direction int

const (
	DirRequest Direction = iota
	DirResponse
)

// HeaderPair is a single header as delivered off the wire, pre-lowercasing.
type HeaderPair struct {
	Name  string
	Value string
}

// Promoted carries the pseudo-headers promoted to typed fields plus the
// remaining ordinary headers, ordered and lowercased.
type Promoted struct {
	Method    string // :method
	Path      string // :path
	Authority string // :authority
	Scheme    string // :scheme
	Status    string // :status
	Headers   []session.HeaderField
}

// streamState is the decoder's per-stream, per-direction bookkeeping.
type streamState struct {
	headersSeen     bool
	trailerMode     bool // a HEADERS frame arrived after END_HEADERS-on-request; subsequent HEADERS are trailers
	messageBuffer   []byte
	sequenceCounter uint64
	isGRPC          bool
}

// Stream decodes the two directions (request, response) of a single HTTP/2
// stream. One Stream exists per paired downstream/upstream stream for the
// lifetime of that pairing.
type Stream struct {
	req streamState
	res streamState
}

// NewStream creates decoder state for a freshly paired HTTP/2 stream.
func NewStream() *Stream {
	return &Stream{}
}

func (s *Stream) state(dir Direction) *streamState {
	if dir == DirRequest {
		return &s.req
	}
	return &s.res
}

// OnHeaders processes a complete HEADERS (+ CONTINUATION) block, promoting
// pseudo-headers to typed fields and lowercasing/base64-encoding the rest.
// A HEADERS block arriving on either direction after that direction's
// headers were already seen is treated as trailers and returned with
// isTrailer=true, so the caller can route response trailers to
// Response.Trailers.
func (s *Stream) OnHeaders(dir Direction, raw []HeaderPair) (promoted Promoted, isTrailer bool) {
	st := s.state(dir)

	if st.headersSeen {
		isTrailer = true
	}

	for _, h := range raw {
		name := strings.ToLower(h.Name)
		value := h.Value
		switch name {
		case ":method":
			promoted.Method = value
			continue
		case ":path":
			promoted.Path = value
			continue
		case ":authority":
			promoted.Authority = value
			continue
		case ":scheme":
			promoted.Scheme = value
			continue
		case ":status":
			promoted.Status = value
			continue
		}
		if strings.HasSuffix(name, "-bin") {
			value = base64.StdEncoding.EncodeToString([]byte(h.Value))
		}
		promoted.Headers = append(promoted.Headers, session.HeaderField{Name: name, Value: value})
	}

	if !isTrailer {
		st.headersSeen = true
		st.isGRPC = isGRPCContentType(headerValue(promoted.Headers, "content-type"))
	}
	return promoted, isTrailer
}

// GRPCStatus extracts grpc-status/grpc-message from a trailer block, used
// to derive the Response's terminal status.
func GRPCStatus(trailers []session.HeaderField) (status *int, message string) {
	raw := headerValue(trailers, "grpc-status")
	if raw == "" {
		return nil, ""
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, ""
	}
	return &n, headerValue(trailers, "grpc-message")
}

func headerValue(headers []session.HeaderField, name string) string {
	for _, h := range headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

func isGRPCContentType(contentType string) bool {
	return strings.HasPrefix(contentType, "application/grpc")
}
