package h2bridge

import (
	"bytes"
	"fmt"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/proxide/proxide/internal/decoder"
	"github.com/proxide/proxide/internal/perr"
)

// maxFrameSize is HTTP/2's default SETTINGS_MAX_FRAME_SIZE, which every
// peer must accept (Proxide's own SETTINGS frames leave it unchanged), and
// the chunk size used when a re-encoded header block must be split across
// a HEADERS frame plus CONTINUATION frames.
const maxFrameSize = 16384

// hpackCodec holds an HPACK decoder (for reading a peer's header blocks)
// and an encoder (for writing header blocks to a peer). HPACK dynamic
// table state is strictly per-direction, so the bridge keeps four codecs,
// one for each direction of each leg, and uses each one only to decode or
// only to encode.
type hpackCodec struct {
	dec *hpack.Decoder
	enc *hpack.Encoder
	buf bytes.Buffer
}

func newHPACKCodec() *hpackCodec {
	c := &hpackCodec{}
	c.enc = hpack.NewEncoder(&c.buf)
	return c
}

// decode runs a complete (HEADERS + 0..N CONTINUATION) block through the
// HPACK decoder and returns the fields in wire order.
func (c *hpackCodec) decode(block []byte) ([]decoder.HeaderPair, error) {
	var fields []decoder.HeaderPair
	if c.dec == nil {
		c.dec = hpack.NewDecoder(4096, func(f hpack.HeaderField) {
			fields = append(fields, decoder.HeaderPair{Name: f.Name, Value: f.Value})
		})
	} else {
		c.dec.SetEmitFunc(func(f hpack.HeaderField) {
			fields = append(fields, decoder.HeaderPair{Name: f.Name, Value: f.Value})
		})
	}
	if _, err := c.dec.Write(block); err != nil {
		return nil, perr.New(perr.H2ProtocolError, "hpack decode", err)
	}
	return fields, nil
}

// encode HPACK-encodes fields into a single block for writeHeaderBlock to
// chunk across frames.
func (c *hpackCodec) encode(fields []decoder.HeaderPair) ([]byte, error) {
	c.buf.Reset()
	for _, f := range fields {
		if err := c.enc.WriteField(hpack.HeaderField{Name: f.Name, Value: f.Value}); err != nil {
			return nil, fmt.Errorf("hpack encode %s: %w", f.Name, err)
		}
	}
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	return out, nil
}

// readHeaderBlock accumulates a HEADERS frame plus any following
// CONTINUATION frames on the same stream into one HPACK block, returning
// once END_HEADERS is seen, along with whether END_STREAM was set on the
// initial HEADERS frame.
func readHeaderBlock(fr *http2.Framer, first *http2.HeadersFrame) ([]byte, bool, error) {
	var block bytes.Buffer
	block.Write(first.HeaderBlockFragment())
	endStream := first.StreamEnded()

	for !first.HeadersEnded() {
		f, err := fr.ReadFrame()
		if err != nil {
			return nil, false, err
		}
		cf, ok := f.(*http2.ContinuationFrame)
		if !ok || cf.StreamID != first.StreamID {
			return nil, false, perr.New(perr.H2ProtocolError, "header block",
				fmt.Errorf("expected CONTINUATION on stream %d, got %T", first.StreamID, f))
		}
		block.Write(cf.HeaderBlockFragment())
		if cf.HeadersEnded() {
			break
		}
	}
	return block.Bytes(), endStream, nil
}

// writeHeaderBlock writes an HPACK block as a HEADERS frame followed by as
// many CONTINUATION frames as needed to stay within maxFrameSize.
func writeHeaderBlock(fr *http2.Framer, streamID uint32, block []byte, endStream bool) error {
	first := block
	rest := []byte(nil)
	if len(first) > maxFrameSize {
		first, rest = block[:maxFrameSize], block[maxFrameSize:]
	}

	if err := fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    len(rest) == 0,
	}); err != nil {
		return err
	}

	for len(rest) > 0 {
		chunk := rest
		last := true
		if len(chunk) > maxFrameSize {
			chunk, rest = rest[:maxFrameSize], rest[maxFrameSize:]
			last = false
		} else {
			rest = nil
		}
		if err := fr.WriteContinuation(streamID, last, chunk); err != nil {
			return err
		}
	}
	return nil
}
