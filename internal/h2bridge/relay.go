package h2bridge

import (
	"fmt"
	"time"

	uuid "github.com/satori/go.uuid"
	"golang.org/x/net/http2"

	"github.com/proxide/proxide/internal/decoder"
	"github.com/proxide/proxide/internal/perr"
	"github.com/proxide/proxide/internal/session"
)

// serveDownstream reads frames the client sends and forwards their effect
// upstream, pairing streams on first HEADERS and mirroring everything into
// the Session Store as the request side of each pair.
func (b *Bridge) serveDownstream() error {
	for {
		f, err := b.downFramer.ReadFrame()
		if err != nil {
			return err
		}
		switch fr := f.(type) {
		case *http2.SettingsFrame:
			if !fr.IsAck() {
				if err := b.downFramer.WriteSettingsAck(); err != nil {
					return err
				}
			}
		case *http2.PingFrame:
			if !fr.IsAck() {
				if err := b.downFramer.WritePing(true, fr.Data); err != nil {
					return err
				}
			}
		case *http2.WindowUpdateFrame:
			if fr.StreamID == 0 {
				b.downWindow.Add(int64(fr.Increment))
			}
		case *http2.HeadersFrame:
			if err := b.handleDownstreamHeaders(fr); err != nil {
				return err
			}
		case *http2.DataFrame:
			if err := b.handleDownstreamData(fr); err != nil {
				return err
			}
		case *http2.RSTStreamFrame:
			if err := b.handleDownstreamRST(fr); err != nil {
				return err
			}
		case *http2.GoAwayFrame:
			return nil
		case *http2.PriorityFrame:
			// Stream priority has no bearing on Proxide's observation or
			// forwarding; drop it.
		}
	}
}

// serveUpstream is serveDownstream's mirror image for frames arriving from
// the real server, mirroring them into the Session Store as the response
// side of each pair.
func (b *Bridge) serveUpstream() error {
	for {
		f, err := b.upFramer.ReadFrame()
		if err != nil {
			return err
		}
		switch fr := f.(type) {
		case *http2.SettingsFrame:
			if !fr.IsAck() {
				if err := b.upFramer.WriteSettingsAck(); err != nil {
					return err
				}
			}
		case *http2.PingFrame:
			if !fr.IsAck() {
				if err := b.upFramer.WritePing(true, fr.Data); err != nil {
					return err
				}
			}
		case *http2.WindowUpdateFrame:
			if fr.StreamID == 0 {
				b.upWindow.Add(int64(fr.Increment))
			}
		case *http2.HeadersFrame:
			if err := b.handleUpstreamHeaders(fr); err != nil {
				return err
			}
		case *http2.DataFrame:
			if err := b.handleUpstreamData(fr); err != nil {
				return err
			}
		case *http2.RSTStreamFrame:
			if err := b.handleUpstreamRST(fr); err != nil {
				return err
			}
		case *http2.GoAwayFrame:
			return nil
		case *http2.PriorityFrame:
		}
	}
}

func (b *Bridge) handleDownstreamHeaders(fr *http2.HeadersFrame) error {
	block, endStream, err := readHeaderBlock(b.downFramer, fr)
	if err != nil {
		return err
	}
	fields, err := b.downReadCodec.decode(block)
	if err != nil {
		return err
	}

	p, existed := b.table.byDownstream(fr.StreamID)
	if !existed {
		p = b.table.open(fr.StreamID)
		p.requestID = uuid.NewV4()
	}

	promoted, isTrailer := p.decoder.OnHeaders(decoder.DirRequest, fields)

	if !existed {
		req := session.Request{
			ID:           p.requestID,
			ConnectionID: b.cfg.Conn.ID,
			H2StreamID:   fr.StreamID,
			Authority:    promoted.Authority,
			Path:         promoted.Path,
			Method:       promoted.Method,
			Headers:      promoted.Headers,
			StartedAt:    time.Now(),
			Status:       session.StatusInProgress,
		}
		if b.cfg.RewriteAuthority != "" {
			req.OrigAuthority = promoted.Authority
			req.Authority = b.cfg.RewriteAuthority
		}
		if _, err := b.cfg.Store.InsertRequest(req); err != nil {
			b.logger.Error("insert request", "err", err)
		}
	}
	_ = isTrailer // request trailers carry no pseudo-headers worth promoting further

	outBlock, err := b.upWriteCodec.encode(rewriteAuthority(fields, b.cfg.RewriteAuthority))
	if err != nil {
		return err
	}
	if err := writeHeaderBlock(b.upFramer, p.upstreamID, outBlock, endStream); err != nil {
		return err
	}

	if endStream {
		p.advance("END_STREAM", true)
		b.table.closeIfTerminal(p)
	}
	return nil
}

func (b *Bridge) handleDownstreamData(fr *http2.DataFrame) error {
	p, ok := b.table.byDownstream(fr.StreamID)
	if !ok {
		return nil
	}
	payload := fr.Data()
	endStream := fr.StreamEnded()

	for _, m := range p.decoder.OnData(decoder.DirRequest, payload, endStream) {
		msg := session.Message{
			ID:         uuid.NewV4(),
			ParentID:   p.requestID,
			ParentKind: session.ParentRequest,
			Sequence:   p.nextReqSeq(),
			Bytes:      m.Bytes,
			Timestamp:  time.Now(),
			EndStream:  m.EndStream,
			Truncated:  m.Truncated,
		}
		if _, err := b.cfg.Store.AppendMessage(msg); err != nil {
			b.logger.Error("append request message", "err", err)
		}
	}

	if len(payload) > 0 && !b.upWindow.Consume(int64(len(payload))) {
		return perr.New(perr.H2ProtocolError, "flow control",
			fmt.Errorf("upstream window closed mid-stream"))
	}
	if err := b.upFramer.WriteData(p.upstreamID, endStream, payload); err != nil {
		return err
	}
	if len(payload) > 0 {
		_ = b.downFramer.WriteWindowUpdate(0, uint32(len(payload)))
		_ = b.downFramer.WriteWindowUpdate(fr.StreamID, uint32(len(payload)))
	}

	if endStream {
		p.advance("END_STREAM", true)
		if _, err := b.cfg.Store.FinalizeRequest(p.requestID, session.StatusCompleted, nil); err != nil {
			b.logger.Error("finalize request", "err", err)
		}
		b.table.closeIfTerminal(p)
	}
	return nil
}

func (b *Bridge) handleDownstreamRST(fr *http2.RSTStreamFrame) error {
	p, ok := b.table.byDownstream(fr.StreamID)
	if !ok {
		return nil
	}
	p.advance("RST_STREAM", true)
	if err := b.upFramer.WriteRSTStream(p.upstreamID, fr.ErrCode); err != nil {
		return err
	}
	errMsg := fmt.Sprintf("client reset stream: %s", fr.ErrCode)
	if _, err := b.cfg.Store.FinalizeRequest(p.requestID, session.StatusCancelled, &errMsg); err != nil {
		b.logger.Error("finalize request on reset", "err", err)
	}
	b.table.closeIfTerminal(p)
	return nil
}

func (b *Bridge) handleUpstreamHeaders(fr *http2.HeadersFrame) error {
	block, endStream, err := readHeaderBlock(b.upFramer, fr)
	if err != nil {
		return err
	}
	fields, err := b.upReadCodec.decode(block)
	if err != nil {
		return err
	}

	p, ok := b.table.byUpstream(fr.StreamID)
	if !ok {
		return nil
	}

	promoted, isTrailer := p.decoder.OnHeaders(decoder.DirResponse, fields)

	if !isTrailer {
		p.responseID = uuid.NewV4()
		resp := session.Response{
			ID:        p.responseID,
			RequestID: p.requestID,
			Headers:   promoted.Headers,
			StartedAt: time.Now(),
			Status:    session.StatusInProgress,
		}
		if _, err := b.cfg.Store.InsertResponse(resp); err != nil {
			b.logger.Error("insert response", "err", err)
		}
	} else {
		grpcStatus, grpcMsg := decoder.GRPCStatus(promoted.Headers)
		status := session.StatusCompleted
		var errMsg *string
		if grpcStatus != nil && *grpcStatus != 0 {
			status = session.StatusFailed
			errMsg = &grpcMsg
		}
		if _, err := b.cfg.Store.FinalizeResponse(p.responseID, status, promoted.Headers, grpcStatus, errMsg); err != nil {
			b.logger.Error("finalize response", "err", err)
		}
	}

	outBlock, err := b.downWriteCodec.encode(fields)
	if err != nil {
		return err
	}
	if err := writeHeaderBlock(b.downFramer, p.downstreamID, outBlock, endStream); err != nil {
		return err
	}

	if endStream {
		p.advance("END_STREAM", false)
		if !isTrailer {
			// Trailers-only response: no DATA and no separate trailer
			// block will follow, so finalize now.
			if _, err := b.cfg.Store.FinalizeResponse(p.responseID, session.StatusCompleted, nil, nil, nil); err != nil {
				b.logger.Error("finalize trailers-only response", "err", err)
			}
		}
		b.table.closeIfTerminal(p)
	}
	return nil
}

func (b *Bridge) handleUpstreamData(fr *http2.DataFrame) error {
	p, ok := b.table.byUpstream(fr.StreamID)
	if !ok {
		return nil
	}
	payload := fr.Data()
	endStream := fr.StreamEnded()

	for _, m := range p.decoder.OnData(decoder.DirResponse, payload, endStream) {
		msg := session.Message{
			ID:         uuid.NewV4(),
			ParentID:   p.responseID,
			ParentKind: session.ParentResponse,
			Sequence:   p.nextResSeq(),
			Bytes:      m.Bytes,
			Timestamp:  time.Now(),
			EndStream:  m.EndStream,
			Truncated:  m.Truncated,
		}
		if _, err := b.cfg.Store.AppendMessage(msg); err != nil {
			b.logger.Error("append response message", "err", err)
		}
	}

	if len(payload) > 0 && !b.downWindow.Consume(int64(len(payload))) {
		return perr.New(perr.H2ProtocolError, "flow control",
			fmt.Errorf("downstream window closed mid-stream"))
	}
	if err := b.downFramer.WriteData(p.downstreamID, endStream, payload); err != nil {
		return err
	}
	if len(payload) > 0 {
		_ = b.upFramer.WriteWindowUpdate(0, uint32(len(payload)))
		_ = b.upFramer.WriteWindowUpdate(fr.StreamID, uint32(len(payload)))
	}

	if endStream {
		p.advance("END_STREAM", false)
		// DATA carrying END_STREAM means no trailer HEADERS will follow
		// on this stream, so this is the only place that can finalize it.
		if _, err := b.cfg.Store.FinalizeResponse(p.responseID, session.StatusCompleted, nil, nil, nil); err != nil {
			b.logger.Error("finalize response", "err", err)
		}
		b.table.closeIfTerminal(p)
	}
	return nil
}

func (b *Bridge) handleUpstreamRST(fr *http2.RSTStreamFrame) error {
	p, ok := b.table.byUpstream(fr.StreamID)
	if !ok {
		return nil
	}
	p.advance("RST_STREAM", false)
	if err := b.downFramer.WriteRSTStream(p.downstreamID, fr.ErrCode); err != nil {
		return err
	}
	errMsg := fmt.Sprintf("upstream reset stream: %s", fr.ErrCode)
	if _, err := b.cfg.Store.FinalizeResponse(p.responseID, session.StatusFailed, nil, nil, &errMsg); err != nil {
		b.logger.Error("finalize response on reset", "err", err)
	}
	b.table.closeIfTerminal(p)
	return nil
}

func rewriteAuthority(fields []decoder.HeaderPair, authority string) []decoder.HeaderPair {
	if authority == "" {
		return fields
	}
	out := make([]decoder.HeaderPair, len(fields))
	copy(out, fields)
	for i, f := range out {
		if f.Name == ":authority" {
			out[i].Value = authority
		}
	}
	return out
}
