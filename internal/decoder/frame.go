package decoder

import "encoding/binary"

// grpcPrefixLen is the 1-byte compression flag + 4-byte big-endian length
// prefix in front of every gRPC message inside a DATA frame's byte stream.
const grpcPrefixLen = 5

// DecodedMessage is one unit of body data pulled out of the DATA frame
// stream for a single direction, ready to become a session.Message. Bytes
// is the raw wire representation of the frame -- for gRPC that includes
// the 5-byte prefix, so concatenating every Message's Bytes for a parent
// reproduces exactly the bytes the upstream observed on that direction,
// independent of content type.
type DecodedMessage struct {
	Bytes     []byte
	EndStream bool
	Truncated bool
}

// OnData feeds one DATA frame's payload for dir into the stream's
// reframing buffer. When the stream's content-type began with
// application/grpc, payload is treated as a sequence of length-prefixed
// gRPC frames and zero or more complete frames are emitted as separate
// DecodedMessages; a partial frame at end of stream is emitted once, with
// Truncated set, instead of being held forever. For non-gRPC content, the
// whole DATA frame becomes a single DecodedMessage (no reframing).
func (s *Stream) OnData(dir Direction, payload []byte, endStream bool) []DecodedMessage {
	st := s.state(dir)

	if !st.isGRPC {
		if len(payload) == 0 && !endStream {
			return nil
		}
		return []DecodedMessage{{Bytes: append([]byte(nil), payload...), EndStream: endStream}}
	}

	st.messageBuffer = append(st.messageBuffer, payload...)

	var out []DecodedMessage
	for {
		if len(st.messageBuffer) < grpcPrefixLen {
			break
		}
		frameLen := binary.BigEndian.Uint32(st.messageBuffer[1:grpcPrefixLen])
		total := grpcPrefixLen + int(frameLen)
		if len(st.messageBuffer) < total {
			break
		}
		out = append(out, DecodedMessage{
			Bytes: append([]byte(nil), st.messageBuffer[:total]...),
		})
		st.messageBuffer = st.messageBuffer[total:]
	}

	if endStream {
		if len(st.messageBuffer) > 0 {
			out = append(out, DecodedMessage{
				Bytes:     append([]byte(nil), st.messageBuffer...),
				Truncated: true,
			})
			st.messageBuffer = nil
		}
		if n := len(out); n > 0 {
			out[n-1].EndStream = true
		}
	}

	return out
}
