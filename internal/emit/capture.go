// Package emit implements Proxide's three event emitters: a
// self-delimiting binary capture format, a newline-delimited JSON stream,
// and a pull/push snapshot feed for a live UI. All three are driven off the
// same session.Store.Subscribe feed, so adding an emitter never changes
// what the Session Store records.
package emit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/proxide/proxide/internal/session"
)

// captureMagic identifies a Proxide binary capture file; captureVersion
// lets a reader refuse a capture written by an incompatible future schema.
var captureMagic = [8]byte{'P', 'R', 'O', 'X', 'I', 'D', 'E', 0}

const captureVersion uint32 = 1

// CaptureWriter appends each Change event as a length-prefixed,
// independently gob-encoded record to a buffered binary stream: a framed,
// self-delimiting stream with a header describing the schema version. A
// zero-length record terminates the stream on Close. Each record carries
// its own gob type descriptor (rather than sharing one gob.Encoder's
// stream-wide state) so a reader can seek to and decode any single record
// without replaying the whole file.
type CaptureWriter struct {
	w      *bufio.Writer
	closed bool
}

// NewCaptureWriter writes the capture header and returns a writer ready
// to accept Change events.
func NewCaptureWriter(w io.Writer) (*CaptureWriter, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(captureMagic[:]); err != nil {
		return nil, fmt.Errorf("emit: write capture magic: %w", err)
	}
	if err := binary.Write(bw, binary.BigEndian, captureVersion); err != nil {
		return nil, fmt.Errorf("emit: write capture version: %w", err)
	}
	return &CaptureWriter{w: bw}, nil
}

// WriteChange appends one record and flushes it, so a reader tailing a
// still-open capture file sees events promptly.
func (c *CaptureWriter) WriteChange(change session.Change) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(change); err != nil {
		return fmt.Errorf("emit: encode change: %w", err)
	}
	payload := buf.Bytes()
	if err := binary.Write(c.w, binary.BigEndian, uint32(len(payload))); err != nil {
		return fmt.Errorf("emit: write record length: %w", err)
	}
	if _, err := c.w.Write(payload); err != nil {
		return fmt.Errorf("emit: write record: %w", err)
	}
	return c.w.Flush()
}

// Close appends the terminator record (length 0) and flushes the stream.
// Safe to call once; the CaptureWriter must not be used afterward.
func (c *CaptureWriter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := binary.Write(c.w, binary.BigEndian, uint32(0)); err != nil {
		return fmt.Errorf("emit: write terminator: %w", err)
	}
	return c.w.Flush()
}

// Run subscribes to store and writes every Change to the capture stream
// until ctx is cancelled, the store drops this subscriber for lagging, or
// a write fails. It returns the reason the loop stopped; ctx cancellation
// is reported as nil since it's the normal shutdown path.
func (c *CaptureWriter) Run(ctx context.Context, store *session.Store) error {
	ch, lagged, cancel := store.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-ch:
			if !ok {
				select {
				case <-lagged:
					return session.ErrLagged
				default:
					return nil
				}
			}
			if err := c.WriteChange(change); err != nil {
				return err
			}
		case <-lagged:
			return session.ErrLagged
		}
	}
}

// CaptureReader reads back a binary capture file one Change at a time.
type CaptureReader struct {
	r io.Reader
}

// NewCaptureReader validates the capture header and returns a reader
// positioned at the first record.
func NewCaptureReader(r io.Reader) (*CaptureReader, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("emit: read capture magic: %w", err)
	}
	if magic != captureMagic {
		return nil, fmt.Errorf("emit: not a Proxide capture file")
	}
	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("emit: read capture version: %w", err)
	}
	if version != captureVersion {
		return nil, fmt.Errorf("emit: unsupported capture version %d", version)
	}
	return &CaptureReader{r: r}, nil
}

// Next returns the next Change event, or io.EOF once the terminator record
// (or end of file) is reached.
func (c *CaptureReader) Next() (session.Change, error) {
	var length uint32
	if err := binary.Read(c.r, binary.BigEndian, &length); err != nil {
		if err == io.EOF {
			return session.Change{}, io.EOF
		}
		return session.Change{}, fmt.Errorf("emit: read record length: %w", err)
	}
	if length == 0 {
		return session.Change{}, io.EOF
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return session.Change{}, fmt.Errorf("emit: read record: %w", err)
	}
	var change session.Change
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&change); err != nil {
		return session.Change{}, fmt.Errorf("emit: decode record: %w", err)
	}
	return change, nil
}

// ReadAll drains a capture stream into memory, for tooling and tests that
// don't need to stream it.
func ReadAll(r io.Reader) ([]session.Change, error) {
	cr, err := NewCaptureReader(r)
	if err != nil {
		return nil, err
	}
	var changes []session.Change
	for {
		c, err := cr.Next()
		if err == io.EOF {
			return changes, nil
		}
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
}
