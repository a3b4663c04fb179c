package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/proxide/proxide/internal/session"
)

// JSONLineWriter writes one JSON object per Change event, newline-
// delimited, for piping into jq or another line-oriented consumer.
type JSONLineWriter struct {
	enc *json.Encoder
}

// NewJSONLineWriter wraps w (typically stdout).
func NewJSONLineWriter(w io.Writer) *JSONLineWriter {
	return &JSONLineWriter{enc: json.NewEncoder(w)}
}

// WriteChange writes one newline-terminated JSON record.
func (j *JSONLineWriter) WriteChange(change session.Change) error {
	if err := j.enc.Encode(change); err != nil {
		return fmt.Errorf("emit: encode change: %w", err)
	}
	return nil
}

// Run subscribes to store and writes every Change as a JSON line until
// ctx is cancelled or the subscription ends.
func (j *JSONLineWriter) Run(ctx context.Context, store *session.Store) error {
	ch, lagged, cancel := store.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-ch:
			if !ok {
				return nil
			}
			if err := j.WriteChange(change); err != nil {
				return err
			}
		case <-lagged:
			return session.ErrLagged
		}
	}
}
