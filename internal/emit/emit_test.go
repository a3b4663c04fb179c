package emit_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	uuid "github.com/satori/go.uuid"

	"github.com/proxide/proxide/internal/emit"
	"github.com/proxide/proxide/internal/session"
)

func sampleChange() session.Change {
	return session.Change{
		Seq:       1,
		Kind:      session.ConnectionOpened,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Connection: &session.Connection{
			ID:         uuid.NewV4(),
			ClientAddr: "127.0.0.1:1234",
			ServerAddr: "example.com:443",
			Mode:       session.ModeConnect,
			OpenedAt:   time.Now().UTC().Truncate(time.Second),
			Status:     session.ConnOpen,
		},
	}
}

func TestCaptureWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := emit.NewCaptureWriter(&buf)
	require.NoError(t, err)

	c1 := sampleChange()
	c2 := sampleChange()
	c2.Seq = 2
	c2.Kind = session.ConnectionClosed

	require.NoError(t, w.WriteChange(c1))
	require.NoError(t, w.WriteChange(c2))
	require.NoError(t, w.Close())

	got, err := emit.ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, c1.Seq, got[0].Seq)
	require.Equal(t, c1.Kind, got[0].Kind)
	require.Equal(t, c1.Connection.ID, got[0].Connection.ID)
	require.Equal(t, c2.Kind, got[1].Kind)
}

func TestCaptureReaderRejectsBadMagic(t *testing.T) {
	_, err := emit.NewCaptureReader(bytes.NewReader([]byte("not-a-capture-file-at-all")))
	require.Error(t, err)
}

func TestJSONLineWriterEncodesOneLinePerChange(t *testing.T) {
	var buf bytes.Buffer
	w := emit.NewJSONLineWriter(&buf)

	require.NoError(t, w.WriteChange(sampleChange()))
	require.NoError(t, w.WriteChange(sampleChange()))

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	require.Len(t, lines, 2)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &decoded))
	require.Equal(t, "ConnectionOpened", decoded["kind"])
}

func TestLiveViewSnapshotAndDetail(t *testing.T) {
	store := session.New()
	conn := session.Connection{
		ID:         uuid.NewV4(),
		ClientAddr: "127.0.0.1:1",
		ServerAddr: "example.com:443",
		Mode:       session.ModeDirect,
		OpenedAt:   time.Now(),
		Status:     session.ConnOpen,
	}
	store.InsertConnection(conn)

	req := session.Request{
		ID:           uuid.NewV4(),
		ConnectionID: conn.ID,
		H2StreamID:   1,
		Method:       "POST",
		Path:         "/svc.Method",
		StartedAt:    time.Now(),
		Status:       session.StatusInProgress,
	}
	_, err := store.InsertRequest(req)
	require.NoError(t, err)

	view := emit.NewLiveView(store)
	conns, reqs, _ := view.Snapshot()
	require.Len(t, conns, 1)
	require.Len(t, reqs, 1)

	got, ok := view.RequestDetail(req.ID)
	require.True(t, ok)
	require.Equal(t, req.Method, got.Method)

	_, ok = view.RequestDetail(uuid.NewV4())
	require.False(t, ok)
}
