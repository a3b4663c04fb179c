package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	uuid "github.com/satori/go.uuid"

	"github.com/proxide/proxide/internal/session"
)

func TestInsertConnectionBroadcastsChange(t *testing.T) {
	store := session.New()
	ch, _, cancel := store.Subscribe()
	defer cancel()

	conn := session.Connection{
		ID:         uuid.NewV4(),
		ClientAddr: "127.0.0.1:1234",
		ServerAddr: "127.0.0.1:8888",
		Mode:       session.ModeDirect,
		OpenedAt:   time.Now(),
		Status:     session.ConnOpen,
	}
	store.InsertConnection(conn)

	change := <-ch
	require.Equal(t, session.ConnectionOpened, change.Kind)
	require.NotNil(t, change.Connection)
	require.Equal(t, conn.ID, change.Connection.ID)
}

func TestAppendMessageRequiresContiguousSequence(t *testing.T) {
	store := session.New()
	parent := uuid.NewV4()

	_, err := store.AppendMessage(session.Message{ID: uuid.NewV4(), ParentID: parent, Sequence: 1})
	require.Error(t, err, "sequence must start at 0")

	_, err = store.AppendMessage(session.Message{ID: uuid.NewV4(), ParentID: parent, Sequence: 0})
	require.NoError(t, err)

	_, err = store.AppendMessage(session.Message{ID: uuid.NewV4(), ParentID: parent, Sequence: 2})
	require.Error(t, err, "sequence must be contiguous")

	_, err = store.AppendMessage(session.Message{ID: uuid.NewV4(), ParentID: parent, Sequence: 1})
	require.NoError(t, err)
}

func TestFinalizeRequestRequiresExisting(t *testing.T) {
	store := session.New()
	_, err := store.FinalizeRequest(uuid.NewV4(), session.StatusCompleted, nil)
	require.Error(t, err)
}

func TestRequestResponseLifecycle(t *testing.T) {
	store := session.New()
	connID := uuid.NewV4()
	store.InsertConnection(session.Connection{ID: connID, OpenedAt: time.Now(), Status: session.ConnOpen})

	reqID := uuid.NewV4()
	_, err := store.InsertRequest(session.Request{
		ID:           reqID,
		ConnectionID: connID,
		H2StreamID:   1,
		Method:       "POST",
		Path:         "/pkg.Service/Method",
		StartedAt:    time.Now(),
		Status:       session.StatusInProgress,
	})
	require.NoError(t, err)

	// duplicate stream ID on the same connection is rejected
	_, err = store.InsertRequest(session.Request{ID: uuid.NewV4(), ConnectionID: connID, H2StreamID: 1})
	require.Error(t, err)

	respID := uuid.NewV4()
	_, err = store.InsertResponse(session.Response{
		ID:        respID,
		RequestID: reqID,
		StartedAt: time.Now(),
		Status:    session.StatusInProgress,
	})
	require.NoError(t, err)

	_, err = store.FinalizeRequest(reqID, session.StatusCompleted, nil)
	require.NoError(t, err)

	_, err = store.FinalizeResponse(respID, session.StatusCompleted, nil, nil, nil)
	require.NoError(t, err)

	_, reqs, resps := store.Snapshot()
	require.Len(t, reqs, 1)
	require.Len(t, resps, 1)
	require.Equal(t, session.StatusCompleted, reqs[0].Status)
	require.Equal(t, session.StatusCompleted, resps[0].Status)
}

func TestSlowSubscriberIsDroppedWithLagged(t *testing.T) {
	store := session.New()
	_, lagged, cancel := store.Subscribe()
	defer cancel()

	// Overflow the subscriber's bounded buffer without ever reading it.
	for i := 0; i < 1000; i++ {
		store.InsertConnection(session.Connection{ID: uuid.NewV4(), OpenedAt: time.Now(), Status: session.ConnOpen})
	}

	select {
	case <-lagged:
	case <-time.After(time.Second):
		t.Fatal("expected lagged subscriber to be dropped")
	}
}
