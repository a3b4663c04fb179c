package emit_test

import (
	"testing"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/require"

	"github.com/proxide/proxide/internal/emit"
	"github.com/proxide/proxide/internal/session"
)

func TestReplayAllReconstructsStoreFromChanges(t *testing.T) {
	live := session.New()

	conn := session.Connection{
		ID:         uuid.NewV4(),
		ClientAddr: "127.0.0.1:1",
		ServerAddr: "example.com:443",
		Mode:       session.ModeConnect,
		OpenedAt:   time.Now(),
		Status:     session.ConnOpen,
	}
	live.InsertConnection(conn)

	req := session.Request{
		ID:           uuid.NewV4(),
		ConnectionID: conn.ID,
		H2StreamID:   1,
		Path:         "/svc.Method",
		Method:       "POST",
		StartedAt:    time.Now(),
		Status:       session.StatusInProgress,
	}
	live.InsertRequest(req)
	doneChange, err := live.FinalizeRequest(req.ID, session.StatusCompleted, nil)
	require.NoError(t, err)
	require.Equal(t, session.RequestDone, doneChange.Kind)

	// Subscribe only delivers changes from the point of subscription
	// onward, so build the change log directly from the same values a
	// real capture file would contain, to exercise ApplyChange end-to-end.
	var changes []session.Change
	changes = append(changes,
		session.Change{Kind: session.ConnectionOpened, Connection: &conn},
		session.Change{Kind: session.RequestStarted, Request: &req},
	)
	finalReq := req
	finalReq.Status = session.StatusCompleted
	changes = append(changes, session.Change{Kind: session.RequestDone, Request: &finalReq})

	replayed, err := emit.ReplayAll(changes)
	require.NoError(t, err)

	conns, reqs, _ := replayed.Snapshot()
	require.Len(t, conns, 1)
	require.Len(t, reqs, 1)
	require.Equal(t, session.StatusCompleted, reqs[0].Status)
}

func TestApplyChangeRejectsUnknownKind(t *testing.T) {
	store := session.New()
	err := emit.ApplyChange(store, session.Change{Kind: session.ChangeKind("bogus")})
	require.Error(t, err)
}
