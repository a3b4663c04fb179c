package emit

import (
	uuid "github.com/satori/go.uuid"

	"github.com/proxide/proxide/internal/session"
)

// LiveView is the pull/push snapshot feed an interactive terminal UI
// consumes: Snapshot serves list views, Detail serves a single entity's
// view, and Subscribe delivers incremental updates so the UI doesn't have
// to re-poll Snapshot on every Change.
type LiveView struct {
	store *session.Store
}

// NewLiveView wraps store for UI consumption.
func NewLiveView(store *session.Store) *LiveView {
	return &LiveView{store: store}
}

// Snapshot returns the current list-view data: every connection, request,
// and response recorded so far, ordered per session.Store.Snapshot.
func (v *LiveView) Snapshot() (conns []session.Connection, reqs []session.Request, resps []session.Response) {
	return v.store.Snapshot()
}

// Subscribe delivers every subsequent Change, for a UI to apply
// incrementally on top of a Snapshot it already pulled.
func (v *LiveView) Subscribe() (ch <-chan session.Change, lagged <-chan struct{}, cancel func()) {
	return v.store.Subscribe()
}

// RequestDetail returns one Request by ID for a detail view, and whether
// it was found.
func (v *LiveView) RequestDetail(id uuid.UUID) (session.Request, bool) {
	_, reqs, _ := v.store.Snapshot()
	for _, r := range reqs {
		if r.ID == id {
			return r, true
		}
	}
	return session.Request{}, false
}

// ResponseDetail returns one Response by ID for a detail view, and whether
// it was found.
func (v *LiveView) ResponseDetail(id uuid.UUID) (session.Response, bool) {
	_, _, resps := v.store.Snapshot()
	for _, r := range resps {
		if r.ID == id {
			return r, true
		}
	}
	return session.Response{}, false
}

// ResponseByRequest finds the Response paired with a given Request, for a
// detail view that shows both sides of an exchange together.
func (v *LiveView) ResponseByRequest(requestID uuid.UUID) (session.Response, bool) {
	_, _, resps := v.store.Snapshot()
	for _, r := range resps {
		if r.RequestID == requestID {
			return r, true
		}
	}
	return session.Response{}, false
}
