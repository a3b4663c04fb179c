package emit

import (
	"fmt"

	"github.com/proxide/proxide/internal/session"
)

// ApplyChange replays one previously captured Change against store,
// reconstructing the state it produced the first time it was recorded.
// This is how "proxide view FILE" turns a capture file back into a Store
// a LiveView can serve to the (external) terminal UI, without the Store
// needing any notion of "replay" distinct from "live" mutation.
func ApplyChange(store *session.Store, c session.Change) error {
	switch c.Kind {
	case session.ConnectionOpened:
		if c.Connection == nil {
			return fmt.Errorf("emit: %s change missing Connection", c.Kind)
		}
		store.InsertConnection(*c.Connection)

	case session.ConnectionClosed:
		if c.Connection == nil {
			return fmt.Errorf("emit: %s change missing Connection", c.Kind)
		}
		_, err := store.UpdateConnectionStatus(c.Connection.ID, c.Connection.Status, c.Connection.FailureReason)
		return err

	case session.RequestStarted:
		if c.Request == nil {
			return fmt.Errorf("emit: %s change missing Request", c.Kind)
		}
		_, err := store.InsertRequest(*c.Request)
		return err

	case session.RequestDone:
		if c.Request == nil {
			return fmt.Errorf("emit: %s change missing Request", c.Kind)
		}
		_, err := store.FinalizeRequest(c.Request.ID, c.Request.Status, c.Request.Error)
		return err

	case session.ResponseStarted:
		if c.Response == nil {
			return fmt.Errorf("emit: %s change missing Response", c.Kind)
		}
		_, err := store.InsertResponse(*c.Response)
		return err

	case session.ResponseDone:
		if c.Response == nil {
			return fmt.Errorf("emit: %s change missing Response", c.Kind)
		}
		r := c.Response
		_, err := store.FinalizeResponse(r.ID, r.Status, r.Trailers, r.GRPCStatus, r.Error)
		return err

	case session.MessageReceived, session.MessageDone:
		if c.Message == nil {
			return fmt.Errorf("emit: %s change missing Message", c.Kind)
		}
		_, err := store.AppendMessage(*c.Message)
		return err

	case session.ErrorEvent:
		// An Error change that carries a Connection is the Store's record
		// of that connection failing; one without is informational only.
		if c.Connection == nil {
			return nil
		}
		_, err := store.UpdateConnectionStatus(c.Connection.ID, c.Connection.Status, c.Connection.FailureReason)
		return err

	default:
		return fmt.Errorf("emit: unknown change kind %q", c.Kind)
	}
	return nil
}

// ReplayAll applies every Change from a capture file, in order, to a fresh
// Store and returns it.
func ReplayAll(changes []session.Change) (*session.Store, error) {
	store := session.New()
	for _, c := range changes {
		if err := ApplyChange(store, c); err != nil {
			return nil, err
		}
	}
	return store, nil
}
