// Package session implements the append-only Session Store: the ordered
// record of connections, requests, responses, and messages decoded from
// intercepted traffic, with a Change-event subscription feed for emitters.
package session

import (
	"time"

	uuid "github.com/satori/go.uuid"
)

// ConnStatus is the lifecycle state of a Connection.
type ConnStatus string

const (
	ConnOpen   ConnStatus = "Open"
	ConnClosed ConnStatus = "Closed"
	ConnFailed ConnStatus = "Failed"
)

// Mode records which interception topology produced a Connection.
type Mode string

const (
	ModeDirect  Mode = "Direct"
	ModeConnect Mode = "Connect"
)

// RequestStatus is the lifecycle state of a Request or Response.
type RequestStatus string

const (
	StatusInProgress RequestStatus = "InProgress"
	StatusCompleted  RequestStatus = "Completed"
	StatusFailed     RequestStatus = "Failed"
	StatusCancelled  RequestStatus = "Cancelled"
)

// ParentKind distinguishes which side of a flow a Message belongs to.
type ParentKind string

const (
	ParentRequest  ParentKind = "Request"
	ParentResponse ParentKind = "Response"
)

// HeaderField is a single ordered header, name lowercased by the decoder.
type HeaderField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Connection records one accepted client transport and its upstream leg.
type Connection struct {
	ID             uuid.UUID  `json:"id"`
	ClientAddr     string     `json:"client_addr"`
	ServerAddr     string     `json:"server_addr"`
	ProtocolStack  []string   `json:"protocol_stack"` // e.g. ["TCP", "TLS", "H2"]
	Mode           Mode       `json:"mode"`
	NegotiatedALPN string     `json:"negotiated_alpn,omitempty"`
	OpenedAt       time.Time  `json:"opened_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	Status         ConnStatus `json:"status"`
	FailureReason  string     `json:"failure_reason,omitempty"`
}

// Request records one logical HTTP/2 request on a stream.
type Request struct {
	ID           uuid.UUID     `json:"id"`
	ConnectionID uuid.UUID     `json:"connection_id"`
	H2StreamID   uint32        `json:"h2_stream_id"`
	Authority    string        `json:"authority"`
	OrigAuthority string       `json:"orig_authority,omitempty"` // pre-rewrite, direct mode only
	Path         string        `json:"path"`
	Method       string        `json:"method"`
	Headers      []HeaderField `json:"headers"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	Status       RequestStatus `json:"status"`
	Error        *string       `json:"error,omitempty"`
}

// Response records one logical HTTP/2 response paired with a Request.
type Response struct {
	ID         uuid.UUID     `json:"id"`
	RequestID  uuid.UUID     `json:"request_id"`
	Headers    []HeaderField `json:"headers"`
	Trailers   []HeaderField `json:"trailers,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
	Status     RequestStatus `json:"status"`
	Error      *string       `json:"error,omitempty"`
	GRPCStatus *int          `json:"grpc_status,omitempty"`
}

// Message is one decoded unit of body data (a gRPC frame, or a raw DATA
// frame for non-gRPC content), append-only and ordered per parent.
type Message struct {
	ID         uuid.UUID  `json:"id"`
	ParentID   uuid.UUID  `json:"parent_id"`
	ParentKind ParentKind `json:"parent_kind"`
	Sequence   uint64     `json:"sequence"`
	Bytes      []byte     `json:"bytes"`
	Timestamp  time.Time  `json:"timestamp"`
	EndStream  bool       `json:"end_stream"`
	Truncated  bool       `json:"truncated"`
}
