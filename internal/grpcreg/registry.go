// Package grpcreg defines the type-registry contract the Decoder and the
// external gRPC/Protobuf schema UI component agree on: a mapping from an
// RPC path (":path" header, "/package.Service/Method") to the compiled
// protoreflect.MessageType for that method's request and response
// messages. Proxide does not parse .proto source itself -- a frontend
// outside this module compiles schemas and calls Register with the
// resulting descriptors; Proxide only owns this lookup contract and the
// best-effort dynamic decode built on top of it.
package grpcreg

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/proxide/proxide/internal/perr"
)

// Method is one RPC's request/response message types.
type Method struct {
	Request  protoreflect.MessageType
	Response protoreflect.MessageType
}

// Registry maps RPC paths to their Method, safe for concurrent use since
// registration (from a schema-loading goroutine) and lookup (from the
// H2 Bridge's relay goroutines) happen concurrently.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{methods: make(map[string]Method)}
}

// Register associates path (e.g. "/package.Service/Method") with its
// request and response message types, overwriting any existing entry.
func (r *Registry) Register(path string, m Method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[path] = m
}

// RegisterFileDescriptor walks every service/method declared in fd and
// registers each one, deriving the RPC path from the file's package name
// the way grpc-go constructs it on the wire. This is the handoff point
// for a frontend that has compiled a FileDescriptorProto into a
// protoreflect.FileDescriptor and wants every method in it registered in
// one call.
func (r *Registry) RegisterFileDescriptor(fd protoreflect.FileDescriptor) {
	services := fd.Services()
	for i := 0; i < services.Len(); i++ {
		svc := services.Get(i)
		methods := svc.Methods()
		for j := 0; j < methods.Len(); j++ {
			md := methods.Get(j)
			path := fmt.Sprintf("/%s/%s", svc.FullName(), md.Name())

			r.Register(path, Method{
				Request:  messageTypeOf(md.Input()),
				Response: messageTypeOf(md.Output()),
			})
		}
	}
}

// messageTypeOf returns a usable protoreflect.MessageType for md. If md's
// message type is already registered globally (the generated-code case),
// that concrete type is used so DecodeMessage produces the same JSON a
// generated client would; otherwise a dynamicpb type is built straight
// from the descriptor, which is what lets Proxide decode messages for
// which no generated Go code exists at all.
func messageTypeOf(md protoreflect.MessageDescriptor) protoreflect.MessageType {
	if mt, err := protoregistry.GlobalTypes.FindMessageByName(md.FullName()); err == nil {
		return mt
	}
	return dynamicpb.NewMessageType(md)
}

// Lookup returns the Method registered for path, if any.
func (r *Registry) Lookup(path string) (Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[path]
	return m, ok
}

// DecodeMessage unmarshals a single gRPC message's already-prefix-stripped
// payload into a protojson-rendered string using mt's reflection
// information, for a UI to render a typed value instead of raw bytes.
// Decoding is best-effort: callers should fall back to raw bytes on
// error rather than treat it as fatal.
func DecodeMessage(mt protoreflect.MessageType, payload []byte) (string, error) {
	msg := mt.New().Interface()
	if err := proto.Unmarshal(payload, msg); err != nil {
		return "", perr.New(perr.DecodeError, "unmarshal", err)
	}
	out, err := protojson.Marshal(msg)
	if err != nil {
		return "", perr.New(perr.DecodeError, "marshal json", err)
	}
	return string(out), nil
}
