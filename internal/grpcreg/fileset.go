package grpcreg

import (
	"fmt"
	"os"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/proxide/proxide/internal/perr"
)

// RegisterFileDescriptorSet registers every service declared across a
// compiled FileDescriptorSet (the `protoc -o out.fds --include_imports`
// or `buf build -o out.fds` output), in dependency order so each file's
// imports are already resolvable when protodesc builds it. This is the
// intended handoff shape from a `.proto`-compiling frontend: Proxide
// never parses `.proto` source itself.
func (r *Registry) RegisterFileDescriptorSet(fds *descriptorpb.FileDescriptorSet) error {
	files, err := protodesc.NewFiles(fds)
	if err != nil {
		return perr.New(perr.DecodeError, "build file registry", err)
	}

	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		r.RegisterFileDescriptor(fd)
		return true
	})
	return nil
}

// LoadFileDescriptorSet reads and parses a serialized FileDescriptorSet
// from path, for "proxide monitor --grpc FILE" / "proxide view --grpc
// FILE".
func LoadFileDescriptorSet(path string) (*descriptorpb.FileDescriptorSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perr.New(perr.IoError, fmt.Sprintf("read %s", path), err)
	}
	var fds descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &fds); err != nil {
		return nil, perr.New(perr.DecodeError, fmt.Sprintf("parse %s", path), err)
	}
	return &fds, nil
}

// RegisterGlobalFiles registers every file already known to protobuf's
// global file registry -- useful when Proxide is built with generated
// code for the services being proxied, rather than relying solely on a
// runtime-supplied FileDescriptorSet.
func (r *Registry) RegisterGlobalFiles() {
	protoregistry.GlobalFiles.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		r.RegisterFileDescriptor(fd)
		return true
	})
}
