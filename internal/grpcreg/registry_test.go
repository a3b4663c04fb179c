package grpcreg_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/proxide/proxide/internal/grpcreg"
	"github.com/proxide/proxide/internal/perr"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := grpcreg.New()

	_, ok := reg.Lookup("/pkg.Service/Method")
	require.False(t, ok)

	mt := (&timestamppb.Timestamp{}).ProtoReflect().Type()
	reg.Register("/pkg.Service/Method", grpcreg.Method{Request: mt, Response: mt})

	got, ok := reg.Lookup("/pkg.Service/Method")
	require.True(t, ok)
	require.Equal(t, mt, got.Request)
}

func TestRegisterFileDescriptorWithoutServicesRegistersNothing(t *testing.T) {
	// timestamppb's own file has no services, so this only exercises that
	// walking a service-less file is a harmless no-op.
	reg := grpcreg.New()
	fd := (&timestamppb.Timestamp{}).ProtoReflect().Descriptor().ParentFile()
	reg.RegisterFileDescriptor(fd)

	_, ok := reg.Lookup("/pkg.Service/Method")
	require.False(t, ok)
}

func TestDecodeMessageRendersProtoJSON(t *testing.T) {
	ts := timestamppb.New(time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC))
	payload, err := proto.Marshal(ts)
	require.NoError(t, err)

	mt := ts.ProtoReflect().Type()
	out, err := grpcreg.DecodeMessage(mt, payload)
	require.NoError(t, err)
	require.Contains(t, out, "202")
}

func TestDecodeMessageErrorsOnGarbagePayload(t *testing.T) {
	mt := (&timestamppb.Timestamp{}).ProtoReflect().Type()
	_, err := grpcreg.DecodeMessage(mt, []byte{0xff, 0xff, 0xff})
	require.Error(t, err)
	require.True(t, perr.Is(err, perr.DecodeError))
}
