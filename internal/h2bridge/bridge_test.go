package h2bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proxide/proxide/internal/decoder"
)

func TestStreamTableAssignsOddUpstreamIDs(t *testing.T) {
	table := newStreamTable()

	p1 := table.open(1)
	p2 := table.open(3)

	require.Equal(t, uint32(1), p1.upstreamID)
	require.Equal(t, uint32(3), p2.upstreamID)

	got, ok := table.byDownstream(1)
	require.True(t, ok)
	require.Same(t, p1, got)

	got, ok = table.byUpstream(3)
	require.True(t, ok)
	require.Same(t, p2, got)
}

func TestStreamTableCloseIfTerminalRemovesOnlyWhenBothSidesEnd(t *testing.T) {
	table := newStreamTable()
	p := table.open(1)

	p.advance("END_STREAM", true)
	table.closeIfTerminal(p)
	_, ok := table.byDownstream(1)
	require.True(t, ok, "pairing must survive until both directions end")

	p.advance("END_STREAM", false)
	require.Equal(t, StreamClosed, p.state)
	table.closeIfTerminal(p)
	_, ok = table.byDownstream(1)
	require.False(t, ok)
	_, ok = table.byUpstream(p.upstreamID)
	require.False(t, ok)
}

func TestPairAdvanceRSTStreamIsTerminalFromEitherSide(t *testing.T) {
	p := &pair{state: StreamOpen}
	p.advance("RST_STREAM", true)
	require.Equal(t, StreamReset, p.state)
	require.True(t, p.terminal())
}

func TestPairAdvanceHalfCloseBothDirectionsThenClosed(t *testing.T) {
	p := &pair{state: StreamOpen}
	p.advance("END_STREAM", false) // response ends first (unusual but legal)
	require.Equal(t, StreamHalfClosedRemote, p.state)
	require.False(t, p.terminal())

	p.advance("END_STREAM", true)
	require.Equal(t, StreamClosed, p.state)
	require.True(t, p.terminal())
}

func TestStreamTableAllSnapshotsOpenPairings(t *testing.T) {
	table := newStreamTable()
	table.open(1)
	table.open(3)
	require.Len(t, table.all(), 2)
}

func TestStreamTableHighWaterTracksLastStreamIDs(t *testing.T) {
	table := newStreamTable()
	p1 := table.open(1)
	table.open(5)

	down, up := table.highWater()
	require.Equal(t, uint32(5), down)
	require.Equal(t, p1.upstreamID, uint32(1))

	table.open(7)
	down, up = table.highWater()
	require.Equal(t, uint32(7), down)
	require.Equal(t, uint32(5), up)
}

func TestStreamTableOpenCountReflectsTerminalRemovals(t *testing.T) {
	table := newStreamTable()
	p := table.open(1)
	table.open(3)
	require.Equal(t, 2, table.openCount())

	p.advance("RST_STREAM", true)
	table.closeIfTerminal(p)
	require.Equal(t, 1, table.openCount())
}

func TestFlowWindowConsumeBlocksUntilAdd(t *testing.T) {
	w := newFlowWindow(0)

	done := make(chan bool, 1)
	go func() { done <- w.Consume(10) }()

	select {
	case <-done:
		t.Fatal("Consume returned before window had capacity")
	case <-time.After(20 * time.Millisecond):
	}

	w.Add(10)
	require.True(t, <-done)
}

func TestFlowWindowCloseUnblocksWaiters(t *testing.T) {
	w := newFlowWindow(0)

	var wg sync.WaitGroup
	results := make(chan bool, 3)
	wg.Add(3)
	for i := 0; i < 3; i++ {
		go func() {
			defer wg.Done()
			results <- w.Consume(1)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	w.Close()
	wg.Wait()
	close(results)

	for ok := range results {
		require.False(t, ok)
	}
}

func TestRewriteAuthorityReplacesOnlyPseudoHeader(t *testing.T) {
	in := []decoder.HeaderPair{
		{Name: ":method", Value: "POST"},
		{Name: ":authority", Value: "client-seen.example"},
		{Name: "x-authority-like", Value: "untouched"},
	}

	out := rewriteAuthority(in, "upstream.internal:443")
	require.Equal(t, "upstream.internal:443", out[1].Value)
	require.Equal(t, "untouched", out[2].Value)
	require.Equal(t, "client-seen.example", in[1].Value, "input slice must not be mutated")
}

func TestRewriteAuthorityNoopWhenEmpty(t *testing.T) {
	in := []decoder.HeaderPair{{Name: ":authority", Value: "a.example"}}
	out := rewriteAuthority(in, "")
	require.Equal(t, in, out)
}

func TestHPACKCodecRoundTrip(t *testing.T) {
	enc := newHPACKCodec()
	fields := []decoder.HeaderPair{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/svc.Method"},
		{Name: "content-type", Value: "application/grpc"},
	}
	block, err := enc.encode(fields)
	require.NoError(t, err)

	dec := newHPACKCodec()
	got, err := dec.decode(block)
	require.NoError(t, err)
	require.Equal(t, fields, got)
}
