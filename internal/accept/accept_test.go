package accept

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proxide/proxide/internal/session"
)

func pipePair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	c, s := net.Pipe()
	return c, s
}

func TestClassifyTargetParsesCONNECT(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"))
	}()

	pc := newPeekConn(server)
	done := make(chan struct{})
	var host, port string
	var mode session.Mode
	var err error
	go func() {
		host, port, mode, err = classifyTarget(pc, "")
		close(done)
	}()

	buf := bufio.NewReader(client)
	lineCh := make(chan string, 1)
	go func() {
		line, _ := buf.ReadString('\n')
		lineCh <- line
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("classifyTarget did not return")
	}
	require.NoError(t, err)
	require.Equal(t, "example.com", host)
	require.Equal(t, "443", port)
	require.Equal(t, session.ModeConnect, mode)

	select {
	case line := <-lineCh:
		require.Equal(t, "HTTP/1.1 200 Connection Established\r\n", line)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive CONNECT response")
	}
}

func TestClassifyTargetUsesDirectTargetWhenNoCONNECT(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	go func() { _, _ = client.Write([]byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")) }()

	pc := newPeekConn(server)
	host, port, mode, err := classifyTarget(pc, "upstream.internal:8443")
	require.NoError(t, err)
	require.Equal(t, "upstream.internal", host)
	require.Equal(t, "8443", port)
	require.Equal(t, session.ModeDirect, mode)
}

func TestClassifyTargetRejectsNonConnectWithoutDirectTarget(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	go func() { _, _ = client.Write([]byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")) }()

	pc := newPeekConn(server)
	_, _, _, err := classifyTarget(pc, "")
	require.Error(t, err)
}

func TestProtocolStack(t *testing.T) {
	require.Equal(t, []string{"TCP", "TLS", "H2"}, protocolStack(true))
	require.Equal(t, []string{"TCP", "H2"}, protocolStack(false))
}
