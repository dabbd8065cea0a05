package muduo

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEchoServer wires up a TCPServer on an ephemeral port that echoes
// back whatever it receives, on a freshly started base loop.
func startEchoServer(t *testing.T, numThreads int) (*TCPServer, *EventLoop) {
	t.Helper()
	loop := startTestLoop(t, BackendEpoll)

	server, err := NewTCPServer(loop, "127.0.0.1:0", ServerOptions{
		Name:       "echo-test",
		NumThreads: numThreads,
	})
	require.NoError(t, err)

	server.SetMessageCallback(func(conn *TCPConnection, buf *Buffer, now Timestamp) {
		conn.Send([]byte(buf.RetrieveAllString()))
	})

	require.NoError(t, server.Start())
	require.NotNil(t, server.Addr())

	t.Cleanup(func() { _ = server.Stop() })
	return server, loop
}

func TestTCPServer_EchoesBackData(t *testing.T) {
	server, _ := startEchoServer(t, 2)

	conn, err := net.DialTimeout("tcp", server.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ping\n", line)
}

func TestTCPServer_ConnectionCallbackFiresOnConnectAndDisconnect(t *testing.T) {
	server, _ := startEchoServer(t, 0)

	events := make(chan bool, 2)
	server.SetConnectionCallback(func(conn *TCPConnection) {
		events <- conn.Connected()
	})

	conn, err := net.DialTimeout("tcp", server.Addr().String(), 2*time.Second)
	require.NoError(t, err)

	select {
	case connected := <-events:
		assert.True(t, connected)
	case <-time.After(2 * time.Second):
		t.Fatal("connection callback never fired for connect")
	}

	conn.Close()

	select {
	case connected := <-events:
		assert.False(t, connected)
	case <-time.After(2 * time.Second):
		t.Fatal("connection callback never fired for disconnect")
	}
}

func TestTCPServer_MultipleConnectionsRoundRobinAcrossLoops(t *testing.T) {
	server, _ := startEchoServer(t, 3)

	var conns []net.Conn
	for i := 0; i < 6; i++ {
		c, err := net.DialTimeout("tcp", server.Addr().String(), 2*time.Second)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(server.Connections()) < 6 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Len(t, server.Connections(), 6)

	seen := make(map[*EventLoop]int)
	for _, c := range server.Connections() {
		seen[c.Loop()]++
	}
	assert.Len(t, seen, 3)
	for l, n := range seen {
		assert.Equal(t, 2, n, "connections on loop %p", l)
	}
}
