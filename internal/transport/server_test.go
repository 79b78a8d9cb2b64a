package transport

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xpdustry/claj/internal/relay"
	"github.com/xpdustry/claj/internal/wire"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	r := relay.New(relay.DefaultConfig(), zap.NewNop(), zap.AtomicLevel{})
	s := New(r, zap.NewNop())
	go s.Run()
	t.Cleanup(s.Stop)
	return s
}

// TestTCPConnectAndDisconnect exercises the network-loop contract end to
// end over a real socket: accepting a client registers one relay connection,
// and the client closing its side reaches relay.Disconnect so the registry
// empties back out.
func TestTCPConnectAndDisconnect(t *testing.T) {
	s := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.ServeTCP(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(s.relay.Connections()) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(s.relay.Connections()) == 0
	}, time.Second, 5*time.Millisecond)
}

// TestTCPLengthPrefixedFrame confirms a client-sent frame reaches the relay
// intact: a truncated obsolete-text style frame gets the client kicked, which
// is only observable (without reaching into relay internals) as the server
// closing the socket back.
func TestTCPLengthPrefixedFrame(t *testing.T) {
	s := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.ServeTCP(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return len(s.relay.Connections()) == 1
	}, time.Second, 5*time.Millisecond)

	payload := []byte("plain text command, not a framed packet")
	header := make([]byte, tcpHeaderSize)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	_, err = conn.Write(append(header, payload...))
	require.NoError(t, err)

	one := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(one)
	require.Error(t, err, "server should have closed the socket on the obsolete-text kick")
}

// TestUDPIdleReap is this package's own addition to the spec's idle sweep:
// a UDP peer that stops sending is eventually disconnected and forgotten,
// since nothing else ever tells the server it left.
func TestUDPIdleReap(t *testing.T) {
	s := newTestServer(t)
	s.SetUDPDisconnectThreshold(10 * time.Millisecond)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	s.ServeUDP(pc)

	client, err := net.Dial("udp", pc.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	// A well-formed RawPayload frame: the relay buffers it in the early queue
	// and keeps the connection, where a malformed frame would get it kicked.
	_, err = client.Write([]byte{byte(wire.KindRawPayload), 0x01, 0x02, 0x03, 0x04})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(s.relay.Connections()) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	s.reapIdleUDPPeers()

	require.Eventually(t, func() bool {
		return len(s.relay.Connections()) == 0
	}, time.Second, 5*time.Millisecond)

	s.udpMu.Lock()
	defer s.udpMu.Unlock()
	require.Empty(t, s.udpPeers)
}
