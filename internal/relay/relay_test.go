package relay

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xpdustry/claj/internal/wire"
)

// fakeTransport captures every frame Send writes, so a test can decode it
// back with wire.DecodeFrame and assert on the typed packet the peer would
// have received.
type fakeTransport struct {
	addr net.Addr

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (f *fakeTransport) Send(_ bool, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}
func (f *fakeTransport) RemoteAddr() net.Addr { return f.addr }
func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) packets(t *testing.T) []wire.Packet {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Packet, 0, len(f.sent))
	for _, data := range f.sent {
		p, err := wire.DecodeFrame(wire.BinaryCodec{}, data)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var nextTestAddr int

func newFakeTransport() *fakeTransport {
	nextTestAddr++
	return &fakeTransport{addr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: nextTestAddr}}
}

func newTestRelay(t *testing.T, mutate func(*Config)) *Relay {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CloseWait = 0
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, zap.NewNop(), zap.AtomicLevel{})
}

func mustCreateRoom(t *testing.T, r *Relay, typ string) (uint64, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	host, ok := r.Connect(ft)
	require.True(t, ok)
	r.Dispatch(host, true, wire.RoomCreationRequest{Version: r.cfg.ServerMajor, Type: wire.NewRoomType(typ)})
	var id uint64
	for _, p := range ft.packets(t) {
		if link, ok := p.(wire.RoomLink); ok {
			id = link.RoomID
		}
	}
	require.NotZero(t, id, "expected a RoomLink reply")
	return id, ft
}

// TestForwardingRoundTrip checks that a client's opaque payload reaches the
// host wrapped with its connection id and reliability flag, and the host's
// reply wrap reaches the client unwrapped.
func TestForwardingRoundTrip(t *testing.T) {
	r := newTestRelay(t, nil)
	roomID, hostFT := mustCreateRoom(t, r, "T")

	clientFT := newFakeTransport()
	client, ok := r.Connect(clientFT)
	require.True(t, ok)
	r.Dispatch(client, true, wire.RoomJoin{RoomID: roomID, Type: wire.NewRoomType("T")})

	r.Dispatch(client, true, wire.RawPayload{Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}})

	var wrap wire.ConnectionPacketWrap
	found := false
	for _, p := range hostFT.packets(t) {
		if w, ok := p.(wire.ConnectionPacketWrap); ok {
			wrap = w
			found = true
		}
	}
	require.True(t, found, "host should have received a ConnectionPacketWrap")
	require.Equal(t, client.ID, wrap.ConID)
	require.True(t, wrap.IsTCP)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, wrap.Raw)

	rm, ok := r.lookupRoom(roomID)
	require.True(t, ok)
	host := rm.Host()
	require.NotNil(t, host)

	r.Dispatch(host, true, wire.ConnectionPacketWrap{ConID: client.ID, IsTCP: false, Raw: []byte{0xFE, 0xED}})

	// The unwrapped payload is handed to the client's transport as the bare
	// game bytes, with no control-packet frame around it.
	clientFT.mu.Lock()
	clientSent := append([][]byte(nil), clientFT.sent...)
	clientFT.mu.Unlock()
	require.Len(t, clientSent, 1, "client should have received the unwrapped payload")
	require.Equal(t, []byte{0xFE, 0xED}, clientSent[0])
}

// TestEarlyQueue checks that payloads sent before RoomJoin are buffered and
// flushed to the host in arrival order once the join commits.
func TestEarlyQueue(t *testing.T) {
	r := newTestRelay(t, nil)
	roomID, hostFT := mustCreateRoom(t, r, "T")

	clientFT := newFakeTransport()
	client, ok := r.Connect(clientFT)
	require.True(t, ok)

	r.Dispatch(client, true, wire.RawPayload{Data: []byte("A")})
	r.Dispatch(client, true, wire.RawPayload{Data: []byte("B")})
	r.Dispatch(client, true, wire.RawPayload{Data: []byte("C")})

	r.Dispatch(client, true, wire.RoomJoin{RoomID: roomID, Type: wire.NewRoomType("T")})

	var order []string
	for _, p := range hostFT.packets(t) {
		if w, ok := p.(wire.ConnectionPacketWrap); ok {
			order = append(order, string(w.Raw))
		}
	}
	require.Equal(t, []string{"A", "B", "C"}, order)
}

// TestPasswordGate checks the join password gate: missing password, wrong
// password, and a correct one against a protected room.
func TestPasswordGate(t *testing.T) {
	r := newTestRelay(t, nil)
	roomID, _ := mustCreateRoom(t, r, "T")
	rm, ok := r.lookupRoom(roomID)
	require.True(t, ok)
	rm.SetConfiguration(true, true, 0x1234, false)

	deny := func(withPassword bool, password uint16) wire.Packet {
		ft := newFakeTransport()
		c, ok := r.Connect(ft)
		require.True(t, ok)
		r.Dispatch(c, true, wire.RoomJoinRequest{RoomID: roomID, Type: wire.NewRoomType("T"), WithPassword: withPassword, Password: password})
		pkts := ft.packets(t)
		require.Len(t, pkts, 1)
		return pkts[0]
	}

	p := deny(false, 0)
	denied, ok := p.(wire.RoomJoinDenied)
	require.True(t, ok)
	require.Equal(t, wire.RejectPasswordRequired, denied.Reason)

	p = deny(true, 0x0000)
	denied, ok = p.(wire.RoomJoinDenied)
	require.True(t, ok)
	require.Equal(t, wire.RejectInvalidPassword, denied.Reason)

	p = deny(true, 0x1234)
	accepted, ok := p.(wire.RoomJoinAccepted)
	require.True(t, ok)
	require.Equal(t, roomID, accepted.RoomID)
}

// TestHostDeathCascades checks that disconnecting the host closes the room
// and every client with the same reason, and that the room and its clients
// are fully removed from the relay's indices in the same call — not left
// for each client's own transport teardown to eventually clean up.
func TestHostDeathCascades(t *testing.T) {
	r := newTestRelay(t, nil)
	roomID, _ := mustCreateRoom(t, r, "T")

	clientFT := newFakeTransport()
	client, ok := r.Connect(clientFT)
	require.True(t, ok)
	r.Dispatch(client, true, wire.RoomJoin{RoomID: roomID, Type: wire.NewRoomType("T")})

	rm, ok := r.lookupRoom(roomID)
	require.True(t, ok)
	host := rm.Host()
	require.NotNil(t, host)

	r.Disconnect(host, wire.CloseError)

	require.True(t, clientFT.isClosed())
	_, ok = r.lookupRoom(roomID)
	require.False(t, ok)

	r.mu.RLock()
	_, stillMapped := r.conToRoom[client.ID]
	_, stillRegistered := r.connections[client.ID]
	r.mu.RUnlock()
	require.False(t, stillMapped, "client must be dropped from conToRoom when its room closes")
	require.False(t, stillRegistered, "client must be dropped from the connection registry when its room closes")
}

// TestClientSwitchesRoom checks that a client already attached to a room is
// allowed to join a different one: it is unhooked from the first and
// attached to the second, rather than being told it is "hosting" (that
// denial is reserved for an actual host of another room).
func TestClientSwitchesRoom(t *testing.T) {
	r := newTestRelay(t, nil)
	roomA, hostAFT := mustCreateRoom(t, r, "T")
	roomB, hostBFT := mustCreateRoom(t, r, "T")

	clientFT := newFakeTransport()
	client, ok := r.Connect(clientFT)
	require.True(t, ok)
	r.Dispatch(client, true, wire.RoomJoin{RoomID: roomA, Type: wire.NewRoomType("T")})

	rmA, ok := r.lookupRoom(roomA)
	require.True(t, ok)
	_, isClientOfA := rmA.Client(client.ID)
	require.True(t, isClientOfA)

	r.Dispatch(client, true, wire.RoomJoin{RoomID: roomB, Type: wire.NewRoomType("T")})

	_, isStillClientOfA := rmA.Client(client.ID)
	require.False(t, isStillClientOfA, "switching rooms must unhook the old membership")

	rmB, ok := r.lookupRoom(roomB)
	require.True(t, ok)
	_, isClientOfB := rmB.Client(client.ID)
	require.True(t, isClientOfB, "switching rooms must attach the new membership")

	for _, p := range append(hostAFT.packets(t), hostBFT.packets(t)...) {
		if _, ok := p.(wire.Message); ok {
			t.Fatalf("host should not have seen an already-hosting message for a client room switch, got %#v", p)
		}
	}
}

// TestListCoalescing checks that two near-simultaneous RoomListRequests for a
// type with outdated, listable rooms trigger exactly one coalesced refresh,
// and both requesters get the same flushed list.
func TestListCoalescing(t *testing.T) {
	r := newTestRelay(t, func(cfg *Config) { cfg.ListTimeout = 50 * time.Millisecond })

	roomID, _ := mustCreateRoom(t, r, "T")
	rm, ok := r.lookupRoom(roomID)
	require.True(t, ok)
	rm.SetConfiguration(true, false, 0, true)

	c1FT := newFakeTransport()
	c1, ok := r.Connect(c1FT)
	require.True(t, ok)
	c2FT := newFakeTransport()
	c2, ok := r.Connect(c2FT)
	require.True(t, ok)

	r.Dispatch(c1, true, wire.RoomListRequest{Type: wire.NewRoomType("T")})
	r.Dispatch(c2, true, wire.RoomListRequest{Type: wire.NewRoomType("T")})

	// Neither requester has a list yet: the room is listable but has never
	// published state, so IsStateOutdated holds and a refresh is pending on
	// the host's reply (bounded by ListTimeout).
	require.Empty(t, c1FT.packets(t))
	require.Empty(t, c2FT.packets(t))

	require.Eventually(t, func() bool {
		return len(c1FT.packets(t)) == 1 && len(c2FT.packets(t)) == 1
	}, time.Second, 5*time.Millisecond)

	p1 := c1FT.packets(t)[0]
	p2 := c2FT.packets(t)[0]
	require.Equal(t, p1, p2)
	_, ok = p1.(wire.RoomList)
	require.True(t, ok)
}

// TestRateLimitedInfo checks that the 11th RoomInfoRequest within the window
// gets denied even though the room exists.
func TestRateLimitedInfo(t *testing.T) {
	r := newTestRelay(t, func(cfg *Config) {
		cfg.InfoLimit = 10
		cfg.InfoWindow = 3 * time.Second
	})
	roomID, _ := mustCreateRoom(t, r, "T")

	ft := newFakeTransport()
	c, ok := r.Connect(ft)
	require.True(t, ok)

	for i := 0; i < 11; i++ {
		r.Dispatch(c, true, wire.RoomInfoRequest{RoomID: roomID})
	}

	pkts := ft.packets(t)
	require.Len(t, pkts, 11)
	_, ok = pkts[10].(wire.RoomInfoDenied)
	require.True(t, ok, "11th request should be denied by the rate limiter")
}
