package room

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/wire"
)

type fakeTransport struct {
	addr net.Addr

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (f *fakeTransport) Send(reliable bool, data []byte) error {
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

func newConn(id uint64) (*netio.Connection, *fakeTransport) {
	ft := &fakeTransport{addr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(id)}}
	return netio.NewConnection(id, ft, 0, time.Second), ft
}

type fakeSender struct {
	mu  sync.Mutex
	log []sentPacket
}

type sentPacket struct {
	conn     uint64
	reliable bool
	pkt      wire.Packet
}

func (s *fakeSender) SendPacket(c *netio.Connection, reliable bool, p wire.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, sentPacket{conn: c.ID, reliable: reliable, pkt: p})
	return nil
}

func (s *fakeSender) packetsTo(id uint64) []wire.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.Packet
	for _, sp := range s.log {
		if sp.conn == id {
			out = append(out, sp.pkt)
		}
	}
	return out
}

type fakeEvents struct {
	mu              sync.Mutex
	closedReason    wire.CloseReason
	closedCount     int
	closedClientIDs []uint64
	configChanged   int
	stateChanged    int
}

func (e *fakeEvents) OnRoomClosed(r *Room, reason wire.CloseReason, clientIDs []uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closedReason = reason
	e.closedCount++
	e.closedClientIDs = clientIDs
}
func (e *fakeEvents) OnConfigChanged(r *Room) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configChanged++
}
func (e *fakeEvents) OnStateChanged(r *Room) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateChanged++
}

func testConfig() Config {
	return Config{MaxStateSize: 1024, StateTimeout: 50 * time.Millisecond, StateLifetime: time.Minute, SplitThreshold: 1400}
}

func TestRoomInvariantHostNeverClient(t *testing.T) {
	host, _ := newConn(1)
	sender := &fakeSender{}
	events := &fakeEvents{}
	r := New(7, wire.NewRoomType("mdt"), host, testConfig(), sender, events, zap.NewNop())

	client, _ := newConn(2)
	r.Connected(client)

	_, isClient := r.Client(host.ID)
	require.False(t, isClient)
	require.True(t, r.IsHost(host))
}

func TestForwardingRoundTrip(t *testing.T) {
	host, _ := newConn(1)
	sender := &fakeSender{}
	events := &fakeEvents{}
	r := New(7, wire.NewRoomType("T"), host, testConfig(), sender, events, zap.NewNop())

	client, clientTransport := newConn(2)
	r.Connected(client)

	require.NoError(t, r.ForwardFromClient(client, true, []byte{0xDE, 0xAD, 0xBE, 0xEF}))
	pkts := sender.packetsTo(host.ID)
	require.Len(t, pkts, 2) // ConnectionJoin + the wrap
	wrap, ok := pkts[1].(wire.ConnectionPacketWrap)
	require.True(t, ok)
	require.Equal(t, client.ID, wrap.ConID)
	require.True(t, wrap.IsTCP)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, wrap.Raw)

	require.NoError(t, r.ForwardFromHost(wire.ConnectionPacketWrap{ConID: client.ID, IsTCP: false, Raw: []byte{0xFE, 0xED}}))
	clientTransport.mu.Lock()
	defer clientTransport.mu.Unlock()
	require.Len(t, clientTransport.sent, 1)
	require.Equal(t, []byte{0xFE, 0xED}, clientTransport.sent[0])
}

func TestForwardFromHostUnknownConIDReportsClosed(t *testing.T) {
	host, _ := newConn(1)
	sender := &fakeSender{}
	events := &fakeEvents{}
	r := New(7, wire.NewRoomType("T"), host, testConfig(), sender, events, zap.NewNop())

	require.NoError(t, r.ForwardFromHost(wire.ConnectionPacketWrap{ConID: 999, Raw: []byte("x")}))
	pkts := sender.packetsTo(host.ID)
	require.Len(t, pkts, 1)
	closed, ok := pkts[0].(wire.ConnectionClosed)
	require.True(t, ok)
	require.Equal(t, uint64(999), closed.ConID)
	require.Equal(t, wire.CloseError, closed.Reason)
}

func TestHostDeathCascades(t *testing.T) {
	host, hostTransport := newConn(1)
	sender := &fakeSender{}
	events := &fakeEvents{}
	r := New(7, wire.NewRoomType("T"), host, testConfig(), sender, events, zap.NewNop())

	c1, t1 := newConn(2)
	c2, t2 := newConn(3)
	r.Connected(c1)
	r.Connected(c2)

	r.Disconnected(host, wire.CloseError, false)

	t1.mu.Lock()
	require.True(t, t1.closed)
	t1.mu.Unlock()
	t2.mu.Lock()
	require.True(t, t2.closed)
	t2.mu.Unlock()
	hostTransport.mu.Lock()
	require.True(t, hostTransport.closed)
	hostTransport.mu.Unlock()

	require.Equal(t, 1, events.closedCount)
	require.Equal(t, wire.CloseError, events.closedReason)
	require.Equal(t, 0, r.ClientCount())
	require.ElementsMatch(t, []uint64{c1.ID, c2.ID}, events.closedClientIDs)
}

func TestCloseIsIdempotent(t *testing.T) {
	host, _ := newConn(1)
	sender := &fakeSender{}
	events := &fakeEvents{}
	r := New(7, wire.NewRoomType("T"), host, testConfig(), sender, events, zap.NewNop())

	r.Close(wire.CloseClosed)
	r.Close(wire.CloseError) // second call must be a no-op
	require.Equal(t, 1, events.closedCount)
	require.Equal(t, wire.CloseClosed, events.closedReason)
}

func TestDisconnectedQuiet(t *testing.T) {
	host, _ := newConn(1)
	sender := &fakeSender{}
	events := &fakeEvents{}
	r := New(7, wire.NewRoomType("T"), host, testConfig(), sender, events, zap.NewNop())

	client, _ := newConn(2)
	r.Connected(client)
	sender.mu.Lock()
	sender.log = nil // drop the ConnectionJoin from the count
	sender.mu.Unlock()

	r.Disconnected(client, wire.CloseClosed, true)
	require.Empty(t, sender.packetsTo(host.ID))
	_, stillThere := r.Client(client.ID)
	require.False(t, stillThere)
}

func TestPasswordGate(t *testing.T) {
	host, _ := newConn(1)
	sender := &fakeSender{}
	events := &fakeEvents{}
	r := New(7, wire.NewRoomType("T"), host, testConfig(), sender, events, zap.NewNop())
	r.SetConfiguration(true, true, 0x1234, false)

	needsPw, ok := r.CheckPassword(false, 0)
	require.True(t, needsPw)
	require.False(t, ok)

	needsPw, ok = r.CheckPassword(true, 0x0000)
	require.True(t, needsPw)
	require.False(t, ok)

	needsPw, ok = r.CheckPassword(true, 0x1234)
	require.True(t, needsPw)
	require.True(t, ok)
}

func TestRequestStateThrottled(t *testing.T) {
	host, _ := newConn(1)
	sender := &fakeSender{}
	events := &fakeEvents{}
	cfg := testConfig()
	r := New(7, wire.NewRoomType("T"), host, cfg, sender, events, zap.NewNop())

	now := time.Now()
	require.True(t, r.RequestState(now), "first request should fire")
	require.False(t, r.RequestState(now), "a second request while awaiting the first must not fire")

	require.NoError(t, r.SetState([]byte("state")))
	require.False(t, r.RequestState(now.Add(time.Millisecond)), "after the reply lands, a new request still waits out StateTimeout")
	require.True(t, r.RequestState(now.Add(cfg.StateTimeout)), "once StateTimeout has passed since the last request, a new one can fire")
}

func TestSetStateRejectsOversized(t *testing.T) {
	host, _ := newConn(1)
	sender := &fakeSender{}
	events := &fakeEvents{}
	cfg := testConfig()
	cfg.MaxStateSize = 4
	r := New(7, wire.NewRoomType("T"), host, cfg, sender, events, zap.NewNop())

	err := r.SetState([]byte("too big"))
	require.ErrorIs(t, err, ErrStateTooLarge)
}

func TestSendRoomStateOmitsStateWhenNotPublic(t *testing.T) {
	host, _ := newConn(1)
	sender := &fakeSender{}
	events := &fakeEvents{}
	r := New(7, wire.NewRoomType("T"), host, testConfig(), sender, events, zap.NewNop())
	require.NoError(t, r.SetState([]byte("secret")))
	r.SetConfiguration(false, false, 0, true)

	client, _ := newConn(2)
	require.NoError(t, r.SendRoomState(client))
	pkts := sender.packetsTo(client.ID)
	require.Len(t, pkts, 1)
	info := pkts[0].(wire.RoomInfo)
	require.Nil(t, info.State)
}

func TestBuildRoomListEntryRespectsNullTypeAndPublic(t *testing.T) {
	host, _ := newConn(1)
	sender := &fakeSender{}
	events := &fakeEvents{}
	r := New(7, wire.RoomType{}, host, testConfig(), sender, events, zap.NewNop())
	r.SetConfiguration(true, false, 0, true)

	_, _, listable := r.BuildRoomListEntry()
	require.False(t, listable, "a null-type room is never listed (Invariant vi)")
}

func TestIdleNotifiedAtMostOnce(t *testing.T) {
	host, _ := newConn(1)
	sender := &fakeSender{}
	events := &fakeEvents{}
	r := New(7, wire.NewRoomType("T"), host, testConfig(), sender, events, zap.NewNop())

	client, _ := newConn(2)
	r.Connected(client)
	sender.mu.Lock()
	sender.log = nil
	sender.mu.Unlock()

	r.Idle(client)
	r.Idle(client)
	pkts := sender.packetsTo(host.ID)
	require.Len(t, pkts, 1, "idle must be reported at most once until cleared")

	client.Touch()
	r.Idle(client)
	require.Len(t, sender.packetsTo(host.ID), 2, "a fresh inbound packet clears the flag so idle can fire again")
}
