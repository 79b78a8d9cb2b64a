// Package transport is the real network loop: it owns the
// actual net.Listener (TCP) and net.PacketConn (UDP) sockets, turns their
// bytes into relay.Relay.Connect/Ingest/Disconnect calls, and is the only
// package in this module allowed to touch a real socket.
//
// Grounded on SagerNet-smux/session.go's recvLoop/sendLoop split: one
// goroutine per direction per connection, reading/writing raw bytes with no
// shared mutable state beyond what it hands off. The handoff itself — "the
// network loop never mutates relay state directly; it posts work to the
// main loop" — is a single buffered channel of closures that
// one dedicated goroutine drains serially, so every Connect, Ingest,
// Disconnect and MarkIdle call this package makes runs on exactly one
// goroutine no matter how many sockets feed it. The idle sweep reads
// relay.Relay.Connections directly from its own goroutine.
package transport

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/relay"
	"github.com/xpdustry/claj/internal/wire"
)

// DefaultWorkQueueSize bounds the main-loop handoff channel. A slow main loop
// backs up accepts and reads, which is the intended form of backpressure
//.
const DefaultWorkQueueSize = 4096

// DefaultIdleCheckInterval and DefaultIdleThreshold drive the idle sweep
//: every tick, any connection untouched for
// at least the threshold gets one ConnectionIdling notice via relay.MarkIdle.
//
// DefaultUDPDisconnectThreshold is UDP-only: unlike a TCP socket, a UDP peer
// never tells us it went away, so the same sweep that notices idleness also
// reaps peers idle for this much longer and disconnects them, freeing both
// the relay's connection registry and Server.udpPeers.
const (
	DefaultIdleCheckInterval      = 5 * time.Second
	DefaultIdleThreshold          = 20 * time.Second
	DefaultUDPDisconnectThreshold = 60 * time.Second
)

// Server owns the listening sockets and the single main-loop goroutine that
// serializes every call into relay.Relay.
type Server struct {
	relay *relay.Relay
	log   *zap.Logger

	idleCheckInterval  time.Duration
	idleThreshold      time.Duration
	udpDisconnectAfter time.Duration

	work chan func()
	stop chan struct{}
	wg   sync.WaitGroup

	tcpLn net.Listener
	udpPC net.PacketConn

	udpMu    sync.Mutex
	udpPeers map[string]*udpPeer
}

// New wraps a Relay with the network loop that drives it. Call Serve* for
// each socket you want served, then Run to start the main loop (blocking
// until Stop).
func New(r *relay.Relay, log *zap.Logger) *Server {
	return &Server{
		relay:              r,
		log:                log,
		idleCheckInterval:  DefaultIdleCheckInterval,
		idleThreshold:      DefaultIdleThreshold,
		udpDisconnectAfter: DefaultUDPDisconnectThreshold,
		work:               make(chan func(), DefaultWorkQueueSize),
		stop:               make(chan struct{}),
		udpPeers:           make(map[string]*udpPeer),
	}
}

// SetIdleParams overrides the idle sweep's cadence and threshold; call
// before Run. Either value of zero leaves the corresponding default in
// place.
func (s *Server) SetIdleParams(interval, threshold time.Duration) {
	if interval > 0 {
		s.idleCheckInterval = interval
	}
	if threshold > 0 {
		s.idleThreshold = threshold
	}
}

// SetUDPDisconnectThreshold overrides how long a UDP peer may sit untouched
// before the sweep disconnects it and reclaims its udpPeers entry. Call
// before Run; zero leaves the default in place.
func (s *Server) SetUDPDisconnectThreshold(d time.Duration) {
	if d > 0 {
		s.udpDisconnectAfter = d
	}
}

// disconnect posts a relay.Disconnect call to the main loop; transports call
// this instead of reaching into relay.Relay directly.
func (s *Server) disconnect(c *netio.Connection, reason wire.CloseReason) {
	s.post(func() { s.relay.Disconnect(c, reason) })
}

// post hands a closure to the main loop; it's dropped (with a log line) if
// the server is already stopping rather than blocking forever.
func (s *Server) post(fn func()) {
	select {
	case s.work <- fn:
	case <-s.stop:
		s.log.Debug("dropping posted work, server stopping")
	}
}

// Run is the main loop: the single goroutine that calls into relay.Relay.
// It blocks until Stop is called; run it in its own goroutine from
// cmd/clajrelay. It also starts the idle sweep goroutine on first call.
func (s *Server) Run() {
	s.wg.Add(1)
	go s.idleSweepLoop()

	for {
		select {
		case fn := <-s.work:
			fn()
		case <-s.stop:
			return
		}
	}
}

// idleSweepLoop periodically checks every registered connection's
// last-active timestamp and posts a MarkIdle call for any that have crossed
// the threshold; room.Room.Idle itself suppresses repeat notices until the
// connection is touched again.
func (s *Server) idleSweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.idleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			for _, c := range s.relay.Connections() {
				if c.IdleSince(s.idleThreshold) {
					conn := c
					s.post(func() { s.relay.MarkIdle(conn) })
				}
			}
			s.reapIdleUDPPeers()
		}
	}
}

// reapIdleUDPPeers disconnects and forgets any UDP peer untouched for
// udpDisconnectAfter. A UDP socket never signals "the peer is gone" the way
// a TCP FIN does, so this sweep is the only thing that ever reclaims a UDP
// peer's relay connection and its Server.udpPeers entry once the remote side
// stops sending.
func (s *Server) reapIdleUDPPeers() {
	s.udpMu.Lock()
	var stale []*udpPeer
	for key, peer := range s.udpPeers {
		c := peer.conn.Load()
		if c != nil && c.IdleSince(s.udpDisconnectAfter) {
			stale = append(stale, peer)
			delete(s.udpPeers, key)
		}
	}
	s.udpMu.Unlock()

	for _, peer := range stale {
		c := peer.conn.Load()
		s.post(func() { s.relay.Disconnect(c, wire.CloseClosed) })
	}
}

// Stop halts the main loop and closes the listening sockets. It does not
// stop the Relay itself — call relay.Relay.Stop separately.
func (s *Server) Stop() {
	close(s.stop)
	if s.tcpLn != nil {
		_ = s.tcpLn.Close()
	}
	if s.udpPC != nil {
		_ = s.udpPC.Close()
	}
	s.wg.Wait()
}
