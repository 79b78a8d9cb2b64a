package transport

import (
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/wire"
)

// maxUDPDatagram is comfortably above a typical MTU; anything larger is
// truncated by the kernel before it reaches us anyway.
const maxUDPDatagram = 64 * 1024

// udpPeer adapts one remote UDP address to netio.Transport. UDP is
// connectionless, so unlike tcpConn there is no dedicated socket: every peer
// shares the one net.PacketConn ServeUDP opened, and Send just addresses a
// WriteTo at it.
type udpPeer struct {
	pc   net.PacketConn
	addr net.Addr

	conn atomic.Pointer[netio.Connection]
}

func (u *udpPeer) RemoteAddr() net.Addr { return u.addr }

// Send ignores reliable: UDP has no ordered path to opt into.
func (u *udpPeer) Send(_ bool, data []byte) error {
	_, err := u.pc.WriteTo(data, u.addr)
	return err
}

// Close is a no-op: closing the shared net.PacketConn would take every peer
// down with it. A UDP peer's entry is removed from Server.udpPeers only by
// the idle reap (reapIdleUDPPeers), or when the relay refuses its Connect.
func (u *udpPeer) Close() error { return nil }

// ServeUDP reads datagrams from pc until Stop closes it, demultiplexing them
// by remote address into per-peer netio.Transports and handling the
// single-byte discovery ping separately (it never creates a peer or reaches
// Ingest: the reply is stateless, so it is just built on the main loop and
// written straight back, an ICMP-echo-shaped probe).
func (s *Server) ServeUDP(pc net.PacketConn) {
	s.udpPC = pc
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		buf := make([]byte, maxUDPDatagram)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				select {
				case <-s.stop:
					return
				default:
				}
				s.log.Debug("udp read error", zap.Error(err))
				return
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			s.handleUDP(pc, addr, data)
		}
	}()
}

func (s *Server) handleUDP(pc net.PacketConn, addr net.Addr, data []byte) {
	if len(data) == 1 && data[0] == wire.DiscoveryMagic {
		s.post(func() {
			reply := s.relay.DiscoveryReply()
			if _, err := pc.WriteTo(reply[:], addr); err != nil {
				s.log.Debug("udp discovery reply failed", zap.String("addr", addr.String()), zap.Error(err))
			}
		})
		return
	}

	key := addr.String()
	s.udpMu.Lock()
	peer, existed := s.udpPeers[key]
	if !existed {
		peer = &udpPeer{pc: pc, addr: addr}
		s.udpPeers[key] = peer
	}
	s.udpMu.Unlock()

	if !existed {
		s.post(func() {
			c, ok := s.relay.Connect(peer)
			if !ok {
				s.udpMu.Lock()
				delete(s.udpPeers, key)
				s.udpMu.Unlock()
				return
			}
			peer.conn.Store(c)
			s.relay.Ingest(c, false, data)
		})
		return
	}

	c := peer.conn.Load()
	if c == nil {
		// Connect from this peer's first datagram is still queued on the
		// main loop; drop this one rather than block the read loop. No
		// worse than the one dropped datagram UDP already offers no
		// guarantee against.
		return
	}
	s.post(func() { s.relay.Ingest(c, false, data) })
}
