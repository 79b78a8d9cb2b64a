package transport

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/sagernet/sing/common/bufio"
	"go.uber.org/zap"

	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/wire"
)

// tcpHeaderSize is the length-prefix framing overhead: TCP is a byte stream,
// so every wire.EncodeFrame payload needs its own length written ahead of it.
const tcpHeaderSize = 4

// maxTCPFrame bounds a single inbound frame, well above DefaultChunkSize so a
// legitimately-split stream chunk never trips it, but far below what a
// misbehaving peer could use to force an unbounded allocation.
const maxTCPFrame = 1 << 20

// tcpConn adapts one accepted net.Conn to netio.Transport. Reads happen on
// the goroutine ServeTCP spawns per connection; writes go through a buffered
// channel drained by its own goroutine, so a slow peer backs up its own
// queue instead of blocking whichever goroutine called Send.
type tcpConn struct {
	conn net.Conn
	addr net.Addr

	writes chan []byte
	closed chan struct{}
	once   sync.Once
}

func newTCPConn(conn net.Conn) *tcpConn {
	return &tcpConn{
		conn:   conn,
		addr:   conn.RemoteAddr(),
		writes: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (t *tcpConn) RemoteAddr() net.Addr { return t.addr }

// Send ignores reliable: every tcpConn is the ordered path by construction.
func (t *tcpConn) Send(_ bool, data []byte) error {
	select {
	case t.writes <- data:
		return nil
	case <-t.closed:
		return net.ErrClosed
	}
}

func (t *tcpConn) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

// writeLoop is sendLoop's single-connection counterpart: it frames each
// outbound buffer with a length prefix and, when the platform supports it,
// writes prefix and payload as one vectorised syscall instead of copying
// them together first.
func (t *tcpConn) writeLoop(log *zap.Logger) {
	bw, vectorised := bufio.CreateVectorisedWriter(t.conn)
	header := make([]byte, tcpHeaderSize)
	vec := make([][]byte, 2)

	for {
		select {
		case <-t.closed:
			return
		case data := <-t.writes:
			binary.BigEndian.PutUint32(header, uint32(len(data)))

			var err error
			if vectorised {
				vec[0] = header
				vec[1] = data
				_, err = bufio.WriteVectorised(bw, vec)
			} else {
				buf := make([]byte, tcpHeaderSize+len(data))
				copy(buf, header)
				copy(buf[tcpHeaderSize:], data)
				_, err = t.conn.Write(buf)
			}
			if err != nil {
				log.Debug("tcp write failed", zap.String("addr", t.addr.String()), zap.Error(err))
				_ = t.Close()
				return
			}
		}
	}
}

// readLoop turns inbound length-prefixed frames into relay.Ingest calls,
// posted to the main loop so the frame bytes never touch relay state from
// this goroutine directly.
func (t *tcpConn) readLoop(s *Server, c *netio.Connection) {
	header := make([]byte, tcpHeaderSize)
	for {
		if _, err := io.ReadFull(t.conn, header); err != nil {
			s.disconnect(c, wire.CloseError)
			_ = t.Close()
			return
		}
		n := binary.BigEndian.Uint32(header)
		if n > maxTCPFrame {
			s.log.Debug("tcp frame exceeds limit, dropping connection", zap.String("addr", t.addr.String()), zap.Uint32("size", n))
			s.disconnect(c, wire.CloseError)
			_ = t.Close()
			return
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(t.conn, payload); err != nil {
			s.disconnect(c, wire.CloseError)
			_ = t.Close()
			return
		}
		frame := payload
		s.post(func() { s.relay.Ingest(c, true, frame) })
	}
}

// ServeTCP accepts connections on ln until Stop closes it, handing each one
// off to the relay via Connect and spawning its read/write loops.
func (s *Server) ServeTCP(ln net.Listener) {
	s.tcpLn = ln
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.stop:
					return
				default:
				}
				s.log.Debug("tcp accept error", zap.Error(err))
				return
			}
			s.acceptTCP(conn)
		}
	}()
}

func (s *Server) acceptTCP(conn net.Conn) {
	t := newTCPConn(conn)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t.writeLoop(s.log)
	}()

	s.post(func() {
		c, ok := s.relay.Connect(t)
		if !ok {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			t.readLoop(s, c)
		}()
	})
}
