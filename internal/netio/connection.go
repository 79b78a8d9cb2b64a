// Package netio implements the virtual-connection layer: a
// logical endpoint per remote peer that wraps a transport connection and
// carries packet-rate state, idle tracking, a bounded early-packet queue and
// a one-tick deferred close — all state a Room or the relay dispatcher needs
// without caring whether the peer arrived over TCP or UDP.
//
// The concurrency shape here is lifted from SagerNet-smux/session.go: a
// single map guarded by one mutex (their `streams`, our connection registry
// lives one level up in the relay), atomic counters touched from more than
// one goroutine without a lock (their token `bucket`, our packet-rate
// counter), and a sync.Once-guarded close.
package netio

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/xpdustry/claj/internal/wire"
)

// Transport is the minimal capability a network-loop-owned endpoint exposes
// upward. It deliberately has no Room-shaped methods: the Room only ever
// sees the four verbs connected/disconnected/received/idle, and those are
// driven by the relay, not by the transport directly.
type Transport interface {
	// Send writes one already-framed buffer. reliable selects the ordered
	// (TCP) path versus the best-effort (UDP) path; a TCP-only transport
	// ignores the flag.
	Send(reliable bool, data []byte) error
	RemoteAddr() net.Addr
	Close() error
}

// Connection is the virtual connection layer's per-peer record. Its identity (Equals/hashing in the room/relay maps) is the
// integer ID alone.
type Connection struct {
	ID      uint64
	ShortID string

	transport Transport
	rate      *RateKeeper

	idleNotified atomic.Bool
	closed       atomic.Bool
	closeOnce    sync.Once
	lastActive   atomic.Int64 // unix nanoseconds, written by Touch

	early *EarlyQueue

	mu        sync.Mutex
	deferTask *time.Timer
}

// NewConnection wraps a freshly accepted Transport. spamLimit/window
// configure the per-connection rate keeper; a
// spamLimit of 0 disables rate limiting for this connection (a globally
// disabled limit).
func NewConnection(id uint64, t Transport, spamLimit int, window time.Duration) *Connection {
	c := &Connection{
		ID:        id,
		ShortID:   wire.EncodeShortID(id),
		transport: t,
		rate:      NewRateKeeper(spamLimit, window),
		early:     NewEarlyQueue(EarlyQueueCapacity),
	}
	c.lastActive.Store(time.Now().UnixNano())
	return c
}

// RemoteAddr is the transport's peer address.
func (c *Connection) RemoteAddr() net.Addr { return c.transport.RemoteAddr() }

// AddressHash is the stable non-reversible 64-bit digest sent to hosts as
// ConnectionJoin.AddressHash. xxhash is used because it is
// already in the module's dependency graph as a fast, well-understood
// non-cryptographic hash; any keyed 64-bit hash would satisfy the spec.
func (c *Connection) AddressHash() uint64 {
	return xxhash.Sum64String(c.RemoteAddr().String())
}

// Send forwards to the transport unless the connection is already closed;
// sends after Close are dropped without error. A pending DeferClose does not
// block sends, so final packets still flush before the door shuts.
func (c *Connection) Send(reliable bool, data []byte) error {
	if c.closed.Load() {
		return nil
	}
	return c.transport.Send(reliable, data)
}

// Touch records one inbound packet for rate accounting and clears the
// idle-notified flag.
// Called from the network loop; deliberately racy.
func (c *Connection) Touch() {
	c.rate.Increment()
	c.idleNotified.Store(false)
	c.lastActive.Store(time.Now().UnixNano())
}

// IdleSince reports whether no inbound packet has been recorded for at least
// d, the predicate internal/transport's sweep uses to decide when to call
// relay.Relay.MarkIdle on this connection.
func (c *Connection) IdleSince(d time.Duration) bool {
	last := time.Unix(0, c.lastActive.Load())
	return time.Since(last) >= d
}

// OverLimit reports whether this connection has exceeded its packet-rate
// budget in the current window.
func (c *Connection) OverLimit() bool { return c.rate.OverLimit() }

// PacketRate reports the current window's inbound packet count, the
// per-connection traffic counter the operator status surface reports.
func (c *Connection) PacketRate() int32 { return c.rate.Count() }

// SetSpamLimit live-updates this connection's packet-rate budget, for the
// operator surface's "mutate numeric limits" command.
func (c *Connection) SetSpamLimit(n int) { c.rate.SetLimit(n) }

// MarkIdle reports whether this is the first idle notification since the
// flag was last cleared.
func (c *Connection) MarkIdle() bool {
	return c.idleNotified.CompareAndSwap(false, true)
}

// EarlyEnqueue buffers an opaque payload arriving before this connection is
// attached to a room, preserving the
// reliability flag it arrived with. Returns false if the queue was already
// full, in which case the payload is dropped silently.
func (c *Connection) EarlyEnqueue(reliable bool, data []byte) bool { return c.early.Push(reliable, data) }

// EarlyDrain returns and clears the buffered payloads in arrival order.
func (c *Connection) EarlyDrain() []EarlyPayload { return c.early.Drain() }

// Close tears down the connection immediately, cancelling any deferred
// close. Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.deferTask != nil {
		c.deferTask.Stop()
		c.deferTask = nil
	}
	c.mu.Unlock()

	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.transport.Close()
	})
	return err
}

// DeferClose schedules the transport close after tick, so buffered sends on
// this connection have a chance to flush first. Calling DeferClose twice is a no-op: the first
// scheduled close wins.
func (c *Connection) DeferClose(tick time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deferTask != nil || c.closed.Load() {
		return
	}
	c.deferTask = time.AfterFunc(tick, func() { _ = c.Close() })
}
