// Package relay implements the dispatcher that owns every room,
// the per-type listing caches, the pending-info and rate-limiting state, and
// routes each inbound control packet to its handler.
//
// Grounded on the same main-loop/network-loop split SagerNet-smux's session
// draws between recvLoop (turns frames into events) and the session's own
// state (its streams map): here, internal/transport is the network loop and
// Relay.Dispatch is the main loop's single entry point, so all room/cache
// mutation happens on one goroutine per call.
package relay

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xpdustry/claj/internal/listing"
	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/room"
	"github.com/xpdustry/claj/internal/stream"
	"github.com/xpdustry/claj/internal/timer"
	"github.com/xpdustry/claj/internal/wire"
)

// Config is the set of operator-tunable knobs consumed
// by the core (effect, not source representation — config-file parsing is a
// separate collaborator, see SPEC_FULL.md §1).
type Config struct {
	ServerMajor int32

	SpamLimit int           // packets / SpamWindow; 0 disables
	SpamWindow time.Duration
	JoinLimit int           // joins / JoinWindow; 0 disables
	JoinWindow time.Duration
	InfoLimit  int
	InfoWindow time.Duration
	ListLimit  int
	ListWindow time.Duration

	StateTimeout  time.Duration
	StateLifetime time.Duration
	ListTimeout   time.Duration

	CloseWait    time.Duration
	WarnClosing  bool
	AcceptNoType bool

	BlacklistedTypes []string
	Blacklist        []string

	MaxStateSize          int
	MaxPendingConnections  int // not read by the relay; the number of unattached early-queues is not capped
	SplitThreshold         int
	ChunkSize              int
	Compress               bool
}

// DefaultConfig returns reasonable values for every knob the deployment
// leaves unset, including the two open questions this implementation
// pinned down (see SPEC_FULL.md §3).
func DefaultConfig() Config {
	return Config{
		ServerMajor:           1,
		SpamLimit:             20,
		SpamWindow:            3 * time.Second,
		JoinLimit:             10,
		JoinWindow:            time.Minute,
		InfoLimit:             30,
		InfoWindow:            10 * time.Second,
		ListLimit:             10,
		ListWindow:            10 * time.Second,
		StateTimeout:          5 * time.Second,
		StateLifetime:         10 * time.Second,
		ListTimeout:           3 * time.Second,
		CloseWait:             5 * time.Second,
		WarnClosing:           true,
		AcceptNoType:          false,
		MaxStateSize:          32 * 1024,
		MaxPendingConnections: 4096,
		SplitThreshold:        4096,
		ChunkSize:             stream.DefaultChunkSize,
		Compress:              false,
	}
}

// Relay is the dispatcher: every room, every per-type listing cache, and all
// rate/blacklist/pending-info bookkeeping the network loop hands off to.
type Relay struct {
	cfg    Config
	log    *zap.Logger
	codec  wire.Codec
	wheel  *timer.Wheel
	sender *dispatcherSender

	assembler *stream.Assembler

	joinLimiter *netio.AddressLimiter
	infoLimiter *netio.AddressLimiter
	listLimiter *netio.AddressLimiter

	metrics *Metrics

	level zap.AtomicLevel // backs SetDebug; zero value is a no-op level that never filters

	mu               sync.RWMutex
	closed           bool
	connections      map[uint64]*netio.Connection
	rooms            map[uint64]*room.Room
	conToRoom        map[uint64]uint64
	types            map[wire.RoomType]map[uint64]*room.Room
	caches           map[wire.RoomType]*listing.Cache
	pendingInfo      map[uint64][]*netio.Connection
	blacklistAddrs   map[string]bool
	blacklistedTypes map[wire.RoomType]bool

	nextConnID uint64
}

// New constructs a Relay ready to accept Connect/Dispatch/Disconnect calls.
// level is the AtomicLevel backing log's core (cmd/clajrelay constructs both
// together); SetDebug flips it live without rebuilding the logger, for the
// operator surface's "toggle debug logging" command. Passing the zero
// zap.AtomicLevel{} is fine when the caller never intends to call SetDebug
// (e.g. in tests using zap.NewNop()).
func New(cfg Config, log *zap.Logger, level zap.AtomicLevel) *Relay {
	r := &Relay{
		cfg:              cfg,
		log:              log,
		level:            level,
		codec:            wire.BinaryCodec{},
		wheel:            timer.NewWheel(),
		assembler:        stream.NewAssembler(wire.BinaryCodec{}),
		joinLimiter:      netio.NewAddressLimiter(cfg.JoinLimit, cfg.JoinWindow),
		infoLimiter:      netio.NewAddressLimiter(cfg.InfoLimit, cfg.InfoWindow),
		listLimiter:      netio.NewAddressLimiter(cfg.ListLimit, cfg.ListWindow),
		metrics:          NewMetrics(),
		connections:      make(map[uint64]*netio.Connection),
		rooms:            make(map[uint64]*room.Room),
		conToRoom:        make(map[uint64]uint64),
		types:            make(map[wire.RoomType]map[uint64]*room.Room),
		caches:           make(map[wire.RoomType]*listing.Cache),
		pendingInfo:      make(map[uint64][]*netio.Connection),
		blacklistAddrs:   make(map[string]bool),
		blacklistedTypes: make(map[wire.RoomType]bool),
	}
	r.sender = &dispatcherSender{relay: r, codec: r.codec, ids: new(stream.IDGenerator)}
	for _, t := range cfg.BlacklistedTypes {
		r.blacklistedTypes[wire.NewRoomType(t)] = true
	}
	for _, a := range cfg.Blacklist {
		r.blacklistAddrs[a] = true
	}
	return r
}

// DiscoveryReply is the cached 5-byte UDP discovery response.
func (r *Relay) DiscoveryReply() [5]byte { return wire.DiscoveryReply(r.cfg.ServerMajor) }

// IsClosed reports whether Stop has been called.
func (r *Relay) IsClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Connect runs the ingress gate for a freshly accepted transport: reject
// closed/blacklisted, otherwise register a logical Connection. The caller (internal/transport) supplies the raw transport; the
// Relay assigns the connection id from its own monotonic counter.
func (r *Relay) Connect(t netio.Transport) (*netio.Connection, bool) {
	addr := t.RemoteAddr().String()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = t.Close()
		return nil, false
	}
	if r.blacklistAddrs[hostOf(addr)] {
		r.mu.Unlock()
		_ = t.Close()
		return nil, false
	}
	r.nextConnID++
	id := r.nextConnID
	c := netio.NewConnection(id, t, r.cfg.SpamLimit, r.cfg.SpamWindow)
	r.connections[id] = c
	r.mu.Unlock()

	r.log.Debug("connection accepted", zap.String("addr", addr), zap.String("conn", c.ShortID))
	r.metrics.connectionsTotal.Inc()
	r.metrics.activeConnections.Inc()
	return c, true
}

// Disconnect tears down everything this connection owned: its room
// membership (cascading if it was a host), its stream assemblers, its
// pending-info entries, and the connection registry entry.
func (r *Relay) Disconnect(c *netio.Connection, reason wire.CloseReason) {
	r.mu.Lock()
	_, existed := r.connections[c.ID]
	delete(r.connections, c.ID)
	roomID, hadRoom := r.conToRoom[c.ID]
	delete(r.conToRoom, c.ID)
	r.mu.Unlock()

	if existed {
		r.metrics.activeConnections.Dec()
	}

	r.assembler.DropPeer(c.ID)
	r.removePendingInfoRequester(c)

	if hadRoom {
		if rm, ok := r.lookupRoom(roomID); ok {
			rm.Disconnected(c, reason, false)
		}
	}
}

func (r *Relay) lookupRoom(id uint64) (*room.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[id]
	return rm, ok
}

func (r *Relay) roomOf(c *netio.Connection) (*room.Room, bool) {
	r.mu.RLock()
	roomID, ok := r.conToRoom[c.ID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.lookupRoom(roomID)
}

func (r *Relay) connByID(id uint64) (*netio.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[id]
	return c, ok
}

// Connections snapshots every connection currently registered, for
// internal/transport's idle sweep.
func (r *Relay) Connections() []*netio.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*netio.Connection, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	return conns
}

// MarkIdle propagates a transport-observed idle connection into its room, if
// any. Connections with
// no room yet (still in the early-queue stage) are ignored.
func (r *Relay) MarkIdle(c *netio.Connection) {
	if rm, ok := r.roomOf(c); ok {
		rm.Idle(c)
	}
}

func (r *Relay) cacheFor(typ wire.RoomType, createIfMissing bool) *listing.Cache {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.caches[typ]
	if !ok && createIfMissing {
		c = listing.New(typ, r.cfg.ListTimeout, r.sender, r.wheel, r.log)
		r.caches[typ] = c
	}
	return c
}

// hostOf strips a port suffix so blacklisting matches by bare address; falls
// back to the original string if there is no colon-delimited port.
func hostOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}
