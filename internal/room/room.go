// Package room implements the host-centric session that owns a
// game host and its clients, forwards opaque game payloads between them, and
// closes deterministically.
//
// Grounded on two shapes from the pack: the idempotent, sync.Once-guarded
// teardown of SagerNet-smux/session.go's Close (here: Room.close marks itself
// closed before touching any peer, so re-entrant disconnect events become
// no-ops), and the host/participant registry idiom visible in the
// other_examples signaling-server files (a privileged peer plus a map of
// ordinary participants, each removable without tearing down the others).
package room

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/wire"
)

// Sender abstracts "encode p, stream-split it if oversized, and hand the
// bytes to the connection's transport" — the relay dispatcher implements
// this; Room never touches a codec or the stream package directly, keeping
// the forwarding/state-machine logic here decoupled from wire format
// concerns.
type Sender interface {
	SendPacket(c *netio.Connection, reliable bool, p wire.Packet) error
}

// Events notifies the owner (the relay) of room lifecycle transitions it must
// react to — removing the room from its indices and the listing cache.
type Events interface {
	// OnRoomClosed fires once, after host and clients are already closed and
	// the room's own clients map is cleared; clientIDs is a snapshot of who
	// was attached at that moment, so the caller can drop their index
	// entries in the same turn instead of waiting on each one's own
	// transport to notice and disconnect.
	OnRoomClosed(r *Room, reason wire.CloseReason, clientIDs []uint64)
	// OnConfigChanged/OnStateChanged let the relay touch the listing cache
	// without Room importing the listing package.
	OnConfigChanged(r *Room)
	OnStateChanged(r *Room)
}

// Config bounds this room's behavior; MaxStateSize enforces the size cap on
// RawState.
type Config struct {
	MaxStateSize   int
	StateTimeout   time.Duration // how long a state-request may be in flight
	StateLifetime  time.Duration // how old cached state may be before it's "outdated"
	SplitThreshold int
}

// Room is the host-centric container for one game session.
type Room struct {
	ID      uint64
	ShortID string
	Type    wire.RoomType

	CreatedAt time.Time

	cfg    Config
	sender Sender
	events Events
	log    *zap.Logger

	mu                sync.RWMutex
	host              *netio.Connection
	clients           map[uint64]*netio.Connection
	closedAt          time.Time
	lastStateReceived time.Time
	lastStateRequested time.Time
	isPublic          bool
	isProtected       bool
	canRequestState   bool
	requestingState   bool
	password          uint16
	rawState          []byte
	closed            bool
}

// New constructs a room already owned by host. The host is never also a
// client — it is simply not present in clients.
func New(id uint64, typ wire.RoomType, host *netio.Connection, cfg Config, sender Sender, events Events, log *zap.Logger) *Room {
	return &Room{
		ID:        id,
		ShortID:   wire.EncodeShortID(id),
		Type:      typ,
		CreatedAt: time.Now(),
		cfg:       cfg,
		sender:    sender,
		events:    events,
		log:       log.With(zap.String("room", wire.EncodeShortID(id))),
		host:      host,
		clients:   make(map[uint64]*netio.Connection),
	}
}

// Host returns the current host connection.
func (r *Room) Host() *netio.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.host
}

// IsHost reports whether c is this room's host, by connection id.
func (r *Room) IsHost(c *netio.Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.host != nil && c != nil && r.host.ID == c.ID
}

// Client looks up a client by connection id.
func (r *Room) Client(id uint64) (*netio.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// ClientCount reports the number of attached clients, for status reporting.
func (r *Room) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// IsClosed reports whether Close has already run.
func (r *Room) IsClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Snapshot is a point-in-time, race-free copy of the fields callers outside
// this package (the listing cache, the operator status surface) need.
type Snapshot struct {
	ID              uint64
	ShortID         string
	Type            wire.RoomType
	IsPublic        bool
	IsProtected     bool
	CanRequestState bool
	RequestingState bool
	ClientCount     int
	RawState        []byte
	CreatedAt       time.Time
	LastStateAt     time.Time
}

func (r *Room) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		ID:              r.ID,
		ShortID:         r.ShortID,
		Type:            r.Type,
		IsPublic:        r.isPublic,
		IsProtected:     r.isProtected,
		CanRequestState: r.canRequestState,
		RequestingState: r.requestingState,
		ClientCount:     len(r.clients),
		RawState:        r.rawState,
		CreatedAt:       r.CreatedAt,
		LastStateAt:     r.lastStateReceived,
	}
}

// CheckPassword validates a join attempt's password against the room's
// configuration. ok is true when the room is not protected, or when it is
// protected and the password matches.
func (r *Room) CheckPassword(withPassword bool, password uint16) (needsPassword, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.isProtected {
		return false, true
	}
	if !withPassword {
		return true, false
	}
	return true, password == r.password
}

// IsPublic/IsProtected/CanRequestState are read under lock for callers (the
// relay dispatcher) that need a single field rather than a whole Snapshot.
func (r *Room) IsPublic() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isPublic
}

func (r *Room) IsProtected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isProtected
}

func (r *Room) CanRequestState() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.canRequestState
}
