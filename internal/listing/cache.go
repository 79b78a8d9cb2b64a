// Package listing implements the per-type room directory: one cache per room type, holding a
// prebuilt RoomList packet body that is kept current by mutation hooks from
// the rooms of that type, refreshed on demand with coalesced state requests,
// and flushed to every pending requester at once.
//
// Grounded on the same "single map guarded by one mutex" shape used
// throughout this module (lifted from SagerNet-smux/session.go's streams
// registry), with the watchdog arm/cancel delegated to internal/timer, the
// housekeeper-style scheduler mined from rockstar-0000-aistore's hk package.
package listing

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/room"
	"github.com/xpdustry/claj/internal/timer"
	"github.com/xpdustry/claj/internal/wire"
)

// Sender delivers a completed RoomList to one requester.
type Sender interface {
	SendPacket(c *netio.Connection, reliable bool, p wire.Packet) error
}

// Cache is the per-room-type listing cache.
type Cache struct {
	typ    wire.RoomType
	scope  string
	sender Sender
	wheel  *timer.Wheel
	log    *zap.Logger

	listTimeout time.Duration

	mu         sync.Mutex
	states     map[uint64][]byte
	protected  map[uint64]bool
	pending    []*netio.Connection
	requesting map[uint64]bool
	lastUpdate time.Time
}

// New constructs an empty cache for typ. listTimeout bounds how long a
// refresh may run before it is flushed with whatever state is current.
func New(typ wire.RoomType, listTimeout time.Duration, sender Sender, wheel *timer.Wheel, log *zap.Logger) *Cache {
	return &Cache{
		typ:         typ,
		scope:       "listing:" + typ.String(),
		sender:      sender,
		wheel:       wheel,
		log:         log.With(zap.String("listing-type", typ.String())),
		listTimeout: listTimeout,
		states:      make(map[uint64][]byte),
		protected:   make(map[uint64]bool),
		requesting:  make(map[uint64]bool),
	}
}

// watchdogKey is this cache's single named timer slot.
func (c *Cache) watchdogKey() timer.Key { return timer.Key{Scope: c.scope, Kind: "listTimeout"} }

// Request enqueues c as a pending requester and, if no refresh is currently
// in flight, starts one over rooms. rooms is the live set of rooms of
// this cache's type, supplied by the caller (the relay's type index) since
// the cache itself holds no room references beyond their published state.
func (c *Cache) Request(requester *netio.Connection, rooms []*room.Room, now time.Time) {
	c.mu.Lock()
	c.pending = append(c.pending, requester)
	alreadyRefreshing := len(c.requesting) > 0
	c.mu.Unlock()

	if !alreadyRefreshing {
		c.refresh(rooms, now)
	}
}

// refresh implements the coalescing pass: every room needing a fresh state
// that isn't already awaiting one gets asked; if none end up outstanding,
// flush immediately, otherwise arm the listTimeout watchdog.
func (c *Cache) refresh(rooms []*room.Room, now time.Time) {
	c.mu.Lock()
	for _, r := range rooms {
		if !r.CanRequestState() {
			continue
		}
		if !r.IsStateOutdated(now) {
			continue
		}
		if !r.IsStateRequestTimedOut(now) {
			continue
		}
		if r.RequestState(now) {
			c.requesting[r.ID] = true
		}
	}
	done := len(c.requesting) == 0
	c.mu.Unlock()

	if done {
		c.flush()
		return
	}
	c.wheel.Arm(c.watchdogKey(), c.listTimeout, c.flush)
}

// Refresh forces a coalescing pass with no requester attached to the result —
// the operator surface's "refresh a whole type's list" — unlike Request,
// nobody is waiting on the outcome, it just brings the cache current.
func (c *Cache) Refresh(rooms []*room.Room, now time.Time) {
	c.refresh(rooms, now)
}

// OnStateChanged upserts r's published entry and, if r was the last room this
// cache was waiting on, flushes.
func (c *Cache) OnStateChanged(r *room.Room) {
	c.mu.Lock()
	delete(c.requesting, r.ID)
	drained := len(c.requesting) == 0
	c.mu.Unlock()

	c.upsert(r)
	if drained {
		c.wheel.Cancel(c.watchdogKey())
		c.flush()
	}
}

// OnConfigChanged reflects r's current public/protected status, removing it
// from the cache entirely if it is no longer listable.
func (c *Cache) OnConfigChanged(r *room.Room) {
	c.upsert(r)
}

func (c *Cache) upsert(r *room.Room) {
	state, protected, listable := r.BuildRoomListEntry()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !listable {
		delete(c.states, r.ID)
		delete(c.protected, r.ID)
		return
	}
	c.states[r.ID] = state
	c.protected[r.ID] = protected
}

// Remove drops r's entry entirely, used when a room closes (it stops being a
// member of the type index regardless of its last published listability).
func (c *Cache) Remove(roomID uint64) {
	c.mu.Lock()
	delete(c.states, roomID)
	delete(c.protected, roomID)
	delete(c.requesting, roomID)
	c.mu.Unlock()
}

// flush sends the current cached list to every pending requester and clears
// the queue; lastUpdate records when this last happened.
func (c *Cache) flush() {
	c.mu.Lock()
	list := wire.RoomList{
		States:         copyStates(c.states),
		ProtectedRooms: copyProtected(c.protected),
	}
	requesters := c.pending
	c.pending = nil
	c.requesting = make(map[uint64]bool)
	c.lastUpdate = time.Now()
	c.mu.Unlock()

	for _, r := range requesters {
		if err := c.sender.SendPacket(r, true, list); err != nil {
			c.log.Debug("listing flush send failed", zap.Error(err))
		}
	}
}

// Close flushes the special empty list to every pending requester and cancels this cache's watchdog. Used when the relay's
// type index drops to zero rooms of this type, and during shutdown.
func (c *Cache) Close() {
	c.wheel.CancelScope(c.scope)

	c.mu.Lock()
	requesters := c.pending
	c.pending = nil
	c.mu.Unlock()

	empty := wire.RoomList{}
	for _, r := range requesters {
		_ = c.sender.SendPacket(r, true, empty)
	}
}

// Len reports how many rooms are currently published, for status reporting.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

func copyStates(m map[uint64][]byte) map[uint64][]byte {
	out := make(map[uint64][]byte, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyProtected(m map[uint64]bool) map[uint64]bool {
	out := make(map[uint64]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
