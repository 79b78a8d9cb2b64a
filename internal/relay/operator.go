package relay

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xpdustry/claj/internal/listing"
	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/room"
	"github.com/xpdustry/claj/internal/wire"
)

// Operator is the programmatic surface a
// console collaborator drives: close-by-short-id, a text broadcast, a
// status snapshot, blacklist/limit mutation, on-demand refresh, and a debug
// toggle. The console itself — its parsing, its terminal — is not this
// repo's concern; only these entry points are.
type Operator interface {
	CloseRoom(shortID string) error
	Broadcast(text string)
	Status() Status
	SetBlacklist(addrs []string)
	SetBlacklistedTypes(types []string)
	SetSpamLimit(n int)
	SetJoinLimit(n int)
	RefreshRoom(shortID string) error
	RefreshType(typ string)
	SetDebug(debug bool)
}

var _ Operator = (*Relay)(nil)

// RoomStatus is one room's entry in a Status snapshot.
type RoomStatus struct {
	ShortID        string
	Type           string
	ClientCount    int
	IsPublic       bool
	IsProtected    bool
	HostPacketRate int32
}

// Status is the "read status: counts and per-room traffic counters" snapshot.
type Status struct {
	ConnectionCount int
	RoomCount       int
	Rooms           []RoomStatus
}

// CloseRoom closes the room named by its short (base62) id, the programmatic
// form of the console's "close room by short id" command.
func (r *Relay) CloseRoom(shortID string) error {
	id, err := wire.ParseShortID(shortID)
	if err != nil {
		return errors.Wrapf(err, "relay: parse short id %q", shortID)
	}
	rm, ok := r.lookupRoom(id)
	if !ok {
		return errors.Errorf("relay: no room with short id %q", shortID)
	}
	rm.Close(wire.CloseClosed)
	return nil
}

// Broadcast sends an operator-originated text notice to every room's host.
func (r *Relay) Broadcast(text string) {
	r.mu.RLock()
	hosts := make([]*netio.Connection, 0, len(r.rooms))
	for _, rm := range r.rooms {
		if host := rm.Host(); host != nil {
			hosts = append(hosts, host)
		}
	}
	r.mu.RUnlock()

	for _, host := range hosts {
		_ = r.sender.SendPacket(host, true, wire.Broadcast{Text: text})
	}
}

// Status builds a point-in-time snapshot of connection/room counts and
// per-room traffic counters for the operator console.
func (r *Relay) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Status{
		ConnectionCount: len(r.connections),
		RoomCount:       len(r.rooms),
		Rooms:           make([]RoomStatus, 0, len(r.rooms)),
	}
	for _, rm := range r.rooms {
		snap := rm.Snapshot()
		var rate int32
		if host := rm.Host(); host != nil {
			rate = host.PacketRate()
		}
		st.Rooms = append(st.Rooms, RoomStatus{
			ShortID:        snap.ShortID,
			Type:           snap.Type.String(),
			ClientCount:    snap.ClientCount,
			IsPublic:       snap.IsPublic,
			IsProtected:    snap.IsProtected,
			HostPacketRate: rate,
		})
	}
	return st
}

// SetBlacklist replaces the set of blacklisted remote addresses.
func (r *Relay) SetBlacklist(addrs []string) {
	m := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		m[a] = true
	}
	r.mu.Lock()
	r.blacklistAddrs = m
	r.mu.Unlock()
}

// SetBlacklistedTypes replaces the set of blacklisted room types.
func (r *Relay) SetBlacklistedTypes(types []string) {
	m := make(map[wire.RoomType]bool, len(types))
	for _, t := range types {
		m[wire.NewRoomType(t)] = true
	}
	r.mu.Lock()
	r.blacklistedTypes = m
	r.mu.Unlock()
}

// SetSpamLimit updates the per-connection packet-rate limit, live, for every
// connection currently registered as well as every future one.
func (r *Relay) SetSpamLimit(n int) {
	r.mu.Lock()
	r.cfg.SpamLimit = n
	conns := make([]*netio.Connection, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.SetSpamLimit(n)
	}
}

// SetJoinLimit updates the per-address join-rate limit, live.
func (r *Relay) SetJoinLimit(n int) {
	r.mu.Lock()
	r.cfg.JoinLimit = n
	r.mu.Unlock()
	r.joinLimiter.SetLimit(n)
}

// RefreshRoom asks the named room's host for a fresh state snapshot, the
// programmatic form of the console's "refresh one room's state" command.
func (r *Relay) RefreshRoom(shortID string) error {
	id, err := wire.ParseShortID(shortID)
	if err != nil {
		return errors.Wrapf(err, "relay: parse short id %q", shortID)
	}
	rm, ok := r.lookupRoom(id)
	if !ok {
		return errors.Errorf("relay: no room with short id %q", shortID)
	}
	rm.RequestState(time.Now())
	return nil
}

// RefreshType forces a coalesced listing refresh for typ with no requester
// waiting on the result, the programmatic form of "refresh ... a whole
// type's list".
func (r *Relay) RefreshType(typ string) {
	t := wire.NewRoomType(typ)
	cache := r.cacheFor(t, true)
	cache.Refresh(r.roomsOfType(t), time.Now())
}

// SetDebug flips the shared AtomicLevel between Info and Debug, the
// programmatic form of "toggle debug logging". A Relay built with the zero
// zap.AtomicLevel{} (tests that never call SetDebug) treats this as a no-op.
func (r *Relay) SetDebug(debug bool) {
	if r.level == (zap.AtomicLevel{}) {
		return
	}
	if debug {
		r.level.SetLevel(zapcore.DebugLevel)
	} else {
		r.level.SetLevel(zapcore.InfoLevel)
	}
}

// Stop drains the relay for shutdown: warn every room's host (optionally,
// waiting CloseWait for the warning to land), close every room with
// CloseServerClosed, flush every remaining pending-info requester and
// listing cache, and cancel every timer. It does not stop the transport —
// that is internal/transport's Server.Stop, called by cmd/clajrelay after
// this returns.
func (r *Relay) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	rooms := make([]*room.Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	r.log.Info("relay stopping", zap.Int("rooms", len(rooms)))

	if r.cfg.WarnClosing {
		for _, rm := range rooms {
			if host := rm.Host(); host != nil {
				_ = r.sender.SendPacket(host, true, wire.Message{Type: wire.MsgServerClosing})
			}
		}
		time.Sleep(r.cfg.CloseWait)
	}

	for _, rm := range rooms {
		rm.Close(wire.CloseServerClosed)
	}

	r.mu.Lock()
	pending := r.pendingInfo
	r.pendingInfo = make(map[uint64][]*netio.Connection)
	caches := r.caches
	r.caches = make(map[wire.RoomType]*listing.Cache)
	r.mu.Unlock()

	for _, requesters := range pending {
		for _, c := range requesters {
			_ = r.sender.SendPacket(c, true, wire.RoomInfoDenied{})
		}
	}
	for _, cache := range caches {
		cache.Close()
	}

	r.wheel.CancelAll()
}
