package relay

import (
	"time"

	"go.uber.org/zap"

	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/room"
	"github.com/xpdustry/claj/internal/timer"
	"github.com/xpdustry/claj/internal/wire"
)

// handleRoomConfig is the RoomConfig handler: host-only,
// mutate and touch the listing cache via Room.SetConfiguration.
func (r *Relay) handleRoomConfig(c *netio.Connection, req wire.RoomConfig) {
	rm, ok := r.roomOf(c)
	if !ok || !rm.IsHost(c) {
		if ok {
			_ = r.sender.SendPacket(c, true, wire.Message{Type: wire.MsgConfigureDenied})
		}
		return
	}
	rm.SetConfiguration(req.IsPublic, req.IsProtected, req.Password, req.RequestState)
}

// handleRoomState is the RoomState handler: host-only,
// mutate and flush pending info requesters (Room.SetState fires the
// OnStateChanged event, which does both via r.flushPendingInfoWithState).
func (r *Relay) handleRoomState(c *netio.Connection, req wire.RoomState) {
	rm, ok := r.roomOf(c)
	if !ok || !rm.IsHost(c) {
		if ok {
			_ = r.sender.SendPacket(c, true, wire.Message{Type: wire.MsgStatingDenied})
		}
		return
	}
	if err := rm.SetState(req.State); err != nil {
		r.log.Debug("oversized room state from host", zap.String("room", rm.ShortID), zap.Error(err))
		r.kick(c, wire.CloseError)
	}
}

// handleRoomInfoRequest is the RoomInfoRequest handler:
// per-address info-rate gate, missing room -> denial, outdated state ->
// enqueue and request a refresh bounded by a stateTimeout watchdog,
// otherwise answer immediately from the cached snapshot.
func (r *Relay) handleRoomInfoRequest(c *netio.Connection, req wire.RoomInfoRequest) {
	if !r.infoLimiter.Allow(c.RemoteAddr().String()) {
		_ = r.sender.SendPacket(c, true, wire.RoomInfoDenied{})
		return
	}
	rm, ok := r.lookupRoom(req.RoomID)
	if !ok {
		_ = r.sender.SendPacket(c, true, wire.RoomInfoDenied{})
		return
	}

	now := time.Now()
	if rm.CanRequestState() && rm.IsStateOutdated(now) {
		r.addPendingInfo(rm.ID, c)
		rm.RequestState(now) // idempotent: at most one request in flight
		// Only the first waiter starts the clock: re-arming on every later
		// arrival would let the watchdog creep past stateTimeout.
		if !r.wheel.Pending(stateTimeoutKey(rm.ShortID)) {
			r.wheel.Arm(stateTimeoutKey(rm.ShortID), r.cfg.StateTimeout, func() {
				r.flushPendingInfoWithState(rm)
			})
		}
		return
	}
	_ = rm.SendRoomState(c)
}

// handleRoomListRequest is the RoomListRequest handler:
// per-address list-rate gate (empty list on overflow), and an empty list for
// any type the relay has never seen a room of.
func (r *Relay) handleRoomListRequest(c *netio.Connection, req wire.RoomListRequest) {
	if !r.listLimiter.Allow(c.RemoteAddr().String()) {
		_ = r.sender.SendPacket(c, true, wire.RoomList{})
		return
	}

	r.mu.RLock()
	_, known := r.types[req.Type]
	r.mu.RUnlock()
	if !known {
		_ = r.sender.SendPacket(c, true, wire.RoomList{})
		return
	}

	cache := r.cacheFor(req.Type, true)
	cache.Request(c, r.roomsOfType(req.Type), time.Now())
}

// handleConnectionClosed is the host-originated
// ConnectionClosed handler: validate host identity, validate the target is
// one of this room's clients, quietly remove it and close its transport.
func (r *Relay) handleConnectionClosed(c *netio.Connection, req wire.ConnectionClosed) {
	rm, ok := r.roomOf(c)
	if !ok || !rm.IsHost(c) {
		if ok {
			_ = r.sender.SendPacket(c, true, wire.Message{Type: wire.MsgConClosureDenied})
		}
		return
	}
	target, ok := rm.Client(req.ConID)
	if !ok {
		return
	}
	rm.Disconnected(target, req.Reason, true)
	r.mu.Lock()
	delete(r.conToRoom, target.ID)
	r.mu.Unlock()
	_ = target.Close()
}

// handleHostForward implements the host→client leg of the
// forwarding protocol: only the current host may wrap packets.
func (r *Relay) handleHostForward(c *netio.Connection, wrap wire.ConnectionPacketWrap) {
	rm, ok := r.roomOf(c)
	if !ok || !rm.IsHost(c) {
		return
	}
	_ = rm.ForwardFromHost(wrap)
}

// handleClientForward implements the client→host leg: a connection not yet
// attached to a room has its payload buffered in the bounded early-packet
// queue instead.
func (r *Relay) handleClientForward(c *netio.Connection, reliable bool, data []byte) {
	rm, ok := r.roomOf(c)
	if !ok {
		if !c.EarlyEnqueue(reliable, data) {
			r.log.Debug("early-packet queue full, dropping payload", zap.String("conn", c.ShortID))
		}
		return
	}
	_ = rm.ForwardFromClient(c, reliable, data)
}

func (r *Relay) roomsOfType(typ wire.RoomType) []*room.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	index := r.types[typ]
	out := make([]*room.Room, 0, len(index))
	for _, rm := range index {
		out = append(out, rm)
	}
	return out
}

// stateTimeoutKey names the per-room watchdog that bounds how long a pending
// RoomInfoRequest may wait on a fresh state snapshot.
func stateTimeoutKey(roomShortID string) timer.Key {
	return timer.Key{Scope: roomShortID, Kind: "stateTimeout"}
}

func (r *Relay) addPendingInfo(roomID uint64, c *netio.Connection) {
	r.mu.Lock()
	r.pendingInfo[roomID] = append(r.pendingInfo[roomID], c)
	r.mu.Unlock()
}

func (r *Relay) takePendingInfo(roomID uint64) []*netio.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	requesters := r.pendingInfo[roomID]
	delete(r.pendingInfo, roomID)
	return requesters
}

// flushPendingInfo answers every requester waiting on roomID with denial —
// used when the room itself disappears.
func (r *Relay) flushPendingInfo(roomID uint64, denial wire.Packet) {
	requesters := r.takePendingInfo(roomID)
	for _, c := range requesters {
		_ = r.sender.SendPacket(c, true, denial)
	}
}

// flushPendingInfoWithState answers every requester waiting on rm with its
// current state — called both when a fresh RoomState arrives and when the
// stateTimeout watchdog fires with whatever is current.
func (r *Relay) flushPendingInfoWithState(rm *room.Room) {
	requesters := r.takePendingInfo(rm.ID)
	for _, c := range requesters {
		_ = rm.SendRoomState(c)
	}
}

// removePendingInfoRequester drops c from every room's pending-info queue it
// might be waiting in.
func (r *Relay) removePendingInfoRequester(c *netio.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID, list := range r.pendingInfo {
		filtered := list[:0]
		for _, rc := range list {
			if rc.ID != c.ID {
				filtered = append(filtered, rc)
			}
		}
		if len(filtered) == 0 {
			delete(r.pendingInfo, roomID)
		} else {
			r.pendingInfo[roomID] = filtered
		}
	}
}
