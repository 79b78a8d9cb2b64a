package relay

import (
	"go.uber.org/zap"

	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/room"
	"github.com/xpdustry/claj/internal/wire"
)

// handleRoomCreationRequest runs the room-creation gate in order: server
// closing, version mismatch, type blacklist, already-hosting, then mint and
// register.
func (r *Relay) handleRoomCreationRequest(c *netio.Connection, req wire.RoomCreationRequest) {
	if r.IsClosed() {
		_ = r.sender.SendPacket(c, true, wire.RoomClosed{Reason: wire.CloseServerClosed})
		c.DeferClose(0)
		return
	}
	if req.Version != r.cfg.ServerMajor {
		reason := wire.CloseOutdatedClient
		if req.Version > r.cfg.ServerMajor {
			reason = wire.CloseOutdatedServer
		}
		_ = r.sender.SendPacket(c, true, wire.RoomClosed{Reason: reason})
		c.DeferClose(0)
		return
	}
	if r.isBlacklistedType(req.Type) {
		_ = r.sender.SendPacket(c, true, wire.RoomClosed{Reason: wire.CloseBlacklisted})
		c.DeferClose(0)
		return
	}
	if _, already := r.roomOf(c); already {
		_ = r.sender.SendPacket(c, true, wire.Message{Type: wire.MsgAlreadyHosting})
		return
	}

	id, err := wire.NewRoomID(func(candidate uint64) bool {
		r.mu.RLock()
		defer r.mu.RUnlock()
		_, taken := r.rooms[candidate]
		return !taken
	})
	if err != nil {
		r.log.Error("failed to mint room id", zap.Error(err))
		return
	}

	cfg := room.Config{
		MaxStateSize:   r.cfg.MaxStateSize,
		StateTimeout:   r.cfg.StateTimeout,
		StateLifetime:  r.cfg.StateLifetime,
		SplitThreshold: r.cfg.SplitThreshold,
	}
	rm := room.New(id, req.Type, c, cfg, r.sender, r, r.log)

	r.mu.Lock()
	r.rooms[id] = rm
	r.conToRoom[c.ID] = id
	index, ok := r.types[req.Type]
	if !ok {
		index = make(map[uint64]*room.Room)
		r.types[req.Type] = index
	}
	index[id] = rm
	r.mu.Unlock()

	r.metrics.roomsCreatedTotal.Inc()
	r.metrics.activeRooms.Inc()
	r.log.Info("room created", zap.String("room", rm.ShortID), zap.String("type", req.Type.String()))
	_ = r.sender.SendPacket(c, true, wire.RoomLink{RoomID: id})
}

// handleRoomClosureRequest closes the caller's room if, and only if, the
// caller is its host.
func (r *Relay) handleRoomClosureRequest(c *netio.Connection) {
	rm, ok := r.roomOf(c)
	if !ok || !rm.IsHost(c) {
		if ok {
			_ = r.sender.SendPacket(c, true, wire.Message{Type: wire.MsgRoomClosureDenied})
		}
		return
	}
	rm.Close(wire.CloseClosed)
}

func (r *Relay) isBlacklistedType(typ wire.RoomType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.blacklistedTypes[typ]
}

// OnRoomClosed implements room.Events: deregister the room from every index
// it lives in (host and every client, so none are left dangling in
// conToRoom once this turn ends) and drop the type's listing cache once it
// is the last room of that type.
func (r *Relay) OnRoomClosed(rm *room.Room, reason wire.CloseReason, clientIDs []uint64) {
	r.mu.Lock()
	delete(r.rooms, rm.ID)
	delete(r.conToRoom, rm.Host().ID)
	var goneConnections int
	for _, id := range clientIDs {
		delete(r.conToRoom, id)
		// The room already closed this client's transport; for a UDP peer
		// that never surfaces back up as its own disconnect (udpPeer.Close
		// is a no-op), so drop its registry entry here rather than leave it
		// for the idle reaper to notice much later.
		if _, ok := r.connections[id]; ok {
			delete(r.connections, id)
			goneConnections++
		}
	}
	typeIndex, ok := r.types[rm.Type]
	if ok {
		delete(typeIndex, rm.ID)
	}
	typeEmpty := ok && len(typeIndex) == 0
	if typeEmpty {
		delete(r.types, rm.Type)
	}
	cache := r.caches[rm.Type]
	if typeEmpty {
		delete(r.caches, rm.Type)
	}
	r.mu.Unlock()

	for i := 0; i < goneConnections; i++ {
		r.metrics.activeConnections.Dec()
	}
	for _, id := range clientIDs {
		r.assembler.DropPeer(id)
	}

	r.wheel.CancelScope(rm.ShortID)
	r.flushPendingInfo(rm.ID, wire.RoomInfoDenied{})

	if cache != nil {
		cache.Remove(rm.ID)
		if typeEmpty {
			cache.Close()
		}
	}
	r.metrics.roomsClosedTotal.Inc()
	r.metrics.activeRooms.Dec()
	r.log.Info("room closed", zap.String("room", rm.ShortID), zap.String("reason", reason.String()))
}

// OnConfigChanged implements room.Events: touch the type's listing cache.
func (r *Relay) OnConfigChanged(rm *room.Room) {
	r.cacheFor(rm.Type, true).OnConfigChanged(rm)
}

// OnStateChanged implements room.Events: touch the listing cache and flush
// any pending info requesters waiting on this room.
func (r *Relay) OnStateChanged(rm *room.Room) {
	r.cacheFor(rm.Type, true).OnStateChanged(rm)
	r.wheel.Cancel(stateTimeoutKey(rm.ShortID))
	r.flushPendingInfoWithState(rm)
}
