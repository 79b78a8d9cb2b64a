package relay

import (
	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/wire"
)

// handleRoomJoin is the RoomJoin/RoomJoinRequest handler.
// commit selects between the two wire variants: commit==false is the
// non-mutating "probe" (RoomJoinRequest), commit==true actually attaches c to
// the room (RoomJoin).
func (r *Relay) handleRoomJoin(c *netio.Connection, req wire.RoomJoin, commit bool) {
	if rm, ok := r.roomOf(c); ok && rm.IsHost(c) {
		_ = r.sender.SendPacket(c, true, wire.Message{Type: wire.MsgAlreadyHosting})
		return
	}

	if r.IsClosed() {
		r.denyJoin(c, req.RoomID, wire.RejectServerClosing)
		return
	}

	target, ok := r.lookupRoom(req.RoomID)
	if !ok {
		r.denyJoin(c, req.RoomID, wire.RejectRoomNotFound)
		return
	}

	if !r.joinLimiter.Allow(c.RemoteAddr().String()) {
		// Same visible effect as room-not-found.
		r.denyJoin(c, req.RoomID, wire.RejectRoomNotFound)
		return
	}

	if req.Type != target.Type && !(r.cfg.AcceptNoType && req.Type.IsNull()) {
		r.denyJoin(c, req.RoomID, wire.RejectIncompatible)
		return
	}

	needsPassword, ok := target.CheckPassword(req.WithPassword, req.Password)
	if needsPassword && !req.WithPassword {
		r.denyJoin(c, req.RoomID, wire.RejectPasswordRequired)
		return
	}
	if needsPassword && !ok {
		r.denyJoin(c, req.RoomID, wire.RejectInvalidPassword)
		return
	}

	if !commit {
		_ = r.sender.SendPacket(c, true, wire.RoomJoinAccepted{RoomID: req.RoomID})
		return
	}

	if prevID, had := r.currentRoomID(c); had && prevID != target.ID {
		if prev, ok := r.lookupRoom(prevID); ok {
			prev.Disconnected(c, wire.CloseClosed, false)
		}
	}

	r.mu.Lock()
	r.conToRoom[c.ID] = target.ID
	r.mu.Unlock()

	target.Connected(c)

	for _, payload := range c.EarlyDrain() {
		_ = target.ForwardFromClient(c, payload.Reliable, payload.Data)
	}
}

func (r *Relay) denyJoin(c *netio.Connection, roomID uint64, reason wire.RejectReason) {
	_ = r.sender.SendPacket(c, true, wire.RoomJoinDenied{RoomID: roomID, Reason: reason})
}

func (r *Relay) currentRoomID(c *netio.Connection) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.conToRoom[c.ID]
	return id, ok
}
