package room

import (
	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/wire"
)

// Connected attaches a new client to the room and tells the host about it.
func (r *Room) Connected(c *netio.Connection) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	host := r.host
	r.clients[c.ID] = c
	r.mu.Unlock()

	if host != nil {
		_ = r.sender.SendPacket(host, true, wire.ConnectionJoin{ConID: c.ID, AddressHash: c.AddressHash()})
	}
}

// Disconnected removes c from the room. If c is the host, the whole room
// closes and cascades; otherwise the host is told the
// client left, unless quiet is set (used when the host itself requested the
// closure and already knows).
func (r *Room) Disconnected(c *netio.Connection, reason wire.CloseReason, quiet bool) {
	r.mu.RLock()
	isHost := r.host != nil && r.host.ID == c.ID
	r.mu.RUnlock()

	if isHost {
		r.Close(reason)
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	_, existed := r.clients[c.ID]
	delete(r.clients, c.ID)
	host := r.host
	r.mu.Unlock()

	if existed && !quiet && host != nil {
		_ = r.sender.SendPacket(host, true, wire.ConnectionClosed{ConID: c.ID, Reason: reason})
	}
}

// Idle forwards ConnectionIdling to the host the first time c goes idle
// since its last inbound packet; c.MarkIdle
// already implements the once-until-cleared semantics.
func (r *Room) Idle(c *netio.Connection) {
	if !c.MarkIdle() {
		return
	}
	host := r.Host()
	if host == nil || host.ID == c.ID {
		return
	}
	_ = r.sender.SendPacket(host, true, wire.ConnectionIdling{ConID: c.ID})
}
