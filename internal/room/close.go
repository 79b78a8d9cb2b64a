package room

import (
	"time"

	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/wire"
)

// Close tears the room down idempotently: mark closed before disconnecting
// peers (so inbound events are suppressed), close every client and collect
// their ids, send RoomClosed to the host and close it, clear the clients
// map, then fire the local RoomClosed event with the collected ids. Every
// later call is a no-op, mirroring SagerNet-smux/session.go's
// dieOnce-guarded Close.
func (r *Room) Close(reason wire.CloseReason) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.closedAt = time.Now()
	host := r.host
	clients := r.clients
	r.clients = make(map[uint64]*netio.Connection)
	r.mu.Unlock()

	clientIDs := make([]uint64, 0, len(clients))
	for id, c := range clients {
		clientIDs = append(clientIDs, id)
		c.Close()
	}

	if host != nil {
		_ = r.sender.SendPacket(host, true, wire.RoomClosed{Reason: reason})
		host.Close()
	}

	r.events.OnRoomClosed(r, reason, clientIDs)
}
