package room

import (
	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/wire"
)

// ForwardFromClient wraps an opaque payload from a client and sends it to
// the host.
func (r *Room) ForwardFromClient(c *netio.Connection, reliable bool, payload []byte) error {
	host := r.Host()
	if host == nil {
		return nil
	}
	return r.sender.SendPacket(host, true, wire.ConnectionPacketWrap{ConID: c.ID, IsTCP: reliable, Raw: payload})
}

// ForwardFromHost unwraps a host-originated wrap packet and forwards the raw
// payload to the named client. If conID names no current client and the host connection is
// still alive, the only phantom-id report in the protocol is sent back to
// the host.
func (r *Room) ForwardFromHost(wrap wire.ConnectionPacketWrap) error {
	client, ok := r.Client(wrap.ConID)
	if !ok {
		host := r.Host()
		if host != nil {
			return r.sender.SendPacket(host, true, wire.ConnectionClosed{ConID: wrap.ConID, Reason: wire.CloseError})
		}
		return nil
	}
	return client.Send(wrap.IsTCP, wrap.Raw)
}
