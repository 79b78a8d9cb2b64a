package relay

import (
	"time"

	"go.uber.org/zap"

	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/wire"
)

// Ingest is the network loop's single entry point for one decoded frame:
// clear idle, enforce the per-connection packet-rate gate (room hosts
// exempt), then either feed a stream frame to the assembler or dispatch a
// complete packet.
func (r *Relay) Ingest(c *netio.Connection, reliable bool, data []byte) {
	c.Touch()

	if wire.IsObsoleteText(data) {
		r.log.Debug("kicking client speaking the obsolete text protocol", zap.String("conn", c.ShortID))
		r.kick(c, wire.CloseObsoleteClient)
		return
	}

	p, err := wire.DecodeFrame(r.codec, data)
	if err != nil {
		r.log.Debug("dropping malformed frame", zap.String("conn", c.ShortID), zap.Error(err))
		r.kick(c, wire.CloseError)
		return
	}

	if !r.isHost(c) && c.OverLimit() {
		r.log.Debug("packet rate exceeded", zap.String("conn", c.ShortID))
		if rm, ok := r.roomOf(c); ok {
			_ = r.sender.SendPacket(rm.Host(), true, wire.Message{Type: wire.MsgPacketSpamming})
		}
		r.metrics.spamKicksTotal.Inc()
		r.kick(c, wire.CloseError)
		return
	}

	switch frame := p.(type) {
	case wire.StreamHead:
		r.assembler.OnHead(c.ID, frame)
	case wire.StreamChunk:
		assembled, ok, err := r.assembler.OnChunk(c.ID, frame)
		if err != nil {
			r.log.Debug("stream assembly failed", zap.String("conn", c.ShortID), zap.Error(err))
			return
		}
		if ok {
			r.Dispatch(c, reliable, assembled)
		}
	default:
		r.Dispatch(c, reliable, p)
	}
}

func (r *Relay) isHost(c *netio.Connection) bool {
	rm, ok := r.roomOf(c)
	return ok && rm.IsHost(c)
}

func (r *Relay) kick(c *netio.Connection, reason wire.CloseReason) {
	r.Disconnect(c, reason)
	c.DeferClose(time.Millisecond)
}

// Dispatch routes one decoded control packet (or assembled RawPayload) to its
// handler.
func (r *Relay) Dispatch(c *netio.Connection, reliable bool, p wire.Packet) {
	switch v := p.(type) {
	case wire.RoomCreationRequest:
		r.handleRoomCreationRequest(c, v)
	case wire.RoomClosureRequest:
		r.handleRoomClosureRequest(c)
	case wire.RoomJoin:
		r.handleRoomJoin(c, v, true)
	case wire.RoomJoinRequest:
		r.handleRoomJoin(c, wire.RoomJoin(v), false)
	case wire.RoomConfig:
		r.handleRoomConfig(c, v)
	case wire.RoomState:
		r.handleRoomState(c, v)
	case wire.RoomInfoRequest:
		r.handleRoomInfoRequest(c, v)
	case wire.RoomListRequest:
		r.handleRoomListRequest(c, v)
	case wire.ConnectionClosed:
		r.handleConnectionClosed(c, v)
	case wire.ConnectionPacketWrap:
		r.handleHostForward(c, v)
	case wire.RawPayload:
		r.handleClientForward(c, reliable, v.Data)
	default:
		r.log.Debug("no handler for decoded packet", zap.Uint8("kind", uint8(p.Kind())))
	}
}
