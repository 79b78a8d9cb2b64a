package relay

import (
	"github.com/pkg/errors"

	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/stream"
	"github.com/xpdustry/claj/internal/wire"
)

// dispatcherSender implements room.Sender and listing.Sender: encode p, and
// if it is larger than the configured split threshold, stream it through
// internal/stream instead of sending it as one frame.
type dispatcherSender struct {
	relay *Relay
	codec wire.Codec
	ids   *stream.IDGenerator
}

func (s *dispatcherSender) SendPacket(c *netio.Connection, reliable bool, p wire.Packet) error {
	head, chunks, err := stream.Split(s.codec, s.ids, p, s.relay.cfg.SplitThreshold, s.relay.cfg.ChunkSize, s.relay.cfg.Compress)
	if err != nil {
		return errors.Wrap(err, "relay: split outgoing packet")
	}
	if head == nil {
		data, err := wire.EncodeFrame(s.codec, p)
		if err != nil {
			return errors.Wrap(err, "relay: encode outgoing packet")
		}
		return c.Send(reliable, data)
	}

	headData, err := wire.EncodeFrame(s.codec, *head)
	if err != nil {
		return errors.Wrap(err, "relay: encode stream head")
	}
	if err := c.Send(reliable, headData); err != nil {
		return err
	}
	for _, chunk := range chunks {
		chunkData, err := wire.EncodeFrame(s.codec, chunk)
		if err != nil {
			return errors.Wrap(err, "relay: encode stream chunk")
		}
		if err := c.Send(reliable, chunkData); err != nil {
			return err
		}
	}
	return nil
}
