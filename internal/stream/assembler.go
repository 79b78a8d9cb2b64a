// Package stream implements framing and stream assembly: control
// packets above a size threshold travel as a StreamHead followed by ordered
// StreamChunks, reassembled on receive and handed back to the caller as the
// original typed wire.Packet.
//
// The per-peer, per-stream-id assembler map mirrors SagerNet-smux/session.go's
// `streams map[uint32]*stream` (one registry, one mutex, entries reaped on
// peer disconnect) and the optional decompression filter is modeled on
// rockstar-0000-aistore's transport/pdu.go PDU framing, which also separates
// "header declares total length" from "payload arrives in bounded pieces".
package stream

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"

	"github.com/xpdustry/claj/internal/wire"
)

// DefaultChunkSize is the per-frame payload budget used by Split. All peers
// must agree through the head's declared total, so it is safe to change
// independently per deployment.
const DefaultChunkSize = 2 * 1024

// ErrChunkWithoutHead is the protocol error for a chunk arriving without a
// preceding head.
var ErrChunkWithoutHead = errors.New("stream: chunk arrived without a preceding head")

type pending struct {
	head wire.StreamHead
	buf  bytes.Buffer
}

// Assembler reassembles split transmissions for every peer connected to one
// endpoint (relay or host). Stream ids only need to be unique within a single
// peer, so the registry is keyed by (peer, streamID).
type Assembler struct {
	codec wire.Codec

	mu    sync.Mutex
	peers map[uint64]map[uint32]*pending
}

func NewAssembler(codec wire.Codec) *Assembler {
	return &Assembler{codec: codec, peers: make(map[uint64]map[uint32]*pending)}
}

// OnHead registers the start of a new split transmission from peer,
// replacing any unfinished assembler previously registered under the same
// stream id.
func (a *Assembler) OnHead(peer uint64, head wire.StreamHead) {
	a.mu.Lock()
	defer a.mu.Unlock()
	streams, ok := a.peers[peer]
	if !ok {
		streams = make(map[uint32]*pending)
		a.peers[peer] = streams
	}
	streams[head.StreamID] = &pending{head: head}
}

// OnChunk appends one chunk. It returns the fully decoded packet once the
// final chunk ("last" flag or accumulated size reaching the head's declared
// total) has arrived; ok is false while the transmission is still in
// progress.
func (a *Assembler) OnChunk(peer uint64, chunk wire.StreamChunk) (p wire.Packet, ok bool, err error) {
	a.mu.Lock()
	streams, exists := a.peers[peer]
	var pd *pending
	if exists {
		pd = streams[chunk.StreamID]
	}
	if pd == nil {
		a.mu.Unlock()
		return nil, false, ErrChunkWithoutHead
	}
	pd.buf.Write(chunk.Data)
	complete := chunk.Last || uint32(pd.buf.Len()) >= pd.head.Total
	if complete {
		delete(streams, chunk.StreamID)
	}
	a.mu.Unlock()

	if !complete {
		return nil, false, nil
	}

	payload := pd.buf.Bytes()
	if pd.head.Compressed {
		payload, err = decompress(payload)
		if err != nil {
			return nil, false, errors.Wrap(err, "stream: decompress assembled payload")
		}
	}
	p, err = a.codec.Decode(pd.head.PayloadKind, payload)
	if err != nil {
		return nil, false, errors.Wrap(err, "stream: decode assembled payload")
	}
	return p, true, nil
}

// DropPeer discards every assembler owned by peer. Must be called on
// disconnect so stream ids never leak across a peer's connections.
func (a *Assembler) DropPeer(peer uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.peers, peer)
}

// PendingCount reports how many unfinished assemblers peer currently has, for
// tests/status.
func (a *Assembler) PendingCount(peer uint64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.peers[peer])
}

func decompress(data []byte) ([]byte, error) {
	r, err := pgzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
