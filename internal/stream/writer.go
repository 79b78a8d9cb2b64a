package stream

import (
	"bytes"
	"sync/atomic"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"

	"github.com/xpdustry/claj/internal/wire"
)

// IDGenerator hands out monotonically increasing stream ids for packets this
// endpoint originates. A single generator is shared by every peer an
// endpoint talks to; ids only need to be unique per-peer, but a process-wide
// counter is simpler and never collides.
type IDGenerator struct{ next atomic.Uint32 }

func (g *IDGenerator) Next() uint32 { return g.next.Add(1) }

// Split encodes p and, if the result is larger than threshold, splits it
// into a StreamHead and chunkSize-sized StreamChunks (the last one flagged
// Last); compress additionally gzips the payload before chunking. If the encoded payload is at or
// under threshold, Split returns a nil head and a single-element chunk slice
// is never produced — callers send the packet itself, unstreamed.
func Split(codec wire.Codec, ids *IDGenerator, p wire.Packet, threshold, chunkSize int, compress bool) (*wire.StreamHead, []wire.StreamChunk, error) {
	payload, err := codec.Encode(p)
	if err != nil {
		return nil, nil, errors.Wrap(err, "stream: encode packet for split")
	}
	if len(payload) <= threshold {
		return nil, nil, nil
	}

	if compress {
		payload, err = compressBytes(payload)
		if err != nil {
			return nil, nil, errors.Wrap(err, "stream: compress payload")
		}
	}

	head := wire.StreamHead{
		StreamID:    ids.Next(),
		Total:       uint32(len(payload)),
		PayloadKind: p.Kind(),
		Compressed:  compress,
	}

	var chunks []wire.StreamChunk
	for off := 0; chunkSize > 0 && off < len(payload); off += chunkSize {
		end := off + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, wire.StreamChunk{
			StreamID: head.StreamID,
			Data:     payload[off:end],
			Last:     end == len(payload),
		})
	}
	if len(chunks) == 0 {
		// threshold < len(payload) but the loop above only runs for
		// chunkSize>0; guard against a misconfigured chunkSize of 0.
		chunks = []wire.StreamChunk{{StreamID: head.StreamID, Data: payload, Last: true}}
	}
	return &head, chunks, nil
}

func compressBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := pgzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
