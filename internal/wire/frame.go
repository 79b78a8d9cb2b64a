package wire

import "github.com/pkg/errors"

// EncodeFrame prefixes p's kind tag onto its codec-encoded body, so the
// receiving side can recover which Decode branch to take without an
// out-of-band type negotiation.
func EncodeFrame(codec Codec, p Packet) ([]byte, error) {
	body, err := codec.Encode(p)
	if err != nil {
		return nil, errors.Wrap(err, "wire: encode frame body")
	}
	return append([]byte{byte(p.Kind())}, body...), nil
}

// DecodeFrame is EncodeFrame's inverse.
func DecodeFrame(codec Codec, data []byte) (Packet, error) {
	if len(data) == 0 {
		return nil, errors.New("wire: empty frame")
	}
	kind := PacketKind(data[0])
	p, err := codec.Decode(kind, data[1:])
	if err != nil {
		return nil, errors.Wrap(err, "wire: decode frame body")
	}
	return p, nil
}

// obsoleteTextMinLength guards against false positives on tiny frames: a
// single stray printable byte is as likely to be a truncated binary frame as
// it is a leftover line of text from an old client.
const obsoleteTextMinLength = 4

// IsObsoleteText reports whether data looks like a line of human-readable
// text rather than a framed binary packet: every byte is printable ASCII or
// common line whitespace, and the frame is long enough that this isn't
// coincidence. A predecessor of this protocol exchanged plain text commands,
// and a client still speaking it sends bytes no PacketKind tag decodes, but
// that are visibly text rather than noise.
func IsObsoleteText(data []byte) bool {
	if len(data) < obsoleteTextMinLength {
		return false
	}
	for _, b := range data {
		switch {
		case b == '\t' || b == '\r' || b == '\n':
		case b >= 0x20 && b < 0x7f:
		default:
			return false
		}
	}
	return true
}
