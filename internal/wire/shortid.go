package wire

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// ErrInvalidShortID is returned by ParseShortID when the input is not a
// well-formed base62 encoding of a 64-bit id.
var ErrInvalidShortID = errors.New("wire: invalid short id")

// EncodeShortID renders a room or connection id in the base-style short form
// clients present back when joining.
func EncodeShortID(id uint64) string {
	if id == 0 {
		return "0"
	}
	var buf [11]byte // ceil(64 / log2(62)) == 11
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = base62Alphabet[id%62]
		id /= 62
	}
	return string(buf[i:])
}

// ParseShortID inverts EncodeShortID.
func ParseShortID(s string) (uint64, error) {
	if s == "" {
		return 0, ErrInvalidShortID
	}
	var id uint64
	for _, c := range s {
		idx := strings.IndexRune(base62Alphabet, c)
		if idx < 0 {
			return 0, ErrInvalidShortID
		}
		// overflow would wrap silently, so any input whose value does not
		// fit in 64 bits is rejected instead.
		if id > (1<<64-1-uint64(idx))/62 {
			return 0, ErrInvalidShortID
		}
		id = id*62 + uint64(idx)
	}
	return id, nil
}

// NewRoomID mints a random non-zero 64-bit room id. unique should be a membership test against the relay's
// live room table; NewRoomID retries until it finds an id unique in rooms.
func NewRoomID(unique func(uint64) bool) (uint64, error) {
	for attempt := 0; attempt < 64; attempt++ {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, errors.Wrap(err, "wire: generate room id")
		}
		id := binary.BigEndian.Uint64(buf[:])
		if id == 0 {
			continue
		}
		if unique == nil || unique(id) {
			return id, nil
		}
	}
	return 0, errors.New("wire: failed to allocate a unique room id")
}

// LinkFormat renders the shareable link string clients parse back into
// (hostName, port, roomId).
func LinkFormat(hostName string, port int, roomID uint64) string {
	return hostName + ":" + strconv.Itoa(port) + "/" + EncodeShortID(roomID)
}
