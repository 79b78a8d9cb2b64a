package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// DiscoveryMagic is the fixed leading byte of the 5-byte UDP discovery reply
//: magic byte followed by the big-endian server major version.
const DiscoveryMagic byte = 0xC1

// DiscoveryReply builds the cached 5-byte discovery buffer.
func DiscoveryReply(serverMajor int32) [5]byte {
	var buf [5]byte
	buf[0] = DiscoveryMagic
	binary.BigEndian.PutUint32(buf[1:], uint32(serverMajor))
	return buf
}

// ParseDiscoveryReply is the client-side inverse, kept here because both ends
// of the discovery exchange share this single fixed format.
func ParseDiscoveryReply(buf [5]byte) (ok bool, serverMajor int32) {
	if buf[0] != DiscoveryMagic {
		return false, 0
	}
	return true, int32(binary.BigEndian.Uint32(buf[1:]))
}

// Codec turns typed control packets into bytes and back. The exact wire
// encoding is left pluggable; this default implementation exists so the
// framing layer (internal/stream) and this repo's own tests have something
// concrete to round-trip through.
type Codec interface {
	Encode(p Packet) ([]byte, error)
	Decode(kind PacketKind, data []byte) (Packet, error)
}

// BinaryCodec is the default Codec: a small length-prefixed binary format,
// good enough to exercise the framing layer without pretending to be the
// game's real wire format.
type BinaryCodec struct{}

func (BinaryCodec) Encode(p Packet) ([]byte, error) {
	var buf bytes.Buffer
	switch v := p.(type) {
	case ServerInfo:
		writeI32(&buf, v.Version)
	case RoomCreationRequest:
		writeI32(&buf, v.Version)
		buf.Write(v.Type[:])
	case RoomLink:
		writeU64(&buf, v.RoomID)
	case RoomClosureRequest:
	case RoomClosed:
		buf.WriteByte(byte(v.Reason))
	case RoomJoin:
		writeU64(&buf, v.RoomID)
		buf.Write(v.Type[:])
		writeBool(&buf, v.WithPassword)
		writeU16(&buf, v.Password)
	case RoomJoinRequest:
		writeU64(&buf, v.RoomID)
		buf.Write(v.Type[:])
		writeBool(&buf, v.WithPassword)
		writeU16(&buf, v.Password)
	case RoomJoinAccepted:
		writeU64(&buf, v.RoomID)
	case RoomJoinDenied:
		writeU64(&buf, v.RoomID)
		buf.WriteByte(byte(v.Reason))
	case RoomConfig:
		writeBool(&buf, v.IsPublic)
		writeBool(&buf, v.IsProtected)
		writeU16(&buf, v.Password)
		writeBool(&buf, v.RequestState)
	case RoomState:
		writeBytes(&buf, v.State)
	case RoomStateRequest:
	case RoomInfoRequest:
		writeU64(&buf, v.RoomID)
	case RoomInfo:
		writeU64(&buf, v.RoomID)
		writeBool(&buf, v.IsProtected)
		buf.Write(v.Type[:])
		writeBytes(&buf, v.State)
	case RoomInfoDenied:
	case RoomListRequest:
		buf.Write(v.Type[:])
	case RoomList:
		writeU32(&buf, uint32(len(v.States)))
		for id, state := range v.States {
			writeU64(&buf, id)
			writeBytes(&buf, state)
			writeBool(&buf, v.ProtectedRooms[id])
		}
	case ConnectionJoin:
		writeU64(&buf, v.ConID)
		writeU64(&buf, v.AddressHash)
	case ConnectionClosed:
		writeU64(&buf, v.ConID)
		buf.WriteByte(byte(v.Reason))
	case ConnectionIdling:
		writeU64(&buf, v.ConID)
	case ConnectionPacketWrap:
		writeU64(&buf, v.ConID)
		writeBool(&buf, v.IsTCP)
		writeBytes(&buf, v.Raw)
	case RawPayload:
		buf.Write(v.Data)
	case Message:
		buf.WriteByte(byte(v.Type))
	case StreamHead:
		writeU32(&buf, v.StreamID)
		writeU32(&buf, v.Total)
		buf.WriteByte(byte(v.PayloadKind))
		writeBool(&buf, v.Compressed)
	case StreamChunk:
		writeU32(&buf, v.StreamID)
		writeBool(&buf, v.Last)
		writeBytes(&buf, v.Data)
	case Broadcast:
		writeBytes(&buf, []byte(v.Text))
	default:
		return nil, errors.Errorf("wire: unknown packet type %T", p)
	}
	return buf.Bytes(), nil
}

func (BinaryCodec) Decode(kind PacketKind, data []byte) (Packet, error) {
	r := bytes.NewReader(data)
	switch kind {
	case KindServerInfo:
		v, err := readI32(r)
		return ServerInfo{Version: v}, err
	case KindRoomCreationRequest:
		version, err := readI32(r)
		if err != nil {
			return nil, err
		}
		typ, err := readType(r)
		return RoomCreationRequest{Version: version, Type: typ}, err
	case KindRoomLink:
		id, err := readU64(r)
		return RoomLink{RoomID: id}, err
	case KindRoomClosureRequest:
		return RoomClosureRequest{}, nil
	case KindRoomClosed:
		reason, err := r.ReadByte()
		return RoomClosed{Reason: CloseReason(reason)}, err
	case KindRoomJoin, KindRoomJoinRequest:
		id, err := readU64(r)
		if err != nil {
			return nil, err
		}
		typ, err := readType(r)
		if err != nil {
			return nil, err
		}
		withPass, err := readBool(r)
		if err != nil {
			return nil, err
		}
		pass, err := readU16(r)
		if err != nil {
			return nil, err
		}
		if kind == KindRoomJoin {
			return RoomJoin{RoomID: id, Type: typ, WithPassword: withPass, Password: pass}, nil
		}
		return RoomJoinRequest{RoomID: id, Type: typ, WithPassword: withPass, Password: pass}, nil
	case KindRoomJoinAccepted:
		id, err := readU64(r)
		return RoomJoinAccepted{RoomID: id}, err
	case KindRoomJoinDenied:
		id, err := readU64(r)
		if err != nil {
			return nil, err
		}
		reason, err := r.ReadByte()
		return RoomJoinDenied{RoomID: id, Reason: RejectReason(reason)}, err
	case KindRoomConfig:
		pub, err := readBool(r)
		if err != nil {
			return nil, err
		}
		prot, err := readBool(r)
		if err != nil {
			return nil, err
		}
		pass, err := readU16(r)
		if err != nil {
			return nil, err
		}
		reqState, err := readBool(r)
		return RoomConfig{IsPublic: pub, IsProtected: prot, Password: pass, RequestState: reqState}, err
	case KindRoomState:
		state, err := readBytes(r)
		return RoomState{State: state}, err
	case KindRoomStateRequest:
		return RoomStateRequest{}, nil
	case KindRoomInfoRequest:
		id, err := readU64(r)
		return RoomInfoRequest{RoomID: id}, err
	case KindRoomInfo:
		id, err := readU64(r)
		if err != nil {
			return nil, err
		}
		prot, err := readBool(r)
		if err != nil {
			return nil, err
		}
		typ, err := readType(r)
		if err != nil {
			return nil, err
		}
		state, err := readBytes(r)
		return RoomInfo{RoomID: id, IsProtected: prot, Type: typ, State: state}, err
	case KindRoomInfoDenied:
		return RoomInfoDenied{}, nil
	case KindRoomListRequest:
		typ, err := readType(r)
		return RoomListRequest{Type: typ}, err
	case KindRoomList:
		n, err := readU32(r)
		if err != nil {
			return nil, err
		}
		states := make(map[uint64][]byte, n)
		protected := make(map[uint64]bool, n)
		for i := uint32(0); i < n; i++ {
			id, err := readU64(r)
			if err != nil {
				return nil, err
			}
			state, err := readBytes(r)
			if err != nil {
				return nil, err
			}
			prot, err := readBool(r)
			if err != nil {
				return nil, err
			}
			states[id] = state
			if prot {
				protected[id] = true
			}
		}
		return RoomList{States: states, ProtectedRooms: protected}, nil
	case KindConnectionJoin:
		con, err := readU64(r)
		if err != nil {
			return nil, err
		}
		hash, err := readU64(r)
		return ConnectionJoin{ConID: con, AddressHash: hash}, err
	case KindConnectionClosed:
		con, err := readU64(r)
		if err != nil {
			return nil, err
		}
		reason, err := r.ReadByte()
		return ConnectionClosed{ConID: con, Reason: CloseReason(reason)}, err
	case KindConnectionIdling:
		con, err := readU64(r)
		return ConnectionIdling{ConID: con}, err
	case KindConnectionPacketWrap:
		con, err := readU64(r)
		if err != nil {
			return nil, err
		}
		isTCP, err := readBool(r)
		if err != nil {
			return nil, err
		}
		raw, err := readBytes(r)
		return ConnectionPacketWrap{ConID: con, IsTCP: isTCP, Raw: raw}, err
	case KindRawPayload:
		raw := make([]byte, r.Len())
		_, err := io.ReadFull(r, raw)
		return RawPayload{Data: raw}, err
	case KindMessage:
		t, err := r.ReadByte()
		return Message{Type: MessageType(t)}, err
	case KindStreamHead:
		sid, err := readU32(r)
		if err != nil {
			return nil, err
		}
		total, err := readU32(r)
		if err != nil {
			return nil, err
		}
		pk, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		compressed, err := readBool(r)
		return StreamHead{StreamID: sid, Total: total, PayloadKind: PacketKind(pk), Compressed: compressed}, err
	case KindStreamChunk:
		sid, err := readU32(r)
		if err != nil {
			return nil, err
		}
		last, err := readBool(r)
		if err != nil {
			return nil, err
		}
		data, err := readBytes(r)
		return StreamChunk{StreamID: sid, Last: last, Data: data}, err
	case KindBroadcast:
		text, err := readBytes(r)
		return Broadcast{Text: string(text)}, err
	default:
		return nil, errors.Errorf("wire: unknown packet kind %d", kind)
	}
}

func writeI32(buf *bytes.Buffer, v int32)   { var b [4]byte; binary.BigEndian.PutUint32(b[:], uint32(v)); buf.Write(b[:]) }
func writeU16(buf *bytes.Buffer, v uint16)  { var b [2]byte; binary.BigEndian.PutUint16(b[:], v); buf.Write(b[:]) }
func writeU32(buf *bytes.Buffer, v uint32)  { var b [4]byte; binary.BigEndian.PutUint32(b[:], v); buf.Write(b[:]) }
func writeU64(buf *bytes.Buffer, v uint64)  { var b [8]byte; binary.BigEndian.PutUint64(b[:], v); buf.Write(b[:]) }
func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}
func writeBytes(buf *bytes.Buffer, v []byte) {
	writeU32(buf, uint32(len(v)))
	buf.Write(v)
}

func readI32(r *bytes.Reader) (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}
func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}
func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}
func readType(r *bytes.Reader) (RoomType, error) {
	var t RoomType
	_, err := io.ReadFull(r, t[:])
	return t, err
}
func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	_, err = io.ReadFull(r, b)
	return b, err
}
