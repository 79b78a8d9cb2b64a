package wire

import "strings"

// RoomType is the compact fixed-width tag identifying the game implementation
// carried inside a room. The zero value is the "null type":
// an ungated room that is never listed.
type RoomType [8]byte

// NewRoomType truncates (or zero-pads) s into an 8-byte tag.
func NewRoomType(s string) RoomType {
	var t RoomType
	copy(t[:], s)
	return t
}

// IsNull reports whether this is the zero/null type.
func (t RoomType) IsNull() bool { return t == RoomType{} }

func (t RoomType) String() string {
	return strings.TrimRight(string(t[:]), "\x00")
}

// PacketKind tags the payload carried by a Packet for dispatch and for the
// framing layer's stream-head "payload-type tag".
type PacketKind uint8

const (
	KindServerInfo PacketKind = iota + 1
	KindRoomCreationRequest
	KindRoomLink
	KindRoomClosureRequest
	KindRoomClosed
	KindRoomJoin
	KindRoomJoinRequest
	KindRoomJoinAccepted
	KindRoomJoinDenied
	KindRoomConfig
	KindRoomState
	KindRoomStateRequest
	KindRoomInfoRequest
	KindRoomInfo
	KindRoomInfoDenied
	KindRoomListRequest
	KindRoomList
	KindConnectionJoin
	KindConnectionClosed
	KindConnectionIdling
	KindConnectionPacketWrap
	KindRawPayload
	KindMessage
	KindStreamHead
	KindStreamChunk
	KindBroadcast
)

// Packet is the common interface satisfied by every control-packet type.
// Kind lets the relay dispatcher and the stream framer identify a decoded
// value without a type switch on every hop.
type Packet interface {
	Kind() PacketKind
}

type ServerInfo struct{ Version int32 }

func (ServerInfo) Kind() PacketKind { return KindServerInfo }

type RoomCreationRequest struct {
	Version int32
	Type    RoomType
}

func (RoomCreationRequest) Kind() PacketKind { return KindRoomCreationRequest }

type RoomLink struct{ RoomID uint64 }

func (RoomLink) Kind() PacketKind { return KindRoomLink }

type RoomClosureRequest struct{}

func (RoomClosureRequest) Kind() PacketKind { return KindRoomClosureRequest }

type RoomClosed struct{ Reason CloseReason }

func (RoomClosed) Kind() PacketKind { return KindRoomClosed }

// RoomJoin is the "commit" variant: on success the caller is moved into the
// room and any early-queued payloads are flushed.
type RoomJoin struct {
	RoomID       uint64
	Type         RoomType
	WithPassword bool
	Password     uint16
}

func (RoomJoin) Kind() PacketKind { return KindRoomJoin }

// RoomJoinRequest is the non-committing "probe" variant: success replies with
// RoomJoinAccepted without attaching the connection to the room.
type RoomJoinRequest struct {
	RoomID       uint64
	Type         RoomType
	WithPassword bool
	Password     uint16
}

func (RoomJoinRequest) Kind() PacketKind { return KindRoomJoinRequest }

type RoomJoinAccepted struct{ RoomID uint64 }

func (RoomJoinAccepted) Kind() PacketKind { return KindRoomJoinAccepted }

type RoomJoinDenied struct {
	RoomID uint64
	Reason RejectReason
}

func (RoomJoinDenied) Kind() PacketKind { return KindRoomJoinDenied }

type RoomConfig struct {
	IsPublic     bool
	IsProtected  bool
	Password     uint16
	RequestState bool
}

func (RoomConfig) Kind() PacketKind { return KindRoomConfig }

type RoomState struct{ State []byte }

func (RoomState) Kind() PacketKind { return KindRoomState }

type RoomStateRequest struct{}

func (RoomStateRequest) Kind() PacketKind { return KindRoomStateRequest }

type RoomInfoRequest struct{ RoomID uint64 }

func (RoomInfoRequest) Kind() PacketKind { return KindRoomInfoRequest }

// RoomInfo.State is nil when the room is not public.
type RoomInfo struct {
	RoomID      uint64
	IsProtected bool
	Type        RoomType
	State       []byte
}

func (RoomInfo) Kind() PacketKind { return KindRoomInfo }

type RoomInfoDenied struct{}

func (RoomInfoDenied) Kind() PacketKind { return KindRoomInfoDenied }

type RoomListRequest struct{ Type RoomType }

func (RoomListRequest) Kind() PacketKind { return KindRoomListRequest }

// RoomList carries one cached snapshot per listing-cache refresh: the state
// blob for every listable room of a type, plus which of them are protected.
type RoomList struct {
	States         map[uint64][]byte
	ProtectedRooms map[uint64]bool
}

func (RoomList) Kind() PacketKind { return KindRoomList }

// ConnectionJoin notifies a host that a client attached.
type ConnectionJoin struct {
	ConID       uint64
	AddressHash uint64
}

func (ConnectionJoin) Kind() PacketKind { return KindConnectionJoin }

type ConnectionClosed struct {
	ConID  uint64
	Reason CloseReason
}

func (ConnectionClosed) Kind() PacketKind { return KindConnectionClosed }

type ConnectionIdling struct{ ConID uint64 }

func (ConnectionIdling) Kind() PacketKind { return KindConnectionIdling }

// ConnectionPacketWrap is the envelope carrying one opaque game payload
// between host and client.
type ConnectionPacketWrap struct {
	ConID uint64
	IsTCP bool
	Raw   []byte
}

func (ConnectionPacketWrap) Kind() PacketKind { return KindConnectionPacketWrap }

// RawPayload is an opaque game datagram with no control-packet envelope: the
// client→host direction of ordinary game traffic before it is wrapped, or any
// payload sitting in a connection's early-packet queue.
type RawPayload struct{ Data []byte }

func (RawPayload) Kind() PacketKind { return KindRawPayload }

// Message is a short host-bound toast.
type Message struct{ Type MessageType }

func (Message) Kind() PacketKind { return KindMessage }

// StreamHead begins a split transmission of an oversized packet: a stream id, the total payload length, the payload's PacketKind tag,
// and whether the chunks that follow are compressed.
type StreamHead struct {
	StreamID    uint32
	Total       uint32
	PayloadKind PacketKind
	Compressed  bool
}

func (StreamHead) Kind() PacketKind { return KindStreamHead }

// StreamChunk carries one ordered slice of a split transmission; Last flags
// the final chunk.
type StreamChunk struct {
	StreamID uint32
	Data     []byte
	Last     bool
}

func (StreamChunk) Kind() PacketKind { return KindStreamChunk }

// Broadcast is an operator-originated free-text notice sent to every room's
// host; unlike
// Message it carries arbitrary text rather than one of the fixed reasons.
type Broadcast struct{ Text string }

func (Broadcast) Kind() PacketKind { return KindBroadcast }
