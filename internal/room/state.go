package room

import (
	"time"

	"github.com/pkg/errors"

	"github.com/xpdustry/claj/internal/netio"
	"github.com/xpdustry/claj/internal/wire"
)

// ErrStateTooLarge is returned by SetState when the payload exceeds the
// room's MaxStateSize.
var ErrStateTooLarge = errors.New("room: state exceeds the configured size cap")

// SetConfiguration atomically updates the room's public/protected/password/
// can-request-state flags and notifies the listing cache.
func (r *Room) SetConfiguration(isPublic, isProtected bool, password uint16, canRequestState bool) {
	r.mu.Lock()
	r.isPublic = isPublic
	r.isProtected = isProtected
	r.password = password
	r.canRequestState = canRequestState
	r.mu.Unlock()

	r.events.OnConfigChanged(r)
}

// SetState stores a new state snapshot from the host, clearing
// requestingState so a fresh RequestState call is possible again.
func (r *Room) SetState(rawState []byte) error {
	if r.cfg.MaxStateSize > 0 && len(rawState) > r.cfg.MaxStateSize {
		return ErrStateTooLarge
	}
	r.mu.Lock()
	r.rawState = rawState
	r.requestingState = false
	r.lastStateReceived = time.Now()
	r.mu.Unlock()

	r.events.OnStateChanged(r)
	return nil
}

// RequestState asks the host for a fresh state snapshot, provided one is not
// already in flight and either none was ever requested or the previous
// request has aged past StateTimeout. An unanswered request older than
// StateTimeout no longer counts as in flight. It reports whether a
// request was actually sent.
func (r *Room) RequestState(now time.Time) bool {
	r.mu.Lock()
	if r.requestingState && now.Sub(r.lastStateRequested) < r.cfg.StateTimeout {
		r.mu.Unlock()
		return false
	}
	if !r.lastStateRequested.IsZero() && now.Sub(r.lastStateRequested) < r.cfg.StateTimeout {
		r.mu.Unlock()
		return false
	}
	r.requestingState = true
	r.lastStateRequested = now
	host := r.host
	r.mu.Unlock()

	if host == nil {
		return false
	}
	_ = r.sender.SendPacket(host, true, wire.RoomStateRequest{})
	return true
}

// IsStateOutdated reports whether the cached state is old enough that a
// listing-cache refresh should request a fresh one.
func (r *Room) IsStateOutdated(now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastStateReceived.IsZero() {
		return true
	}
	return now.Sub(r.lastStateReceived) >= r.cfg.StateLifetime
}

// IsStateRequestTimedOut reports whether this room is *not* currently
// blocking on an in-flight state request — either none is outstanding, or
// the outstanding one is old enough that a new one may be issued.
func (r *Room) IsStateRequestTimedOut(now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.requestingState {
		return true
	}
	return now.Sub(r.lastStateRequested) >= r.cfg.StateTimeout
}

// SendRoomState sends an info packet describing this room to c: oversized state is transparently stream-split by the
// Sender. If the room is not public, State is omitted.
func (r *Room) SendRoomState(c *netio.Connection) error {
	r.mu.RLock()
	info := wire.RoomInfo{
		RoomID:      r.ID,
		IsProtected: r.isProtected,
		Type:        r.Type,
	}
	if r.isPublic {
		info.State = r.rawState
	}
	r.mu.RUnlock()
	return r.sender.SendPacket(c, true, info)
}

// BuildRoomListEntry returns the (state, isProtected) pair the listing cache
// stores for this room, and whether the room is currently eligible for
// listing at all (public and non-null type).
func (r *Room) BuildRoomListEntry() (state []byte, protected bool, listable bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.isPublic || r.Type.IsNull() {
		return nil, false, false
	}
	return r.rawState, r.isProtected, true
}
