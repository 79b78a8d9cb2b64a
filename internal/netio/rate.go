package netio

import (
	"sync"
	"sync/atomic"
	"time"
)

// RateKeeper is a per-source windowed packet counter. It uses a fixed window that resets wholesale once it elapses
// rather than a true sliding log, in the spirit of SagerNet-smux's atomic
// token `bucket`: cheap, lock-free, and fine to be off by a packet or two
// under race.
type RateKeeper struct {
	limit  int32 // 0 disables the limiter
	window int64 // nanoseconds

	count       atomic.Int32
	windowStart atomic.Int64
}

// NewRateKeeper builds a keeper. limit<=0 disables limiting entirely (always
// reports OverLimit()==false).
func NewRateKeeper(limit int, window time.Duration) *RateKeeper {
	rk := &RateKeeper{limit: int32(limit), window: int64(window)}
	rk.windowStart.Store(nowNano())
	return rk
}

var nowNano = func() int64 { return time.Now().UnixNano() }

// Increment records one packet and rolls the window over if it has elapsed.
func (rk *RateKeeper) Increment() {
	rk.rollIfExpired()
	rk.count.Add(1)
}

func (rk *RateKeeper) rollIfExpired() {
	start := rk.windowStart.Load()
	now := nowNano()
	if now-start >= rk.window {
		if rk.windowStart.CompareAndSwap(start, now) {
			rk.count.Store(0)
		}
	}
}

// OverLimit reports whether the current window's count exceeds the limit.
func (rk *RateKeeper) OverLimit() bool {
	if rk.limit <= 0 {
		return false
	}
	rk.rollIfExpired()
	return rk.count.Load() > rk.limit
}

// Count returns the current window's packet count, for status reporting.
func (rk *RateKeeper) Count() int32 { return rk.count.Load() }

// SetLimit changes the limit applied on the next check, for the operator
// surface's "mutate numeric limits" command.
func (rk *RateKeeper) SetLimit(limit int) { atomic.StoreInt32(&rk.limit, int32(limit)) }

// AddressLimiter tracks one RateKeeper per remote address for a single kind
// of request (join, info or list — this implementation keeps those three
// windows independent, one AddressLimiter each). Entries are created lazily
// and reclaimed by Sweep.
type AddressLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	keepers map[string]*RateKeeper
}

func NewAddressLimiter(limit int, window time.Duration) *AddressLimiter {
	return &AddressLimiter{limit: limit, window: window, keepers: make(map[string]*RateKeeper)}
}

// Allow records one attempt from addr and reports whether it is within the
// configured rate.
func (a *AddressLimiter) Allow(addr string) bool {
	a.mu.Lock()
	rk, ok := a.keepers[addr]
	if !ok {
		rk = NewRateKeeper(a.limit, a.window)
		a.keepers[addr] = rk
	}
	a.mu.Unlock()

	rk.Increment()
	return !rk.OverLimit()
}

// SetLimit updates the limit applied to every keeper, existing and future,
// for the operator surface's "mutate numeric limits" command.
func (a *AddressLimiter) SetLimit(limit int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limit = limit
	for _, rk := range a.keepers {
		atomic.StoreInt32(&rk.limit, int32(limit))
	}
}

// Sweep drops keepers that have been idle for longer than maxAge, bounding
// the map's growth under a long-lived process with high address churn.
func (a *AddressLimiter) Sweep(maxAge time.Duration) {
	cutoff := nowNano() - int64(maxAge)
	a.mu.Lock()
	defer a.mu.Unlock()
	for addr, rk := range a.keepers {
		if rk.windowStart.Load() < cutoff {
			delete(a.keepers, addr)
		}
	}
}
