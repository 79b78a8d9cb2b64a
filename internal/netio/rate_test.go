package netio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateKeeperDisabledWhenZero(t *testing.T) {
	rk := NewRateKeeper(0, time.Second)
	for i := 0; i < 1000; i++ {
		rk.Increment()
	}
	require.False(t, rk.OverLimit())
}

func TestRateKeeperTripsOverLimit(t *testing.T) {
	rk := NewRateKeeper(10, time.Minute)
	for i := 0; i < 10; i++ {
		rk.Increment()
	}
	require.False(t, rk.OverLimit(), "exactly the limit should not trip it")
	rk.Increment()
	require.True(t, rk.OverLimit())
}

func TestRateKeeperWindowRolls(t *testing.T) {
	fakeNow := int64(0)
	restore := nowNano
	nowNano = func() int64 { return fakeNow }
	defer func() { nowNano = restore }()

	rk := NewRateKeeper(1, time.Second)
	rk.Increment()
	rk.Increment()
	require.True(t, rk.OverLimit())

	fakeNow += int64(2 * time.Second)
	require.False(t, rk.OverLimit(), "window should have rolled over")
}

func TestAddressLimiterIndependentPerAddress(t *testing.T) {
	al := NewAddressLimiter(1, time.Minute)
	require.True(t, al.Allow("1.2.3.4"))
	require.False(t, al.Allow("1.2.3.4"))
	require.True(t, al.Allow("5.6.7.8"), "a different address has its own window")
}

func TestAddressLimiterSetLimit(t *testing.T) {
	al := NewAddressLimiter(1, time.Minute)
	al.Allow("a")
	al.SetLimit(100)
	require.True(t, al.Allow("a"))
}
