package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectorBacksOffExponentially(t *testing.T) {
	r := newReconnector(time.Second, 30*time.Second, 0)

	first := r.nextDelay()
	second := r.nextDelay()
	third := r.nextDelay()

	// Jitter adds at most half the base delay on top of the exponential curve.
	assert.GreaterOrEqual(t, first, time.Second)
	assert.Less(t, first, 1500*time.Millisecond)
	assert.GreaterOrEqual(t, second, 2*time.Second)
	assert.Less(t, second, 2500*time.Millisecond)
	assert.GreaterOrEqual(t, third, 4*time.Second)
	assert.Less(t, third, 4500*time.Millisecond)
}

func TestReconnectorCapsAtMaxDelay(t *testing.T) {
	r := newReconnector(time.Second, 5*time.Second, 0)

	var last time.Duration
	for i := 0; i < 10; i++ {
		last = r.nextDelay()
	}
	assert.Equal(t, 5*time.Second, last)
}

func TestReconnectorAttemptLimit(t *testing.T) {
	r := newReconnector(time.Second, 30*time.Second, 2)

	assert.True(t, r.shouldReconnect())
	r.nextDelay()
	assert.True(t, r.shouldReconnect())
	r.nextDelay()
	assert.False(t, r.shouldReconnect())

	unlimited := newReconnector(time.Second, 30*time.Second, 0)
	for i := 0; i < 100; i++ {
		unlimited.nextDelay()
	}
	assert.True(t, unlimited.shouldReconnect())
}

func TestReconnectorResetsAfterStableConnection(t *testing.T) {
	r := newReconnector(time.Second, 30*time.Second, 0)
	for i := 0; i < 5; i++ {
		r.nextDelay()
	}

	// A connection that held for over a minute resets the climb.
	r.markConnected()
	r.connectedAt = time.Now().Add(-2 * time.Minute)

	delay := r.nextDelay()
	assert.Less(t, delay, 1500*time.Millisecond)
}

func TestReconnectorReset(t *testing.T) {
	r := newReconnector(time.Second, 30*time.Second, 3)
	r.nextDelay()
	r.nextDelay()
	r.nextDelay()
	assert.False(t, r.shouldReconnect())

	r.reset()
	assert.True(t, r.shouldReconnect())
	assert.Less(t, r.nextDelay(), 1500*time.Millisecond)
}
