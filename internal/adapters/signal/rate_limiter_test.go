package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChatRateLimiter(t *testing.T) {
	rl := NewChatRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("u1"), "attempt %d within limit", i)
	}
	assert.False(t, rl.Allow("u1"), "fourth attempt inside window is blocked")
	assert.True(t, rl.Allow("u2"), "limits are per user")
}

func TestChatRateLimiter_WindowExpires(t *testing.T) {
	rl := NewChatRateLimiter(1, 10*time.Millisecond)

	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))

	time.Sleep(15 * time.Millisecond)
	assert.True(t, rl.Allow("u1"), "window slid past the old attempt")
}
