package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectDelay(t *testing.T) {
	base, max := time.Second, 30*time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{9, 30 * time.Second},
		{200, 30 * time.Second},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, ReconnectDelay(tc.attempt, base, max), "attempt %d", tc.attempt)
	}
}

func TestReconnectDelayDegenerateInputs(t *testing.T) {
	assert.Zero(t, ReconnectDelay(3, 0, time.Second))
	assert.Equal(t, time.Second, ReconnectDelay(0, 5*time.Second, time.Second))
}
