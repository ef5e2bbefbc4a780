package realtime

import "time"

// ReconnectDelay returns min(base * 2^attempt, max).
func ReconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if base >= max {
		return max
	}
	delay := base
	for i := 0; i < attempt; i++ {
		if delay > max/2 {
			return max
		}
		delay *= 2
	}
	return delay
}

// Timer is the subset of *time.Timer the transport needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
