package transport

import "time"

// ReconnectDelay returns the wait before the reconnect attempt that follows
// `attempt` consecutive failures: min(base * 2^attempt, maxDelay).
func ReconnectDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}
