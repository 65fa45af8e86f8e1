package utils

import "time"

// Now is swappable so expiry logic can be tested against fixed clocks.
var Now = time.Now

// IsExpired reports whether timestamp is older than ttl.
func IsExpired(timestamp time.Time, ttl time.Duration) bool {
	return Now().Sub(timestamp) > ttl
}

// Since returns time since t using the mockable clock.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}
