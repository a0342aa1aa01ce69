// Package expiry derives draft expiry state from the time a draft was saved.
// Nothing here touches storage; callers pass the clock reading in.
package expiry

import "time"

const (
	// DefaultTTL is how long a draft survives after its last save.
	DefaultTTL = 12 * time.Hour

	// DefaultWarningThreshold is the remaining lifetime below which a draft is
	// shown as expiring soon.
	DefaultWarningThreshold = 2 * time.Hour
)

// ComputeExpiry returns savedAt + ttl. A non-positive ttl means DefaultTTL.
func ComputeExpiry(savedAt time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return savedAt.Add(ttl)
}

// RemainingHours is the fractional number of hours until expiresAt.
// Negative once the moment has passed.
func RemainingHours(expiresAt, now time.Time) float64 {
	return expiresAt.Sub(now).Hours()
}

// IsExpired reports whether no time remains. A draft is expired exactly at
// its expiry instant.
func IsExpired(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}

// IsExpiringSoon reports whether the draft is still live but has less than
// threshold left. A non-positive threshold means DefaultWarningThreshold.
func IsExpiringSoon(expiresAt, now time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultWarningThreshold
	}
	if IsExpired(expiresAt, now) {
		return false
	}
	return expiresAt.Sub(now) < threshold
}

// Policy bundles the TTL and warning threshold in effect.
type Policy struct {
	TTL              time.Duration
	WarningThreshold time.Duration
}

// DefaultPolicy returns the 12h/2h policy.
func DefaultPolicy() Policy {
	return Policy{TTL: DefaultTTL, WarningThreshold: DefaultWarningThreshold}
}

// State is the derived expiry view of one draft at one instant.
type State struct {
	ExpiresAt      time.Time
	RemainingHours float64
	Expired        bool
	ExpiringSoon   bool
}

// Summarize derives the expiry state of a draft saved at savedAt.
func (p Policy) Summarize(savedAt, now time.Time) State {
	expiresAt := ComputeExpiry(savedAt, p.TTL)
	return State{
		ExpiresAt:      expiresAt,
		RemainingHours: RemainingHours(expiresAt, now),
		Expired:        IsExpired(expiresAt, now),
		ExpiringSoon:   IsExpiringSoon(expiresAt, now, p.WarningThreshold),
	}
}

// Expired is a shorthand for Summarize(savedAt, now).Expired.
func (p Policy) Expired(savedAt, now time.Time) bool {
	return IsExpired(ComputeExpiry(savedAt, p.TTL), now)
}
