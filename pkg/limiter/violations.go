package limiter

import (
	"sync"
	"time"
)

// Violation is one recorded limiter rejection.
type Violation struct {
	Reason     string
	Message    string
	OccurredAt time.Time
}

// ViolationLog retains recent limiter rejections per user with a bounded
// capacity per key and a TTL sweep, so the log cannot grow without limit.
// State is constructor-injected and owned by one instance; there is no
// package-level singleton.
type ViolationLog struct {
	mu         sync.Mutex
	entries    map[string][]Violation
	maxPerUser int
	ttl        time.Duration
	now        func() time.Time
}

// NewViolationLog creates a log keeping at most maxPerUser entries per
// user, each expiring after ttl.
func NewViolationLog(maxPerUser int, ttl time.Duration) *ViolationLog {
	if maxPerUser <= 0 {
		maxPerUser = 50
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ViolationLog{
		entries:    make(map[string][]Violation),
		maxPerUser: maxPerUser,
		ttl:        ttl,
		now:        time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (v *ViolationLog) SetClock(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
}

// Record appends a violation, evicting expired entries and the oldest
// entry beyond the per-user capacity.
func (v *ViolationLog) Record(userID, reason, message string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	kept := v.pruneLocked(userID, now)
	kept = append(kept, Violation{Reason: reason, Message: message, OccurredAt: now})
	if len(kept) > v.maxPerUser {
		kept = kept[len(kept)-v.maxPerUser:]
	}
	v.entries[userID] = kept
}

// Recent returns the unexpired violations for a user, oldest first.
func (v *ViolationLog) Recent(userID string) []Violation {
	v.mu.Lock()
	defer v.mu.Unlock()

	kept := v.pruneLocked(userID, v.now())
	if len(kept) == 0 {
		delete(v.entries, userID)
		return nil
	}
	v.entries[userID] = kept
	out := make([]Violation, len(kept))
	copy(out, kept)
	return out
}

// pruneLocked drops entries older than the TTL. Caller holds the mutex.
func (v *ViolationLog) pruneLocked(userID string, now time.Time) []Violation {
	existing := v.entries[userID]
	kept := existing[:0]
	for _, entry := range existing {
		if now.Sub(entry.OccurredAt) <= v.ttl {
			kept = append(kept, entry)
		}
	}
	return kept
}
