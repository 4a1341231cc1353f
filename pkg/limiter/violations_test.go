package limiter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViolationLogKeepsRecentEntries(t *testing.T) {
	log := NewViolationLog(10, time.Hour)

	log.Record("user-1", ReasonDailyCap, "over the cap")
	log.Record("user-1", ReasonAllowlist, "unknown counterparty")

	recent := log.Recent("user-1")
	require.Len(t, recent, 2)
	assert.Equal(t, ReasonDailyCap, recent[0].Reason)
	assert.Equal(t, ReasonAllowlist, recent[1].Reason)

	assert.Empty(t, log.Recent("user-2"))
}

func TestViolationLogFIFOCapPerUser(t *testing.T) {
	log := NewViolationLog(3, time.Hour)

	for i := 0; i < 10; i++ {
		log.Record("user-1", ReasonDailyCap, fmt.Sprintf("violation %d", i))
	}

	recent := log.Recent("user-1")
	require.Len(t, recent, 3)
	// Oldest entries are dropped first
	assert.Equal(t, "violation 7", recent[0].Message)
	assert.Equal(t, "violation 9", recent[2].Message)
}

func TestViolationLogTTLExpiry(t *testing.T) {
	log := NewViolationLog(10, time.Minute)

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	current := base
	log.SetClock(func() time.Time { return current })

	log.Record("user-1", ReasonDailyCap, "old violation")

	current = base.Add(30 * time.Second)
	log.Record("user-1", ReasonAllowlist, "newer violation")
	require.Len(t, log.Recent("user-1"), 2)

	// Past the TTL only the newer entry survives
	current = base.Add(70 * time.Second)
	recent := log.Recent("user-1")
	require.Len(t, recent, 1)
	assert.Equal(t, "newer violation", recent[0].Message)
}

func TestViolationLogUsersAreIndependent(t *testing.T) {
	log := NewViolationLog(2, time.Hour)

	log.Record("user-1", ReasonDailyCap, "a")
	log.Record("user-1", ReasonDailyCap, "b")
	log.Record("user-1", ReasonDailyCap, "c")
	log.Record("user-2", ReasonAllowlist, "d")

	assert.Len(t, log.Recent("user-1"), 2)
	assert.Len(t, log.Recent("user-2"), 1)
}
