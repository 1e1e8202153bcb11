package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsFresh(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		fetchedAt time.Time
		maxAge    time.Duration
		want      bool
	}{
		{"just fetched", now, time.Hour, true},
		{"inside window", now.Add(-59 * time.Minute), time.Hour, true},
		{"exactly max age", now.Add(-time.Hour), time.Hour, false},
		{"older than max age", now.Add(-2 * time.Hour), time.Hour, false},
		{"zero max age", now, 0, false},
		{"negative max age", now, -time.Minute, false},
		{"no fetch time", time.Time{}, time.Hour, false},
		{"fetched in the future", now.Add(time.Minute), time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFresh(tt.fetchedAt, now, tt.maxAge))
		})
	}
}

func TestCheckFreshness_Reason(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	result := CheckFreshness(now.Add(-90*time.Minute), now, time.Hour)
	assert.False(t, result.IsFresh)
	assert.Equal(t, 90*time.Minute, result.Age)
	assert.Contains(t, result.Reason, "older than max age")

	result = CheckFreshness(now.Add(-time.Minute), now, time.Hour)
	assert.True(t, result.IsFresh)
	assert.Contains(t, result.Reason, "within max age")
}
