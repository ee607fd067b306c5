package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/havenwatch/tracker/internal/model"
)

func TestGetReturnsZeroValueBeforeAnySet(t *testing.T) {
	c := NewCache()
	snap := c.Get()
	assert.Zero(t, snap.ActivityID)
	assert.Empty(t, snap.TagID)
	assert.False(t, snap.Paused)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	c := NewCache()
	now := time.Now()
	c.Set(Snapshot{
		Observation: model.Observation{ProcessName: "code", WindowTitle: "main.go"},
		TagID:       "work",
		TagName:     "Work",
		RuleID:      "r1",
		ActivityID:  7,
		Since:       now,
	})

	got := c.Get()
	assert.Equal(t, "code", got.Observation.ProcessName)
	assert.Equal(t, "work", got.TagID)
	assert.Equal(t, "Work", got.TagName)
	assert.Equal(t, "r1", got.RuleID)
	assert.Equal(t, int64(7), got.ActivityID)
	assert.True(t, got.Since.Equal(now))
}

func TestSetPausedOnlyTouchesPausedFlag(t *testing.T) {
	c := NewCache()
	c.Set(Snapshot{TagID: "work", ActivityID: 3})

	c.SetPaused(true)
	got := c.Get()
	assert.True(t, got.Paused)
	assert.Equal(t, "work", got.TagID)
	assert.Equal(t, int64(3), got.ActivityID)

	c.SetPaused(false)
	assert.False(t, c.Get().Paused)
}

func TestLatestSetWins(t *testing.T) {
	c := NewCache()
	c.Set(Snapshot{TagID: "first"})
	c.Set(Snapshot{TagID: "second"})
	assert.Equal(t, "second", c.Get().TagID)
}
