package demo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveWindowAdvancesAfterHoldTicksExhausted(t *testing.T) {
	s := newSourceWithScenarios([]scenario{
		{processName: "code", title: "editor", holdTicks: 2},
		{processName: "chrome", title: "browser", holdTicks: 1},
	})

	w1, err := s.ActiveWindow()
	require.NoError(t, err)
	assert.Equal(t, "code", w1.ProcessName)

	w2, err := s.ActiveWindow()
	require.NoError(t, err)
	assert.Equal(t, "code", w2.ProcessName)

	w3, err := s.ActiveWindow()
	require.NoError(t, err)
	assert.Equal(t, "chrome", w3.ProcessName)

	w4, err := s.ActiveWindow()
	require.NoError(t, err)
	assert.Equal(t, "code", w4.ProcessName, "rotation should wrap back to the first scenario")
}

func TestSourceNeverReportsLockedOrIdle(t *testing.T) {
	s := NewSource()
	assert.False(t, s.IsLocked())
	assert.Zero(t, s.IdleSeconds())
}
