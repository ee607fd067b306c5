package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTagReservedIsTrueOnlyForAwayAndUnclassified(t *testing.T) {
	assert.True(t, Tag{Name: TagAway}.Reserved())
	assert.True(t, Tag{Name: TagUnclassified}.Reserved())
	assert.False(t, Tag{Name: "Work"}.Reserved())
}

func TestActivityOpenReflectsNilEnd(t *testing.T) {
	assert.True(t, Activity{End: nil}.Open())

	ended := time.Now()
	assert.False(t, Activity{End: &ended}.Open())
}

func TestDefaultSettingsCoversEveryRecognisedKey(t *testing.T) {
	defaults := DefaultSettings()
	for _, key := range []string{
		SettingAlertToastEnabled, SettingAlertSoundEnabled, SettingAlertSoundMode,
		SettingAlertSoundSelected, SettingAlertImageEnabled, SettingAlertImageMode,
		SettingAlertImageSelected, SettingPollingInterval, SettingIdleThreshold,
		SettingLogRetentionDays, SettingTargetDailyHours, SettingTargetDistractionPct,
		SettingAutostart,
	} {
		_, ok := defaults[key]
		assert.True(t, ok, "missing default for %s", key)
	}
}
