package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenwatch/tracker/internal/model"
)

type fakeSettingsReader struct {
	tags     map[string]model.Tag
	settings map[string]string
}

func (f *fakeSettingsReader) GetTag(ctx context.Context, id string) (model.Tag, error) {
	t, ok := f.tags[id]
	if !ok {
		return model.Tag{}, assert.AnError
	}
	return t, nil
}

func (f *fakeSettingsReader) AllSettings(ctx context.Context) (map[string]string, error) {
	return f.settings, nil
}

type fakeAssetLister struct {
	byKind map[string][]string
	paths  map[string]string
}

func (f *fakeAssetLister) AssetPath(ctx context.Context, id string) (string, error) {
	p, ok := f.paths[id]
	if !ok {
		return "", assert.AnError
	}
	return p, nil
}

func (f *fakeAssetLister) AssetsByKind(ctx context.Context, kind string) ([]string, error) {
	return f.byKind[kind], nil
}

type fakePlayer struct {
	played []string
	beeps  int
}

func (p *fakePlayer) Play(path string) error {
	p.played = append(p.played, path)
	return nil
}

func (p *fakePlayer) Beep() error {
	p.beeps++
	return nil
}

func baseSettings() map[string]string {
	s := model.DefaultSettings()
	s[model.SettingAlertToastEnabled] = "0" // keep tests headless
	s[model.SettingAlertSoundEnabled] = "1"
	return s
}

func TestMaybeSkipsReservedTags(t *testing.T) {
	store := &fakeSettingsReader{
		tags:     map[string]model.Tag{"away": {ID: "away", Name: model.TagAway, AlertEnabled: true}},
		settings: baseSettings(),
	}
	player := &fakePlayer{}
	n := New(store, &fakeAssetLister{}, player, nil)

	n.Maybe(context.Background(), "away")
	assert.Empty(t, player.played)
	assert.Zero(t, player.beeps)
}

func TestMaybeSkipsTagsWithoutAlertEnabled(t *testing.T) {
	store := &fakeSettingsReader{
		tags:     map[string]model.Tag{"t1": {ID: "t1", Name: "Distraction", AlertEnabled: false}},
		settings: baseSettings(),
	}
	player := &fakePlayer{}
	n := New(store, &fakeAssetLister{}, player, nil)

	n.Maybe(context.Background(), "t1")
	assert.Zero(t, player.beeps)
}

func TestMaybeRespectsCooldown(t *testing.T) {
	store := &fakeSettingsReader{
		tags:     map[string]model.Tag{"t1": {ID: "t1", Name: "Distraction", AlertEnabled: true, AlertCooldown: 3600}},
		settings: baseSettings(),
	}
	player := &fakePlayer{}
	n := New(store, &fakeAssetLister{}, player, nil)

	n.Maybe(context.Background(), "t1")
	firstBeeps := player.beeps
	require.Equal(t, 1, firstBeeps)

	n.Maybe(context.Background(), "t1")
	assert.Equal(t, firstBeeps, player.beeps, "second call within cooldown must not re-fire")
}

func TestMaybePlaysSelectedSingleModeSound(t *testing.T) {
	store := &fakeSettingsReader{
		tags: map[string]model.Tag{"t1": {ID: "t1", Name: "Distraction", AlertEnabled: true, AlertCooldown: 1}},
		settings: func() map[string]string {
			s := baseSettings()
			s[model.SettingAlertSoundMode] = "single"
			s[model.SettingAlertSoundSelected] = "ding"
			return s
		}(),
	}
	assets := &fakeAssetLister{paths: map[string]string{"ding": "/sounds/ding.wav"}}
	player := &fakePlayer{}
	n := New(store, assets, player, nil)

	n.Maybe(context.Background(), "t1")
	require.Len(t, player.played, 1)
	assert.Equal(t, "/sounds/ding.wav", player.played[0])
}

func TestPickRandomSoundNeverRepeatsImmediatePrevious(t *testing.T) {
	assets := &fakeAssetLister{
		byKind: map[string][]string{"sound": {"a", "b"}},
		paths:  map[string]string{"a": "/a.wav", "b": "/b.wav"},
	}
	n := New(&fakeSettingsReader{settings: baseSettings()}, assets, &fakePlayer{}, nil)

	first := n.pickRandomSound(context.Background())
	for i := 0; i < 20; i++ {
		next := n.pickRandomSound(context.Background())
		assert.NotEqual(t, first, next, "must never repeat the immediately previous pick with >=2 assets")
		first = next
	}
}

func TestMaybeFallsBackToBeepWhenAssetMissing(t *testing.T) {
	store := &fakeSettingsReader{
		tags: map[string]model.Tag{"t1": {ID: "t1", Name: "Distraction", AlertEnabled: true, AlertCooldown: 1}},
		settings: func() map[string]string {
			s := baseSettings()
			s[model.SettingAlertSoundMode] = "single"
			s[model.SettingAlertSoundSelected] = "missing"
			return s
		}(),
	}
	player := &fakePlayer{}
	n := New(store, &fakeAssetLister{}, player, nil)

	n.Maybe(context.Background(), "t1")
	assert.Equal(t, 1, player.beeps)
	assert.Empty(t, player.played)
}
