package focus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenwatch/tracker/internal/model"
)

type fakeTagLister struct {
	tags      []model.Tag
	upserted  []model.Tag
	listErr   error
	upsertErr error
}

func (f *fakeTagLister) ListTags(ctx context.Context) ([]model.Tag, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tags, nil
}

func (f *fakeTagLister) UpsertTag(ctx context.Context, t model.Tag) (model.Tag, error) {
	if f.upsertErr != nil {
		return model.Tag{}, f.upsertErr
	}
	f.upserted = append(f.upserted, t)
	return t, nil
}

func TestWindowContainsHandlesWrapAroundMidnight(t *testing.T) {
	w := window{startMin: 22 * 60, endMin: 2 * 60} // 22:00 - 02:00
	assert.True(t, w.contains(23*60))
	assert.True(t, w.contains(1*60))
	assert.False(t, w.contains(12*60))
}

func TestWindowContainsNonWrapping(t *testing.T) {
	w := window{startMin: 9 * 60, endMin: 17 * 60}
	assert.True(t, w.contains(12*60))
	assert.False(t, w.contains(8*60))
	assert.False(t, w.contains(17 * 60))
}

func TestReloadSkipsTagsWithoutBlockTimes(t *testing.T) {
	store := &fakeTagLister{tags: []model.Tag{
		{ID: "t1", Name: "distraction", BlockEnabled: true},
	}}
	e, err := New(context.Background(), store, nil)
	require.NoError(t, err)
	assert.False(t, e.IsBlocked("t1"))
}

func TestReloadSkipsTagsWithUnparsableTimes(t *testing.T) {
	store := &fakeTagLister{tags: []model.Tag{
		{ID: "t1", Name: "distraction", BlockEnabled: true, BlockStart: "garbage", BlockEnd: "17:00"},
	}}
	e, err := New(context.Background(), store, nil)
	require.NoError(t, err)
	assert.False(t, e.IsBlocked("t1"))
}

func TestIsBlockedTrueForAllDayWindow(t *testing.T) {
	store := &fakeTagLister{tags: []model.Tag{
		{ID: "t1", Name: "distraction", BlockEnabled: true, BlockStart: "00:00", BlockEnd: "23:59"},
	}}
	e, err := New(context.Background(), store, nil)
	require.NoError(t, err)
	assert.True(t, e.IsBlocked("t1"))
	assert.False(t, e.IsBlocked("unknown-tag"))
}

func TestConsiderSkipsNeverBlockProcesses(t *testing.T) {
	store := &fakeTagLister{tags: []model.Tag{
		{ID: "t1", Name: "distraction", BlockEnabled: true, BlockStart: "00:00", BlockEnd: "23:59"},
	}}
	e, err := New(context.Background(), store, nil)
	require.NoError(t, err)

	// Never-block process: Consider must not panic or attempt to minimise.
	e.Consider("t1", "tracker", 0)
	e.Consider("t1", "dlv", 0)
}

func TestEmergencyResetRejectsShortReason(t *testing.T) {
	store := &fakeTagLister{}
	err := EmergencyReset(context.Background(), store, "too short", nil)
	assert.Error(t, err)
	assert.Empty(t, store.upserted)
}

func TestEmergencyResetClearsOnlyBlockedTags(t *testing.T) {
	store := &fakeTagLister{tags: []model.Tag{
		{ID: "t1", Name: "distraction", BlockEnabled: true, BlockStart: "00:00", BlockEnd: "23:59"},
		{ID: "t2", Name: "work", BlockEnabled: false},
	}}
	err := EmergencyReset(context.Background(), store, "accidentally blocked myself", nil)
	require.NoError(t, err)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, "t1", store.upserted[0].ID)
	assert.False(t, store.upserted[0].BlockEnabled)
}
