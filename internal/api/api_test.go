package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenwatch/tracker/internal/config"
	"github.com/havenwatch/tracker/internal/focus"
	"github.com/havenwatch/tracker/internal/live"
	"github.com/havenwatch/tracker/internal/model"
	"github.com/havenwatch/tracker/internal/notify"
	"github.com/havenwatch/tracker/internal/rules"
	"github.com/havenwatch/tracker/internal/store"
	"github.com/havenwatch/tracker/internal/ws"
)

type fakeMonitorControl struct {
	paused         bool
	closeRequested bool
	closeOK        bool
}

func (f *fakeMonitorControl) Pause()  { f.paused = true }
func (f *fakeMonitorControl) Resume() { f.paused = false }
func (f *fakeMonitorControl) RequestDbClose(ctx context.Context, timeout time.Duration) bool {
	f.closeRequested = true
	return f.closeOK
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	engine, err := rules.New(ctx, st, nil)
	require.NoError(t, err)
	enforcer, err := focus.New(ctx, st, nil)
	require.NoError(t, err)
	notifier := notify.New(st, st, nil, nil)

	cfg := &config.Config{Store: config.StoreConfig{Path: t.TempDir() + "/activity_tracker.db"}}
	cache := live.NewCache()
	broadcaster := ws.NewBroadcaster(0, nil)
	mon := &fakeMonitorControl{}

	s := NewServer(cfg, st, engine, enforcer, notifier, mon, cache, broadcaster, nil)
	return s, st
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleListTagsReturnsSeededReservedTags(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/tags/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tags []model.Tag
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tags))
	assert.NotEmpty(t, tags)
}

func TestHandleCreateTagThenGetByID(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/tags/", model.Tag{Name: "Reading"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.Tag
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)

	rec = doRequest(t, s, http.MethodGet, "/api/tags/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGetTagReturns404ForUnknownID(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/tags/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCreateTagRejectsMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/tags/", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePutSettingsRejectsUnrecognisedKey(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPut, "/api/settings", map[string]string{"not_a_real_setting": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePutSettingsPersistsRecognisedKey(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPut, "/api/settings", map[string]string{
		model.SettingPollingInterval: "7",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var settings map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settings))
	assert.Equal(t, "7", settings[model.SettingPollingInterval])
}

func TestHandleCreateRuleThenListIncludesIt(t *testing.T) {
	s, st := newTestServer(t)
	tag, err := st.UpsertTag(context.Background(), model.Tag{Name: "Coding"})
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodPost, "/api/rules/", model.Rule{
		Name: "editors", TagID: tag.ID, ProcessNamePattern: "code*", Priority: 10, Enabled: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/rules/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rulesOut []model.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rulesOut))

	var found bool
	for _, r := range rulesOut {
		if r.Name == "editors" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHandleDeleteTagReturnsNoContent(t *testing.T) {
	s, st := newTestServer(t)
	tag, err := st.UpsertTag(context.Background(), model.Tag{Name: "Temp"})
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodDelete, "/api/tags/"+tag.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleGetFocusReturnsOK(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/focus", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleEmergencyResetRejectsShortReason(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/focus/emergency-reset", map[string]string{"reason": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRulesExportIncludesTagName(t *testing.T) {
	s, st := newTestServer(t)
	tag, err := st.UpsertTag(context.Background(), model.Tag{Name: "Coding"})
	require.NoError(t, err)
	_, err = st.UpsertRule(context.Background(), model.Rule{
		Name: "editors", TagID: tag.ID, ProcessNamePattern: "code*", Priority: 10, Enabled: true,
	})
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodGet, "/api/data/rules/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var exported rulesExport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exported))
	// The two seeded sentinel rules are exported alongside "editors".
	require.Len(t, exported.Rules, 3)
	var editorsTagName string
	for _, r := range exported.Rules {
		if r.Name == "editors" {
			editorsTagName = r.TagName
		}
	}
	assert.Equal(t, "Coding", editorsTagName)
}

// TestHandleRulesImportResolvesTagByNameOnAFreshStore exercises the export
// → import round trip into a *different* store instance, where the
// source store's tag_id is meaningless: import must resolve (and create)
// the tag by name instead of reusing the foreign id.
func TestHandleRulesImportResolvesTagByNameOnAFreshStore(t *testing.T) {
	source, sourceStore := newTestServer(t)
	tag, err := sourceStore.UpsertTag(context.Background(), model.Tag{Name: "Deep Work"})
	require.NoError(t, err)
	_, err = sourceStore.UpsertRule(context.Background(), model.Rule{
		Name: "editors", TagID: tag.ID, ProcessNamePattern: "code*", Priority: 10, Enabled: true,
	})
	require.NoError(t, err)

	rec := doRequest(t, source, http.MethodGet, "/api/data/rules/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exportBody := rec.Body.Bytes()

	dest, destStore := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/data/rules/import?merge_mode=true", bytes.NewReader(exportBody))
	rec = httptest.NewRecorder()
	dest.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rules, err := destStore.ListRules(context.Background(), false)
	require.NoError(t, err)
	var imported *model.Rule
	for i := range rules {
		if rules[i].Name == "editors" {
			imported = &rules[i]
		}
	}
	require.NotNil(t, imported)

	destTag, err := destStore.GetTag(context.Background(), imported.TagID)
	require.NoError(t, err)
	assert.Equal(t, "Deep Work", destTag.Name)
}

func TestHandleListTagsReturns500OnClosedStore(t *testing.T) {
	s, st := newTestServer(t)
	st.Close() // force a downstream store error deterministically
	rec := doRequest(t, s, http.MethodGet, "/api/tags/", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleDashboardDailyRejectsInvalidDate(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/dashboard/daily?date=not-a-date", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDashboardDailyReturnsEmptyTotalsWithNoActivity(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/dashboard/daily?date=2026-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dailyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026-01-01", resp.Date)
	assert.Equal(t, 0, resp.ActivityCount)
}

func TestHandleDashboardDailyIncludesTopProcesses(t *testing.T) {
	s, st := newTestServer(t)
	today := time.Now().Format("2006-01-02")
	_, err := st.CreateActivity(context.Background(), model.Observation{ProcessName: "code"}, nil, nil)
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodGet, "/api/dashboard/daily?date="+today, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dailyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.TopProcesses, 1)
	assert.Equal(t, "code", resp.TopProcesses[0].ProcessName)
}

func TestHandleDashboardPeriodRejectsEndBeforeStart(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet,
		"/api/dashboard/period?start=2026-01-02T00:00:00Z&end=2026-01-01T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDashboardHourlyReturns24Buckets(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/dashboard/hourly?date=2026-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp hourlyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026-01-01", resp.Date)
	assert.Len(t, resp.Buckets, 24)
}

func TestHandleTimelineRejectsInvalidDate(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/timeline?date=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTimelineFiltersByTagID(t *testing.T) {
	s, st := newTestServer(t)
	tag, err := st.UpsertTag(context.Background(), model.Tag{Name: "Coding"})
	require.NoError(t, err)
	_, err = st.CreateActivity(context.Background(), model.Observation{ProcessName: "code"}, &tag.ID, nil)
	require.NoError(t, err)

	today := time.Now().Format("2006-01-02")
	rec := doRequest(t, s, http.MethodGet, "/api/timeline?date="+today+"&tag_id="+tag.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var activities []model.Activity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &activities))
	require.Len(t, activities, 1)
	require.NotNil(t, activities[0].TagID)
	assert.Equal(t, tag.ID, *activities[0].TagID)
}

func TestHandleReclassifyUntaggedClassifiesOnlyUntagged(t *testing.T) {
	s, st := newTestServer(t)
	_, err := st.CreateActivity(context.Background(), model.Observation{ProcessName: "code"}, nil, nil)
	require.NoError(t, err)
	tag, err := st.UpsertTag(context.Background(), model.Tag{Name: "Coding"})
	require.NoError(t, err)
	_, err = st.CreateActivity(context.Background(), model.Observation{ProcessName: "vim"}, &tag.ID, nil)
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodPost, "/api/reclassify/untagged", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp reclassifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Reclassified)
}

func TestExtractDomainStripsWWWAndTolerates(t *testing.T) {
	assert.Equal(t, "example.com", extractDomain("https://www.example.com/path"))
	assert.Equal(t, "example.com", extractDomain("example.com/path"))
	assert.Equal(t, "", extractDomain(""))
}
