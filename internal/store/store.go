// Package store is the durable, concurrent, schema-evolving data layer for
// tags, rules, activities, settings and media-asset metadata. It is backed
// by a single-file SQLite database opened in WAL mode so that writers (the
// Monitor Loop and the façade's mutations) never block readers for longer
// than a statement.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"

	"github.com/havenwatch/tracker/internal/model"
)

// ErrStorageUnavailable is returned when the backing file cannot be
// written to (disk full, permission denied, journal corruption).
var ErrStorageUnavailable = errors.New("store: storage unavailable")

const defaultColor = "#888888"

var defaultTagColors = map[string]string{
	model.TagAway:         "#e74c3c",
	model.TagUnclassified: "#95a5a6",
	"Work":                "#2ecc71",
	"Distraction":         "#f39c12",
}

// Store wraps a *sqlx.DB with the tracker's domain operations.
type Store struct {
	db  *sqlx.DB
	log *logrus.Entry
}

// Open opens (creating if necessary) the SQLite database at path, applies
// schema migrations, seeds default tags/rules, and runs crash repair on any
// activities left open by an unclean shutdown. path may be ":memory:" for
// tests.
func Open(ctx context.Context, path string, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if path == ":memory:" {
		sqlDB.SetMaxOpenConns(1) // a second connection would open its own empty in-memory database
	} else {
		sqlDB.SetMaxOpenConns(8) // WAL lets readers run concurrently with the writer; busy_timeout above serialises writers
	}

	db := sqlx.NewDb(sqlDB, "sqlite")

	if err := Migrate(ctx, db.DB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: schema check failed on open: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.seed(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: seed failed: %w", err)
	}

	repaired, err := s.RepairOpenActivities(ctx)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: crash repair failed: %w", err)
	}
	if repaired > 0 {
		log.WithField("count", repaired).Warn("repaired activities left open by an unclean shutdown")
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// seed creates the reserved tags, two default example tags, and the
// sentinel lock/idle rules if they are not already present. Idempotent:
// presence is checked by unique name.
func (s *Store) seed(ctx context.Context) error {
	for _, name := range []string{model.TagAway, model.TagUnclassified, "Work", "Distraction"} {
		if _, err := s.ensureTagByName(ctx, name); err != nil {
			return err
		}
	}

	awayID, err := s.tagIDByName(ctx, model.TagAway)
	if err != nil {
		return err
	}

	seeded := []struct {
		name               string
		priority           int
		processNamePattern string
	}{
		{"Locked screen", 100, model.ProcessLocked},
		{"Idle", 90, model.ProcessIdle},
	}
	for _, r := range seeded {
		var exists int
		if err := s.db.GetContext(ctx, &exists, `SELECT COUNT(*) FROM rules WHERE name = ?`, r.name); err != nil {
			return err
		}
		if exists > 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO rules (id, name, priority, enabled, tag_id, process_name_pattern)
			 VALUES (?, ?, ?, 1, ?, ?)`,
			uuid.NewString(), r.name, r.priority, awayID, r.processNamePattern,
		); err != nil {
			return err
		}
	}
	return nil
}

// ensureTagByName returns the id of the tag with the given name, creating
// it with a default colour if it does not exist. Used both at seed time
// and by the RuleEngine to self-heal a deleted reserved tag.
func (s *Store) ensureTagByName(ctx context.Context, name string) (string, error) {
	id, err := s.tagIDByName(ctx, name)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	color := defaultTagColors[name]
	if color == "" {
		color = defaultColor
	}
	id = uuid.NewString()
	category := model.CategoryOther
	if name == "Work" {
		category = model.CategoryWork
	} else if name == "Distraction" {
		category = model.CategoryNonWork
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (id, name, color, category) VALUES (?, ?, ?, ?)`,
		id, name, color, category,
	); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) tagIDByName(ctx context.Context, name string) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `SELECT id FROM tags WHERE name = ?`, name)
	return id, err
}

// EnsureReservedTag creates the given reserved tag if missing and returns
// its id. Exported for the RuleEngine's self-heal path.
func (s *Store) EnsureReservedTag(ctx context.Context, name string) (string, error) {
	return s.ensureTagByName(ctx, name)
}

// EnsureTagByName returns the id of the tag with the given name, creating
// it with a default colour if it does not exist. Exported for rule
// import, which must resolve rules by tag name rather than the source
// store's tag id (a fresh destination store mints its own tag ids).
func (s *Store) EnsureTagByName(ctx context.Context, name string) (string, error) {
	return s.ensureTagByName(ctx, name)
}

// CreateActivity inserts a row with end=NULL at current wall-clock start.
func (s *Store) CreateActivity(ctx context.Context, obs model.Observation, tagID, ruleID *string) (int64, error) {
	var browserURL, browserProfile *string
	if obs.BrowserURL != "" {
		browserURL = &obs.BrowserURL
	}
	if obs.BrowserProfile != "" {
		browserProfile = &obs.BrowserProfile
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (start, process_name, window_title, browser_url, browser_profile, tag_id, rule_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), obs.ProcessName, obs.WindowTitle, browserURL, browserProfile, tagID, ruleID,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return res.LastInsertId()
}

// EndActivity sets end=now. Idempotent: a second call on an already-ended
// row is a no-op.
func (s *Store) EndActivity(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE activities SET "end" = ? WHERE id = ? AND "end" IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	return err
}

// RepairOpenActivities sets end = start + 60s for every activity still
// open (end IS NULL), and returns the number repaired.
func (s *Store) RepairOpenActivities(ctx context.Context) (int, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT id, start FROM activities WHERE "end" IS NULL`)
	if err != nil {
		return 0, err
	}
	type openRow struct {
		ID    int64
		Start string
	}
	var open []openRow
	for rows.Next() {
		var r openRow
		if err := rows.Scan(&r.ID, &r.Start); err != nil {
			rows.Close()
			return 0, err
		}
		open = append(open, r)
	}
	rows.Close()

	for _, r := range open {
		start, err := time.Parse(time.RFC3339Nano, r.Start)
		if err != nil {
			start = time.Now().UTC()
		}
		end := start.Add(60 * time.Second)
		if _, err := s.db.ExecContext(ctx, `UPDATE activities SET "end" = ? WHERE id = ?`, end.Format(time.RFC3339Nano), r.ID); err != nil {
			return 0, err
		}
	}
	return len(open), nil
}

// ListRules returns rules ordered priority DESC, ties by insertion order
// (rowid), optionally restricted to enabled rules.
func (s *Store) ListRules(ctx context.Context, enabledOnly bool) ([]model.Rule, error) {
	query := `SELECT id, name, priority, enabled, tag_id, process_name_pattern, url_pattern, title_pattern,
	                  process_path_pattern, browser_profile
	          FROM rules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY priority DESC, rowid ASC`

	var rules []model.Rule
	if err := s.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, err
	}
	return rules, nil
}

// ListTags returns every tag.
func (s *Store) ListTags(ctx context.Context) ([]model.Tag, error) {
	var tags []model.Tag
	err := s.db.SelectContext(ctx, &tags, `SELECT id, name, color, category, alert_enabled, alert_message,
	       alert_cooldown, block_enabled, block_start, block_end FROM tags ORDER BY name`)
	return tags, err
}

// GetTag returns a single tag by id.
func (s *Store) GetTag(ctx context.Context, id string) (model.Tag, error) {
	var t model.Tag
	err := s.db.GetContext(ctx, &t, `SELECT id, name, color, category, alert_enabled, alert_message,
	       alert_cooldown, block_enabled, block_start, block_end FROM tags WHERE id = ?`, id)
	return t, err
}

// UpsertTag inserts or updates a tag. Blank id creates a new uuid.
func (s *Store) UpsertTag(ctx context.Context, t model.Tag) (model.Tag, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Color == "" {
		t.Color = defaultColor
	}
	if t.AlertCooldown < 1 {
		t.AlertCooldown = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (id, name, color, category, alert_enabled, alert_message, alert_cooldown,
		                    block_enabled, block_start, block_end)
		 VALUES (?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, color=excluded.color, category=excluded.category,
		   alert_enabled=excluded.alert_enabled, alert_message=excluded.alert_message,
		   alert_cooldown=excluded.alert_cooldown, block_enabled=excluded.block_enabled,
		   block_start=excluded.block_start, block_end=excluded.block_end`,
		t.ID, t.Name, t.Color, t.Category, t.AlertEnabled, t.AlertMessage, t.AlertCooldown,
		t.BlockEnabled, t.BlockStart, t.BlockEnd,
	)
	return t, err
}

// DeleteTag removes a tag. Activities referencing it fall back to NULL via
// the ON DELETE SET NULL foreign key.
func (s *Store) DeleteTag(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	return err
}

// UpsertRule inserts or updates a rule.
func (s *Store) UpsertRule(ctx context.Context, r model.Rule) (model.Rule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (id, name, priority, enabled, tag_id, process_name_pattern, url_pattern,
		                     title_pattern, process_path_pattern, browser_profile)
		 VALUES (?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, priority=excluded.priority, enabled=excluded.enabled,
		   tag_id=excluded.tag_id, process_name_pattern=excluded.process_name_pattern,
		   url_pattern=excluded.url_pattern, title_pattern=excluded.title_pattern,
		   process_path_pattern=excluded.process_path_pattern, browser_profile=excluded.browser_profile`,
		r.ID, r.Name, r.Priority, r.Enabled, r.TagID, r.ProcessNamePattern, r.URLPattern,
		r.TitlePattern, r.ProcessPathPattern, r.BrowserProfile,
	)
	return r, err
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	return err
}

// StatsByTag sums min(end,now)-start for activities overlapping [start,end),
// grouped by tag. Open activities count up to now.
func (s *Store) StatsByTag(ctx context.Context, start, end time.Time) ([]model.TagStat, error) {
	rows, err := s.activitiesOverlapping(ctx, start, end)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]float64)
	names := make(map[string]string)
	colors := make(map[string]string)
	for _, a := range rows {
		tagID := ""
		if a.TagID != nil {
			tagID = *a.TagID
		}
		totals[tagID] += overlapSeconds(a, start, end)
	}

	tags, err := s.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		names[t.ID] = t.Name
		colors[t.ID] = t.Color
	}

	var out []model.TagStat
	for tagID, secs := range totals {
		out = append(out, model.TagStat{
			TagID:        tagID,
			TagName:      names[tagID],
			TagColor:     colors[tagID],
			TotalSeconds: secs,
		})
	}
	return out, nil
}

// HourlyStats is the same sum as StatsByTag, grouped by local hour-of-day.
func (s *Store) HourlyStats(ctx context.Context, start, end time.Time) ([]model.HourStat, error) {
	rows, err := s.activitiesOverlapping(ctx, start, end)
	if err != nil {
		return nil, err
	}

	tags, err := s.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(tags))
	for _, t := range tags {
		names[t.ID] = t.Name
	}

	type key struct {
		hour  int
		tagID string
	}
	totals := make(map[key]float64)
	for _, a := range rows {
		tagID := ""
		if a.TagID != nil {
			tagID = *a.TagID
		}
		hour := a.Start.Local().Hour()
		totals[key{hour, tagID}] += overlapSeconds(a, start, end)
	}

	out := make([]model.HourStat, 0, len(totals))
	for k, v := range totals {
		out = append(out, model.HourStat{Hour: k.hour, TagID: k.tagID, TagName: names[k.tagID], TotalSeconds: v})
	}
	return out, nil
}

func overlapSeconds(a model.Activity, windowStart, windowEnd time.Time) float64 {
	end := time.Now().UTC()
	if a.End != nil {
		end = *a.End
	}
	if end.After(windowEnd) {
		end = windowEnd
	}
	start := a.Start
	if start.Before(windowStart) {
		start = windowStart
	}
	d := end.Sub(start).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

func (s *Store) activitiesOverlapping(ctx context.Context, start, end time.Time) ([]model.Activity, error) {
	var rows []struct {
		ID          int64   `db:"id"`
		Start       string  `db:"start"`
		End         *string `db:"end"`
		ProcessName string  `db:"process_name"`
		WindowTitle string  `db:"window_title"`
		BrowserURL  *string `db:"browser_url"`
		TagID       *string `db:"tag_id"`
		RuleID      *string `db:"rule_id"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, start, "end", process_name, window_title, browser_url, tag_id, rule_id
		 FROM activities
		 WHERE start < ? AND (COALESCE("end", ?) > ?)`,
		end.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano), start.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}

	out := make([]model.Activity, 0, len(rows))
	for _, r := range rows {
		a := model.Activity{
			ID: r.ID, ProcessName: r.ProcessName, WindowTitle: r.WindowTitle,
			BrowserURL: r.BrowserURL, TagID: r.TagID, RuleID: r.RuleID,
		}
		if t, err := time.Parse(time.RFC3339Nano, r.Start); err == nil {
			a.Start = t
		}
		if r.End != nil {
			if t, err := time.Parse(time.RFC3339Nano, *r.End); err == nil {
				a.End = &t
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// Timeline returns the activity rows overlapping a given day, optionally
// restricted to a tag. The rows are not sorted.
func (s *Store) Timeline(ctx context.Context, day time.Time, tagID string) ([]model.Activity, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)
	rows, err := s.activitiesOverlapping(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if tagID == "" {
		return rows, nil
	}
	var filtered []model.Activity
	for _, a := range rows {
		if a.TagID != nil && *a.TagID == tagID {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

// GetSetting returns a setting's value, or def if unset.
func (s *Store) GetSetting(ctx context.Context, key, def string) (string, error) {
	var v string
	err := s.db.GetContext(ctx, &v, `SELECT value FROM settings WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	return v, err
}

// SetSetting upserts a setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// AllSettings returns every recognised setting, falling back to the
// documented default for keys that are unset.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	out := model.DefaultSettings()
	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT key, value FROM settings`); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// ReclassifyActivities rewrites (tag_id, rule_id) for the activities
// yielded by fetch, using classify to determine the new tag/rule. Used by
// /api/reclassify/untagged and /api/reclassify/all.
func (s *Store) ReclassifyActivities(ctx context.Context, untaggedOnly bool, classify func(model.Observation) (tagID string, ruleID *string)) (int, error) {
	query := `SELECT id, process_name, window_title, browser_url, browser_profile FROM activities`
	if untaggedOnly {
		query += ` WHERE tag_id IS NULL`
	}
	var rows []struct {
		ID             int64   `db:"id"`
		ProcessName    string  `db:"process_name"`
		WindowTitle    string  `db:"window_title"`
		BrowserURL     *string `db:"browser_url"`
		BrowserProfile *string `db:"browser_profile"`
	}
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return 0, err
	}

	n := 0
	for _, r := range rows {
		obs := model.Observation{ProcessName: r.ProcessName, WindowTitle: r.WindowTitle}
		if r.BrowserURL != nil {
			obs.BrowserURL = *r.BrowserURL
		}
		if r.BrowserProfile != nil {
			obs.BrowserProfile = *r.BrowserProfile
		}
		tagID, ruleID := classify(obs)
		if _, err := s.db.ExecContext(ctx, `UPDATE activities SET tag_id = ?, rule_id = ? WHERE id = ?`, tagID, ruleID, r.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// DB exposes the underlying handle for the backup/restore façade, which
// needs to perform a VACUUM INTO snapshot outside the domain API above.
func (s *Store) DB() *sqlx.DB { return s.db }

// ListMediaAssets returns every registered sound/image asset.
func (s *Store) ListMediaAssets(ctx context.Context, kind string) ([]model.MediaAsset, error) {
	query := `SELECT id, kind, path FROM media_assets`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY path`
	var assets []model.MediaAsset
	if err := s.db.SelectContext(ctx, &assets, query, args...); err != nil {
		return nil, err
	}
	return assets, nil
}

// UpsertMediaAsset registers (or re-points) a named sound/image asset.
func (s *Store) UpsertMediaAsset(ctx context.Context, a model.MediaAsset) (model.MediaAsset, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media_assets (id, kind, path) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, path = excluded.path`,
		a.ID, a.Kind, a.Path,
	)
	return a, err
}

// DeleteMediaAsset removes an asset registration (the underlying file is
// left untouched).
func (s *Store) DeleteMediaAsset(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM media_assets WHERE id = ?`, id)
	return err
}

// AssetPath resolves an asset id to its filesystem path, satisfying
// notify.AssetLister.
func (s *Store) AssetPath(ctx context.Context, id string) (string, error) {
	var path string
	err := s.db.GetContext(ctx, &path, `SELECT path FROM media_assets WHERE id = ?`, id)
	return path, err
}

// AssetsByKind lists asset ids of the given kind, satisfying
// notify.AssetLister.
func (s *Store) AssetsByKind(ctx context.Context, kind string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT id FROM media_assets WHERE kind = ? ORDER BY path`, kind)
	return ids, err
}
