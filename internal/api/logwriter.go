package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/havenwatch/tracker/internal/model"
)

// writeDailyLog renders date's StatsByTag into the daily/recent/monthly
// text summaries named in the persisted-state layout, then prunes daily
// logs older than log_retention_days. Called from the midnight cron tick
// and, redundantly but harmlessly, from the Monitor Loop's own
// date-change hook for a responsive flush.
func (s *Server) writeDailyLog(date time.Time) {
	ctx := context.Background()
	stats, err := s.store.StatsByTag(ctx, dayStart(date), dayStart(date).Add(24*time.Hour))
	if err != nil {
		s.log.WithError(err).Error("daily log: stats query failed")
		return
	}

	body := renderDailySummary(date, stats)

	dailyDir := filepath.Join(s.cfg.Logs.Dir, "daily")
	if err := os.MkdirAll(dailyDir, 0o755); err != nil {
		s.log.WithError(err).Error("daily log: mkdir failed")
		return
	}
	dailyPath := filepath.Join(dailyDir, date.Format("2006-01-02")+".log")
	if err := os.WriteFile(dailyPath, []byte(body), 0o644); err != nil {
		s.log.WithError(err).Error("daily log: write failed")
		return
	}

	if err := appendRecentLog(s.cfg.Logs.Dir, date, body); err != nil {
		s.log.WithError(err).Error("daily log: recent.log update failed")
	}
	if err := appendMonthlyLog(s.cfg.Logs.Dir, date, body); err != nil {
		s.log.WithError(err).Error("daily log: monthly log update failed")
	}

	s.pruneDailyLogs(ctx, dailyDir)
}

func renderDailySummary(date time.Time, stats []model.TagStat) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s ===\n", date.Format("2006-01-02"))
	if len(stats) == 0 {
		b.WriteString("(no activity recorded)\n")
		return b.String()
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].TotalSeconds > stats[j].TotalSeconds })
	var total float64
	for _, st := range stats {
		total += st.TotalSeconds
	}
	for _, st := range stats {
		pct := 0.0
		if total > 0 {
			pct = st.TotalSeconds / total * 100
		}
		fmt.Fprintf(&b, "%-20s %10s  (%5.1f%%)\n", st.TagName, formatDuration(st.TotalSeconds), pct)
	}
	fmt.Fprintf(&b, "total: %s\n", formatDuration(total))
	return b.String()
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%02dm", h, m)
}

func appendRecentLog(logsDir string, date time.Time, body string) error {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(logsDir, "recent.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(body + "\n")
	return err
}

func appendMonthlyLog(logsDir string, date time.Time, body string) error {
	dir := filepath.Join(logsDir, "monthly")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, date.Format("2006-01")+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(body + "\n")
	return err
}

// pruneDailyLogs deletes daily log files older than log_retention_days.
func (s *Server) pruneDailyLogs(ctx context.Context, dailyDir string) {
	raw, err := s.store.GetSetting(ctx, model.SettingLogRetentionDays, "30")
	if err != nil {
		return
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return
	}
	cutoff := time.Now().Local().AddDate(0, 0, -days)

	entries, err := os.ReadDir(dailyDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".log")
		t, err := time.ParseInLocation("2006-01-02", name, time.Local)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			os.Remove(filepath.Join(dailyDir, e.Name()))
		}
	}
}
