package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/havenwatch/tracker/internal/model"
)

type dailyResponse struct {
	Date           string             `json:"date"`
	TagTotals      []model.TagStat    `json:"tag_totals"`
	TopProcesses   []processAggregate `json:"top_processes"`
	ActivityCount  int                `json:"activity_count"`
	FirstActivity  *string            `json:"first_activity"`
	LastActivity   *string            `json:"last_activity"`
	TagSwitchCount int                `json:"tag_switch_count"`
}

type processAggregate struct {
	ProcessName  string  `json:"process_name"`
	TotalSeconds float64 `json:"total_seconds"`
}

// handleDashboardDaily returns per-tag totals, the top-10 processes by
// time spent, activity count, first/last activity, and tag-switch count
// for a single day, excluding the Away tag from totals.
func (s *Server) handleDashboardDaily(w http.ResponseWriter, r *http.Request) {
	day, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	start := day
	end := start.Add(24 * time.Hour)

	stats, err := s.store.StatsByTag(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	stats = excludeTag(stats, model.TagAway)

	activities, err := s.store.Timeline(r.Context(), day, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "timeline query failed")
		return
	}
	sort.Slice(activities, func(i, j int) bool { return activities[i].Start.Before(activities[j].Start) })

	resp := dailyResponse{
		Date:          day.Format("2006-01-02"),
		TagTotals:     stats,
		TopProcesses:  topProcesses(activities, 10),
		ActivityCount: len(activities),
	}
	if len(activities) > 0 {
		first := activities[0].Start.Format(time.RFC3339)
		last := activities[len(activities)-1].Start.Format(time.RFC3339)
		resp.FirstActivity = &first
		resp.LastActivity = &last
	}
	resp.TagSwitchCount = countTagSwitches(activities)

	writeJSON(w, http.StatusOK, resp)
}

// topProcesses sums time-in-process across activities and returns the
// top n by total seconds, open activities counted through to now.
func topProcesses(activities []model.Activity, n int) []processAggregate {
	totals := map[string]float64{}
	for _, a := range activities {
		if a.ProcessName == "" {
			continue
		}
		end := time.Now().UTC()
		if a.End != nil {
			end = *a.End
		}
		totals[a.ProcessName] += end.Sub(a.Start).Seconds()
	}

	out := make([]processAggregate, 0, len(totals))
	for name, secs := range totals {
		out = append(out, processAggregate{ProcessName: name, TotalSeconds: secs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalSeconds > out[j].TotalSeconds })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

type periodResponse struct {
	Start      string               `json:"start"`
	End        string               `json:"end"`
	TagTotals  []model.TagStat      `json:"tag_totals"`
	DailyStack []dailyStackEntry    `json:"daily_stack"`
	TopDomains []domainAggregate    `json:"top_domains"`
}

type dailyStackEntry struct {
	Date string          `json:"date"`
	Tags []model.TagStat `json:"tags"`
}

type domainAggregate struct {
	Domain       string  `json:"domain"`
	TotalSeconds float64 `json:"total_seconds"`
}

// handleDashboardPeriod returns per-tag totals over an arbitrary range,
// plus a per-day tag stack and the top-10 browser_url domains.
func (s *Server) handleDashboardPeriod(w http.ResponseWriter, r *http.Request) {
	start, err := parseRFC3339(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start")
		return
	}
	end, err := parseRFC3339(r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end")
		return
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "end must be after start")
		return
	}

	stats, err := s.store.StatsByTag(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}

	var stack []dailyStackEntry
	domainTotals := map[string]float64{}
	for d := dayStart(start); d.Before(end); d = d.Add(24 * time.Hour) {
		dayEnd := d.Add(24 * time.Hour)
		if dayEnd.After(end) {
			dayEnd = end
		}
		dayStats, err := s.store.StatsByTag(r.Context(), d, dayEnd)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "stats query failed")
			return
		}
		stack = append(stack, dailyStackEntry{Date: d.Format("2006-01-02"), Tags: dayStats})

		activities, err := s.store.Timeline(r.Context(), d, "")
		if err != nil {
			continue
		}
		for _, a := range activities {
			if a.BrowserURL == nil {
				continue
			}
			domain := extractDomain(*a.BrowserURL)
			if domain == "" {
				continue
			}
			end := time.Now().UTC()
			if a.End != nil {
				end = *a.End
			}
			domainTotals[domain] += end.Sub(a.Start).Seconds()
		}
	}

	writeJSON(w, http.StatusOK, periodResponse{
		Start:      start.Format(time.RFC3339),
		End:        end.Format(time.RFC3339),
		TagTotals:  excludeTag(stats, model.TagAway),
		DailyStack: stack,
		TopDomains: topDomains(domainTotals, 10),
	})
}

type hourlyResponse struct {
	Date    string       `json:"date"`
	Buckets []hourBucket `json:"buckets"`
}

// hourBucket holds the per-tag seconds for one local hour of the day.
type hourBucket struct {
	Hour int              `json:"hour"`
	Tags []model.HourStat `json:"tags"`
}

// handleDashboardHourly returns the 24-bucket per-tag seconds histogram.
func (s *Server) handleDashboardHourly(w http.ResponseWriter, r *http.Request) {
	day, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	start := day
	end := start.Add(24 * time.Hour)

	hourly, err := s.store.HourlyStats(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}

	buckets := make([]hourBucket, 24)
	for h := range buckets {
		buckets[h] = hourBucket{Hour: h, Tags: []model.HourStat{}}
	}
	for _, st := range hourly {
		if st.Hour >= 0 && st.Hour < 24 {
			buckets[st.Hour].Tags = append(buckets[st.Hour].Tags, st)
		}
	}

	writeJSON(w, http.StatusOK, hourlyResponse{Date: day.Format("2006-01-02"), Buckets: buckets})
}

func excludeTag(stats []model.TagStat, name string) []model.TagStat {
	out := make([]model.TagStat, 0, len(stats))
	for _, s := range stats {
		if s.TagName == name {
			continue
		}
		out = append(out, s)
	}
	return out
}

// countTagSwitches counts the number of adjacent activity pairs (in start
// order) whose tag differs. activities must already be sorted by Start.
func countTagSwitches(activities []model.Activity) int {
	count := 0
	for i := 1; i < len(activities); i++ {
		if tagIDOf(activities[i]) != tagIDOf(activities[i-1]) {
			count++
		}
	}
	return count
}

func tagIDOf(a model.Activity) string {
	if a.TagID == nil {
		return ""
	}
	return *a.TagID
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func topDomains(totals map[string]float64, n int) []domainAggregate {
	out := make([]domainAggregate, 0, len(totals))
	for domain, secs := range totals {
		out = append(out, domainAggregate{Domain: domain, TotalSeconds: secs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalSeconds > out[j].TotalSeconds })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
