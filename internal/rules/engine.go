// Package rules implements the priority-ordered pattern matcher that maps
// an observation to a tag.
package rules

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"

	"github.com/havenwatch/tracker/internal/model"
)

// compiledRule is a Rule with its glob patterns pre-compiled. A rule whose
// patterns fail to compile is dropped from the cache (logged once) rather
// than aborting the whole reload.
type compiledRule struct {
	rule model.Rule

	processName    []glob.Glob
	url            []glob.Glob
	title          []glob.Glob
	processPath    []glob.Glob
	browserProfile string // exact match, not a glob -- spec carries no alternates for this slot
}

// tagStore is the subset of store.Store the engine needs. Declared here so
// rules does not import store directly, matching the leaf-first dependency
// order of the component table.
type tagStore interface {
	ListRules(ctx context.Context, enabledOnly bool) ([]model.Rule, error)
	EnsureReservedTag(ctx context.Context, name string) (string, error)
}

// Engine is the RuleEngine. The compiled rule cache is replaced by
// pointer swap on Reload so that an in-flight Match always sees a
// consistent snapshot, never a partially rebuilt cache.
type Engine struct {
	store tagStore
	log   *logrus.Entry

	cache atomic.Pointer[[]compiledRule]
}

// New constructs an Engine and performs an initial Reload.
func New(ctx context.Context, st tagStore, log *logrus.Entry) (*Engine, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	e := &Engine{store: st, log: log}
	if err := e.Reload(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads enabled rules from the Store into the cache.
func (e *Engine) Reload(ctx context.Context) error {
	rules, err := e.store.ListRules(ctx, true)
	if err != nil {
		return err
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{rule: r}
		var ok bool
		cr.processName, ok = compileAlternates(r.ProcessNamePattern)
		if !ok {
			e.log.WithField("rule", r.Name).Warn("process_name_pattern failed to compile, rule skipped")
			continue
		}
		cr.url, ok = compileAlternates(r.URLPattern)
		if !ok {
			e.log.WithField("rule", r.Name).Warn("url_pattern failed to compile, rule skipped")
			continue
		}
		cr.title, ok = compileAlternates(r.TitlePattern)
		if !ok {
			e.log.WithField("rule", r.Name).Warn("title_pattern failed to compile, rule skipped")
			continue
		}
		cr.processPath, ok = compileAlternates(r.ProcessPathPattern)
		if !ok {
			e.log.WithField("rule", r.Name).Warn("process_path_pattern failed to compile, rule skipped")
			continue
		}
		cr.browserProfile = strings.TrimSpace(r.BrowserProfile)
		compiled = append(compiled, cr)
	}

	e.cache.Store(&compiled)
	return nil
}

// compileAlternates compiles a comma-separated list of glob alternates. An
// empty pattern compiles to a nil slice (matches nothing, not everything).
func compileAlternates(pattern string) ([]glob.Glob, bool) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, true
	}
	parts := strings.Split(pattern, ",")
	globs := make([]glob.Glob, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, false
		}
		globs = append(globs, g)
	}
	return globs, true
}

func anyMatch(globs []glob.Glob, value string) bool {
	if len(globs) == 0 || value == "" {
		return false
	}
	for _, g := range globs {
		if g.Match(value) {
			return true
		}
	}
	return false
}

// Match walks the cache priority-descending and returns the first rule
// whose slots OR-match the observation. If no rule matches, it returns
// Unclassified with a nil rule id, self-healing that reserved tag if it
// has been deleted.
func (e *Engine) Match(ctx context.Context, obs model.Observation) (tagID string, ruleID *string) {
	cache := e.cache.Load()
	if cache != nil {
		for _, cr := range *cache {
			if anyMatch(cr.processName, obs.ProcessName) ||
				anyMatch(cr.url, obs.BrowserURL) ||
				anyMatch(cr.title, obs.WindowTitle) ||
				anyMatch(cr.processPath, obs.ProcessPath) ||
				(cr.browserProfile != "" && cr.browserProfile == obs.BrowserProfile) {
				id := cr.rule.ID
				return cr.rule.TagID, &id
			}
		}
	}

	tagID, err := e.store.EnsureReservedTag(ctx, model.TagUnclassified)
	if err != nil {
		e.log.WithError(err).Error("failed to ensure Unclassified tag")
	}
	return tagID, nil
}
