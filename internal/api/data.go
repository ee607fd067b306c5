package api

import (
	"archive/zip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/havenwatch/tracker/internal/model"
)

// handleDbBackup produces a consistent on-disk snapshot via VACUUM INTO
// (so a concurrent writer never yields a torn backup), integrity-checks
// it, and streams it back -- as a bare .db file, or zipped with the media
// directory when include_media=true.
func (s *Server) handleDbBackup(w http.ResponseWriter, r *http.Request) {
	includeMedia, _ := strconv.ParseBool(r.URL.Query().Get("include_media"))

	tmpDB, err := os.CreateTemp("", "activity_tracker_backup_*.db")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "backup staging failed")
		return
	}
	tmpPath := tmpDB.Name()
	tmpDB.Close()
	defer os.Remove(tmpPath)

	if _, err := s.store.DB().ExecContext(r.Context(), `VACUUM INTO ?`, tmpPath); err != nil {
		writeError(w, http.StatusInternalServerError, "backup snapshot failed")
		return
	}
	if err := checkIntegrity(tmpPath); err != nil {
		writeError(w, http.StatusInternalServerError, "backup integrity check failed")
		return
	}

	if !includeMedia {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="activity_tracker.db"`)
		http.ServeFile(w, r, tmpPath)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="activity_tracker_backup.zip"`)
	if err := writeBackupZip(w, tmpPath, s.cfg.MediaDir("sounds"), s.cfg.MediaDir("images")); err != nil {
		s.log.WithError(err).Error("backup zip streaming failed")
	}
}

func checkIntegrity(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()
	var result string
	if err := db.QueryRow(`PRAGMA integrity_check`).Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported: %s", result)
	}
	return nil
}

func writeBackupZip(w io.Writer, dbPath string, mediaDirs ...string) error {
	zw := zip.NewWriter(w)
	defer zw.Close()

	if err := addFileToZip(zw, dbPath, "activity_tracker.db"); err != nil {
		return err
	}
	for _, dir := range mediaDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue // media directory may not exist yet
		}
		base := filepath.Base(dir)
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if err := addFileToZip(zw, filepath.Join(dir, e.Name()), filepath.Join(base, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func addFileToZip(zw *zip.Writer, srcPath, zipName string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()

	entry, err := zw.Create(zipName)
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, f)
	return err
}

// handleDbRestore validates an uploaded database (integrity-check=ok),
// stages it alongside a metadata file, and schedules process exit so the
// next start-up can swap it in -- the live database is never touched
// in-process.
func (s *Server) handleDbRestore(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(256 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload")
		return
	}
	file, _, err := r.FormFile("db")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing db field")
		return
	}
	defer file.Close()

	metaPath, dbPath, _ := s.cfg.RestorePendingPaths()

	tmp, err := os.CreateTemp("", "activity_tracker_restore_*.db")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "restore staging failed")
		return
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		writeError(w, http.StatusBadRequest, "upload read failed")
		return
	}
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := checkIntegrity(tmpPath); err != nil {
		writeError(w, http.StatusBadRequest, "uploaded database failed integrity check, live database untouched")
		return
	}

	if err := copyFile(tmpPath, dbPath); err != nil {
		writeError(w, http.StatusInternalServerError, "restore staging failed")
		return
	}
	meta := map[string]string{"staged_at": time.Now().UTC().Format(time.RFC3339)}
	metaBytes, _ := json.Marshal(meta)
	if err := os.WriteFile(metaPath, metaBytes, 0o600); err != nil {
		writeError(w, http.StatusInternalServerError, "restore staging failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "staged, restarting"})

	go func() {
		time.Sleep(200 * time.Millisecond) // let the response flush
		if s.monitor != nil {
			s.monitor.RequestDbClose(context.Background(), 5*time.Second)
		}
		os.Exit(0)
	}()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// ruleExportEntry carries a rule plus its tag's name rather than its raw
// tag_id: a fresh destination store mints its own tag ids, so importing by
// id would either dangle or, with foreign_keys=on, fail the insert outright.
// Resolving by name lets import create-or-reuse the matching tag.
type ruleExportEntry struct {
	model.Rule
	TagName string `json:"tag_name"`
}

type rulesExport struct {
	Rules []ruleExportEntry `json:"rules"`
}

// handleRulesExport dumps every rule for offline editing or transfer to
// another machine.
func (s *Server) handleRulesExport(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	entries := make([]ruleExportEntry, 0, len(rules))
	for _, rule := range rules {
		tagName := ""
		if tag, err := s.store.GetTag(r.Context(), rule.TagID); err == nil {
			tagName = tag.Name
		}
		entries = append(entries, ruleExportEntry{Rule: rule, TagName: tagName})
	}

	w.Header().Set("Content-Disposition", `attachment; filename="rules.json"`)
	writeJSON(w, http.StatusOK, rulesExport{Rules: entries})
}

// handleRulesImport imports a rule set. merge_mode=true keeps existing
// rules and adds the imported ones (re-assigning ids to avoid collisions);
// merge_mode=false (default) replaces every existing rule first. Each
// imported rule's tag is resolved by name (created in the destination
// store if it does not already exist), never by the source store's id.
func (s *Server) handleRulesImport(w http.ResponseWriter, r *http.Request) {
	mergeMode, _ := strconv.ParseBool(r.URL.Query().Get("merge_mode"))

	var payload rulesExport
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rules export body")
		return
	}

	if !mergeMode {
		existing, err := s.store.ListRules(r.Context(), false)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "import failed")
			return
		}
		for _, rule := range existing {
			if err := s.store.DeleteRule(r.Context(), rule.ID); err != nil {
				writeError(w, http.StatusInternalServerError, "import failed")
				return
			}
		}
	}

	imported := 0
	for _, entry := range payload.Rules {
		rule := entry.Rule
		if mergeMode {
			rule.ID = ""
		}

		tagName := entry.TagName
		if tagName == "" {
			tagName = model.TagUnclassified
		}
		tagID, err := s.store.EnsureTagByName(r.Context(), tagName)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "import failed")
			return
		}
		rule.TagID = tagID

		if _, err := s.store.UpsertRule(r.Context(), rule); err != nil {
			writeError(w, http.StatusInternalServerError, "import failed")
			return
		}
		imported++
	}

	s.reloadAfterMutation(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"imported": imported})
}
