package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/valter-silva-au/command-center/pkg/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS active_recommendations (
	id             TEXT PRIMARY KEY,
	rule_id        TEXT NOT NULL,
	module_tag     TEXT NOT NULL,
	subject_id     TEXT NOT NULL,
	title          TEXT NOT NULL,
	body           TEXT NOT NULL,
	evidence_json  TEXT NOT NULL,
	dedup_key      TEXT NOT NULL UNIQUE,
	priority_score INTEGER NOT NULL,
	confidence     TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	expires_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS history_entries (
	recommendation_id TEXT PRIMARY KEY,
	rule_id           TEXT NOT NULL,
	module_tag        TEXT NOT NULL,
	subject_id        TEXT NOT NULL,
	final_status      TEXT NOT NULL,
	priority_score    INTEGER NOT NULL,
	created_at        TEXT NOT NULL,
	decided_at        TEXT NOT NULL,
	seq               INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_window (
	id              INTEGER PRIMARY KEY CHECK (id = 1),
	tier_limit      INTEGER NOT NULL,
	window_start    TEXT NOT NULL,
	window_duration INTEGER NOT NULL,
	consumed_count  INTEGER NOT NULL
);
`

type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and runs
// migrations.
func NewSQLiteStore(dbPath string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("opening sqlite store: creating directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	// One connection serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening sqlite store: pragma: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening sqlite store: migrate: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) LoadActive() ([]models.Recommendation, error) {
	rows, err := s.db.Query(
		`SELECT id, rule_id, module_tag, subject_id, title, body, evidence_json,
		        dedup_key, priority_score, confidence, created_at, expires_at
		 FROM active_recommendations
		 ORDER BY priority_score DESC, created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("loading active recommendations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []models.Recommendation
	for rows.Next() {
		var r models.Recommendation
		var evidenceJSON, createdStr, expiresStr, confidence string
		if err := rows.Scan(
			&r.ID, &r.RuleID, &r.ModuleTag, &r.SubjectID, &r.Title, &r.Body, &evidenceJSON,
			&r.DedupKey, &r.PriorityScore, &confidence, &createdStr, &expiresStr,
		); err != nil {
			return nil, fmt.Errorf("loading active recommendations: scanning row: %w", err)
		}
		if err := json.Unmarshal([]byte(evidenceJSON), &r.Evidence); err != nil {
			return nil, fmt.Errorf("loading active recommendations: evidence of %s: %w", r.ID, err)
		}
		r.Confidence = models.Confidence(confidence)
		r.Status = models.StatusActive
		if r.CreatedAt, err = parseTime(createdStr); err != nil {
			return nil, fmt.Errorf("loading active recommendations: created_at of %s: %w", r.ID, err)
		}
		if r.ExpiresAt, err = parseTime(expiresStr); err != nil {
			return nil, fmt.Errorf("loading active recommendations: expires_at of %s: %w", r.ID, err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading active recommendations: %w", err)
	}
	return recs, nil
}

// SaveActive replaces the whole table in one transaction.
func (s *sqliteStore) SaveActive(recs []models.Recommendation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("saving active recommendations: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM active_recommendations`); err != nil {
		return fmt.Errorf("saving active recommendations: clearing table: %w", err)
	}
	for _, r := range recs {
		evidenceJSON, err := json.Marshal(r.Evidence)
		if err != nil {
			return fmt.Errorf("saving active recommendations: evidence of %s: %w", r.ID, err)
		}
		_, err = tx.Exec(
			`INSERT INTO active_recommendations
			 (id, rule_id, module_tag, subject_id, title, body, evidence_json,
			  dedup_key, priority_score, confidence, created_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.RuleID, r.ModuleTag, r.SubjectID, r.Title, r.Body, string(evidenceJSON),
			r.DedupKey, r.PriorityScore, string(r.Confidence),
			formatTime(r.CreatedAt), formatTime(r.ExpiresAt),
		)
		if err != nil {
			return fmt.Errorf("saving active recommendations: insert %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("saving active recommendations: commit: %w", err)
	}
	return nil
}

func (s *sqliteStore) LoadHistory() ([]models.HistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT recommendation_id, rule_id, module_tag, subject_id, final_status,
		        priority_score, created_at, decided_at
		 FROM history_entries ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var status, createdStr, decidedStr string
		if err := rows.Scan(
			&e.RecommendationID, &e.RuleID, &e.ModuleTag, &e.SubjectID, &status,
			&e.PriorityScoreAtDecision, &createdStr, &decidedStr,
		); err != nil {
			return nil, fmt.Errorf("loading history: scanning row: %w", err)
		}
		e.FinalStatus = models.RecommendationStatus(status)
		if e.CreatedAt, err = parseTime(createdStr); err != nil {
			return nil, fmt.Errorf("loading history: created_at of %s: %w", e.RecommendationID, err)
		}
		if e.DecidedAt, err = parseTime(decidedStr); err != nil {
			return nil, fmt.Errorf("loading history: decided_at of %s: %w", e.RecommendationID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return entries, nil
}

// AppendHistory inserts one entry. The primary key rejects a second entry
// for the same recommendation.
func (s *sqliteStore) AppendHistory(e models.HistoryEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO history_entries
		 (recommendation_id, rule_id, module_tag, subject_id, final_status,
		  priority_score, created_at, decided_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?,
		         (SELECT COALESCE(MAX(seq), 0) + 1 FROM history_entries))`,
		e.RecommendationID, e.RuleID, e.ModuleTag, e.SubjectID, string(e.FinalStatus),
		e.PriorityScoreAtDecision, formatTime(e.CreatedAt), formatTime(e.DecidedAt),
	)
	if err != nil {
		return fmt.Errorf("appending history %s: %w", e.RecommendationID, err)
	}
	return nil
}

func (s *sqliteStore) LoadUsage() (*models.UsageWindow, error) {
	var w models.UsageWindow
	var startStr string
	var duration int64
	err := s.db.QueryRow(
		`SELECT tier_limit, window_start, window_duration, consumed_count
		 FROM usage_window WHERE id = 1`,
	).Scan(&w.TierLimit, &startStr, &duration, &w.ConsumedCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading usage window: %w", err)
	}
	if w.WindowStart, err = parseTime(startStr); err != nil {
		return nil, fmt.Errorf("loading usage window: window_start: %w", err)
	}
	w.WindowDuration = time.Duration(duration)
	return &w, nil
}

func (s *sqliteStore) SaveUsage(w models.UsageWindow) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_window (id, tier_limit, window_start, window_duration, consumed_count)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   tier_limit = excluded.tier_limit,
		   window_start = excluded.window_start,
		   window_duration = excluded.window_duration,
		   consumed_count = excluded.consumed_count`,
		w.TierLimit, formatTime(w.WindowStart), int64(w.WindowDuration), w.ConsumedCount,
	)
	if err != nil {
		return fmt.Errorf("saving usage window: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
