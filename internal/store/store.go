package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SessionRecord is one on-call session as persisted locally.
type SessionRecord struct {
	ID           string
	AssignmentID string
	HITID        string
	WorkerID     string
	StartedAt    time.Time
	Outcome      string
	EndedAt      time.Time
}

// AnswerRecord is one submitted answer.
type AnswerRecord struct {
	ID         int64
	SessionID  string
	ChoiceID   string
	Shortcut   string
	AnsweredAt time.Time
}

// AggregateStats summarizes the local session history for the dashboard.
type AggregateStats struct {
	TotalSessions int
	TotalAnswers  int
	TodayAnswers  int
}

// Store wraps the SQLite session-history database.
type Store struct {
	conn *sql.DB
}

// Open creates the database connection and initializes the schema.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory failed: %w", err)
	}

	// WAL mode for concurrency; single connection keeps SQLite happy.
	conn, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema failed: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		assignment_id TEXT NOT NULL,
		hit_id TEXT NOT NULL,
		worker_id TEXT,
		started_at DATETIME NOT NULL,
		outcome TEXT,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		choice_id TEXT NOT NULL,
		shortcut TEXT,
		answered_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_answers_session ON answers(session_id);
	CREATE INDEX IF NOT EXISTS idx_answers_answered_at ON answers(answered_at);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// BeginSession records the start of a new on-call session.
func (s *Store) BeginSession(rec *SessionRecord) error {
	_, err := s.conn.Exec(`
		INSERT INTO sessions (id, assignment_id, hit_id, worker_id, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.AssignmentID, rec.HITID, rec.WorkerID, rec.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FinishSession records how the session ended.
func (s *Store) FinishSession(sessionID, outcome string, endedAt time.Time) error {
	_, err := s.conn.Exec(`
		UPDATE sessions SET outcome = ?, ended_at = ? WHERE id = ?
	`, outcome, endedAt.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// RecordAnswer appends one submitted answer to the session history.
// Timestamps are stored in UTC so DATE() comparisons stay stable across
// timezones.
func (s *Store) RecordAnswer(rec *AnswerRecord) error {
	result, err := s.conn.Exec(`
		INSERT INTO answers (session_id, choice_id, shortcut, answered_at)
		VALUES (?, ?, ?, ?)
	`, rec.SessionID, rec.ChoiceID, rec.Shortcut, rec.AnsweredAt.UTC())
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

// GetAggregateStats returns lifetime and today's totals for the dashboard.
func (s *Store) GetAggregateStats() (*AggregateStats, error) {
	stats := &AggregateStats{}

	err := s.conn.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&stats.TotalSessions)
	if err != nil {
		return nil, fmt.Errorf("query session count: %w", err)
	}

	err = s.conn.QueryRow(`SELECT COUNT(*) FROM answers`).Scan(&stats.TotalAnswers)
	if err != nil {
		return nil, fmt.Errorf("query answer count: %w", err)
	}

	// Stored timestamps are UTC, so the day boundary is taken in UTC too.
	today := time.Now().UTC().Format("2006-01-02")
	err = s.conn.QueryRow(`
		SELECT COUNT(*) FROM answers WHERE DATE(answered_at) = ?
	`, today).Scan(&stats.TodayAnswers)
	if err != nil {
		return nil, fmt.Errorf("query today's answers: %w", err)
	}

	return stats, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.conn.Close()
}
