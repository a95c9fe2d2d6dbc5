package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Session is one start-to-stop run of the camera.
type Session struct {
	ID               string
	StartedAt        time.Time
	StoppedAt        *time.Time
	StopReason       string
	Frames           int64
	Dropped          int64
	DetectionEnabled bool
	Labels           map[string]int
}

// Summary is the totals recorded when a session ends.
type Summary struct {
	StoppedAt time.Time
	Reason    string
	Frames    int64
	Dropped   int64
	Labels    map[string]int
}

// SessionRepository provides access to session history.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a new, still running session.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, started_at, detection_enabled) VALUES (?, ?, ?)`,
		sess.ID, sess.StartedAt.UTC(), sess.DetectionEnabled,
	)
	return err
}

// Finish records the end of a session and its label totals.
func (r *SessionRepository) Finish(id string, sum Summary) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE sessions SET stopped_at = ?, stop_reason = ?, frames = ?, dropped = ?
		 WHERE id = ?`,
		sum.StoppedAt.UTC(), sum.Reason, sum.Frames, sum.Dropped, id,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	for label, count := range sum.Labels {
		if _, err := tx.Exec(
			`INSERT INTO session_labels (session_id, label, count) VALUES (?, ?, ?)
			 ON CONFLICT(session_id, label) DO UPDATE SET count = count + excluded.count`,
			id, label, count,
		); err != nil {
			return fmt.Errorf("save label %q: %w", label, err)
		}
	}

	return tx.Commit()
}

// GetByID retrieves a session and its label totals.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	sess, err := scanSession(r.db.QueryRow(
		`SELECT id, started_at, stopped_at, stop_reason, frames, dropped, detection_enabled
		 FROM sessions WHERE id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if sess.Labels, err = r.labels(id); err != nil {
		return nil, err
	}
	return sess, nil
}

// List returns the most recent sessions first. limit <= 0 returns all.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, started_at, stopped_at, stop_reason, frames, dropped, detection_enabled
		 FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sess := range sessions {
		if sess.Labels, err = r.labels(sess.ID); err != nil {
			return nil, err
		}
	}

	return sessions, nil
}

// Delete removes a session and its labels.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// TopLabels returns label totals across all sessions, most frequent first.
func (r *SessionRepository) TopLabels(limit int) ([]LabelCount, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT label, SUM(count) AS total FROM session_labels
		 GROUP BY label ORDER BY total DESC, label ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, err
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}

// LabelCount is a label and how often it was detected.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

func (r *SessionRepository) labels(id string) (map[string]int, error) {
	rows, err := r.db.Query(`SELECT label, count FROM session_labels WHERE session_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	labels := make(map[string]int)
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, err
		}
		labels[label] = count
	}
	return labels, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	sess := &Session{}
	var stoppedAt sql.NullTime

	if err := row.Scan(
		&sess.ID, &sess.StartedAt, &stoppedAt, &sess.StopReason,
		&sess.Frames, &sess.Dropped, &sess.DetectionEnabled,
	); err != nil {
		return nil, err
	}

	if stoppedAt.Valid {
		t := stoppedAt.Time
		sess.StoppedAt = &t
	}
	return sess, nil
}

// SortedLabels returns the session's labels ordered by count, then name.
func (s *Session) SortedLabels() []LabelCount {
	out := make([]LabelCount, 0, len(s.Labels))
	for label, count := range s.Labels {
		out = append(out, LabelCount{Label: label, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}
