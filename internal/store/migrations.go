package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// One row per camera session, written at start and completed at stop
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			stopped_at DATETIME,
			stop_reason TEXT NOT NULL DEFAULT '',
			frames INTEGER NOT NULL DEFAULT 0,
			dropped INTEGER NOT NULL DEFAULT 0,
			detection_enabled INTEGER NOT NULL DEFAULT 1
		)`,

		// Per-label detection totals for a session
		`CREATE TABLE IF NOT EXISTS session_labels (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (session_id, label)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
