package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateSession inserts the next session for a project, enforcing the
// initializer invariant inside one transaction: session 0 must be the
// initializer when the project has no epics, and no initializer may ever be
// created once epics exist.
func (s *Store) CreateSession(projectID int64, sessType SessionType, model string) (*Session, error) {
	switch sessType {
	case SessionInitializer, SessionCoding, SessionReview:
	default:
		return nil, fmt.Errorf("invalid session type %q", sessType)
	}

	var sess *Session
	err := s.inTx(func(tx *sql.Tx) error {
		if err := requireRowTx(tx, "projects", projectID); err != nil {
			return err
		}

		var number int
		if err := tx.QueryRow(
			`SELECT COALESCE(MAX(session_number) + 1, 0) FROM sessions WHERE project_id = ?`, projectID,
		).Scan(&number); err != nil {
			return fmt.Errorf("next session number: %w", err)
		}

		var epics int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM epics WHERE project_id = ?`, projectID,
		).Scan(&epics); err != nil {
			return fmt.Errorf("count epics: %w", err)
		}

		if epics == 0 && sessType != SessionInitializer {
			return fmt.Errorf("%w: project has no roadmap yet, session %d must be an initializer", ErrSessionTypeInvariant, number)
		}
		if epics > 0 && sessType == SessionInitializer {
			return fmt.Errorf("%w: roadmap already exists, refusing a second initializer", ErrSessionTypeInvariant)
		}

		now := time.Now().UTC()
		res, err := tx.Exec(
			`INSERT INTO sessions (project_id, session_number, type, status, model, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			projectID, number, string(sessType), string(SessionPending), model, now,
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		id, _ := res.LastInsertId()

		sess = &Session{
			ID:        id,
			ProjectID: projectID,
			Number:    number,
			Type:      sessType,
			Status:    SessionPending,
			Model:     model,
			CreatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// StartSession transitions a pending session to running and stamps both the
// start time and the first heartbeat.
func (s *Store) StartSession(id int64) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE sessions SET status = ?, started_at = ?, last_heartbeat = ? WHERE id = ? AND status = ?`,
		string(SessionRunning), now, now, id, string(SessionPending),
	)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %d is not pending", id)
	}
	return nil
}

// Heartbeat refreshes a running session's liveness timestamp. A no-op on
// sessions that already reached a terminal state.
func (s *Store) Heartbeat(id int64) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET last_heartbeat = ? WHERE id = ? AND status = ?`,
		time.Now().UTC(), id, string(SessionRunning),
	)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// FinishSession moves a session to a terminal state, persists its metrics and
// accumulates cost and duration into the project totals. The guard on the
// current status makes double finalization a no-op, so project totals can
// never be double-counted.
func (s *Store) FinishSession(id int64, status SessionStatus, reason string, metrics *SessionMetrics) error {
	switch status {
	case SessionCompleted, SessionError, SessionInterrupted:
	default:
		return fmt.Errorf("invalid terminal status %q", status)
	}

	return s.inTx(func(tx *sql.Tx) error {
		var metricsJSON string
		if metrics != nil {
			b, err := json.Marshal(metrics)
			if err != nil {
				return fmt.Errorf("encode metrics: %w", err)
			}
			metricsJSON = string(b)
		}

		now := time.Now().UTC()
		res, err := tx.Exec(
			`UPDATE sessions SET status = ?, error = ?, metrics = ?, ended_at = ?
			 WHERE id = ? AND status IN (?, ?)`,
			string(status), reason, metricsJSON, now,
			id, string(SessionRunning), string(SessionPending),
		)
		if err != nil {
			return fmt.Errorf("finish session: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			// Already finalized; do not accumulate twice.
			return nil
		}

		if metrics != nil {
			if _, err := tx.Exec(
				`UPDATE projects SET total_cost = total_cost + ?, total_time = total_time + ?
				 WHERE id = (SELECT project_id FROM sessions WHERE id = ?)`,
				metrics.Cost, metrics.DurationSeconds, id,
			); err != nil {
				return fmt.Errorf("accumulate project totals: %w", err)
			}
		}
		return nil
	})
}

// SetSessionLog records the log file reference for a session.
func (s *Store) SetSessionLog(id int64, logPath string) error {
	_, err := s.db.Exec(`UPDATE sessions SET log_path = ? WHERE id = ?`, logPath, id)
	if err != nil {
		return fmt.Errorf("set session log: %w", err)
	}
	return nil
}

const sessionColumns = `id, project_id, session_number, type, status, model, error, log_path, metrics, created_at, started_at, ended_at, last_heartbeat`

// GetSession returns a session by ID.
func (s *Store) GetSession(id int64) (*Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// ListSessions returns all sessions of a project in execution order.
func (s *Store) ListSessions(projectID int64) ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM sessions WHERE project_id = ? ORDER BY session_number`, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// StaleSessions returns the project's running sessions whose last heartbeat
// is older than the threshold. Heartbeat age, not session duration, is the
// staleness signal: a long session that still heartbeats is fine.
func (s *Store) StaleSessions(projectID int64, threshold time.Duration) ([]Session, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE project_id = ? AND status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		projectID, string(SessionRunning), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// AddQualityCheck attaches a quality annotation to a session. Observability
// only; core correctness never depends on these rows.
func (s *Store) AddQualityCheck(sessionID int64, score float64, summary string) (*QualityCheck, error) {
	if err := s.requireRow("sessions", sessionID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO quality_checks (session_id, score, summary, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, score, summary, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert quality check: %w", err)
	}
	id, _ := res.LastInsertId()

	return &QualityCheck{ID: id, SessionID: sessionID, Score: score, Summary: summary, CreatedAt: now}, nil
}

func requireRowTx(tx *sql.Tx, table string, id int64) error {
	var one int
	err := tx.QueryRow(`SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s id %d", ErrParentNotFound, table, id)
	}
	if err != nil {
		return fmt.Errorf("check %s: %w", table, err)
	}
	return nil
}

func scanSession(scan scanFunc) (*Session, error) {
	var sess Session
	var metricsJSON string
	var startedAt, endedAt, heartbeat sql.NullTime
	err := scan(
		&sess.ID, &sess.ProjectID, &sess.Number, &sess.Type, &sess.Status,
		&sess.Model, &sess.Error, &sess.LogPath, &metricsJSON,
		&sess.CreatedAt, &startedAt, &endedAt, &heartbeat,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if startedAt.Valid {
		sess.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	if heartbeat.Valid {
		sess.LastHeartbeat = &heartbeat.Time
	}
	if metricsJSON != "" {
		var m SessionMetrics
		if err := json.Unmarshal([]byte(metricsJSON), &m); err != nil {
			return nil, fmt.Errorf("decode metrics: %w", err)
		}
		sess.Metrics = &m
	}
	return &sess, nil
}
