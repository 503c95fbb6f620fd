package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateEpic inserts a new epic under a project. The project must exist.
func (s *Store) CreateEpic(projectID int64, name string, priority int) (*Epic, error) {
	if err := s.requireRow("projects", projectID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO epics (project_id, name, priority, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		projectID, name, priority, string(EpicPending), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert epic: %w", err)
	}
	id, _ := res.LastInsertId()

	return &Epic{ID: id, ProjectID: projectID, Name: name, Priority: priority, Status: EpicPending, CreatedAt: now}, nil
}

// CreateTask inserts a new task under an epic. The epic must exist.
func (s *Store) CreateTask(epicID int64, description, action string, priority int) (*Task, error) {
	if err := s.requireRow("epics", epicID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO tasks (epic_id, description, action, priority, created_at) VALUES (?, ?, ?, ?, ?)`,
		epicID, description, action, priority, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, _ := res.LastInsertId()

	return &Task{ID: id, EpicID: epicID, Description: description, Action: action, Priority: priority, CreatedAt: now}, nil
}

// CreateTest inserts a new verification check under a task. The task must exist.
func (s *Store) CreateTest(taskID int64, category TestCategory, description string, steps []string) (*Test, error) {
	if err := s.requireRow("tasks", taskID); err != nil {
		return nil, err
	}

	switch category {
	case CategoryFunctional, CategoryStyle, CategoryAccessibility, CategoryPerformance, CategorySecurity:
	default:
		return nil, fmt.Errorf("invalid test category %q", category)
	}

	if steps == nil {
		steps = []string{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("encode steps: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO tests (task_id, category, description, steps, created_at) VALUES (?, ?, ?, ?, ?)`,
		taskID, string(category), description, string(stepsJSON), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert test: %w", err)
	}
	id, _ := res.LastInsertId()

	return &Test{ID: id, TaskID: taskID, Category: category, Description: description, Steps: steps, CreatedAt: now}, nil
}

const taskColumns = `id, epic_id, description, action, priority, done, done_session, session_notes, created_at`

// GetTask returns a single task by ID.
func (s *Store) GetTask(id int64) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// GetNextTask returns the highest-priority incomplete task belonging to a
// non-completed epic of the project, or nil when no eligible task remains.
// Callers interpret nil as project completion, not as an error.
func (s *Store) GetNextTask(projectID int64) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT t.id, t.epic_id, t.description, t.action, t.priority, t.done, t.done_session, t.session_notes, t.created_at
		FROM tasks t
		JOIN epics e ON t.epic_id = e.id
		JOIN projects p ON e.project_id = p.id
		WHERE p.id = ? AND p.status = 'active' AND t.done = 0 AND e.status != 'completed'
		ORDER BY e.priority DESC, t.priority DESC, t.id ASC
		LIMIT 1`, projectID,
	)
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// ListEpics returns all epics of a project in priority order.
func (s *Store) ListEpics(projectID int64) ([]Epic, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, name, priority, status, created_at FROM epics
		 WHERE project_id = ? ORDER BY priority DESC, id`, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query epics: %w", err)
	}
	defer rows.Close()

	var epics []Epic
	for rows.Next() {
		var e Epic
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Name, &e.Priority, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan epic: %w", err)
		}
		epics = append(epics, e)
	}
	return epics, rows.Err()
}

// ListTasksByEpic returns all tasks of an epic in priority order.
func (s *Store) ListTasksByEpic(epicID int64) ([]Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM tasks WHERE epic_id = ? ORDER BY priority DESC, id`, epicID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

const testColumns = `id, task_id, category, description, steps, passes, last_session, result, created_at`

// GetTest returns a single test by ID.
func (s *Store) GetTest(id int64) (*Test, error) {
	row := s.db.QueryRow(`SELECT `+testColumns+` FROM tests WHERE id = ?`, id)
	t, err := scanTest(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTestsByTask returns all tests of a task.
func (s *Store) ListTestsByTask(taskID int64) ([]Test, error) {
	rows, err := s.db.Query(`SELECT `+testColumns+` FROM tests WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query tests: %w", err)
	}
	defer rows.Close()

	var tests []Test
	for rows.Next() {
		t, err := scanTest(rows.Scan)
		if err != nil {
			return nil, err
		}
		tests = append(tests, *t)
	}
	return tests, rows.Err()
}

// RecordTestResult upserts a test's verification outcome. Idempotent: the same
// outcome twice leaves the row unchanged. Always allowed regardless of the
// parent task's completion state.
func (s *Store) RecordTestResult(testID int64, passes bool, sessionID int64, result string) error {
	return s.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE tests SET passes = ?, last_session = ?, result = ? WHERE id = ?`,
			boolInt(passes), sessionID, result, testID,
		)
		if err != nil {
			return fmt.Errorf("record test result: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		// A failing result can retroactively invalidate task state only
		// through MarkTaskDone; epic rollup still needs a refresh when a
		// previously failing test now passes.
		var epicID int64
		if err := tx.QueryRow(
			`SELECT t.epic_id FROM tasks t JOIN tests ts ON ts.task_id = t.id WHERE ts.id = ?`, testID,
		).Scan(&epicID); err != nil {
			return fmt.Errorf("resolve epic: %w", err)
		}
		return refreshEpicStatus(tx, epicID)
	})
}

// MarkTaskDone sets a task's done flag, but only if every test under it
// currently passes. The check and the write happen in one transaction so no
// concurrent reader can observe a done task with failing tests. On success the
// parent epic's status and the project completion stamp are re-evaluated.
func (s *Store) MarkTaskDone(taskID, sessionID int64, notes string) error {
	return s.inTx(func(tx *sql.Tx) error {
		var epicID, projectID int64
		err := tx.QueryRow(
			`SELECT t.epic_id, e.project_id FROM tasks t JOIN epics e ON t.epic_id = e.id WHERE t.id = ?`,
			taskID,
		).Scan(&epicID, &projectID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("resolve task: %w", err)
		}

		var failing int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM tests WHERE task_id = ? AND passes = 0`, taskID,
		).Scan(&failing); err != nil {
			return fmt.Errorf("count failing tests: %w", err)
		}
		if failing > 0 {
			return fmt.Errorf("%w: %d failing", ErrUnverifiedTests, failing)
		}

		if _, err := tx.Exec(
			`UPDATE tasks SET done = 1, done_session = ?, session_notes = ? WHERE id = ?`,
			sessionID, notes, taskID,
		); err != nil {
			return fmt.Errorf("mark task done: %w", err)
		}

		if err := refreshEpicStatus(tx, epicID); err != nil {
			return err
		}
		return refreshProjectCompletion(tx, projectID)
	})
}

// SetTaskNotes records free-text session notes on a task without touching
// its completion flag. Used when a session starts work on a task.
func (s *Store) SetTaskNotes(taskID int64, notes string) error {
	res, err := s.db.Exec(`UPDATE tasks SET session_notes = ? WHERE id = ?`, notes, taskID)
	if err != nil {
		return fmt.Errorf("set task notes: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EpicProjectID resolves which project an epic belongs to.
func (s *Store) EpicProjectID(epicID int64) (int64, error) {
	var projectID int64
	err := s.db.QueryRow(`SELECT project_id FROM epics WHERE id = ?`, epicID).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve epic project: %w", err)
	}
	return projectID, nil
}

// TaskProjectID resolves which project a task belongs to.
func (s *Store) TaskProjectID(taskID int64) (int64, error) {
	var projectID int64
	err := s.db.QueryRow(
		`SELECT e.project_id FROM tasks t JOIN epics e ON t.epic_id = e.id WHERE t.id = ?`, taskID,
	).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve task project: %w", err)
	}
	return projectID, nil
}

// TestProjectID resolves which project a test belongs to.
func (s *Store) TestProjectID(testID int64) (int64, error) {
	var projectID int64
	err := s.db.QueryRow(
		`SELECT e.project_id FROM tests ts
		 JOIN tasks t ON ts.task_id = t.id
		 JOIN epics e ON t.epic_id = e.id WHERE ts.id = ?`, testID,
	).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve test project: %w", err)
	}
	return projectID, nil
}

// EpicCount returns the number of epics a project has. Session creation uses
// this to enforce the initializer invariant.
func (s *Store) EpicCount(projectID int64) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM epics WHERE project_id = ?`, projectID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count epics: %w", err)
	}
	return n, nil
}

// refreshEpicStatus recomputes an epic's status from its tasks: completed when
// all tasks are done, in_progress when some are, pending otherwise. Blocked is
// set explicitly elsewhere and is not overwritten while tasks remain open.
func refreshEpicStatus(tx *sql.Tx, epicID int64) error {
	var total, done int
	err := tx.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(done), 0) FROM tasks WHERE epic_id = ?`, epicID,
	).Scan(&total, &done)
	if err != nil {
		return fmt.Errorf("count epic tasks: %w", err)
	}

	var status EpicStatus
	switch {
	case total > 0 && done == total:
		status = EpicCompleted
	case done > 0:
		status = EpicInProgress
	default:
		return nil
	}

	if _, err := tx.Exec(
		`UPDATE epics SET status = ? WHERE id = ? AND status != 'blocked'`, string(status), epicID,
	); err != nil {
		return fmt.Errorf("update epic status: %w", err)
	}
	return nil
}

// requireRow verifies a parent row exists before inserting a child.
func (s *Store) requireRow(table string, id int64) error {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s id %d", ErrParentNotFound, table, id)
	}
	if err != nil {
		return fmt.Errorf("check %s: %w", table, err)
	}
	return nil
}

type scanFunc func(dest ...any) error

func scanTask(scan scanFunc) (*Task, error) {
	var t Task
	var done int
	var doneSession sql.NullInt64
	err := scan(&t.ID, &t.EpicID, &t.Description, &t.Action, &t.Priority, &done, &doneSession, &t.SessionNotes, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Done = done != 0
	if doneSession.Valid {
		t.DoneSession = &doneSession.Int64
	}
	return &t, nil
}

func scanTest(scan scanFunc) (*Test, error) {
	var t Test
	var passes int
	var stepsJSON string
	var lastSession sql.NullInt64
	err := scan(&t.ID, &t.TaskID, &t.Category, &t.Description, &stepsJSON, &passes, &lastSession, &t.Result, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan test: %w", err)
	}
	t.Passes = passes != 0
	if lastSession.Valid {
		t.LastSession = &lastSession.Int64
	}
	if stepsJSON != "" {
		if err := json.Unmarshal([]byte(stepsJSON), &t.Steps); err != nil {
			return nil, fmt.Errorf("decode steps: %w", err)
		}
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
