package store

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Project names end up in container names and directory paths, so they are
// restricted to a filesystem-safe character set.
var projectNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// CreateProject inserts a new active project with the given name.
func (s *Store) CreateProject(name string) (*Project, error) {
	if !projectNameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid project name %q: use letters, digits, '-' and '_'", name)
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO projects (name, status, created_at) VALUES (?, ?, ?)`,
		name, string(ProjectActive), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	id, _ := res.LastInsertId()

	return &Project{ID: id, Name: name, Status: ProjectActive, CreatedAt: now}, nil
}

const projectColumns = `id, name, status, total_cost, total_time, created_at, completed_at`

// GetProject returns a project by ID.
func (s *Store) GetProject(id int64) (*Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// GetProjectByName returns a project by its unique name.
func (s *Store) GetProjectByName(name string) (*Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE name = ?`, name)
	return scanProject(row)
}

// ListProjects returns all projects ordered by creation.
func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(`SELECT ` + projectColumns + ` FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProjectRows(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// SetProjectStatus changes the lifecycle status of a project.
func (s *Store) SetProjectStatus(id int64, status ProjectStatus) error {
	res, err := s.db.Exec(`UPDATE projects SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProject removes a project and, via foreign keys, everything under it.
// Only explicit user action reaches this.
func (s *Store) DeleteProject(id int64) error {
	res, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ProgressSummary returns completion counts for a project as one consistent
// snapshot. A single query keeps concurrent writers from producing impossible
// totals like completed > total.
func (s *Store) ProgressSummary(projectID int64) (*Progress, error) {
	row := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM epics WHERE project_id = ?),
			(SELECT COUNT(*) FROM epics WHERE project_id = ? AND status = 'completed'),
			(SELECT COUNT(*) FROM tasks t JOIN epics e ON t.epic_id = e.id WHERE e.project_id = ?),
			(SELECT COUNT(*) FROM tasks t JOIN epics e ON t.epic_id = e.id WHERE e.project_id = ? AND t.done = 1),
			(SELECT COUNT(*) FROM tests ts JOIN tasks t ON ts.task_id = t.id JOIN epics e ON t.epic_id = e.id WHERE e.project_id = ?),
			(SELECT COUNT(*) FROM tests ts JOIN tasks t ON ts.task_id = t.id JOIN epics e ON t.epic_id = e.id WHERE e.project_id = ? AND ts.passes = 1)`,
		projectID, projectID, projectID, projectID, projectID, projectID,
	)

	var p Progress
	err := row.Scan(&p.EpicsTotal, &p.EpicsCompleted, &p.TasksTotal, &p.TasksCompleted, &p.TestsTotal, &p.TestsPassing)
	if err != nil {
		return nil, fmt.Errorf("progress summary: %w", err)
	}
	return &p, nil
}

// refreshProjectCompletion stamps completed_at once every epic, task and test
// under the project is done, and clears it otherwise. Runs inside the
// MarkTaskDone transaction.
func refreshProjectCompletion(tx *sql.Tx, projectID int64) error {
	var remaining int
	err := tx.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM tasks t JOIN epics e ON t.epic_id = e.id WHERE e.project_id = ? AND t.done = 0) +
			(SELECT COUNT(*) FROM tests ts JOIN tasks t ON ts.task_id = t.id JOIN epics e ON t.epic_id = e.id
			 WHERE e.project_id = ? AND ts.passes = 0)`,
		projectID, projectID,
	).Scan(&remaining)
	if err != nil {
		return fmt.Errorf("count remaining work: %w", err)
	}

	if remaining == 0 {
		_, err = tx.Exec(
			`UPDATE projects SET completed_at = ? WHERE id = ? AND completed_at IS NULL`,
			time.Now().UTC(), projectID,
		)
	} else {
		_, err = tx.Exec(`UPDATE projects SET completed_at = NULL WHERE id = ?`, projectID)
	}
	return err
}

func scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var completedAt sql.NullTime
	err := row.Scan(&p.ID, &p.Name, &p.Status, &p.TotalCost, &p.TotalTime, &p.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return &p, nil
}

func scanProjectRows(rows *sql.Rows) (*Project, error) {
	var p Project
	var completedAt sql.NullTime
	err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.TotalCost, &p.TotalTime, &p.CreatedAt, &completedAt)
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return &p, nil
}
