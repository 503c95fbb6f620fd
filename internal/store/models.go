package store

import "time"

// ProjectStatus represents the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectPaused    ProjectStatus = "paused"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
)

// EpicStatus represents the aggregate state of an epic.
type EpicStatus string

const (
	EpicPending    EpicStatus = "pending"
	EpicInProgress EpicStatus = "in_progress"
	EpicCompleted  EpicStatus = "completed"
	EpicBlocked    EpicStatus = "blocked"
)

// TestCategory is the closed set of verification check categories.
type TestCategory string

const (
	CategoryFunctional    TestCategory = "functional"
	CategoryStyle         TestCategory = "style"
	CategoryAccessibility TestCategory = "accessibility"
	CategoryPerformance   TestCategory = "performance"
	CategorySecurity      TestCategory = "security"
)

// SessionType distinguishes the one-time planning session from ordinary work.
type SessionType string

const (
	SessionInitializer SessionType = "initializer" // Creates the epic/task/test roadmap. Session 0 only.
	SessionCoding      SessionType = "coding"
	SessionReview      SessionType = "review"
)

// SessionStatus represents where a session is in its state machine.
type SessionStatus string

const (
	SessionPending     SessionStatus = "pending"
	SessionRunning     SessionStatus = "running"
	SessionCompleted   SessionStatus = "completed"
	SessionError       SessionStatus = "error"
	SessionInterrupted SessionStatus = "interrupted"
)

// Project is the root entity. Name is immutable and filesystem-safe;
// cost and wall-clock time accumulate across sessions.
type Project struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Status      ProjectStatus `json:"status"`
	TotalCost   float64       `json:"total_cost"`
	TotalTime   float64       `json:"total_time_seconds"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Epic groups tasks under a project. Priority is the ordering key.
type Epic struct {
	ID        int64      `json:"id"`
	ProjectID int64      `json:"project_id"`
	Name      string     `json:"name"`
	Priority  int        `json:"priority"`
	Status    EpicStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// Task is one implementation unit. Done may only flip to true while every
// test under the task passes; the store enforces this transactionally.
type Task struct {
	ID           int64     `json:"id"`
	EpicID       int64     `json:"epic_id"`
	Description  string    `json:"description"`
	Action       string    `json:"action,omitempty"` // Executable hint for the agent.
	Priority     int       `json:"priority"`
	Done         bool      `json:"done"`
	DoneSession  *int64    `json:"done_session,omitempty"`
	SessionNotes string    `json:"session_notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Test is a verification check under a task.
type Test struct {
	ID          int64        `json:"id"`
	TaskID      int64        `json:"task_id"`
	Category    TestCategory `json:"category"`
	Description string       `json:"description"`
	Steps       []string     `json:"steps,omitempty"`
	Passes      bool         `json:"passes"`
	LastSession *int64       `json:"last_session,omitempty"`
	Result      string       `json:"result,omitempty"` // JSON payload from the verifying session.
	CreatedAt   time.Time    `json:"created_at"`
}

// SessionMetrics is the metrics payload persisted when a session finishes.
type SessionMetrics struct {
	DurationSeconds  float64 `json:"duration_seconds"`
	ToolCalls        int     `json:"tool_calls"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	Cost             float64 `json:"cost"`
	TasksCompleted   int     `json:"tasks_completed"`
	TestsPassed      int     `json:"tests_passed"`
	VerificationRuns int     `json:"verification_runs"`
}

// Session is one bounded execution of the agent loop against a project.
// LastHeartbeat is distinct from StartedAt so long-running sessions are
// not mistaken for crashed ones.
type Session struct {
	ID            int64           `json:"id"`
	ProjectID     int64           `json:"project_id"`
	Number        int             `json:"session_number"` // 0 = the only allowed initializer.
	Type          SessionType     `json:"type"`
	Status        SessionStatus   `json:"status"`
	Model         string          `json:"model,omitempty"`
	Error         string          `json:"error,omitempty"`
	LogPath       string          `json:"log_path,omitempty"`
	Metrics       *SessionMetrics `json:"metrics,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	LastHeartbeat *time.Time      `json:"last_heartbeat,omitempty"`
}

// QualityCheck is an optional annotation attached to a completed session.
type QualityCheck struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	Score     float64   `json:"score"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Progress is a consistent snapshot of completion counts for a project.
type Progress struct {
	EpicsTotal     int `json:"epics_total"`
	EpicsCompleted int `json:"epics_completed"`
	TasksTotal     int `json:"tasks_total"`
	TasksCompleted int `json:"tasks_completed"`
	TestsTotal     int `json:"tests_total"`
	TestsPassing   int `json:"tests_passing"`
}

// TaskPercent returns task completion as a percentage.
func (p Progress) TaskPercent() float64 {
	if p.TasksTotal == 0 {
		return 0
	}
	return 100 * float64(p.TasksCompleted) / float64(p.TasksTotal)
}

// TestPercent returns the test pass rate as a percentage.
func (p Progress) TestPercent() float64 {
	if p.TestsTotal == 0 {
		return 0
	}
	return 100 * float64(p.TestsPassing) / float64(p.TestsTotal)
}
