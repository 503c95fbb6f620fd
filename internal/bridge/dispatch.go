package bridge

import (
	"context"
	"time"

	"github.com/imkarma/drover/internal/sandbox"
	"github.com/imkarma/drover/internal/store"
)

// Request is one structured operation from the agent loop.
type Request struct {
	Op string `json:"op"`

	// Roadmap creation (initializer sessions).
	EpicID      int64    `json:"epic_id,omitempty"`
	Name        string   `json:"name,omitempty"`
	Priority    int      `json:"priority,omitempty"`
	Description string   `json:"description,omitempty"`
	Action      string   `json:"action,omitempty"`
	Category    string   `json:"category,omitempty"`
	Steps       []string `json:"steps,omitempty"`

	// Task and test operations.
	TaskID  int64  `json:"task_id,omitempty"`
	TestID  int64  `json:"test_id,omitempty"`
	Passes  bool   `json:"passes,omitempty"`
	Payload string `json:"payload,omitempty"`
	Notes   string `json:"notes,omitempty"`

	// Command execution.
	Command    string `json:"command,omitempty"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`

	// Quality annotation (review sessions).
	Score   float64 `json:"score,omitempty"`
	Summary string  `json:"summary,omitempty"`
}

// Response is the structured result of one operation. ErrorKind carries the
// named condition so callers can distinguish, say, unverified_tests from a
// generic failure.
type Response struct {
	OK        bool                `json:"ok"`
	ErrorKind string              `json:"error_kind,omitempty"`
	Error     string              `json:"error,omitempty"`
	Task      *store.Task         `json:"task,omitempty"`
	Epic      *store.Epic         `json:"epic,omitempty"`
	Test      *store.Test         `json:"test,omitempty"`
	Exec      *sandbox.ExecResult `json:"exec,omitempty"`
	Progress  *store.Progress     `json:"progress,omitempty"`
}

const defaultExecTimeout = 120 * time.Second

// Dispatch translates one structured request into the corresponding store or
// sandbox call and wraps the outcome.
func (b *Bridge) Dispatch(ctx context.Context, req Request) Response {
	switch req.Op {
	case "get_next_task":
		task, err := b.GetNextTask(ctx)
		if err != nil {
			return failure(err)
		}
		// No eligible task is a normal outcome, not an error: the agent
		// loop reads a nil task as project completion.
		return Response{OK: true, Task: task}

	case "start_task":
		if err := b.StartTask(ctx, req.TaskID, req.Notes); err != nil {
			return failure(err)
		}
		return Response{OK: true}

	case "record_test_result":
		if err := b.RecordTestResult(ctx, req.TestID, req.Passes, req.Payload); err != nil {
			return failure(err)
		}
		return Response{OK: true}

	case "mark_task_done":
		if err := b.MarkTaskDone(ctx, req.TaskID, req.Notes); err != nil {
			return failure(err)
		}
		return Response{OK: true}

	case "exec_command":
		timeout := defaultExecTimeout
		if req.TimeoutSec > 0 {
			timeout = time.Duration(req.TimeoutSec) * time.Second
		}
		res, err := b.ExecCommand(ctx, req.Command, timeout)
		if err != nil {
			return failure(err)
		}
		if res.TimedOut {
			// The partial output rides along so the agent can see how far
			// the command got before the deadline.
			return Response{
				ErrorKind: "command_timeout",
				Error:     "command timed out after " + timeout.String(),
				Exec:      res,
			}
		}
		return Response{OK: true, Exec: res}

	case "create_epic":
		epic, err := b.CreateEpic(ctx, req.Name, req.Priority)
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Epic: epic}

	case "create_task":
		task, err := b.CreateTask(ctx, req.EpicID, req.Description, req.Action, req.Priority)
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Task: task}

	case "create_test":
		test, err := b.CreateTest(ctx, req.TaskID, store.TestCategory(req.Category), req.Description, req.Steps)
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Test: test}

	case "add_quality_check":
		if err := b.AddQualityCheck(ctx, req.Score, req.Summary); err != nil {
			return failure(err)
		}
		return Response{OK: true}

	case "progress":
		p, err := b.Progress(ctx)
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Progress: p}

	default:
		return Response{ErrorKind: "unknown_op", Error: "unknown operation: " + req.Op}
	}
}

// CreateEpic appends an epic to the bound project's roadmap.
func (b *Bridge) CreateEpic(ctx context.Context, name string, priority int) (*store.Epic, error) {
	b.countToolCall()
	return b.st.CreateEpic(b.projectID, name, priority)
}

// CreateTask appends a task under an epic of the bound project.
func (b *Bridge) CreateTask(ctx context.Context, epicID int64, description, action string, priority int) (*store.Task, error) {
	b.countToolCall()
	owner, err := b.st.EpicProjectID(epicID)
	if err != nil {
		return nil, err
	}
	if owner != b.projectID {
		return nil, cross("epic", epicID, owner)
	}
	return b.st.CreateTask(epicID, description, action, priority)
}

// CreateTest appends a verification check under a task of the bound project.
func (b *Bridge) CreateTest(ctx context.Context, taskID int64, category store.TestCategory, description string, steps []string) (*store.Test, error) {
	b.countToolCall()
	if err := b.requireTaskOwnership(taskID); err != nil {
		return nil, err
	}
	return b.st.CreateTest(taskID, category, description, steps)
}

// AddQualityCheck attaches a quality annotation to the bound session.
// Observability only; nothing in the completion gates reads these.
func (b *Bridge) AddQualityCheck(ctx context.Context, score float64, summary string) error {
	b.countToolCall()
	_, err := b.st.AddQualityCheck(b.sessionID, score, summary)
	return err
}

func failure(err error) Response {
	return Response{ErrorKind: errorKind(err), Error: err.Error()}
}
