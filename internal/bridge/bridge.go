// Package bridge exposes task-store operations and sandboxed command
// execution to the external agent loop. It is a stateless protocol adapter:
// every operation maps 1:1 to a store or sandbox contract, and named error
// conditions pass through undisturbed so the caller can branch on them.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imkarma/drover/internal/guard"
	"github.com/imkarma/drover/internal/sandbox"
	"github.com/imkarma/drover/internal/store"
)

// ErrCommandBlocked marks a command the guard refused to run. It is a named
// condition, not an exit code: a real command can exit with any code, so the
// policy rejection must stay distinguishable from all of them.
var ErrCommandBlocked = errors.New("command blocked by security policy")

// Bridge binds one session to its project, store, sandbox and command guard.
// Operations referencing records outside the bound project are rejected with
// store.ErrCrossProject, never silently redirected.
type Bridge struct {
	st        *store.Store
	sb        sandbox.Sandbox
	gd        *guard.Guard
	projectID int64
	sessionID int64
	log       *logrus.Entry

	mu      sync.Mutex
	metrics store.SessionMetrics
}

// New creates a bridge bound to one session.
func New(st *store.Store, sb sandbox.Sandbox, gd *guard.Guard, projectID, sessionID int64) *Bridge {
	return &Bridge{
		st:        st,
		sb:        sb,
		gd:        gd,
		projectID: projectID,
		sessionID: sessionID,
		log:       logrus.WithField("component", "bridge").WithField("session", sessionID),
	}
}

// Metrics returns a snapshot of the counters accumulated so far.
func (b *Bridge) Metrics() store.SessionMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// GetNextTask returns the highest-priority incomplete task of the bound
// project, or nil when the roadmap is exhausted.
func (b *Bridge) GetNextTask(ctx context.Context) (*store.Task, error) {
	b.countToolCall()
	return b.st.GetNextTask(b.projectID)
}

// StartTask records that the session is working on a task.
func (b *Bridge) StartTask(ctx context.Context, taskID int64, notes string) error {
	b.countToolCall()
	if err := b.requireTaskOwnership(taskID); err != nil {
		return err
	}
	if notes == "" {
		notes = fmt.Sprintf("started by session %d", b.sessionID)
	}
	return b.st.SetTaskNotes(taskID, notes)
}

// RecordTestResult upserts a test's verification outcome. Recording the same
// outcome twice leaves both the test and the session metrics unchanged.
func (b *Bridge) RecordTestResult(ctx context.Context, testID int64, passes bool, payload string) error {
	b.countToolCall()
	if err := b.requireTestOwnership(testID); err != nil {
		return err
	}

	prev, err := b.st.GetTest(testID)
	if err != nil {
		return err
	}

	if err := b.st.RecordTestResult(testID, passes, b.sessionID, payload); err != nil {
		return err
	}

	b.mu.Lock()
	b.metrics.VerificationRuns++
	if passes && !prev.Passes {
		b.metrics.TestsPassed++
	}
	b.mu.Unlock()
	return nil
}

// MarkTaskDone flips a task's completion flag. store.ErrUnverifiedTests
// propagates as-is: the agent loop must see the distinct condition and go
// fix the failing tests instead of retrying blindly.
func (b *Bridge) MarkTaskDone(ctx context.Context, taskID int64, notes string) error {
	b.countToolCall()
	if err := b.requireTaskOwnership(taskID); err != nil {
		return err
	}

	if err := b.st.MarkTaskDone(taskID, b.sessionID, notes); err != nil {
		return err
	}

	b.mu.Lock()
	b.metrics.TasksCompleted++
	b.mu.Unlock()
	return nil
}

// ExecCommand runs a shell command through the guard and then the sandbox.
// A blocked command never reaches the sandbox; the caller gets
// ErrCommandBlocked naming the offending term.
func (b *Bridge) ExecCommand(ctx context.Context, command string, timeout time.Duration) (*sandbox.ExecResult, error) {
	b.countToolCall()

	if c := b.gd.Classify(command); c.Blocked {
		b.log.WithField("term", c.Term).Warn("blocked command rejected")
		return nil, fmt.Errorf("%w (matched %q)", ErrCommandBlocked, c.Term)
	}

	return b.sb.Exec(ctx, command, timeout)
}

// Progress returns the project's completion rollup.
func (b *Bridge) Progress(ctx context.Context) (*store.Progress, error) {
	b.countToolCall()
	return b.st.ProgressSummary(b.projectID)
}

func (b *Bridge) countToolCall() {
	b.mu.Lock()
	b.metrics.ToolCalls++
	b.mu.Unlock()
}

func (b *Bridge) requireTaskOwnership(taskID int64) error {
	owner, err := b.st.TaskProjectID(taskID)
	if err != nil {
		return err
	}
	if owner != b.projectID {
		return cross("task", taskID, owner)
	}
	return nil
}

func (b *Bridge) requireTestOwnership(testID int64) error {
	owner, err := b.st.TestProjectID(testID)
	if err != nil {
		return err
	}
	if owner != b.projectID {
		return cross("test", testID, owner)
	}
	return nil
}

func cross(kind string, id, owner int64) error {
	return fmt.Errorf("%w: %s %d belongs to project %d", store.ErrCrossProject, kind, id, owner)
}

// errorKind maps a named error condition to its protocol-level kind string.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrCommandBlocked):
		return "command_blocked"
	case errors.Is(err, store.ErrUnverifiedTests):
		return "unverified_tests"
	case errors.Is(err, store.ErrCrossProject):
		return "cross_project"
	case errors.Is(err, store.ErrParentNotFound):
		return "parent_not_found"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrSessionTypeInvariant):
		return "session_type_invariant"
	default:
		return "internal"
	}
}
