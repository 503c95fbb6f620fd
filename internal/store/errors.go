package store

import "errors"

// Named error conditions callers branch on with errors.Is.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrParentNotFound is returned when creating a child whose parent
	// (project for epics, epic for tasks, task for tests) does not exist.
	ErrParentNotFound = errors.New("parent record not found")

	// ErrUnverifiedTests is returned by MarkTaskDone while any test under
	// the task is failing. Never swallowed into a generic failure.
	ErrUnverifiedTests = errors.New("task has unverified or failing tests")

	// ErrSessionTypeInvariant is returned when session creation would
	// violate the initializer rule: session 0 must be the initializer,
	// and no initializer may be created once epics exist.
	ErrSessionTypeInvariant = errors.New("session type violates initializer invariant")

	// ErrCrossProject is returned when an operation references a record
	// that belongs to a different project than the one it is bound to.
	ErrCrossProject = errors.New("record belongs to a different project")
)
