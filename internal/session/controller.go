// Package session runs exactly one agent session end-to-end: acquire the
// sandbox, dispatch work to the agent loop, watch liveness, persist the
// outcome, and decide whether another session should follow.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imkarma/drover/internal/agent"
	"github.com/imkarma/drover/internal/bridge"
	"github.com/imkarma/drover/internal/config"
	"github.com/imkarma/drover/internal/guard"
	"github.com/imkarma/drover/internal/sandbox"
	"github.com/imkarma/drover/internal/store"
)

// Controller owns one session's lifecycle:
//
//	PENDING → RUNNING → {COMPLETED | ERROR | INTERRUPTED}
//
// PENDING→RUNNING requires a successful sandbox start; a start failure goes
// straight to ERROR. While RUNNING, a heartbeat goroutine refreshes the
// liveness timestamp independently of command execution so a stale-session
// sweeper can tell "slow but alive" from "crashed".
type Controller struct {
	st         *store.Store
	reg        *sandbox.Registry
	cfg        *config.Config
	runner     agent.Runner
	project    *store.Project
	sessType   store.SessionType
	projectDir string
	log        *logrus.Entry

	// newSandbox is a seam for tests; defaults to sandbox.New.
	newSandbox func(sandbox.Config, *sandbox.Registry) (sandbox.Sandbox, error)
}

// Outcome reports how the session ended and whether the loop should continue.
type Outcome struct {
	Session  *store.Session
	Continue bool
}

// New builds a controller for one session of the given type.
func New(st *store.Store, reg *sandbox.Registry, cfg *config.Config, runner agent.Runner, project *store.Project, sessType store.SessionType, projectDir string) *Controller {
	return &Controller{
		st:         st,
		reg:        reg,
		cfg:        cfg,
		runner:     runner,
		project:    project,
		sessType:   sessType,
		projectDir: projectDir,
		log:        logrus.WithField("component", "session").WithField("project", project.Name),
		newSandbox: sandbox.New,
	}
}

// Run executes the session. The returned error reflects session-fatal
// conditions; the session record itself always reaches a terminal state with
// a human-readable reason, never a raw stack trace.
func (c *Controller) Run(ctx context.Context) (*Outcome, error) {
	model := c.modelFor(c.sessType)

	sess, err := c.st.CreateSession(c.project.ID, c.sessType, model)
	if err != nil {
		return nil, err
	}
	c.log = c.log.WithField("session", sess.Number)

	sb, err := c.newSandbox(sandbox.Config{
		Type:        c.cfg.Sandbox.Type,
		ProjectName: c.project.Name,
		ProjectDir:  c.projectDir,
		Image:       c.cfg.Sandbox.Image,
		MemoryLimit: c.cfg.Sandbox.MemoryLimit,
		CPULimit:    c.cfg.Sandbox.CPULimit,
		Ports:       c.cfg.Sandbox.Ports,
		Fresh:       c.sessType == store.SessionInitializer,
	}, c.reg)
	if err != nil {
		return c.fail(sess, fmt.Sprintf("sandbox configuration: %v", err))
	}

	if err := sb.Start(ctx); err != nil {
		// ERROR without ever reaching RUNNING.
		return c.fail(sess, fmt.Sprintf("sandbox start: %v", err))
	}
	defer sb.Stop(context.WithoutCancel(ctx))

	if err := c.st.StartSession(sess.ID); err != nil {
		return c.fail(sess, fmt.Sprintf("start session: %v", err))
	}
	c.log.Info("session running")

	stopBeat := c.startHeartbeat(sess.ID)
	defer stopBeat()

	gd := guard.New(c.cfg.Security.AdditionalBlockedCommands...)
	br := bridge.New(c.st, sb, gd, c.project.ID, sess.ID)

	started := time.Now()
	resp, runErr := c.runner.Run(ctx, agent.Request{
		SessionID:  sess.ID,
		Prompt:     promptFor(c.sessType, c.project.Name),
		WorkDir:    c.projectDir,
		Model:      model,
		TimeoutSec: c.cfg.Agent.TimeoutSec,
	}, br)
	stopBeat()

	metrics := br.Metrics()
	metrics.DurationSeconds = time.Since(started).Seconds()

	var status store.SessionStatus
	var reason string
	switch {
	case ctx.Err() != nil:
		status = store.SessionInterrupted
		reason = "interrupted by operator"
	case runErr != nil:
		status = store.SessionError
		reason = runErr.Error()
	default:
		status = store.SessionCompleted
		if resp != nil && resp.ExitCode != 0 {
			status = store.SessionError
			reason = fmt.Sprintf("agent exited with code %d", resp.ExitCode)
		}
	}

	if err := c.st.FinishSession(sess.ID, status, reason, &metrics); err != nil {
		c.log.Errorf("persist session outcome: %v", err)
	}

	final, err := c.st.GetSession(sess.ID)
	if err != nil {
		return nil, err
	}
	c.log.WithField("status", final.Status).Info("session finished")

	cont, err := c.shouldContinue(final)
	if err != nil {
		return &Outcome{Session: final}, err
	}
	return &Outcome{Session: final, Continue: cont}, nil
}

// fail finalizes a session that never reached RUNNING.
func (c *Controller) fail(sess *store.Session, reason string) (*Outcome, error) {
	c.log.Error(reason)
	if err := c.st.FinishSession(sess.ID, store.SessionError, reason, nil); err != nil {
		c.log.Errorf("persist failed session: %v", err)
	}
	final, _ := c.st.GetSession(sess.ID)
	return &Outcome{Session: final}, errors.New(reason)
}

// startHeartbeat refreshes the session's liveness timestamp on a timer until
// the returned stop function is called. The ticker runs in its own goroutine
// so long command executions cannot starve it.
func (c *Controller) startHeartbeat(sessionID int64) func() {
	interval := time.Duration(c.cfg.Timing.HeartbeatIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	done := make(chan struct{})
	stopped := false
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.st.Heartbeat(sessionID); err != nil {
					c.log.Warnf("heartbeat: %v", err)
				}
			}
		}
	}()

	return func() {
		if !stopped {
			stopped = true
			close(done)
		}
	}
}

// shouldContinue decides whether the loop should start another session:
// only after a completed session, for an active project that still has
// eligible work.
func (c *Controller) shouldContinue(sess *store.Session) (bool, error) {
	if sess.Status != store.SessionCompleted {
		return false, nil
	}

	project, err := c.st.GetProject(c.project.ID)
	if err != nil {
		return false, err
	}
	if project.Status != store.ProjectActive {
		return false, nil
	}

	next, err := c.st.GetNextTask(project.ID)
	if err != nil {
		return false, err
	}
	if next == nil && sess.Type != store.SessionInitializer {
		return false, nil
	}
	// The initializer just built the roadmap; coding work starts next.
	return next != nil || sess.Type == store.SessionInitializer, nil
}

func (c *Controller) modelFor(t store.SessionType) string {
	switch t {
	case store.SessionInitializer:
		return c.cfg.Models.Initializer
	case store.SessionReview:
		if c.cfg.Models.Review != "" {
			return c.cfg.Models.Review
		}
		return c.cfg.Models.Coding
	default:
		return c.cfg.Models.Coding
	}
}

// promptFor builds the minimal per-session instruction. The substantial
// prompt content lives with the agent tooling, not here.
func promptFor(t store.SessionType, project string) string {
	switch t {
	case store.SessionInitializer:
		return fmt.Sprintf("Plan the full roadmap for project %q: create epics, tasks and verification tests, then stop.", project)
	case store.SessionReview:
		return fmt.Sprintf("Review recent work on project %q and record test results for anything you verify.", project)
	default:
		return fmt.Sprintf("Continue work on project %q: fetch the next task, implement it, verify its tests, and mark it done.", project)
	}
}
