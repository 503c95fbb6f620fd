package session

import (
	"fmt"
	"time"

	"github.com/imkarma/drover/internal/config"
	"github.com/imkarma/drover/internal/store"
)

// RecoverStale finds the project's running sessions whose heartbeat went
// quiet past the configured threshold and moves them to interrupted. Session
// age is not the signal: a session that has run for hours but heartbeats
// every interval is healthy. Returns the recovered sessions.
func RecoverStale(st *store.Store, cfg *config.Config, projectID int64) ([]store.Session, error) {
	threshold := time.Duration(cfg.Timing.StaleThresholdMin) * time.Minute
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}

	stale, err := st.StaleSessions(projectID, threshold)
	if err != nil {
		return nil, err
	}

	var recovered []store.Session
	for _, sess := range stale {
		age := time.Since(*sess.LastHeartbeat).Truncate(time.Second)
		reason := fmt.Sprintf("heartbeat stale for %s, session presumed crashed", age)
		if err := st.FinishSession(sess.ID, store.SessionInterrupted, reason, nil); err != nil {
			return recovered, fmt.Errorf("recover session %d: %w", sess.ID, err)
		}
		sess.Status = store.SessionInterrupted
		sess.Error = reason
		recovered = append(recovered, sess)
	}
	return recovered, nil
}
