package scheduler

import (
	"errors"
	"time"

	"stillalive/internal/task/engine"
	logx "stillalive/pkg/logx"
)

const refusedWarnEvery = 5 * time.Second

// triggerStats counts the fate of each trigger of one schedule.
type triggerStats struct {
	fired    uint64
	skipped  uint64
	refused  uint64
	lastWarn time.Time
}

// record books one trigger. Overlap skips are routine (a sweep still running
// when the next hour starts) and log at debug; refusals from the engine warn,
// at most once per refusedWarnEvery per schedule.
func (s *Service) record(name string, err error) {
	s.statsMu.Lock()
	st := s.stats[name]
	if st == nil {
		st = &triggerStats{}
		s.stats[name] = st
	}
	switch {
	case err == nil:
		st.fired++
		s.statsMu.Unlock()
		return
	case errors.Is(err, engine.ErrOverlapSkip):
		st.skipped++
		s.statsMu.Unlock()
		s.log.Debug("schedule trigger skipped; previous run still pending", logx.String("schedule", name))
		return
	}
	st.refused++
	now := time.Now()
	warn := st.lastWarn.IsZero() || now.Sub(st.lastWarn) >= refusedWarnEvery
	if warn {
		st.lastWarn = now
	}
	refused := st.refused
	s.statsMu.Unlock()

	if warn {
		s.log.Warn("schedule trigger refused by task engine",
			logx.String("schedule", name), logx.Uint64("refused", refused), logx.Err(err))
	}
}

func (s *Service) statsFor(name string) (fired, skipped, refused uint64) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if st := s.stats[name]; st != nil {
		return st.fired, st.skipped, st.refused
	}
	return 0, 0, 0
}
