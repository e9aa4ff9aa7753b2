package app

import (
	"context"

	"stillalive/internal/mailer"
	"stillalive/internal/runtime/supervisor"
	"stillalive/internal/storage"
	"stillalive/internal/task/engine"
	"stillalive/internal/task/scheduler"
	logx "stillalive/pkg/logx"
)

// debugState is served on /debug/state.
type debugState struct {
	Routines  []supervisor.Routine         `json:"routines"`
	Engine    engine.Snapshot              `json:"engine"`
	Scheduler scheduler.Snapshot           `json:"scheduler"`
	Outbox    map[storage.OutboxStatus]int `json:"outbox,omitempty"`
	Mail      []mailer.HistoryItem         `json:"mail"`
}

func (a *App) debugState(ctx context.Context) debugState {
	st := debugState{
		Engine:    a.engine.Snapshot(),
		Scheduler: a.sched.Snapshot(),
		Mail:      a.mail.History(),
	}
	if a.sup != nil {
		st.Routines = a.sup.Routines()
	}
	counts, err := a.store.CountOutbox(ctx)
	if err != nil {
		a.log.Warn("debug state: count outbox failed", logx.Err(err))
	} else {
		st.Outbox = counts
	}
	return st
}
