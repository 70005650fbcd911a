package server

import (
	"log/slog"

	"github.com/crystal-mush/mudtelnet/pkg/capstore"
	"github.com/crystal-mush/mudtelnet/pkg/events"
)

// Recorder persists the final capability record of every session.
type Recorder struct {
	store *capstore.Store
	log   *slog.Logger
}

// NewRecorder returns a bus subscriber writing to store.
func NewRecorder(store *capstore.Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, log: logger.With("component", "recorder")}
}

// Receive implements events.Subscriber.
func (r *Recorder) Receive(ev events.Event) {
	if ev.Type != events.EvDisconnect {
		return
	}
	rec, ok := ev.Data["record"].(*capstore.Record)
	if !ok {
		return
	}
	if err := r.store.Put(rec); err != nil {
		r.log.Warn("could not record session", "id", rec.ID, "err", err)
	}
}

// Closed implements events.Subscriber.
func (r *Recorder) Closed() bool { return false }

var _ events.Subscriber = (*Recorder)(nil)
