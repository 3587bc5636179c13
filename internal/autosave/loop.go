package autosave

import (
	"github.com/roach88/fieldsync/internal/field"
	"github.com/roach88/fieldsync/internal/retry"
	"github.com/roach88/fieldsync/internal/save"
	"github.com/roach88/fieldsync/internal/status"
	"github.com/roach88/fieldsync/internal/value"
)

// run is the single-writer event loop. Every store, scheduler and retry
// mutation happens here.
func (s *Session) run() {
	defer close(s.done)
	defer s.teardown()

	for {
		if ev, ok := s.queue.TryDequeue(); ok {
			s.process(ev)
			continue
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.queue.Wait():
			if s.queue.Closed() && s.queue.Len() == 0 {
				return
			}
		}
	}
}

// teardown runs once on the loop goroutine as it exits.
func (s *Session) teardown() {
	s.disposed.Store(true)
	s.queue.Close()
	dropped := 0
	for _, ev := range s.queue.Drain() {
		if ev.typ == eventOutcome {
			dropped++
		}
		ev.release()
	}
	s.sched.Stop()
	s.retry.Stop()
	s.bcast.Close()

	s.log.Debug().Int("dropped_outcomes", dropped).Msg("session disposed")
}

func (s *Session) process(ev event) {
	defer ev.release()

	if s.disposed.Load() {
		if ev.typ == eventOutcome {
			s.log.Debug().
				Str("field", ev.outcome.Key.Field).
				Int64("generation", ev.outcome.Generation).
				Msg("outcome after dispose dropped")
		}
		return
	}

	switch ev.typ {
	case eventEdit:
		s.handleEdit(ev.key, ev.value)
	case eventDebounce:
		if s.sched.Fired(ev.key, ev.token) {
			s.issue(ev.key, "debounce")
		}
	case eventRetry:
		if s.retry.Fired(ev.key, ev.token) {
			s.issue(ev.key, "retry")
		}
	case eventSweep:
		s.handleSweep()
	case eventOutcome:
		s.handleOutcome(ev.epoch, ev.outcome)
	case eventSaveNow:
		s.handleSaveNow(ev.keys)
	case eventForceSave:
		s.handleForceSave()
	case eventDismiss:
		s.handleDismiss(ev.key)
	case eventLoad:
		s.store.Load(s.recordID, ev.fields)
	case eventReload:
		s.handleReload(ev.fields)
	case eventSubscribe:
		s.handleSubscribe(ev)
	case eventBarrier:
	default:
		s.log.Error().Int("type", int(ev.typ)).Msg("unknown event")
	}
}

// notify is the store's mutation callback. It runs on the loop.
func (s *Session) notify(st field.State) {
	u := status.FromState(st)
	if at, ok := s.retry.NextRetryAt(st.Key); ok && u.Retrying {
		u.RetryAt = at
	}
	s.bcast.PublishField(u)
	s.bcast.PublishRecord(status.Aggregate(s.recordID, s.store.Snapshot()))
}

func (s *Session) handleEdit(key field.Key, v any) {
	gen := s.store.Edit(key, v)
	// The latest intent supersedes any pending retry.
	s.retry.SetPhase(key, retry.PhaseScheduled)
	s.sched.Touch(key)

	s.log.Debug().
		Str("field", key.Field).
		Int64("generation", gen).
		Msg("edit")
}

// issue writes key's pending value unless a write is already outstanding,
// in which case a single follow-up is queued behind it.
func (s *Session) issue(key field.Key, reason string) {
	st, ok := s.store.Get(key)
	if !ok || !st.HasPending {
		return
	}
	log := s.log.With().Str("field", key.Field).Int64("generation", st.Generation).Logger()

	if _, busy := s.sched.InFlight(key); busy {
		s.sched.MarkFollowUp(key)
		log.Debug().Str("reason", reason).Msg("write in flight, follow-up queued")
		return
	}

	// A write dispatched since the last confirmation may have replaced the
	// confirmed value, so equality alone does not prove the backend has it.
	if st.HasConfirmed && !st.Diverged && value.Equal(st.Pending, st.Confirmed) {
		s.sched.Cancel(key)
		s.store.Confirm(key, st.Generation, st.Pending)
		s.retry.SetPhase(key, retry.PhaseSaved)
		log.Debug().Msg("value unchanged, write skipped")
		return
	}

	if err := s.store.BeginSave(key, st.Generation); err != nil {
		log.Warn().Err(err).Msg("save not started")
		return
	}
	s.sched.Begin(key, st.Generation)
	s.retry.SetPhase(key, retry.PhaseSaving)

	req := save.Request{
		SessionID:  s.id,
		Key:        key,
		Value:      st.Pending,
		Generation: st.Generation,
		Attempt:    st.Attempt + 1,
		IssuedAt:   s.clock.Now(),
	}
	epoch := s.epoch
	log.Debug().Str("reason", reason).Int("attempt", req.Attempt).Msg("save issued")

	s.opts.dispatcher.Dispatch(req, func() {
		out := s.client.Save(s.ctx, req)
		if !s.queue.Enqueue(event{typ: eventOutcome, outcome: out, epoch: epoch}) {
			s.log.Debug().
				Str("field", key.Field).
				Int64("generation", req.Generation).
				Msg("outcome after dispose dropped")
		}
	})
}

func (s *Session) handleOutcome(epoch uint64, out save.Outcome) {
	key := out.Key
	log := s.log.With().
		Str("field", key.Field).
		Int64("generation", out.Generation).
		Int("attempt", out.Attempt).
		Logger()

	if out.SessionID != s.id {
		log.Debug().Msg("outcome from another session dropped")
		return
	}
	s.debug.Record(s.ctx, out)

	followUp := s.sched.End(key)
	if epoch != s.epoch {
		// The write was issued before a reload. Its value is not applied, but
		// it may have landed, and edits made meanwhile waited behind it.
		s.store.Diverge(key)
		log.Debug().Bool("follow_up", followUp).Msg("outcome from before reload dropped")
		if followUp {
			s.issue(key, "follow-up")
		}
		return
	}

	switch {
	case out.Succeeded():
		if s.store.Confirm(key, out.Generation, out.Value) {
			s.retry.SetPhase(key, retry.PhaseSaved)
			log.Debug().Dur("took", out.Duration()).Msg("save confirmed")
		} else {
			log.Debug().Msg("stale outcome dropped")
		}

	case out.Err != nil && save.IsCanceled(out.Err):
		// Only produced while the session shuts down.
		log.Debug().Msg("write canceled")
		return

	default:
		st, _ := s.store.Get(key)
		if !st.IsCurrent(out.Generation) {
			s.store.Fail(key, out.Generation, out.Err, false)
			log.Debug().Msg("stale outcome dropped")
			break
		}

		d := s.retry.Policy().Decide(st.Attempt+1, out.Result)
		if d.Retry {
			// Armed before the failure is published so subscribers see
			// when the retry is due.
			delay, _ := s.retry.Schedule(key, d.Attempt)
			s.store.Fail(key, out.Generation, out.Err, false)
			log.Debug().Err(out.Err).Dur("delay", delay).Msg("retry scheduled")
			break
		}
		s.store.Fail(key, out.Generation, out.Err, d.Terminal)
		s.retry.SetPhase(key, retry.PhaseTerminal)
		msg := "save failed"
		if out.Result == save.ResultRetryable {
			msg = "retry exhausted"
		}
		log.Warn().Err(out.Err).
			Str("category", string(out.Err.Category)).
			Int("failures", d.Attempt).
			Msg(msg)
	}

	if !followUp {
		return
	}
	if cur, ok := s.store.Get(key); ok && cur.Generation != out.Generation {
		s.issue(key, "follow-up")
	}
}

func (s *Session) handleSweep() {
	now := s.clock.Now()
	for _, st := range s.store.Snapshot() {
		if st.Status != field.StatusScheduled || !s.sched.Elapsed(st.Key, now) {
			continue
		}
		if _, busy := s.sched.InFlight(st.Key); busy {
			continue
		}
		s.sched.Cancel(st.Key)
		s.issue(st.Key, "sweep")
	}
}

func (s *Session) handleSaveNow(keys []field.Key) {
	if len(keys) == 0 {
		for _, st := range s.store.Snapshot() {
			keys = append(keys, st.Key)
		}
	}
	for _, key := range keys {
		st, ok := s.store.Get(key)
		if !ok || !st.HasPending || st.Terminal {
			continue
		}
		s.sched.Cancel(key)
		s.retry.Cancel(key)
		s.issue(key, "save-now")
	}
}

func (s *Session) handleForceSave() {
	for _, st := range s.store.Snapshot() {
		if st.Status != field.StatusError && st.Status != field.StatusScheduled {
			continue
		}
		s.sched.Cancel(st.Key)
		s.retry.Cancel(st.Key)
		if _, restarted := s.store.Restart(st.Key); restarted {
			s.retry.SetPhase(st.Key, retry.PhaseScheduled)
		}
		s.issue(st.Key, "force-save")
	}
}

func (s *Session) handleDismiss(key field.Key) {
	if s.store.Dismiss(key) && s.retry.Phase(key) == retry.PhaseTerminal {
		s.retry.SetPhase(key, retry.PhaseIdle)
	}
}

func (s *Session) handleReload(fields map[string]any) {
	s.epoch++
	s.sched.Reset()
	s.retry.Reset()
	s.store.Reset()
	s.bcast.Reset()
	s.store.Load(s.recordID, fields)
	s.bcast.PublishRecord(status.Aggregate(s.recordID, s.store.Snapshot()))

	s.log.Debug().Uint64("epoch", s.epoch).Int("fields", len(fields)).Msg("record reloaded")
}

func (s *Session) handleSubscribe(ev event) {
	if ev.fieldFn != nil {
		st := s.store.Ensure(ev.key)
		s.bcast.DeliverField(ev.fieldFn, status.FromState(st))
	}
	if ev.recordFn != nil {
		s.bcast.DeliverRecord(ev.recordFn, status.Aggregate(s.recordID, s.store.Snapshot()))
	}
}
