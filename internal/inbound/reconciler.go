package inbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ErrUnknownInstance is returned when an event names an instance with no
// stored watermark row.
var ErrUnknownInstance = errors.New("inbound: unknown instance")

// Handler is the downstream pipeline. Handle must return nil only once the
// event is safely handed off; any error keeps the watermark where it was.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Reconciler applies the watermark rule to events from any source.
type Reconciler struct {
	Store   Store
	Locker  Locker
	Handler Handler

	// NotFound maps a Store error to ErrUnknownInstance. Optional.
	NotFound func(error) bool
}

// Result pairs an event with its outcome.
type Result struct {
	MessageID string
	Outcome   Outcome
}

// Ingest reconciles a single event. A delivered outcome means the handler
// accepted it and the watermark moved past it.
func (r *Reconciler) Ingest(ctx context.Context, ev Event) (Outcome, error) {
	if !ev.relevant() {
		observe(ev.Source, OutcomeIgnored)
		return OutcomeIgnored, nil
	}
	res, err := r.IngestBatch(ctx, ev.InstanceKey, []Event{ev})
	if len(res) == 0 {
		return OutcomeFailed, err
	}
	return res[0].Outcome, err
}

// IngestBatch reconciles a set of events of one instance. Events are
// sorted chronologically first, and processing stops at the first handoff
// failure so nothing newer can overtake the failed message.
func (r *Reconciler) IngestBatch(ctx context.Context, instanceKey string, events []Event) ([]Result, error) {
	candidates := make([]Event, 0, len(events))
	results := make([]Result, 0, len(events))
	for _, ev := range events {
		if ev.InstanceKey == "" {
			ev.InstanceKey = instanceKey
		}
		if !ev.relevant() || ev.InstanceKey != instanceKey {
			observe(ev.Source, OutcomeIgnored)
			results = append(results, Result{MessageID: ev.MessageID, Outcome: OutcomeIgnored})
			continue
		}
		candidates = append(candidates, ev)
	}
	if len(candidates) == 0 {
		return results, nil
	}
	SortChronological(candidates)

	unlock, err := r.Locker.Lock(ctx, instanceKey)
	if err != nil {
		return r.failRest(results, candidates, fmt.Errorf("inbound: lock %s: %w", instanceKey, err))
	}
	defer unlock()

	wm, err := r.Store.Load(ctx, instanceKey)
	if err != nil {
		if r.NotFound != nil && r.NotFound(err) {
			err = ErrUnknownInstance
		}
		return r.failRest(results, candidates, fmt.Errorf("inbound: load watermark %s: %w", instanceKey, err))
	}

	for i, ev := range candidates {
		ok, why := wm.Admits(ev.MessageID, ev.Timestamp)
		if !ok {
			observe(ev.Source, why)
			results = append(results, Result{MessageID: ev.MessageID, Outcome: why})
			continue
		}

		if err := r.Handler.Handle(ctx, ev); err != nil {
			return r.failRest(results, candidates[i:], fmt.Errorf("inbound: handoff %s: %w", ev.MessageID, err))
		}

		next := wm.Advance(ev.MessageID, ev.Timestamp)
		if err := r.Store.Save(ctx, instanceKey, next); err != nil {
			// Handed off but not recorded: a redelivery of this message will
			// be handed off again.
			log.Error().Err(err).
				Str("instance_key", instanceKey).
				Str("message_id", ev.MessageID).
				Msg("inbound: save watermark after handoff")
			observe(ev.Source, OutcomeDelivered)
			results = append(results, Result{MessageID: ev.MessageID, Outcome: OutcomeDelivered})
			return r.failRest(results, candidates[i+1:], fmt.Errorf("inbound: save watermark %s: %w", instanceKey, err))
		}
		wm = next
		observe(ev.Source, OutcomeDelivered)
		results = append(results, Result{MessageID: ev.MessageID, Outcome: OutcomeDelivered})
	}
	return results, nil
}

func (r *Reconciler) failRest(results []Result, rest []Event, err error) ([]Result, error) {
	for _, ev := range rest {
		observe(ev.Source, OutcomeFailed)
		results = append(results, Result{MessageID: ev.MessageID, Outcome: OutcomeFailed})
	}
	return results, err
}
