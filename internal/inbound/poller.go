package inbound

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/repo"
	"github.com/tbourn/go-menu-backend/internal/whatsapp"
)

// Fetcher reads the most recent inbound messages of a session.
type Fetcher interface {
	FindMessages(ctx context.Context, cred whatsapp.Credentials, limit int) ([]whatsapp.Message, error)
}

// Target is one instance the poller visits.
type Target struct {
	InstanceKey string
	Credentials whatsapp.Credentials
}

// TargetsFunc lists the instances to poll in one cycle.
type TargetsFunc func(ctx context.Context) ([]Target, error)

// ConnectedTargets lists every connected instance in db.
func ConnectedTargets(db *gorm.DB) TargetsFunc {
	return func(ctx context.Context) ([]Target, error) {
		rows, err := repo.ListInstancesByStatus(ctx, db, domain.InstanceConnected)
		if err != nil {
			return nil, err
		}
		out := make([]Target, 0, len(rows))
		for _, w := range rows {
			out = append(out, Target{
				InstanceKey: w.InstanceKey,
				Credentials: whatsapp.Credentials{Host: w.APIHost, Token: w.APIToken, InstanceKey: w.InstanceKey},
			})
		}
		return out, nil
	}
}

// CycleStats summarizes one poll cycle.
type CycleStats struct {
	Instances int
	Failed    int
	Delivered int
}

// Poller backstops the webhook by fetching a small page of recent messages
// per instance on a fixed delay. A missed cycle heals on the next one, so
// there is no backoff.
type Poller struct {
	Reconciler   *Reconciler
	Fetcher      Fetcher
	Targets      TargetsFunc
	Interval     time.Duration
	PageSize     int
	FetchTimeout time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// Start launches the loop. It returns immediately; the loop ends on Stop
// or when ctx is done. Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	interval := p.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	stop, done := p.stop, p.done
	go func() {
		defer close(done)
		// A timer reset after each cycle keeps a fixed delay between the end
		// of one cycle and the start of the next, however slow a cycle is.
		timer := time.NewTimer(interval)
		defer timer.Stop()

		log.Info().Dur("interval", interval).Msg("inbound poller: started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("inbound poller: shutting down")
				return
			case <-stop:
				log.Info().Msg("inbound poller: stopped")
				return
			case <-timer.C:
				// An in-flight cycle is allowed to finish after Stop.
				p.RunOnce(context.WithoutCancel(ctx))
				timer.Reset(interval)
			}
		}
	}()
}

// Stop prevents further cycles and waits for the current one to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	done := p.done
	p.mu.Unlock()
	<-done
}

// RunOnce polls every target once. Each instance is fetched and reconciled
// on its own; a failure is logged and the next instance proceeds.
func (p *Poller) RunOnce(ctx context.Context) CycleStats {
	var stats CycleStats
	targets, err := p.Targets(ctx)
	if err != nil {
		log.Error().Err(err).Msg("inbound poller: list instances")
		return stats
	}
	stats.Instances = len(targets)
	for _, t := range targets {
		n, err := p.pollOne(ctx, t)
		stats.Delivered += n
		if err != nil {
			stats.Failed++
		}
	}
	if stats.Delivered > 0 || stats.Failed > 0 {
		log.Debug().
			Int("instances", stats.Instances).
			Int("delivered", stats.Delivered).
			Int("failed", stats.Failed).
			Msg("inbound poller: cycle done")
	}
	return stats
}

func (p *Poller) pollOne(ctx context.Context, t Target) (int, error) {
	timeout := p.FetchTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	msgs, err := p.Fetcher.FindMessages(fctx, t.Credentials, p.PageSize)
	cancel()
	if err != nil {
		pollFailures.Inc()
		log.Warn().Err(err).Str("instance_key", t.InstanceKey).Msg("inbound poller: fetch failed")
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	events := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		events = append(events, NewEvent(t.InstanceKey, m, SourcePoll, now))
	}
	results, err := p.Reconciler.IngestBatch(ctx, t.InstanceKey, events)
	delivered := 0
	for _, r := range results {
		if r.Outcome == OutcomeDelivered {
			delivered++
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("instance_key", t.InstanceKey).Msg("inbound poller: reconcile failed")
	}
	return delivered, err
}
