// Package scheduler runs incremental fleet syncs on a cron schedule.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pharmalink/provider-sync/internal/model"
	"github.com/pharmalink/provider-sync/internal/provsync"
)

// Syncer runs one fleet sync.
type Syncer interface {
	SyncAll(ctx context.Context, provider string, q provsync.Query) (*model.FleetResult, error)
}

// Scheduler triggers incremental syncs of its providers. A tick that fires
// while the previous run is still going is skipped.
type Scheduler struct {
	syncer    Syncer
	providers []string
	spec      string
	cron      *cron.Cron
	log       *zap.Logger

	mu      sync.Mutex
	running bool
	syncing bool
	ctx     context.Context
	cancel  context.CancelFunc
	last    map[string]RunStatus
}

// RunStatus is the outcome of the latest scheduled run of a provider.
type RunStatus struct {
	At       time.Time `json:"at"`
	Stored   int       `json:"stored"`
	Skipped  int       `json:"skipped"`
	Error    string    `json:"error,omitempty"`
	Duration string    `json:"duration"`
}

// New creates a scheduler. spec is a standard five-field cron expression.
func New(syncer Syncer, spec string, providers []string) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, eris.Wrapf(err, "scheduler: parse schedule %q", spec)
	}
	return &Scheduler{
		syncer:    syncer,
		providers: providers,
		spec:      spec,
		cron:      cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
		log:       zap.L().With(zap.String("component", "scheduler")),
		last:      make(map[string]RunStatus),
	}, nil
}

// Start registers the job and starts the cron loop. Runs inherit ctx, so
// cancelling it stops an in-flight sync.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce() }); err != nil {
		return eris.Wrap(err, "scheduler: add job")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.running = true

	s.log.Info("scheduler started",
		zap.String("schedule", s.spec),
		zap.Strings("providers", s.providers),
		zap.Time("next_run", s.nextRun()),
	)
	return nil
}

// Stop cancels any in-flight run and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunOnce syncs every provider in order unless a run is already going. It
// reports whether it ran.
func (s *Scheduler) RunOnce() bool {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		s.log.Warn("previous scheduled run still in progress, skipping tick")
		return false
	}
	s.syncing = true
	ctx := s.ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	for _, p := range s.providers {
		if ctx.Err() != nil {
			return true
		}
		s.runProvider(ctx, p)
	}
	return true
}

func (s *Scheduler) runProvider(ctx context.Context, provider string) {
	start := time.Now()
	res, err := s.syncer.SyncAll(ctx, provider, provsync.Query{})

	st := RunStatus{At: start, Duration: time.Since(start).Round(time.Millisecond).String()}
	if err != nil {
		st.Error = err.Error()
		s.log.Error("scheduled sync failed",
			zap.String("provider", provider),
			zap.String("class", provsync.Classify(err).String()),
			zap.Error(err),
		)
	} else {
		st.Stored = res.Stored
		st.Skipped = len(res.Skipped)
		s.log.Info("scheduled sync complete",
			zap.String("provider", provider),
			zap.Int("stored", res.Stored),
			zap.Int("skipped", len(res.Skipped)),
		)
	}

	s.mu.Lock()
	s.last[provider] = st
	s.mu.Unlock()
}

// IsSyncing reports whether a run is in progress.
func (s *Scheduler) IsSyncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// Status returns the latest run per provider and the next scheduled time.
func (s *Scheduler) Status() (map[string]RunStatus, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]RunStatus, len(s.last))
	for k, v := range s.last {
		out[k] = v
	}
	return out, s.nextRun()
}

func (s *Scheduler) nextRun() time.Time {
	sched, err := cron.ParseStandard(s.spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now())
}
