// Package provsync is the provider synchronization engine. It resolves
// branch credentials, keeps tokens warm, splits date ranges into windows,
// fans list calls out over every enabled branch and persists the merged
// record set as the provider's watermark.
package provsync

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/daterange"
	"github.com/pharmalink/provider-sync/internal/model"
	"github.com/pharmalink/provider-sync/internal/normalize"
	"github.com/pharmalink/provider-sync/internal/store"
	"github.com/pharmalink/provider-sync/internal/token"
	"github.com/pharmalink/provider-sync/internal/tree"
	"github.com/pharmalink/provider-sync/internal/upstream"
)

// Run modes.
const (
	ModeIncremental = "incremental"
	ModeExplicit    = "explicit"
)

// Query is a caller's sync or list request.
type Query struct {
	// From and To bound an explicit range. Both empty means incremental
	// for fleet runs and the provider default for single-branch lists.
	From string
	To   string
	// Overrides take precedence over stored branch credentials.
	Overrides map[string]string
	// Filters are passed to the provider as is.
	Filters map[string]string
	Kind    string
}

// Explicit reports whether the caller bounded the range.
func (q Query) Explicit() bool {
	return q.From != "" || q.To != ""
}

// RunLog records fleet runs. Implementations must be safe to call with a
// cancelled context.
type RunLog interface {
	Start(ctx context.Context, provider, mode string) (string, error)
	Complete(ctx context.Context, id string, res RunSummary) error
	Fail(ctx context.Context, id string, errMsg string) error
}

// RunSummary is what a finished run reports to the RunLog.
type RunSummary struct {
	Branches int
	Records  int64
	Skipped  []model.Skip
}

// Options configures an Engine.
type Options struct {
	Registry  *Registry
	Resolver  *credential.Resolver
	Tokens    *token.Manager
	Records   store.RecordStore
	Directory store.BranchDirectory
	// Runs may be nil.
	Runs RunLog
	// Concurrency above 1 processes branches in parallel.
	Concurrency int
	// MaxBranches caps the branches of one fleet run.
	MaxBranches int
	Now         func() time.Time
}

// Engine runs sync operations.
type Engine struct {
	registry    *Registry
	resolver    *credential.Resolver
	tokens      *token.Manager
	records     store.RecordStore
	directory   store.BranchDirectory
	runs        RunLog
	concurrency int
	maxBranches int
	now         func() time.Time
	log         *zap.Logger
}

// NewEngine creates an engine from opts.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		registry:    opts.Registry,
		resolver:    opts.Resolver,
		tokens:      opts.Tokens,
		records:     opts.Records,
		directory:   opts.Directory,
		runs:        opts.Runs,
		concurrency: opts.Concurrency,
		maxBranches: opts.MaxBranches,
		now:         opts.Now,
		log:         zap.L().With(zap.String("component", "provsync")),
	}
	if e.concurrency < 1 {
		e.concurrency = 1
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Registry returns the engine's provider registry.
func (e *Engine) Registry() *Registry { return e.registry }

// SyncAll fetches every enabled branch of provider and persists the
// result. Without an explicit range the run resumes from the stored
// watermark and merges into the stored set; with one, the stored set is
// replaced by what the range returned. Branches failing authorization are
// skipped; any other error aborts the run before anything is persisted.
func (e *Engine) SyncAll(ctx context.Context, provider string, q Query) (*model.FleetResult, error) {
	p, err := e.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	if p.Lister == nil {
		return nil, eris.Wrapf(ErrUnsupported, "provsync: %s cannot list documents", provider)
	}
	if q.Kind, err = p.kind(q.Kind); err != nil {
		return nil, err
	}

	res := &model.FleetResult{
		Provider: provider,
		Results:  []model.BranchOutcome{},
		Skipped:  []model.Skip{},
	}

	var (
		stored  []model.Record
		windows []daterange.Range
	)
	if q.Explicit() {
		res.Mode = ModeExplicit
		r, err := p.Policy.Resolve(q.From, q.To)
		if err != nil {
			return nil, err
		}
		windows = []daterange.Range{r}
	} else {
		res.Mode = ModeIncremental
		if stored, err = e.records.ListAll(ctx, provider); err != nil {
			return nil, eris.Wrapf(err, "provsync: read watermark for %s", provider)
		}
		start := daterange.NextStart(stored, p.Policy.Default().From)
		if clamped, ok := p.Policy.ClampStart(start); ok {
			e.log.Warn("watermark is older than the provider accepts, skipping gap",
				zap.String("provider", provider),
				zap.String("gap_from", start.Format(daterange.ISOLayout)),
				zap.String("gap_to", daterange.AddDays(clamped, -1).Format(daterange.ISOLayout)),
			)
			start = clamped
		}
		windows = p.Policy.Windows(start).Collect()
	}

	log := e.log.With(zap.String("provider", provider), zap.String("mode", res.Mode))
	if len(windows) == 0 {
		log.Info("provider is up to date, nothing to fetch")
		return res, nil
	}

	branches, err := e.directory.ListEnabledBranches(ctx, provider, e.maxBranches)
	if err != nil {
		return nil, eris.Wrapf(err, "provsync: list branches for %s", provider)
	}
	log.Info("sync starting",
		zap.Int("branches", len(branches)),
		zap.Int("windows", len(windows)),
		zap.String("from", windows[0].From.Format(daterange.ISOLayout)),
		zap.String("to", windows[len(windows)-1].To.Format(daterange.ISOLayout)),
	)

	runID := e.startRun(ctx, provider, res.Mode)

	if err := e.fanOut(ctx, p, branches, windows, q, res); err != nil {
		e.failRun(runID, err)
		return nil, err
	}

	// A cancelled run keeps what it fetched in memory but never persists it.
	if err := ctx.Err(); err != nil {
		e.failRun(runID, err)
		return nil, eris.Wrap(err, "provsync: run cancelled before persist")
	}

	if res.Mode == ModeExplicit && len(res.Results) == 0 && len(res.Skipped) > 0 {
		log.Warn("every branch was skipped, stored records will be replaced by an empty set",
			zap.Int("skipped", len(res.Skipped)),
		)
	}

	var merged []model.Record
	if res.Mode == ModeIncremental {
		merged = append(append(merged, stored...), res.Records()...)
	} else {
		merged = res.Records()
	}
	merged = model.Dedupe(merged)
	model.SortRecords(merged)

	n, err := e.records.ReplaceAll(ctx, provider, merged)
	if err != nil {
		e.failRun(runID, err)
		return nil, eris.Wrapf(err, "provsync: persist %s records", provider)
	}
	res.Stored = int(n)

	e.completeRun(runID, RunSummary{Branches: len(branches), Records: n, Skipped: res.Skipped})
	log.Info("sync complete",
		zap.Int("results", len(res.Results)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int64("stored", n),
	)
	return res, nil
}

// fanOut processes branches and partitions outcomes into res in branch
// order, whatever the concurrency.
func (e *Engine) fanOut(ctx context.Context, p *Provider, branches []string, windows []daterange.Range, q Query, res *model.FleetResult) error {
	outcomes := make([]*model.BranchOutcome, len(branches))
	skips := make([]*model.Skip, len(branches))

	run := func(ctx context.Context, i int) error {
		branch := branches[i]
		out, err := e.syncBranch(ctx, p, branch, windows, q)
		if err == nil {
			outcomes[i] = out
			return nil
		}
		if Recoverable(err) {
			e.log.Warn("branch skipped",
				zap.String("provider", p.Name),
				zap.String("branch", branch),
				zap.Error(err),
			)
			skips[i] = &model.Skip{Branch: branch, Reason: err.Error()}
			return nil
		}
		return eris.Wrapf(err, "provsync: branch %s", branch)
	}

	if e.concurrency <= 1 {
		for i := range branches {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := run(ctx, i); err != nil {
				return err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency)
		for i := range branches {
			g.Go(func() error { return run(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	for i := range branches {
		switch {
		case outcomes[i] != nil:
			res.Results = append(res.Results, *outcomes[i])
		case skips[i] != nil:
			res.Skipped = append(res.Skipped, *skips[i])
		}
	}
	return nil
}

// syncBranch resolves the branch's credentials and fetches every window.
// The first window forces a fresh login.
func (e *Engine) syncBranch(ctx context.Context, p *Provider, branch string, windows []daterange.Range, q Query) (*model.BranchOutcome, error) {
	started := e.now()
	tuple, err := e.resolver.Resolve(ctx, p.Name, branch, q.Overrides)
	if err != nil {
		return nil, err
	}

	var records []model.Record
	for i, w := range windows {
		n, err := e.fetchList(ctx, p, tuple, w, q, i == 0)
		if err != nil {
			return nil, err
		}
		recs, err := normalize.Records(n, p.Template, e.scope(p, tuple))
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	records = model.Dedupe(records)

	e.log.Info("branch synced",
		zap.String("provider", p.Name),
		zap.String("branch", tuple.Branch),
		zap.Int("windows", len(windows)),
		zap.Int("records", len(records)),
		zap.Duration("elapsed", e.now().Sub(started)),
	)
	return &model.BranchOutcome{Branch: tuple.Branch, Windows: len(windows), Data: records}, nil
}

func (e *Engine) fetchList(ctx context.Context, p *Provider, tuple credential.Tuple, w daterange.Range, q Query, refreshFirst bool) (tree.Node, error) {
	params := upstream.ListParams{Range: w, Kind: q.Kind, Filters: q.Filters}
	return token.WithRetry(ctx, e.tokens, tuple, refreshFirst, func(ctx context.Context, tok string) (tree.Node, error) {
		ctx, cancel := e.callContext(ctx, p)
		defer cancel()
		return p.Lister.FetchList(ctx, params, tuple, tok)
	})
}

func (e *Engine) callContext(ctx context.Context, p *Provider) (context.Context, context.CancelFunc) {
	if p.Timeout > 0 {
		return context.WithTimeout(ctx, p.Timeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) scope(p *Provider, tuple credential.Tuple) normalize.Scope {
	return normalize.Scope{
		Provider:          p.Name,
		Branch:            tuple.Branch,
		CustomerReference: tuple.Get(credential.CustomerReference),
	}
}

func (e *Engine) startRun(ctx context.Context, provider, mode string) string {
	if e.runs == nil {
		return ""
	}
	id, err := e.runs.Start(ctx, provider, mode)
	if err != nil {
		e.log.Warn("provsync: failed to record run start", zap.Error(err))
		return ""
	}
	return id
}

func (e *Engine) completeRun(id string, s RunSummary) {
	if e.runs == nil || id == "" {
		return
	}
	if err := e.runs.Complete(context.Background(), id, s); err != nil {
		e.log.Warn("provsync: failed to record run completion", zap.String("run_id", id), zap.Error(err))
	}
}

func (e *Engine) failRun(id string, cause error) {
	if e.runs == nil || id == "" {
		return
	}
	msg := cause.Error()
	if errors.Is(cause, context.Canceled) {
		msg = "cancelled: " + msg
	}
	if err := e.runs.Fail(context.Background(), id, msg); err != nil {
		e.log.Warn("provsync: failed to record run failure", zap.String("run_id", id), zap.Error(err))
	}
}
