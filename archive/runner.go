/*
runner.go - Job Runner for the periodic archival jobs

PURPOSE:
  Orchestrates one job invocation: evaluates the date gate, takes the
  per-period lock, runs the job's per-entity archive units, and returns a
  Manifest. The same Runner serves the HTTP trigger, the CLI and the
  in-process scheduler.

STATE MACHINE:
  Idle -> Evaluating -> Skipped                       (gate closed)
                     -> Running -> Completed          (no entity failed)
                                -> PartiallyFailed    (>= 1 entity failed)
  Evaluating/Running -> Failed                        (batch-level error)

FAILURE GRANULARITY:
  Batch-level reads (list all entities, all transactions), the lock, and the
  snapshot document abort the run: Failed, nothing partially applied.
  Per-entity errors are caught into EntityResult and the sweep continues.

ATOMIC UNIT:
  For each entity, archive insert and reset/delete run inside one WithTx.
  Either both commit or neither does. Register and bank-account units also
  read the entity inside it, so the archived balance is the one reset.

CONCURRENCY:
  One run per (job kind, period), enforced by LockStore. Inside a run,
  entity units run on an errgroup bounded by Options.Workers, each with its
  own Options.StoreTimeout deadline.

SEE ALSO:
  - schedule.go: Gate and target period per job kind
  - registers.go, transactions.go, invoices.go: the three jobs
*/
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agencyops/ledger-archive/blob"
	"github.com/agencyops/ledger-archive/ledger"
	"github.com/agencyops/ledger-archive/logger"
)

// Options tunes a Runner. Zero values get defaults.
type Options struct {
	Clock        Clock
	Location     *time.Location
	Workers      int
	StoreTimeout time.Duration
	LockTTL      time.Duration
	Months       MonthNames
	Notifier     Notifier
	Logger       *zerolog.Logger

	// NewID generates run, lock-holder and archive record IDs.
	NewID func() string
}

type Runner struct {
	store ledger.Backend
	blobs blob.Store
	opts  Options
	log   zerolog.Logger
}

func NewRunner(store ledger.Backend, blobs blob.Store, opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 15 * time.Minute
	}
	if opts.Months == (MonthNames{}) {
		opts.Months = FrenchMonths
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	log := logger.WithComponent("runner")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: log}
	}
	return &Runner{store: store, blobs: blobs, opts: opts, log: log}
}

// Now returns the clock's time in the archive timezone.
func (r *Runner) Now() time.Time {
	return r.opts.Clock.Now().In(r.opts.Location)
}

// Run invokes a job for the current date.
func (r *Runner) Run(ctx context.Context, kind JobKind) (*Manifest, error) {
	return r.RunAt(ctx, kind, r.Now())
}

// RunAt invokes a job as if today were now's date in the archive timezone.
// The returned manifest is never nil. The error is non-nil only when the
// manifest state is Failed.
func (r *Runner) RunAt(ctx context.Context, kind JobKind, now time.Time) (*Manifest, error) {
	now = now.In(r.opts.Location)
	m := newManifest(kind, r.opts.NewID(), r.opts.Clock.Now())

	m.State = StateEvaluating
	policy, err := PolicyFor(kind)
	if err != nil {
		return r.done(ctx, m, err), err
	}
	if err := policy.Check(now); err != nil {
		var ne *ledger.NotEligibleError
		if !errors.As(err, &ne) {
			return r.done(ctx, m, err), err
		}
		m.skip(ne.Reason)
		return r.done(ctx, m, nil), nil
	}

	period := policy.TargetPeriod(now)
	if err := period.Validate(); err != nil {
		return r.done(ctx, m, err), err
	}
	m.setPeriod(period)

	holder := r.opts.NewID()
	if err := r.acquire(ctx, kind, period, holder); err != nil {
		m = r.done(ctx, m, err)
		r.record(ctx, m)
		return m, err
	}
	defer r.release(context.WithoutCancel(ctx), kind, period, holder)

	m.State = StateRunning
	r.record(ctx, m)
	r.log.Info().
		Str("job", string(kind)).
		Str("run_id", m.RunID).
		Str("period", m.Period).
		Msg("archive job started")

	switch kind {
	case JobMonthlyRegisters:
		err = r.archiveRegisters(ctx, m, period)
	case JobMonthlyTransactions:
		err = r.archiveTransactions(ctx, m, period)
	case JobAnnualInvoices:
		err = r.archiveInvoices(ctx, m, period)
	}
	if err == nil {
		m.tally()
	}
	m = r.done(ctx, m, err)
	r.record(ctx, m)
	return m, err
}

// done finalizes the manifest and hands it to the notifier.
func (r *Runner) done(ctx context.Context, m *Manifest, err error) *Manifest {
	if err != nil {
		m.fail(err)
	}
	m.FinishedAt = r.opts.Clock.Now()

	ev := r.log.Info()
	if m.State == StateFailed {
		ev = r.log.Error().Err(err)
	}
	ev.Str("job", string(m.Job)).
		Str("run_id", m.RunID).
		Str("period", m.Period).
		Str("state", string(m.State)).
		Int("archived", m.Archived).
		Int("failed", m.Failed).
		Msg("archive job finished")

	r.opts.Notifier.JobFinished(ctx, m)
	return m
}

// =============================================================================
// LOCK AND RUN RECORDS
// =============================================================================

func (r *Runner) acquire(ctx context.Context, kind JobKind, p ledger.Period, holder string) error {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	at := r.opts.Clock.Now()
	return r.store.AcquireJobLock(sctx, ledger.JobLock{
		JobKind:    string(kind),
		PeriodKey:  p.Key(),
		Holder:     holder,
		AcquiredAt: at,
		ExpiresAt:  at.Add(r.opts.LockTTL),
	})
}

func (r *Runner) release(ctx context.Context, kind JobKind, p ledger.Period, holder string) {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	if err := r.store.ReleaseJobLock(sctx, string(kind), p.Key(), holder); err != nil {
		r.log.Warn().Err(err).Str("job", string(kind)).Str("period", p.Key()).Msg("release job lock")
	}
}

// record upserts the run record. Its failure is logged; the manifest is
// still returned to the caller.
func (r *Runner) record(ctx context.Context, m *Manifest) {
	run := ledger.JobRun{
		ID:              m.RunID,
		JobKind:         string(m.Job),
		PeriodKey:       m.Period,
		State:           string(m.State),
		Archived:        m.Archived,
		Failed:          m.Failed,
		AlreadyArchived: m.AlreadyArchived,
		Error:           m.Error,
		StartedAt:       m.StartedAt,
	}
	if !m.FinishedAt.IsZero() {
		finished := m.FinishedAt
		run.FinishedAt = &finished
	}
	if data, err := json.Marshal(m); err == nil {
		run.ManifestJSON = string(data)
	}

	sctx, cancel := r.storeCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := r.store.SaveJobRun(sctx, run); err != nil {
		r.log.Warn().Err(err).Str("run_id", m.RunID).Msg("save job run")
	}
}

// =============================================================================
// ENTITY SWEEP
// =============================================================================

// unit is one entity's aggregate -> archive -> reset sequence.
type unit func(ctx context.Context) EntityResult

// sweep runs units on a bounded errgroup. Results keep the order of units.
// Units never return errors to the group, so one failure cancels nothing.
func (r *Runner) sweep(ctx context.Context, units []unit) []EntityResult {
	results := make([]EntityResult, len(units))
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for i, u := range units {
		g.Go(func() error {
			uctx, cancel := r.storeCtx(ctx)
			defer cancel()
			results[i] = u(uctx)
			if res := results[i]; res.Outcome == OutcomeFailed {
				r.log.Warn().
					Err(res.err).
					Str("entity_type", res.EntityType).
					Str("entity_id", res.EntityID).
					Str("step", failedStep(res.err)).
					Msg("entity archive failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opts.StoreTimeout)
}

// batchRead runs a batch-level query under the store timeout.
func batchRead[T any](ctx context.Context, r *Runner, op string, fn func(context.Context) (T, error)) (T, error) {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	v, err := fn(sctx)
	if err != nil {
		return v, ledger.ReadError(op, err)
	}
	return v, nil
}

func stepError(entityType, id, step string, err error) error {
	if err == nil {
		return nil
	}
	return &ledger.EntityError{EntityType: entityType, EntityID: id, Step: step, Err: err}
}

func failedStep(err error) string {
	var ee *ledger.EntityError
	if errors.As(err, &ee) {
		return ee.Step
	}
	return ""
}

func describePeriod(p ledger.Period, months MonthNames) string {
	if p.Kind == ledger.PeriodYear {
		return fmt.Sprintf("%d", p.Year())
	}
	return fmt.Sprintf("%s %d", months.Name(p.Start.Month()), p.Year())
}
