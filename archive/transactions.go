package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agencyops/ledger-archive/blob"
	"github.com/agencyops/ledger-archive/ledger"
)

// =============================================================================
// SNAPSHOT DOCUMENT - Raw transactions of one month, written before deletion
// =============================================================================

// SnapshotDocument is the blob written by the transaction job. A rerun for
// the same month merges into the existing document by transaction ID.
type SnapshotDocument struct {
	Period       string                                      `json:"period"`
	Label        string                                      `json:"label"`
	Month        int                                         `json:"month"`
	MonthName    string                                      `json:"month_name"`
	Year         int                                         `json:"year"`
	RunID        string                                      `json:"run_id"`
	GeneratedAt  time.Time                                   `json:"generated_at"`
	Count        int                                         `json:"transaction_count"`
	Totals       map[ledger.Currency]ledger.FinancialSummary `json:"totals"`
	Transactions []ledger.Transaction                        `json:"transactions"`
}

// SnapshotPath is "{year}/{monthName}{year}/transactions_{monthName}_{year}.json".
func SnapshotPath(months MonthNames, p ledger.Period) string {
	name := months.Name(p.Start.Month())
	y := p.Year()
	return fmt.Sprintf("%d/%s%d/transactions_%s_%d.json", y, name, y, name, y)
}

func mergeTransactions(existing, fresh []ledger.Transaction) []ledger.Transaction {
	seen := make(map[ledger.TransactionID]bool, len(existing))
	out := make([]ledger.Transaction, 0, len(existing)+len(fresh))
	for _, tx := range existing {
		seen[tx.ID] = true
		out = append(out, tx)
	}
	for _, tx := range fresh {
		if !seen[tx.ID] {
			out = append(out, tx)
		}
	}
	return out
}

// writeSnapshot stores the month's document and returns its key. Any
// failure is ErrBlobWrite; the caller must not delete live rows after it.
func (r *Runner) writeSnapshot(ctx context.Context, runID string, period ledger.Period, txs []ledger.Transaction) (string, error) {
	key := SnapshotPath(r.opts.Months, period)
	bctx, cancel := r.storeCtx(ctx)
	defer cancel()

	var prev SnapshotDocument
	data, err := r.blobs.Get(bctx, key)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &prev); err != nil {
			return key, fmt.Errorf("%w: %s: decode existing document: %v", ledger.ErrBlobWrite, key, err)
		}
		if len(txs) == 0 {
			return key, nil
		}
	case errors.Is(err, blob.ErrNotFound):
	default:
		return key, fmt.Errorf("%w: %s: %v", ledger.ErrBlobWrite, key, err)
	}

	all := mergeTransactions(prev.Transactions, txs)
	doc := SnapshotDocument{
		Period:       period.Key(),
		Label:        describePeriod(period, r.opts.Months),
		Month:        period.Month(),
		MonthName:    r.opts.Months.Name(period.Start.Month()),
		Year:         period.Year(),
		RunID:        runID,
		GeneratedAt:  r.opts.Clock.Now(),
		Count:        len(all),
		Totals:       ledger.PeriodTotals(all),
		Transactions: all,
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return key, fmt.Errorf("%w: %s: %v", ledger.ErrBlobWrite, key, err)
	}
	if err := r.blobs.Put(bctx, key, out, "application/json"); err != nil {
		return key, fmt.Errorf("%w: %s: %v", ledger.ErrBlobWrite, key, err)
	}
	return key, nil
}

// =============================================================================
// TRANSACTION JOB
// =============================================================================

// archiveTransactions writes the month's snapshot document, archives and
// deletes each transaction, then rolls the whole ledger over.
func (r *Runner) archiveTransactions(ctx context.Context, m *Manifest, period ledger.Period) error {
	rolledOver, err := batchRead(ctx, r, "check rollover", func(ctx context.Context) (bool, error) {
		return r.store.HasCompletedRun(ctx, RolloverRunKind, period.Key())
	})
	if err != nil {
		return err
	}
	txs, err := batchRead(ctx, r, "list transactions", func(ctx context.Context) ([]ledger.Transaction, error) {
		return r.store.TransactionsInPeriod(ctx, period)
	})
	if err != nil {
		return err
	}

	ref, err := r.writeSnapshot(ctx, m.RunID, period, txs)
	if err != nil {
		return err
	}
	m.DocumentRef = ref

	units := make([]unit, 0, len(txs))
	for _, tx := range txs {
		units = append(units, func(ctx context.Context) EntityResult {
			return r.archiveTransaction(ctx, tx, period, ref)
		})
	}
	m.Results = r.sweep(ctx, units)
	m.Rollover = r.rollover(ctx, period, m.Results, rolledOver)
	return nil
}

func (r *Runner) archiveTransaction(ctx context.Context, tx ledger.Transaction, period ledger.Period, ref string) EntityResult {
	id := string(tx.ID)
	res := EntityResult{EntityType: EntityTransaction, EntityID: id}

	rec := ledger.TransactionArchive{
		ID:          r.opts.NewID(),
		Transaction: tx,
		Period:      ledger.ArchivePeriodOf(period),
		DocumentRef: ref,
		ArchivedAt:  r.opts.Clock.Now(),
	}
	err := r.store.WithTx(ctx, func(s ledger.Store) error {
		if err := s.InsertTransactionArchive(ctx, rec); err != nil {
			return stepError(res.EntityType, id, "archive", err)
		}
		return stepError(res.EntityType, id, "delete", s.DeleteTransaction(ctx, tx.ID))
	})
	return settle(res, rec.ID, err)
}

// RolloverRunKind is the run-record kind marking a period whose ledger
// rollover committed.
const RolloverRunKind = "ledger_rollover"

// rollover zeroes every cash register and empties every bank account in one
// transaction, together with the RolloverRunKind record for the period. It
// is skipped when an earlier run already rolled the period over, or when a
// transaction of this run could not be archived.
func (r *Runner) rollover(ctx context.Context, period ledger.Period, results []EntityResult, rolledOver bool) *RolloverResult {
	if rolledOver {
		return &RolloverResult{Skipped: true, Reason: "period already rolled over by an earlier run"}
	}
	failed := 0
	for _, res := range results {
		if res.Outcome == OutcomeFailed {
			failed++
		}
	}
	if failed > 0 {
		return &RolloverResult{Skipped: true, Reason: fmt.Sprintf("%d transactions failed to archive", failed)}
	}

	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	out := &RolloverResult{}
	err := r.store.WithTx(sctx, func(s ledger.Store) error {
		var err error
		if out.CashRegisters, err = s.ZeroAllCashRegisters(sctx); err != nil {
			return fmt.Errorf("zero cash registers: %w", err)
		}
		if out.BankAccounts, err = s.ClearAllBankAccounts(sctx); err != nil {
			return fmt.Errorf("clear bank accounts: %w", err)
		}
		now := r.opts.Clock.Now()
		marker := ledger.JobRun{
			ID:         r.opts.NewID(),
			JobKind:    RolloverRunKind,
			PeriodKey:  period.Key(),
			State:      string(StateCompleted),
			StartedAt:  now,
			FinishedAt: &now,
		}
		if err := s.SaveJobRun(sctx, marker); err != nil {
			return fmt.Errorf("record rollover: %w", err)
		}
		return nil
	})
	if err != nil {
		r.log.Error().Err(err).Msg("ledger rollover failed")
		return &RolloverResult{Error: err.Error()}
	}
	return out
}
