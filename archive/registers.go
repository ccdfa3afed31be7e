package archive

import (
	"context"

	"github.com/agencyops/ledger-archive/ledger"
)

// archiveRegisters snapshots every cash register and bank account for the
// period. Registers are zeroed in the same transaction as their archive
// insert; bank accounts keep their balances.
func (r *Runner) archiveRegisters(ctx context.Context, m *Manifest, period ledger.Period) error {
	registers, err := batchRead(ctx, r, "list cash registers", r.store.ListCashRegisters)
	if err != nil {
		return err
	}
	banks, err := batchRead(ctx, r, "list bank accounts", r.store.ListBankAccounts)
	if err != nil {
		return err
	}

	units := make([]unit, 0, len(registers)+len(banks))
	for _, reg := range registers {
		units = append(units, func(ctx context.Context) EntityResult {
			return r.archiveCashRegister(ctx, reg, period)
		})
	}
	for _, acct := range banks {
		units = append(units, func(ctx context.Context) EntityResult {
			return r.archiveBankAccount(ctx, acct, period)
		})
	}
	m.Results = r.sweep(ctx, units)
	return nil
}

// archiveCashRegister reads the register, summarizes it, inserts the
// archive and zeroes it inside one transaction, so the archived balance is
// exactly the balance that gets reset.
func (r *Runner) archiveCashRegister(ctx context.Context, reg ledger.CashRegister, period ledger.Period) EntityResult {
	id := string(reg.ID)
	res := EntityResult{EntityType: EntityCashRegister, EntityID: id}

	var recID string
	err := r.store.WithTx(ctx, func(s ledger.Store) error {
		current, err := s.GetCashRegister(ctx, reg.ID)
		if err != nil {
			return stepError(res.EntityType, id, "aggregate", err)
		}
		src := ledger.SourceRef{Type: ledger.SourceCashRegister, ID: id}
		txs, err := s.TransactionsForSource(ctx, src, period)
		if err != nil {
			return stepError(res.EntityType, id, "aggregate", err)
		}
		report := ledger.Summarize(src, current.Balances, txs, period)
		res.Warnings = unsummarizedWarnings(report.Unsummarized)

		rec := ledger.NewCashRegisterArchive(r.opts.NewID(), *current, report, period, r.opts.Clock.Now())
		if err := s.InsertCashRegisterArchive(ctx, rec); err != nil {
			return stepError(res.EntityType, id, "archive", err)
		}
		recID = rec.ID
		return stepError(res.EntityType, id, "reset", s.ZeroCashRegister(ctx, reg.ID))
	})
	return settle(res, recID, err)
}

func (r *Runner) archiveBankAccount(ctx context.Context, acct ledger.BankAccount, period ledger.Period) EntityResult {
	id := string(acct.ID)
	res := EntityResult{EntityType: EntityBankAccount, EntityID: id}

	var recID string
	err := r.store.WithTx(ctx, func(s ledger.Store) error {
		current, err := s.GetBankAccount(ctx, acct.ID)
		if err != nil {
			return stepError(res.EntityType, id, "aggregate", err)
		}
		src := ledger.SourceRef{Type: ledger.SourceBankAccount, ID: id}
		txs, err := s.TransactionsForSource(ctx, src, period)
		if err != nil {
			return stepError(res.EntityType, id, "aggregate", err)
		}
		report := ledger.Summarize(src, current.Balances, txs, period)
		res.Warnings = unsummarizedWarnings(report.Unsummarized)

		rec := ledger.NewBankAccountArchive(r.opts.NewID(), *current, report, period, r.opts.Clock.Now())
		if err := s.InsertBankAccountArchive(ctx, rec); err != nil {
			return stepError(res.EntityType, id, "archive", err)
		}
		recID = rec.ID
		return nil
	})
	return settle(res, recID, err)
}
