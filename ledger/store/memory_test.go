package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyops/ledger-archive/ledger"
	"github.com/agencyops/ledger-archive/ledger/store"
)

func usd(amount string) ledger.CurrencyAmountSet {
	return ledger.CurrencyAmountSet{{Currency: "USD", Amount: decimal.RequireFromString(amount)}}
}

func registerArchive(id string, month int) ledger.CashRegisterArchive {
	return ledger.CashRegisterArchive{
		BalanceArchive: ledger.BalanceArchive{
			ID:               "a-" + id,
			OriginalEntityID: id,
			Period:           ledger.ArchivePeriod{Month: month, Year: 2025},
			Balances:         usd("10"),
		},
		Name: id,
	}
}

func TestMemory_ArchiveNaturalKeyIsUnique(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	require.NoError(t, s.InsertCashRegisterArchive(ctx, registerArchive("c1", 2)))

	// same entity, same period
	err := s.InsertCashRegisterArchive(ctx, registerArchive("c1", 2))
	assert.ErrorIs(t, err, ledger.ErrAlreadyArchived)

	// same entity, another period
	require.NoError(t, s.InsertCashRegisterArchive(ctx, registerArchive("c1", 3)))

	feb, err := s.ListCashRegisterArchives(ctx, ledger.ArchivePeriod{Month: 2, Year: 2025})
	require.NoError(t, err)
	assert.Len(t, feb, 1)
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	// GIVEN: a register with a balance
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.SaveCashRegister(ctx, ledger.CashRegister{ID: "c1", Name: "c1", Balances: usd("50")}))

	// WHEN: the archive insert and reset succeed but the callback fails after them
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		require.NoError(t, tx.InsertCashRegisterArchive(ctx, registerArchive("c1", 2)))
		require.NoError(t, tx.ZeroCashRegister(ctx, "c1"))
		return errors.New("boom")
	})

	// THEN: neither write is visible
	require.Error(t, err)
	reg, err := s.GetCashRegister(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, reg.Balances[0].Amount.Equal(decimal.NewFromInt(50)))
	archives, err := s.ListCashRegisterArchives(ctx, ledger.ArchivePeriod{Month: 2, Year: 2025})
	require.NoError(t, err)
	assert.Empty(t, archives)

	// and the key is free again
	assert.NoError(t, s.InsertCashRegisterArchive(ctx, registerArchive("c1", 2)))
}

func TestMemory_ResetsAndPurges(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.SaveCashRegister(ctx, ledger.CashRegister{ID: "c1", Balances: usd("50")}))
	require.NoError(t, s.SaveBankAccount(ctx, ledger.BankAccount{ID: "b1", Balances: usd("70")}))

	assert.ErrorIs(t, s.ZeroCashRegister(ctx, "missing"), ledger.ErrNotFound)
	assert.ErrorIs(t, s.DeleteTransaction(ctx, "missing"), ledger.ErrNotFound)

	n, err := s.ZeroAllCashRegisters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.ClearAllBankAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reg, _ := s.GetCashRegister(ctx, "c1")
	assert.Equal(t, []ledger.Currency{"USD"}, reg.Balances.Currencies())
	assert.True(t, reg.Balances[0].Amount.IsZero())
	acct, _ := s.GetBankAccount(ctx, "b1")
	assert.Empty(t, acct.Balances)
}

func TestMemory_TransactionQueries(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	save := func(id, source string, d ledger.TimePoint) {
		require.NoError(t, s.SaveTransaction(ctx, ledger.Transaction{
			ID: ledger.TransactionID(id), SourceID: source, SourceType: ledger.SourceCashRegister,
			Type: ledger.Inflow, Currency: "USD", Amount: decimal.NewFromInt(1), TransactionDate: d,
		}))
	}
	save("t1", "c1", ledger.NewTimePoint(2025, time.February, 1))
	save("t2", "c2", ledger.NewTimePoint(2025, time.February, 28))
	save("t3", "c1", ledger.NewTimePoint(2025, time.March, 1))

	feb := ledger.MonthPeriod(2025, time.February)
	all, err := s.TransactionsInPeriod(ctx, feb)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := s.TransactionsForSource(ctx, ledger.SourceRef{Type: ledger.SourceCashRegister, ID: "c1"}, feb)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, ledger.TransactionID("t1"), mine[0].ID)

	assert.ErrorIs(t, s.SaveTransaction(ctx, ledger.Transaction{ID: "bad"}), ledger.ErrValidation)
}

func TestMemory_InvoicesForYear(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	for id, number := range map[string]string{"i1": "1/2024", "i2": "2/2024", "i3": "1/2025"} {
		require.NoError(t, s.SaveInvoice(ctx, ledger.Invoice{ID: ledger.InvoiceID(id), Number: ledger.InvoiceNumber(number)}))
	}

	invs, err := s.InvoicesForYear(ctx, 2024)
	require.NoError(t, err)
	assert.Len(t, invs, 2)
	assert.ErrorIs(t, s.SaveInvoice(ctx, ledger.Invoice{ID: "i4", Number: "no-year"}), ledger.ErrValidation)
}

func TestMemory_JobLocks(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	now := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	lock := func(holder string, at time.Time) ledger.JobLock {
		return ledger.JobLock{JobKind: "monthly_registers", PeriodKey: "2025-02", Holder: holder, AcquiredAt: at, ExpiresAt: at.Add(time.Minute)}
	}

	require.NoError(t, s.AcquireJobLock(ctx, lock("a", now)))
	assert.ErrorIs(t, s.AcquireJobLock(ctx, lock("b", now.Add(30*time.Second))), ledger.ErrRunInProgress)

	// expired leases are taken over
	require.NoError(t, s.AcquireJobLock(ctx, lock("b", now.Add(2*time.Minute))))

	// only the holder releases
	require.NoError(t, s.ReleaseJobLock(ctx, "monthly_registers", "2025-02", "a"))
	assert.ErrorIs(t, s.AcquireJobLock(ctx, lock("c", now.Add(2*time.Minute))), ledger.ErrRunInProgress)
	require.NoError(t, s.ReleaseJobLock(ctx, "monthly_registers", "2025-02", "b"))
	assert.NoError(t, s.AcquireJobLock(ctx, lock("c", now.Add(2*time.Minute))))
}

func TestMemory_JobRuns(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	t0 := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveJobRun(ctx, ledger.JobRun{ID: "r1", JobKind: "annual_invoices", PeriodKey: "2024", State: "failed", StartedAt: t0}))
	done, err := s.HasCompletedRun(ctx, "annual_invoices", "2024")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, s.SaveJobRun(ctx, ledger.JobRun{ID: "r2", JobKind: "annual_invoices", PeriodKey: "2024", State: "partially_failed", StartedAt: t0.Add(time.Hour)}))
	done, err = s.HasCompletedRun(ctx, "annual_invoices", "2024")
	require.NoError(t, err)
	assert.True(t, done)

	runs, err := s.ListJobRuns(ctx, "annual_invoices", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r2", runs[0].ID)
}
