package archive_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyops/ledger-archive/archive"
	"github.com/agencyops/ledger-archive/blob"
	"github.com/agencyops/ledger-archive/ledger"
	"github.com/agencyops/ledger-archive/ledger/store"
)

// =============================================================================
// FIXTURES
// =============================================================================

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store    *store.Memory
	blobs    *blob.Memory
	runner   *archive.Runner
	notified []*archive.Manifest
}

func newFixture(t *testing.T, now time.Time, backend func(*store.Memory) ledger.Backend, blobs blob.Store) *fixture {
	t.Helper()
	return newFixtureWith(t, now, backend, blobs, archive.Options{Workers: 3})
}

// newFixtureWith builds a fixture whose runner uses opts; clock, logger and
// notifier are always the fixture's own.
func newFixtureWith(t *testing.T, now time.Time, backend func(*store.Memory) ledger.Backend, blobs blob.Store, opts archive.Options) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemory(), blobs: blob.NewMemory()}
	var b ledger.Backend = f.store
	if backend != nil {
		b = backend(f.store)
	}
	if blobs == nil {
		blobs = f.blobs
	}
	nop := zerolog.Nop()
	opts.Clock = archive.FixedClock{T: now}
	opts.Logger = &nop
	opts.Notifier = archive.NotifierFunc(func(_ context.Context, m *archive.Manifest) {
		f.notified = append(f.notified, m)
	})
	f.runner = archive.NewRunner(b, blobs, opts)
	return f
}

func (f *fixture) register(t *testing.T, id string, balances ...ledger.Money) {
	t.Helper()
	require.NoError(t, f.store.SaveCashRegister(context.Background(), ledger.CashRegister{
		ID: ledger.CashRegisterID(id), Name: "Caisse " + id, Balances: balances, CreatedAt: day(2024, 1, 1),
	}))
}

func (f *fixture) bank(t *testing.T, id string, balances ...ledger.Money) {
	t.Helper()
	require.NoError(t, f.store.SaveBankAccount(context.Background(), ledger.BankAccount{
		ID: ledger.BankAccountID(id), BankName: "BMCE", AccountType: "courant", Balances: balances, CreatedAt: day(2024, 1, 1),
	}))
}

func (f *fixture) tx(t *testing.T, id, source string, st ledger.SourceType, dir ledger.Direction, cur string, amount string, date ledger.TimePoint) {
	t.Helper()
	require.NoError(t, f.store.SaveTransaction(context.Background(), ledger.Transaction{
		ID: ledger.TransactionID(id), SourceID: source, SourceType: st, Type: dir,
		Currency: ledger.Currency(cur), Amount: dec(amount), TransactionDate: date,
	}))
}

func (f *fixture) invoice(t *testing.T, id, number string) {
	t.Helper()
	require.NoError(t, f.store.SaveInvoice(context.Background(), ledger.Invoice{
		ID: ledger.InvoiceID(id), Number: ledger.InvoiceNumber(number), ClientID: "client-1",
		Status: ledger.InvoicePaid, IssueDate: ledger.NewTimePoint(2024, time.June, 3),
	}))
}

func money(cur, amount string) ledger.Money {
	return ledger.Money{Currency: ledger.Currency(cur), Amount: dec(amount)}
}

func assertAmount(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

// faultyBackend fails archive inserts for chosen entity IDs inside WithTx.
type faultyBackend struct {
	ledger.Backend
	failIDs map[string]bool
}

func (f *faultyBackend) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.Backend.WithTx(ctx, func(s ledger.Store) error {
		return fn(faultyStore{Store: s, failIDs: f.failIDs})
	})
}

type faultyStore struct {
	ledger.Store
	failIDs map[string]bool
}

func (f faultyStore) InsertCashRegisterArchive(ctx context.Context, a ledger.CashRegisterArchive) error {
	if f.failIDs[a.OriginalEntityID] {
		return ledger.WriteError("insert cash register archive", errors.New("disk I/O error"))
	}
	return f.Store.InsertCashRegisterArchive(ctx, a)
}

func (f faultyStore) InsertTransactionArchive(ctx context.Context, a ledger.TransactionArchive) error {
	if f.failIDs[string(a.Transaction.ID)] {
		return ledger.WriteError("insert transaction archive", errors.New("disk I/O error"))
	}
	return f.Store.InsertTransactionArchive(ctx, a)
}

func (f faultyStore) SaveJobRun(ctx context.Context, run ledger.JobRun) error {
	if f.failIDs[run.JobKind] {
		return ledger.WriteError("save job run", errors.New("disk I/O error"))
	}
	return f.Store.SaveJobRun(ctx, run)
}

func (f faultyStore) ZeroAllCashRegisters(ctx context.Context) (int, error) {
	if f.failIDs["rollover"] {
		return 0, ledger.WriteError("zero cash registers", errors.New("disk I/O error"))
	}
	return f.Store.ZeroAllCashRegisters(ctx)
}

// postingBackend saves reg once, when the first unit opens its transaction.
// The batch listing has already read the previous balance by then.
type postingBackend struct {
	ledger.Backend
	mem  *store.Memory
	reg  ledger.CashRegister
	once sync.Once
}

func (p *postingBackend) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	var err error
	p.once.Do(func() { err = p.mem.SaveCashRegister(ctx, p.reg) })
	if err != nil {
		return err
	}
	return p.Backend.WithTx(ctx, fn)
}

// stalledListing blocks the register listing until its deadline.
type stalledListing struct {
	ledger.Backend
}

func (stalledListing) ListCashRegisters(ctx context.Context) ([]ledger.CashRegister, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// stalledUnit blocks the in-transaction read of one register until its
// deadline.
type stalledUnit struct {
	ledger.Backend
	id ledger.CashRegisterID
}

func (s stalledUnit) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.Backend.WithTx(ctx, func(st ledger.Store) error {
		return fn(stalledStore{Store: st, id: s.id})
	})
}

type stalledStore struct {
	ledger.Store
	id ledger.CashRegisterID
}

func (s stalledStore) GetCashRegister(ctx context.Context, id ledger.CashRegisterID) (*ledger.CashRegister, error) {
	if id == s.id {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.Store.GetCashRegister(ctx, id)
}

// downBlobs rejects every write.
type downBlobs struct{}

func (downBlobs) Put(context.Context, string, []byte, string) error {
	return errors.New("bucket unavailable")
}

func (downBlobs) Get(context.Context, string) ([]byte, error) { return nil, blob.ErrNotFound }

// =============================================================================
// MONTHLY REGISTERS
// =============================================================================

func TestRegisters_SummaryAndReset(t *testing.T) {
	// GIVEN: a register with USD 100 / EUR 50 and February activity
	f := newFixture(t, day(2025, time.March, 15), nil, nil)
	f.register(t, "c1", money("USD", "100"), money("EUR", "50"))
	feb := ledger.NewTimePoint(2025, time.February, 10)
	f.tx(t, "t1", "c1", ledger.SourceCashRegister, ledger.Inflow, "USD", "30", feb)
	f.tx(t, "t2", "c1", ledger.SourceCashRegister, ledger.Outflow, "USD", "10", feb)
	f.tx(t, "t3", "c1", ledger.SourceCashRegister, ledger.Inflow, "EUR", "5", ledger.NewTimePoint(2025, time.February, 28))
	// outside the period, and another source
	f.tx(t, "t4", "c1", ledger.SourceCashRegister, ledger.Inflow, "USD", "999", ledger.NewTimePoint(2025, time.March, 1))
	f.tx(t, "t5", "c2", ledger.SourceCashRegister, ledger.Inflow, "USD", "999", feb)

	// WHEN: the monthly register job runs
	m, err := f.runner.Run(context.Background(), archive.JobMonthlyRegisters)

	// THEN: one archive with the expected summary, and the register is zeroed
	require.NoError(t, err)
	assert.Equal(t, archive.StateCompleted, m.State)
	assert.True(t, m.Success)
	assert.Equal(t, 1, m.Archived)
	assert.Equal(t, 2, m.Month)
	assert.Equal(t, 2025, m.Year)
	assert.Equal(t, "2025-02", m.Period)

	archives, err := f.store.ListCashRegisterArchives(context.Background(), ledger.ArchivePeriod{Month: 2, Year: 2025})
	require.NoError(t, err)
	require.Len(t, archives, 1)
	usd := archives[0].FinancialSummary["USD"]
	assertAmount(t, "100", usd.InitialAmount, "USD initial")
	assertAmount(t, "30", usd.Revenue, "USD revenue")
	assertAmount(t, "10", usd.Expenses, "USD expenses")
	assertAmount(t, "120", usd.Balance, "USD balance")
	eur := archives[0].FinancialSummary["EUR"]
	assertAmount(t, "50", eur.InitialAmount, "EUR initial")
	assertAmount(t, "5", eur.Revenue, "EUR revenue")
	assertAmount(t, "0", eur.Expenses, "EUR expenses")
	assertAmount(t, "55", eur.Balance, "EUR balance")

	reg, err := f.store.GetCashRegister(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, reg.Balances, 2)
	for _, b := range reg.Balances {
		assert.True(t, b.Amount.IsZero(), "%s should be zero", b.Currency)
	}
}

func TestRegisters_BankAccountsUnchanged(t *testing.T) {
	// GIVEN: a bank account with activity in the period
	f := newFixture(t, day(2025, time.March, 15), nil, nil)
	f.bank(t, "b1", money("MAD", "12000.50"), money("EUR", "300"))
	f.tx(t, "t1", "b1", ledger.SourceBankAccount, ledger.Outflow, "MAD", "500", ledger.NewTimePoint(2025, time.February, 3))
	before, err := f.store.GetBankAccount(context.Background(), "b1")
	require.NoError(t, err)

	// WHEN
	m, err := f.runner.Run(context.Background(), archive.JobMonthlyRegisters)

	// THEN: archived with a summary, live balances untouched
	require.NoError(t, err)
	assert.Equal(t, 1, m.Archived)
	after, err := f.store.GetBankAccount(context.Background(), "b1")
	require.NoError(t, err)
	assert.True(t, before.Balances.Equal(after.Balances))

	archives, err := f.store.ListBankAccountArchives(context.Background(), ledger.ArchivePeriod{Month: 2, Year: 2025})
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assertAmount(t, "11500.50", archives[0].FinancialSummary["MAD"].Balance, "MAD balance")
}

func TestRegisters_PartialFailureIsolation(t *testing.T) {
	// GIVEN: three registers, the second fails on archive write
	f := newFixture(t, day(2025, time.March, 15), func(m *store.Memory) ledger.Backend {
		return &faultyBackend{Backend: m, failIDs: map[string]bool{"c2": true}}
	}, nil)
	f.register(t, "c1", money("USD", "10"))
	f.register(t, "c2", money("USD", "20"))
	f.register(t, "c3", money("USD", "30"))

	// WHEN
	m, err := f.runner.Run(context.Background(), archive.JobMonthlyRegisters)

	// THEN: 2 successes, 1 failure, batch still reported as success
	require.NoError(t, err)
	assert.Equal(t, archive.StatePartiallyFailed, m.State)
	assert.True(t, m.Success)
	assert.Equal(t, 2, m.Archived)
	assert.Equal(t, 1, m.Failed)
	assert.ElementsMatch(t, []string{"c1", "c3"}, m.Succeeded())
	assert.Equal(t, []string{"c2"}, m.FailedEntities())

	var failed archive.EntityResult
	for _, r := range m.Results {
		if r.EntityID == "c2" {
			failed = r
		}
	}
	var ee *ledger.EntityError
	require.ErrorAs(t, failed.Err(), &ee)
	assert.Equal(t, "archive", ee.Step)
	assert.ErrorIs(t, failed.Err(), ledger.ErrStoreWrite)

	for id, zeroed := range map[string]bool{"c1": true, "c2": false, "c3": true} {
		reg, err := f.store.GetCashRegister(context.Background(), ledger.CashRegisterID(id))
		require.NoError(t, err)
		assert.Equal(t, zeroed, reg.Balances[0].Amount.IsZero(), "register %s", id)
	}
	archives, err := f.store.ListCashRegisterArchives(context.Background(), ledger.ArchivePeriod{Month: 2, Year: 2025})
	require.NoError(t, err)
	assert.Len(t, archives, 2)
}

func TestRegisters_RerunDoesNotDuplicate(t *testing.T) {
	// GIVEN: a register already archived for February
	f := newFixture(t, day(2025, time.March, 15), nil, nil)
	f.register(t, "c1", money("USD", "100"))
	_, err := f.runner.Run(context.Background(), archive.JobMonthlyRegisters)
	require.NoError(t, err)

	// WHEN: the job runs again for the same period
	m, err := f.runner.Run(context.Background(), archive.JobMonthlyRegisters)

	// THEN: the entity is reported as already archived, not duplicated
	require.NoError(t, err)
	assert.Equal(t, archive.StateCompleted, m.State)
	assert.Equal(t, 0, m.Archived)
	assert.Equal(t, 1, m.AlreadyArchived)
	assert.Equal(t, archive.OutcomeAlreadyArchived, m.Results[0].Outcome)

	archives, err := f.store.ListCashRegisterArchives(context.Background(), ledger.ArchivePeriod{Month: 2, Year: 2025})
	require.NoError(t, err)
	assert.Len(t, archives, 1)
	assertAmount(t, "100", archives[0].FinancialSummary["USD"].InitialAmount, "first snapshot kept")
}

func TestRegisters_UnsummarizedCurrencyWarning(t *testing.T) {
	// GIVEN: GBP activity on a register that only holds USD
	f := newFixture(t, day(2025, time.March, 15), nil, nil)
	f.register(t, "c1", money("USD", "100"))
	f.tx(t, "t1", "c1", ledger.SourceCashRegister, ledger.Inflow, "GBP", "40", ledger.NewTimePoint(2025, time.February, 10))

	// WHEN
	m, err := f.runner.Run(context.Background(), archive.JobMonthlyRegisters)

	// THEN: GBP is not summarized but surfaces as a warning
	require.NoError(t, err)
	require.Len(t, m.Results, 1)
	assert.Len(t, m.Results[0].Warnings, 1)
	assert.Contains(t, m.Results[0].Warnings[0], "GBP")

	archives, err := f.store.ListCashRegisterArchives(context.Background(), ledger.ArchivePeriod{Month: 2, Year: 2025})
	require.NoError(t, err)
	require.Len(t, archives, 1)
	_, ok := archives[0].FinancialSummary["GBP"]
	assert.False(t, ok)
	assert.Equal(t, []ledger.Currency{"GBP"}, archives[0].Unsummarized)
}

func TestRegisters_PostingAfterListingIsArchived(t *testing.T) {
	// GIVEN: c1 is listed at USD 100, then a posting brings it to USD 150
	// before its unit runs
	f := newFixture(t, day(2025, time.March, 15), func(m *store.Memory) ledger.Backend {
		return &postingBackend{Backend: m, mem: m, reg: ledger.CashRegister{
			ID: "c1", Name: "Caisse c1", Balances: ledger.CurrencyAmountSet{money("USD", "150")}, CreatedAt: day(2024, 1, 1),
		}}
	}, nil)
	f.register(t, "c1", money("USD", "100"))

	// WHEN
	m, err := f.runner.Run(context.Background(), archive.JobMonthlyRegisters)

	// THEN: the archive holds the balance that was reset, not the listed one
	require.NoError(t, err)
	assert.Equal(t, archive.StateCompleted, m.State)
	archives, err := f.store.ListCashRegisterArchives(context.Background(), ledger.ArchivePeriod{Month: 2, Year: 2025})
	require.NoError(t, err)
	require.Len(t, archives, 1)
	require.Len(t, archives[0].Balances, 1)
	assertAmount(t, "150", archives[0].Balances[0].Amount, "archived balance")
	assertAmount(t, "150", archives[0].FinancialSummary["USD"].InitialAmount, "USD initial")

	reg, err := f.store.GetCashRegister(context.Background(), "c1")
	require.NoError(t, err)
	assertAmount(t, "0", reg.Balances[0].Amount, "register zeroed")
}

// =============================================================================
// ANNUAL INVOICES
// =============================================================================

func TestInvoices_SkipOffJanuaryFirst(t *testing.T) {
	// GIVEN: invoices of last year, today is not January 1st
	f := newFixture(t, day(2025, time.March, 15), nil, nil)
	f.invoice(t, "i1", "0001/2024")

	// WHEN
	m, err := f.runner.Run(context.Background(), archive.JobAnnualInvoices)

	// THEN: a successful skip with zero store writes
	require.NoError(t, err)
	assert.Equal(t, archive.StateSkipped, m.State)
	assert.True(t, m.Success)
	assert.True(t, m.Skipped)
	assert.Equal(t, "Archive process only runs on January 1st", m.Message)
	assert.Equal(t, 1, f.store.CountInvoices())

	archives, err := f.store.ListInvoiceArchives(context.Background(), 2024)
	require.NoError(t, err)
	assert.Empty(t, archives)
	runs, err := f.store.ListJobRuns(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestInvoices_ArchiveAndDeletePriorYear(t *testing.T) {
	// GIVEN: January 1st, two invoices of 2024 and one of 2025
	f := newFixture(t, day(2025, time.January, 1), nil, nil)
	f.invoice(t, "i1", "0001/2024")
	f.invoice(t, "i2", "0002/2024")
	f.invoice(t, "i3", "0001/2025")

	// WHEN
	m, err := f.runner.Run(context.Background(), archive.JobAnnualInvoices)

	// THEN: only 2024 invoices move to the archive
	require.NoError(t, err)
	assert.Equal(t, archive.StateCompleted, m.State)
	assert.Equal(t, 2, m.Archived)
	assert.Equal(t, 2024, m.Year)
	assert.Zero(t, m.Month)
	assert.Equal(t, 1, f.store.CountInvoices())

	archives, err := f.store.ListInvoiceArchives(context.Background(), 2024)
	require.NoError(t, err)
	assert.Len(t, archives, 2)
}

func TestInvoices_GateUsesArchiveTimezone(t *testing.T) {
	// GIVEN: 23:30 UTC on Dec 31 is already Jan 1 in UTC+1
	f := &fixture{store: store.NewMemory(), blobs: blob.NewMemory()}
	nop := zerolog.Nop()
	runner := archive.NewRunner(f.store, f.blobs, archive.Options{
		Clock:    archive.FixedClock{T: time.Date(2024, time.December, 31, 23, 30, 0, 0, time.UTC)},
		Location: time.FixedZone("CET", 3600),
		Logger:   &nop,
	})

	// WHEN
	m, err := runner.Run(context.Background(), archive.JobAnnualInvoices)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, archive.StateCompleted, m.State)
	assert.Equal(t, 2024, m.Year)
}

// =============================================================================
// MONTHLY TRANSACTIONS + ROLLOVER
// =============================================================================

func seedLedger(t *testing.T, f *fixture) {
	f.register(t, "c1", money("USD", "100"), money("EUR", "50"))
	f.bank(t, "b1", money("MAD", "5000"))
	feb := ledger.NewTimePoint(2025, time.February, 14)
	f.tx(t, "t1", "c1", ledger.SourceCashRegister, ledger.Inflow, "USD", "30", feb)
	f.tx(t, "t2", "b1", ledger.SourceBankAccount, ledger.Outflow, "MAD", "200", feb)
	f.tx(t, "t3", "c1", ledger.SourceCashRegister, ledger.Inflow, "USD", "7", ledger.NewTimePoint(2025, time.March, 1))
}

func TestTransactions_SkipWhenNotFirstOfMonth(t *testing.T) {
	f := newFixture(t, day(2025, time.March, 2), nil, nil)
	seedLedger(t, f)

	m, err := f.runner.Run(context.Background(), archive.JobMonthlyTransactions)

	require.NoError(t, err)
	assert.Equal(t, archive.StateSkipped, m.State)
	assert.True(t, m.Success)
	assert.Equal(t, 3, f.store.CountTransactions())
	assert.Empty(t, f.blobs.Keys())
}

func TestTransactions_SnapshotArchiveAndRollover(t *testing.T) {
	// GIVEN: March 1st with February activity
	f := newFixture(t, day(2025, time.March, 1), nil, nil)
	seedLedger(t, f)

	// WHEN
	m, err := f.runner.Run(context.Background(), archive.JobMonthlyTransactions)

	// THEN: the document is written, February rows move to the archive
	require.NoError(t, err)
	assert.Equal(t, archive.StateCompleted, m.State)
	assert.Equal(t, 2, m.Archived)
	assert.Equal(t, 1, f.store.CountTransactions(), "March transaction stays live")

	key := "2025/fevrier2025/transactions_fevrier_2025.json"
	assert.Equal(t, key, m.DocumentRef)
	data, err := f.blobs.Get(context.Background(), key)
	require.NoError(t, err)
	var doc archive.SnapshotDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 2, doc.Count)
	assert.Equal(t, "fevrier", doc.MonthName)
	assertAmount(t, "30", doc.Totals["USD"].Revenue, "USD revenue")
	assertAmount(t, "200", doc.Totals["MAD"].Expenses, "MAD expenses")

	archives, err := f.store.ListTransactionArchives(context.Background(), ledger.ArchivePeriod{Month: 2, Year: 2025})
	require.NoError(t, err)
	require.Len(t, archives, 2)
	assert.Equal(t, key, archives[0].DocumentRef)

	// AND: every register is zeroed, every bank account emptied
	require.NotNil(t, m.Rollover)
	assert.Equal(t, 1, m.Rollover.CashRegisters)
	assert.Equal(t, 1, m.Rollover.BankAccounts)
	reg, err := f.store.GetCashRegister(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, reg.Balances, 2)
	for _, b := range reg.Balances {
		assert.True(t, b.Amount.IsZero())
	}
	acct, err := f.store.GetBankAccount(context.Background(), "b1")
	require.NoError(t, err)
	assert.Empty(t, acct.Balances)

	done, err := f.store.HasCompletedRun(context.Background(), archive.RolloverRunKind, "2025-02")
	require.NoError(t, err)
	assert.True(t, done, "rollover recorded for February")
}

func TestTransactions_BlobFailureDeletesNothing(t *testing.T) {
	// GIVEN: blob storage is down
	f := newFixture(t, day(2025, time.March, 1), nil, downBlobs{})
	seedLedger(t, f)

	// WHEN
	m, err := f.runner.Run(context.Background(), archive.JobMonthlyTransactions)

	// THEN: Failed, no live row deleted, no rollover
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrBlobWrite)
	assert.Equal(t, archive.StateFailed, m.State)
	assert.False(t, m.Success)
	assert.NotEmpty(t, m.Error)
	assert.Equal(t, 3, f.store.CountTransactions())
	assert.Nil(t, m.Rollover)

	reg, err := f.store.GetCashRegister(context.Background(), "c1")
	require.NoError(t, err)
	assertAmount(t, "100", reg.Balances[0].Amount, "register untouched")
}

func TestTransactions_RolloverRunsOncePerPeriod(t *testing.T) {
	// GIVEN: February was already rolled over, then March postings arrived
	f := newFixture(t, day(2025, time.March, 1), nil, nil)
	seedLedger(t, f)
	_, err := f.runner.Run(context.Background(), archive.JobMonthlyTransactions)
	require.NoError(t, err)
	f.register(t, "c1", money("USD", "7"))

	// WHEN: the job is invoked again for the same day
	m, err := f.runner.Run(context.Background(), archive.JobMonthlyTransactions)

	// THEN: the rollover is skipped and March balances survive
	require.NoError(t, err)
	require.NotNil(t, m.Rollover)
	assert.True(t, m.Rollover.Skipped)
	reg, err := f.store.GetCashRegister(context.Background(), "c1")
	require.NoError(t, err)
	assertAmount(t, "7", reg.Balances[0].Amount, "March balance kept")

	// AND: the snapshot document still lists February's transactions
	data, err := f.blobs.Get(context.Background(), m.DocumentRef)
	require.NoError(t, err)
	var doc archive.SnapshotDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 2, doc.Count)
}

func TestTransactions_FailedUnitSkipsRollover(t *testing.T) {
	// GIVEN: one transaction cannot be archived
	f := newFixture(t, day(2025, time.March, 1), func(m *store.Memory) ledger.Backend {
		return &faultyBackend{Backend: m, failIDs: map[string]bool{"t2": true}}
	}, nil)
	seedLedger(t, f)

	// WHEN
	m, err := f.runner.Run(context.Background(), archive.JobMonthlyTransactions)

	// THEN: the failed row stays live and balances are not reset
	require.NoError(t, err)
	assert.Equal(t, archive.StatePartiallyFailed, m.State)
	assert.Equal(t, 1, m.Archived)
	assert.Equal(t, 1, m.Failed)
	assert.Equal(t, 2, f.store.CountTransactions())
	require.NotNil(t, m.Rollover)
	assert.True(t, m.Rollover.Skipped)

	acct, err := f.store.GetBankAccount(context.Background(), "b1")
	require.NoError(t, err)
	assert.Len(t, acct.Balances, 1)
}

func TestTransactions_RolloverErrorIsPartialFailure(t *testing.T) {
	f := newFixture(t, day(2025, time.March, 1), func(m *store.Memory) ledger.Backend {
		return &faultyBackend{Backend: m, failIDs: map[string]bool{"rollover": true}}
	}, nil)
	seedLedger(t, f)

	m, err := f.runner.Run(context.Background(), archive.JobMonthlyTransactions)

	require.NoError(t, err)
	assert.Equal(t, archive.StatePartiallyFailed, m.State)
	assert.Equal(t, 0, m.Failed)
	require.NotNil(t, m.Rollover)
	assert.NotEmpty(t, m.Rollover.Error)

	// the rollover transaction rolled back as a whole
	acct, err := f.store.GetBankAccount(context.Background(), "b1")
	require.NoError(t, err)
	assert.Len(t, acct.Balances, 1)
}

func TestTransactions_RolloverRecordCommitsWithResets(t *testing.T) {
	// GIVEN: the rollover record cannot be written
	f := newFixture(t, day(2025, time.March, 1), func(m *store.Memory) ledger.Backend {
		return &faultyBackend{Backend: m, failIDs: map[string]bool{archive.RolloverRunKind: true}}
	}, nil)
	seedLedger(t, f)

	// WHEN
	m, err := f.runner.Run(context.Background(), archive.JobMonthlyTransactions)

	// THEN: the resets roll back with the record
	require.NoError(t, err)
	assert.Equal(t, archive.StatePartiallyFailed, m.State)
	require.NotNil(t, m.Rollover)
	assert.Contains(t, m.Rollover.Error, "record rollover")

	reg, err := f.store.GetCashRegister(context.Background(), "c1")
	require.NoError(t, err)
	assertAmount(t, "100", reg.Balances[0].Amount, "register untouched")
	acct, err := f.store.GetBankAccount(context.Background(), "b1")
	require.NoError(t, err)
	assert.Len(t, acct.Balances, 1)

	// AND: the period is not marked, so the next run still rolls it over
	done, err := f.store.HasCompletedRun(context.Background(), archive.RolloverRunKind, "2025-02")
	require.NoError(t, err)
	assert.False(t, done)
}

// =============================================================================
// RUNNER
// =============================================================================

func TestRunner_HeldLockFailsRun(t *testing.T) {
	// GIVEN: another process holds the February lock
	now := day(2025, time.March, 15)
	f := newFixture(t, now, nil, nil)
	f.register(t, "c1", money("USD", "10"))
	require.NoError(t, f.store.AcquireJobLock(context.Background(), ledger.JobLock{
		JobKind: string(archive.JobMonthlyRegisters), PeriodKey: "2025-02", Holder: "other",
		AcquiredAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	// WHEN
	m, err := f.runner.Run(context.Background(), archive.JobMonthlyRegisters)

	// THEN
	require.ErrorIs(t, err, ledger.ErrRunInProgress)
	assert.Equal(t, archive.StateFailed, m.State)
	assert.False(t, m.Success)
	reg, err := f.store.GetCashRegister(context.Background(), "c1")
	require.NoError(t, err)
	assertAmount(t, "10", reg.Balances[0].Amount, "register untouched")
}

func TestRunner_BatchReadTimeoutFailsRun(t *testing.T) {
	// GIVEN: the register listing hangs past the store timeout
	f := newFixtureWith(t, day(2025, time.March, 15), func(m *store.Memory) ledger.Backend {
		return stalledListing{Backend: m}
	}, nil, archive.Options{Workers: 1, StoreTimeout: 20 * time.Millisecond})
	f.register(t, "c1", money("USD", "10"))

	// WHEN
	m, err := f.runner.Run(context.Background(), archive.JobMonthlyRegisters)

	// THEN: the run fails as a store read timeout and touches nothing
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStoreRead)
	assert.True(t, ledger.IsTimeout(err))
	assert.Equal(t, archive.StateFailed, m.State)
	assert.Empty(t, m.Results)

	reg, err := f.store.GetCashRegister(context.Background(), "c1")
	require.NoError(t, err)
	assertAmount(t, "10", reg.Balances[0].Amount, "register untouched")
}

func TestRunner_EntityTimeoutIsIsolated(t *testing.T) {
	// GIVEN: c1's unit hangs past the store timeout, c2's does not
	f := newFixtureWith(t, day(2025, time.March, 15), func(m *store.Memory) ledger.Backend {
		return stalledUnit{Backend: m, id: "c1"}
	}, nil, archive.Options{Workers: 1, StoreTimeout: 20 * time.Millisecond})
	f.register(t, "c1", money("USD", "10"))
	f.register(t, "c2", money("USD", "20"))

	// WHEN
	m, err := f.runner.Run(context.Background(), archive.JobMonthlyRegisters)

	// THEN: only c1 fails, with the deadline as its cause
	require.NoError(t, err)
	assert.Equal(t, archive.StatePartiallyFailed, m.State)
	assert.Equal(t, 1, m.Archived)
	assert.Equal(t, 1, m.Failed)
	require.Len(t, m.Results, 2)
	assert.Equal(t, "c1", m.Results[0].EntityID)
	assert.Equal(t, archive.OutcomeFailed, m.Results[0].Outcome)
	assert.Contains(t, m.Results[0].Error, context.DeadlineExceeded.Error())
	assert.Equal(t, "c2", m.Results[1].EntityID)
	assert.Equal(t, archive.OutcomeArchived, m.Results[1].Outcome)

	reg, err := f.store.GetCashRegister(context.Background(), "c1")
	require.NoError(t, err)
	assertAmount(t, "10", reg.Balances[0].Amount, "c1 untouched")
}

func TestRunner_ReleasesLockAndRecordsRun(t *testing.T) {
	now := day(2025, time.March, 15)
	f := newFixture(t, now, nil, nil)
	f.register(t, "c1", money("USD", "10"))

	m, err := f.runner.Run(context.Background(), archive.JobMonthlyRegisters)
	require.NoError(t, err)

	// the lock is free again
	require.NoError(t, f.store.AcquireJobLock(context.Background(), ledger.JobLock{
		JobKind: string(archive.JobMonthlyRegisters), PeriodKey: "2025-02", Holder: "next",
		AcquiredAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	runs, err := f.store.ListJobRuns(context.Background(), string(archive.JobMonthlyRegisters), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, m.RunID, runs[0].ID)
	assert.Equal(t, "completed", runs[0].State)
	assert.Equal(t, 1, runs[0].Archived)
	assert.NotNil(t, runs[0].FinishedAt)
	assert.Contains(t, runs[0].ManifestJSON, `"state":"completed"`)

	require.Len(t, f.notified, 1)
	assert.Equal(t, m.RunID, f.notified[0].RunID)
}

func TestRunner_UnknownJobKind(t *testing.T) {
	f := newFixture(t, day(2025, time.March, 15), nil, nil)

	m, err := f.runner.Run(context.Background(), archive.JobKind("weekly"))

	require.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, archive.StateFailed, m.State)
	assert.True(t, ledger.IsClientError(err))
}

func TestRunner_BackfillWithRunAt(t *testing.T) {
	f := newFixture(t, day(2025, time.March, 15), nil, nil)
	f.register(t, "c1", money("USD", "10"))

	m, err := f.runner.RunAt(context.Background(), archive.JobMonthlyRegisters, day(2024, time.November, 3))

	require.NoError(t, err)
	assert.Equal(t, "2024-10", m.Period)
	archives, err := f.store.ListCashRegisterArchives(context.Background(), ledger.ArchivePeriod{Month: 10, Year: 2024})
	require.NoError(t, err)
	assert.Len(t, archives, 1)
}

func TestManifest_WireForm(t *testing.T) {
	f := newFixture(t, day(2025, time.March, 15), nil, nil)
	f.register(t, "c1", money("USD", "10"))

	m, err := f.runner.Run(context.Background(), archive.JobMonthlyRegisters)
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, true, wire["success"])
	assert.Equal(t, float64(1), wire["archived"])
	assert.Equal(t, float64(2), wire["month"])
	assert.Equal(t, float64(2025), wire["year"])
	assert.Equal(t, "monthly_registers", wire["job"])
	assert.Equal(t, "completed", wire["state"])
	assert.NotContains(t, wire, "error")
	results := wire["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "archived", results[0].(map[string]any)["outcome"])
}
