// Package store provides an in-memory ledger.Backend.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agencyops/ledger-archive/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	registers map[ledger.CashRegisterID]ledger.CashRegister
	banks     map[ledger.BankAccountID]ledger.BankAccount
	txs       map[ledger.TransactionID]ledger.Transaction
	invoices  map[ledger.InvoiceID]ledger.Invoice

	registerArchives []ledger.CashRegisterArchive
	bankArchives     []ledger.BankAccountArchive
	txArchives       []ledger.TransactionArchive
	invoiceArchives  []ledger.InvoiceArchive
	archiveKeys      map[string]bool

	locks map[string]ledger.JobLock
	runs  map[string]ledger.JobRun
}

func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

func newMemState() *memState {
	return &memState{
		registers:   make(map[ledger.CashRegisterID]ledger.CashRegister),
		banks:       make(map[ledger.BankAccountID]ledger.BankAccount),
		txs:         make(map[ledger.TransactionID]ledger.Transaction),
		invoices:    make(map[ledger.InvoiceID]ledger.Invoice),
		archiveKeys: make(map[string]bool),
		locks:       make(map[string]ledger.JobLock),
		runs:        make(map[string]ledger.JobRun),
	}
}

var (
	_ ledger.Backend      = (*Memory)(nil)
	_ ledger.ArchiveStore = (*Memory)(nil)
)

func (m *Memory) read(fn func(s *memState) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.state)
}

func (m *Memory) write(fn func(s *memState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

// =============================================================================
// SEEDING
// =============================================================================

func (m *Memory) SaveCashRegister(_ context.Context, r ledger.CashRegister) error {
	if err := r.Balances.Validate(); err != nil {
		return err
	}
	return m.write(func(s *memState) error {
		r.Balances = r.Balances.Clone()
		s.registers[r.ID] = r
		return nil
	})
}

func (m *Memory) SaveBankAccount(_ context.Context, a ledger.BankAccount) error {
	if err := a.Balances.Validate(); err != nil {
		return err
	}
	return m.write(func(s *memState) error {
		a.Balances = a.Balances.Clone()
		s.banks[a.ID] = a
		return nil
	})
}

func (m *Memory) SaveTransaction(_ context.Context, tx ledger.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	return m.write(func(s *memState) error {
		s.txs[tx.ID] = tx
		return nil
	})
}

func (m *Memory) SaveInvoice(_ context.Context, inv ledger.Invoice) error {
	if _, err := inv.Number.Year(); err != nil {
		return err
	}
	return m.write(func(s *memState) error {
		s.invoices[inv.ID] = inv
		return nil
	})
}

// CountTransactions and CountInvoices report live row counts.
func (m *Memory) CountTransactions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.state.txs)
}

func (m *Memory) CountInvoices() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.state.invoices)
}

// =============================================================================
// ledger.Store
// =============================================================================

func (m *Memory) ListCashRegisters(ctx context.Context) (out []ledger.CashRegister, err error) {
	err = m.read(func(s *memState) error { out, err = s.ListCashRegisters(ctx); return err })
	return out, err
}

func (m *Memory) ListBankAccounts(ctx context.Context) (out []ledger.BankAccount, err error) {
	err = m.read(func(s *memState) error { out, err = s.ListBankAccounts(ctx); return err })
	return out, err
}

func (m *Memory) GetCashRegister(ctx context.Context, id ledger.CashRegisterID) (out *ledger.CashRegister, err error) {
	err = m.read(func(s *memState) error { out, err = s.GetCashRegister(ctx, id); return err })
	return out, err
}

func (m *Memory) GetBankAccount(ctx context.Context, id ledger.BankAccountID) (out *ledger.BankAccount, err error) {
	err = m.read(func(s *memState) error { out, err = s.GetBankAccount(ctx, id); return err })
	return out, err
}

func (m *Memory) TransactionsInPeriod(ctx context.Context, p ledger.Period) (out []ledger.Transaction, err error) {
	err = m.read(func(s *memState) error { out, err = s.TransactionsInPeriod(ctx, p); return err })
	return out, err
}

func (m *Memory) TransactionsForSource(ctx context.Context, src ledger.SourceRef, p ledger.Period) (out []ledger.Transaction, err error) {
	err = m.read(func(s *memState) error { out, err = s.TransactionsForSource(ctx, src, p); return err })
	return out, err
}

func (m *Memory) InvoicesForYear(ctx context.Context, year int) (out []ledger.Invoice, err error) {
	err = m.read(func(s *memState) error { out, err = s.InvoicesForYear(ctx, year); return err })
	return out, err
}

func (m *Memory) InsertCashRegisterArchive(ctx context.Context, a ledger.CashRegisterArchive) error {
	return m.write(func(s *memState) error { return s.InsertCashRegisterArchive(ctx, a) })
}

func (m *Memory) InsertBankAccountArchive(ctx context.Context, a ledger.BankAccountArchive) error {
	return m.write(func(s *memState) error { return s.InsertBankAccountArchive(ctx, a) })
}

func (m *Memory) InsertTransactionArchive(ctx context.Context, a ledger.TransactionArchive) error {
	return m.write(func(s *memState) error { return s.InsertTransactionArchive(ctx, a) })
}

func (m *Memory) InsertInvoiceArchive(ctx context.Context, a ledger.InvoiceArchive) error {
	return m.write(func(s *memState) error { return s.InsertInvoiceArchive(ctx, a) })
}

func (m *Memory) ZeroCashRegister(ctx context.Context, id ledger.CashRegisterID) error {
	return m.write(func(s *memState) error { return s.ZeroCashRegister(ctx, id) })
}

func (m *Memory) ClearBankAccount(ctx context.Context, id ledger.BankAccountID) error {
	return m.write(func(s *memState) error { return s.ClearBankAccount(ctx, id) })
}

func (m *Memory) ZeroAllCashRegisters(ctx context.Context) (n int, err error) {
	err = m.write(func(s *memState) error { n, err = s.ZeroAllCashRegisters(ctx); return err })
	return n, err
}

func (m *Memory) ClearAllBankAccounts(ctx context.Context) (n int, err error) {
	err = m.write(func(s *memState) error { n, err = s.ClearAllBankAccounts(ctx); return err })
	return n, err
}

func (m *Memory) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	return m.write(func(s *memState) error { return s.DeleteTransaction(ctx, id) })
}

func (m *Memory) DeleteInvoice(ctx context.Context, id ledger.InvoiceID) error {
	return m.write(func(s *memState) error { return s.DeleteInvoice(ctx, id) })
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(m.state); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.registers {
		c.registers[k] = v
	}
	for k, v := range s.banks {
		c.banks[k] = v
	}
	for k, v := range s.txs {
		c.txs[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.archiveKeys {
		c.archiveKeys[k] = v
	}
	for k, v := range s.locks {
		c.locks[k] = v
	}
	for k, v := range s.runs {
		c.runs[k] = v
	}
	c.registerArchives = append(c.registerArchives, s.registerArchives...)
	c.bankArchives = append(c.bankArchives, s.bankArchives...)
	c.txArchives = append(c.txArchives, s.txArchives...)
	c.invoiceArchives = append(c.invoiceArchives, s.invoiceArchives...)
	return c
}

// =============================================================================
// memState - unlocked view, also handed to WithTx callbacks
// =============================================================================

func (s *memState) ListCashRegisters(_ context.Context) ([]ledger.CashRegister, error) {
	out := make([]ledger.CashRegister, 0, len(s.registers))
	for _, r := range s.registers {
		r.Balances = r.Balances.Clone()
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) GetCashRegister(_ context.Context, id ledger.CashRegisterID) (*ledger.CashRegister, error) {
	r, ok := s.registers[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	r.Balances = r.Balances.Clone()
	return &r, nil
}

func (s *memState) GetBankAccount(_ context.Context, id ledger.BankAccountID) (*ledger.BankAccount, error) {
	a, ok := s.banks[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	a.Balances = a.Balances.Clone()
	return &a, nil
}

func (s *memState) ListBankAccounts(_ context.Context) ([]ledger.BankAccount, error) {
	out := make([]ledger.BankAccount, 0, len(s.banks))
	for _, a := range s.banks {
		a.Balances = a.Balances.Clone()
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) TransactionsInPeriod(_ context.Context, p ledger.Period) ([]ledger.Transaction, error) {
	return s.filterTxs(func(tx ledger.Transaction) bool { return p.Contains(tx.TransactionDate) }), nil
}

func (s *memState) TransactionsForSource(_ context.Context, src ledger.SourceRef, p ledger.Period) ([]ledger.Transaction, error) {
	return s.filterTxs(func(tx ledger.Transaction) bool {
		return tx.SourceID == src.ID && tx.SourceType == src.Type && p.Contains(tx.TransactionDate)
	}), nil
}

func (s *memState) filterTxs(keep func(ledger.Transaction) bool) []ledger.Transaction {
	var out []ledger.Transaction
	for _, tx := range s.txs {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.Before(out[j].TransactionDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memState) InvoicesForYear(_ context.Context, year int) ([]ledger.Invoice, error) {
	var out []ledger.Invoice
	for _, inv := range s.invoices {
		if inv.Number.HasYear(year) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) claimKey(key string) error {
	if s.archiveKeys[key] {
		return ledger.ErrAlreadyArchived
	}
	s.archiveKeys[key] = true
	return nil
}

func balanceKey(table, entityID string, p ledger.ArchivePeriod) string {
	return fmt.Sprintf("%s/%s/%d-%d", table, entityID, p.Year, p.Month)
}

func (s *memState) InsertCashRegisterArchive(_ context.Context, a ledger.CashRegisterArchive) error {
	if err := s.claimKey(balanceKey("register", a.OriginalEntityID, a.Period)); err != nil {
		return err
	}
	s.registerArchives = append(s.registerArchives, a)
	return nil
}

func (s *memState) InsertBankAccountArchive(_ context.Context, a ledger.BankAccountArchive) error {
	if err := s.claimKey(balanceKey("bank", a.OriginalEntityID, a.Period)); err != nil {
		return err
	}
	s.bankArchives = append(s.bankArchives, a)
	return nil
}

func (s *memState) InsertTransactionArchive(_ context.Context, a ledger.TransactionArchive) error {
	if err := s.claimKey("transaction/" + string(a.Transaction.ID)); err != nil {
		return err
	}
	s.txArchives = append(s.txArchives, a)
	return nil
}

func (s *memState) InsertInvoiceArchive(_ context.Context, a ledger.InvoiceArchive) error {
	if err := s.claimKey("invoice/" + string(a.Invoice.ID)); err != nil {
		return err
	}
	s.invoiceArchives = append(s.invoiceArchives, a)
	return nil
}

func (s *memState) ZeroCashRegister(_ context.Context, id ledger.CashRegisterID) error {
	r, ok := s.registers[id]
	if !ok {
		return ledger.ErrNotFound
	}
	r.Balances = r.Balances.Zeroed()
	s.registers[id] = r
	return nil
}

func (s *memState) ClearBankAccount(_ context.Context, id ledger.BankAccountID) error {
	a, ok := s.banks[id]
	if !ok {
		return ledger.ErrNotFound
	}
	a.Balances = ledger.CurrencyAmountSet{}
	s.banks[id] = a
	return nil
}

func (s *memState) ZeroAllCashRegisters(ctx context.Context) (int, error) {
	for id := range s.registers {
		if err := s.ZeroCashRegister(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(s.registers), nil
}

func (s *memState) ClearAllBankAccounts(ctx context.Context) (int, error) {
	for id := range s.banks {
		if err := s.ClearBankAccount(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(s.banks), nil
}

func (s *memState) DeleteTransaction(_ context.Context, id ledger.TransactionID) error {
	if _, ok := s.txs[id]; !ok {
		return ledger.ErrNotFound
	}
	delete(s.txs, id)
	return nil
}

func (s *memState) DeleteInvoice(_ context.Context, id ledger.InvoiceID) error {
	if _, ok := s.invoices[id]; !ok {
		return ledger.ErrNotFound
	}
	delete(s.invoices, id)
	return nil
}

// =============================================================================
// ARCHIVE READS
// =============================================================================

func (m *Memory) ListCashRegisterArchives(_ context.Context, p ledger.ArchivePeriod) ([]ledger.CashRegisterArchive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.CashRegisterArchive
	for _, a := range m.state.registerArchives {
		if a.Period == p {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) ListBankAccountArchives(_ context.Context, p ledger.ArchivePeriod) ([]ledger.BankAccountArchive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.BankAccountArchive
	for _, a := range m.state.bankArchives {
		if a.Period == p {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) ListTransactionArchives(_ context.Context, p ledger.ArchivePeriod) ([]ledger.TransactionArchive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.TransactionArchive
	for _, a := range m.state.txArchives {
		if a.Period == p {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) ListInvoiceArchives(_ context.Context, year int) ([]ledger.InvoiceArchive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.InvoiceArchive
	for _, a := range m.state.invoiceArchives {
		if a.Period.Year == year {
			out = append(out, a)
		}
	}
	return out, nil
}

// =============================================================================
// LOCKS AND RUNS
// =============================================================================

func lockKey(kind, period string) string { return kind + "/" + period }

func (m *Memory) AcquireJobLock(_ context.Context, lock ledger.JobLock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := lockKey(lock.JobKind, lock.PeriodKey)
	if held, ok := m.state.locks[k]; ok && held.Holder != lock.Holder && lock.AcquiredAt.Before(held.ExpiresAt) {
		return ledger.ErrRunInProgress
	}
	m.state.locks[k] = lock
	return nil
}

func (m *Memory) ReleaseJobLock(_ context.Context, kind, period, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := lockKey(kind, period)
	if held, ok := m.state.locks[k]; ok && held.Holder == holder {
		delete(m.state.locks, k)
	}
	return nil
}

func (m *Memory) SaveJobRun(ctx context.Context, run ledger.JobRun) error {
	return m.write(func(s *memState) error { return s.SaveJobRun(ctx, run) })
}

func (s *memState) SaveJobRun(_ context.Context, run ledger.JobRun) error {
	s.runs[run.ID] = run
	return nil
}

func (m *Memory) ListJobRuns(_ context.Context, kind string, limit int) ([]ledger.JobRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.JobRun
	for _, r := range m.state.runs {
		if kind == "" || r.JobKind == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) HasCompletedRun(_ context.Context, kind, period string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.state.runs {
		if r.JobKind == kind && r.PeriodKey == period && (r.State == "completed" || r.State == "partially_failed") {
			return true, nil
		}
	}
	return false, nil
}
