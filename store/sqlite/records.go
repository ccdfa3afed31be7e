package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/agencyops/ledger-archive/ledger"
)

// =============================================================================
// LIVE RECORD MAINTENANCE
// =============================================================================

// SaveCashRegister upserts a cash register.
func (s *Store) SaveCashRegister(ctx context.Context, r ledger.CashRegister) error {
	if err := r.Balances.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	balances, _ := json.Marshal(nonNil(r.Balances))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_registers (id, name, location, balances_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			balances_json = excluded.balances_json`,
		r.ID, r.Name, nullString(r.Location), string(balances), formatTime(r.CreatedAt),
	)
	return ledger.WriteError("save cash register", err)
}

// SaveBankAccount upserts a bank account.
func (s *Store) SaveBankAccount(ctx context.Context, a ledger.BankAccount) error {
	if err := a.Balances.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	balances, _ := json.Marshal(nonNil(a.Balances))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_accounts (id, bank_name, account_type, balances_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bank_name = excluded.bank_name,
			account_type = excluded.account_type,
			balances_json = excluded.balances_json`,
		a.ID, a.BankName, a.AccountType, string(balances), formatTime(a.CreatedAt),
	)
	return ledger.WriteError("save bank account", err)
}

// SaveTransaction inserts a transaction. Transactions are immutable; a
// second save with the same ID fails.
func (s *Store) SaveTransaction(ctx context.Context, tx ledger.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, source_id, source_type, tx_type, currency, amount, description, transaction_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.SourceID, tx.SourceType, tx.Type, tx.Currency, tx.Amount.String(),
		nullString(tx.Description), tx.TransactionDate.String(), formatTime(tx.CreatedAt),
	)
	return ledger.WriteError("save transaction", err)
}

// SaveInvoice upserts an invoice.
func (s *Store) SaveInvoice(ctx context.Context, inv ledger.Invoice) error {
	if _, err := inv.Number.Year(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, _ := json.Marshal(inv.Items)
	totals, _ := json.Marshal(inv.Totals)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, invoice_number, client_id, items_json, totals_json, status, issue_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			invoice_number = excluded.invoice_number,
			client_id = excluded.client_id,
			items_json = excluded.items_json,
			totals_json = excluded.totals_json,
			status = excluded.status,
			issue_date = excluded.issue_date`,
		inv.ID, inv.Number, inv.ClientID, string(items), string(totals), inv.Status,
		inv.IssueDate.String(), formatTime(inv.CreatedAt),
	)
	return ledger.WriteError("save invoice", err)
}

// CountRows returns the row count of a live or archive table.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	switch table {
	case "transactions", "invoices", "cash_register_archives", "bank_account_archives",
		"transaction_archives", "invoice_archives":
	default:
		return 0, fmt.Errorf("%w: unknown table %q", ledger.ErrValidation, table)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, ledger.ReadError("count "+table, err)
	}
	return n, nil
}

func nonNil(set ledger.CurrencyAmountSet) ledger.CurrencyAmountSet {
	if set == nil {
		return ledger.CurrencyAmountSet{}
	}
	return set
}

// =============================================================================
// ARCHIVE READS (ledger.ArchiveStore interface)
// =============================================================================

func (s *Store) ListCashRegisterArchives(ctx context.Context, p ledger.ArchivePeriod) ([]ledger.CashRegisterArchive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_entity_id, name, location, balances_json, financial_summary_json, unsummarized_json,
		       archive_month, archive_year, created_at, archived_at
		FROM cash_register_archives
		WHERE archive_year = ? AND archive_month = ?
		ORDER BY original_entity_id`, p.Year, p.Month)
	if err != nil {
		return nil, ledger.ReadError("list cash register archives", err)
	}
	defer rows.Close()

	var out []ledger.CashRegisterArchive
	for rows.Next() {
		var (
			a        ledger.CashRegisterArchive
			location sql.NullString
		)
		if err := scanBalanceArchive(rows, &a.BalanceArchive, &a.Name, &location); err != nil {
			return nil, err
		}
		a.Location = location.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListBankAccountArchives(ctx context.Context, p ledger.ArchivePeriod) ([]ledger.BankAccountArchive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_entity_id, bank_name, account_type, balances_json, financial_summary_json, unsummarized_json,
		       archive_month, archive_year, created_at, archived_at
		FROM bank_account_archives
		WHERE archive_year = ? AND archive_month = ?
		ORDER BY original_entity_id`, p.Year, p.Month)
	if err != nil {
		return nil, ledger.ReadError("list bank account archives", err)
	}
	defer rows.Close()

	var out []ledger.BankAccountArchive
	for rows.Next() {
		var a ledger.BankAccountArchive
		if err := scanBalanceArchive(rows, &a.BalanceArchive, &a.BankName, &a.AccountType); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanBalanceArchive(rows *sql.Rows, a *ledger.BalanceArchive, ident1, ident2 any) error {
	var (
		balances, summary     string
		unsummarized          sql.NullString
		createdAt, archivedAt sql.NullString
	)
	if err := rows.Scan(&a.ID, &a.OriginalEntityID, ident1, ident2, &balances, &summary, &unsummarized,
		&a.Period.Month, &a.Period.Year, &createdAt, &archivedAt); err != nil {
		return ledger.ReadError("scan archive", err)
	}
	var err error
	if a.Balances, err = decodeBalances(balances); err != nil {
		return ledger.ReadError("decode archive balances", err)
	}
	if err := json.Unmarshal([]byte(summary), &a.FinancialSummary); err != nil {
		return ledger.ReadError("decode archive summary", err)
	}
	if unsummarized.Valid {
		if err := json.Unmarshal([]byte(unsummarized.String), &a.Unsummarized); err != nil {
			return ledger.ReadError("decode archive warnings", err)
		}
	}
	if a.OriginalCreatedAt, err = parseTime(createdAt); err != nil {
		return ledger.ReadError("decode archive "+a.ID, err)
	}
	if a.ArchivedAt, err = parseTime(archivedAt); err != nil {
		return ledger.ReadError("decode archive "+a.ID, err)
	}
	return nil
}

func (s *Store) ListTransactionArchives(ctx context.Context, p ledger.ArchivePeriod) ([]ledger.TransactionArchive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_json, archive_month, archive_year, document_ref, archived_at
		FROM transaction_archives
		WHERE archive_year = ? AND archive_month = ?
		ORDER BY original_transaction_id`, p.Year, p.Month)
	if err != nil {
		return nil, ledger.ReadError("list transaction archives", err)
	}
	defer rows.Close()

	var out []ledger.TransactionArchive
	for rows.Next() {
		var (
			a               ledger.TransactionArchive
			payload         string
			ref, archivedAt sql.NullString
		)
		if err := rows.Scan(&a.ID, &payload, &a.Period.Month, &a.Period.Year, &ref, &archivedAt); err != nil {
			return nil, ledger.ReadError("scan transaction archive", err)
		}
		if err := json.Unmarshal([]byte(payload), &a.Transaction); err != nil {
			return nil, ledger.ReadError("decode transaction archive", err)
		}
		a.DocumentRef = ref.String
		if a.ArchivedAt, err = parseTime(archivedAt); err != nil {
			return nil, ledger.ReadError("decode transaction archive "+a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListInvoiceArchives(ctx context.Context, year int) ([]ledger.InvoiceArchive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_json, archive_year, archived_at
		FROM invoice_archives
		WHERE archive_year = ?
		ORDER BY invoice_number`, year)
	if err != nil {
		return nil, ledger.ReadError("list invoice archives", err)
	}
	defer rows.Close()

	var out []ledger.InvoiceArchive
	for rows.Next() {
		var (
			a          ledger.InvoiceArchive
			payload    string
			archivedAt sql.NullString
		)
		if err := rows.Scan(&a.ID, &payload, &a.Period.Year, &archivedAt); err != nil {
			return nil, ledger.ReadError("scan invoice archive", err)
		}
		if err := json.Unmarshal([]byte(payload), &a.Invoice); err != nil {
			return nil, ledger.ReadError("decode invoice archive", err)
		}
		if a.ArchivedAt, err = parseTime(archivedAt); err != nil {
			return nil, ledger.ReadError("decode invoice archive "+a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// JOB LOCKS (ledger.LockStore interface)
// =============================================================================

// AcquireJobLock inserts the lock row, or takes over a row whose lease has
// expired or that the same holder already owns.
func (s *Store) AcquireJobLock(ctx context.Context, lock ledger.JobLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_locks (job_kind, period_key, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(job_kind, period_key) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE job_locks.expires_at <= excluded.acquired_at OR job_locks.holder = excluded.holder`,
		lock.JobKind, lock.PeriodKey, lock.Holder,
		formatTime(lock.AcquiredAt), formatTime(lock.ExpiresAt),
	)
	if err != nil {
		return ledger.WriteError("acquire job lock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.WriteError("acquire job lock", err)
	}
	if n == 0 {
		return ledger.ErrRunInProgress
	}
	return nil
}

// ReleaseJobLock deletes the lock if holder still owns it.
func (s *Store) ReleaseJobLock(ctx context.Context, jobKind, periodKey, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM job_locks WHERE job_kind = ? AND period_key = ? AND holder = ?",
		jobKind, periodKey, holder)
	return ledger.WriteError("release job lock", err)
}

// =============================================================================
// JOB RUNS (ledger.RunStore interface)
// =============================================================================

// SaveJobRun creates or updates a run record.
func (s *Store) SaveJobRun(ctx context.Context, r ledger.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().SaveJobRun(ctx, r)
}

// SaveJobRun on a transaction commits the run record with the tx's writes.
func (q queries) SaveJobRun(ctx context.Context, r ledger.JobRun) error {
	var finishedAt sql.NullString
	if r.FinishedAt != nil {
		finishedAt = formatTime(*r.FinishedAt)
	}

	_, err := q.q.ExecContext(ctx, `
		INSERT INTO job_runs
		(id, job_kind, period_key, state, archived, failed, already_archived, error, manifest_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			archived = excluded.archived,
			failed = excluded.failed,
			already_archived = excluded.already_archived,
			error = excluded.error,
			manifest_json = excluded.manifest_json,
			finished_at = excluded.finished_at`,
		r.ID, r.JobKind, r.PeriodKey, r.State, r.Archived, r.Failed, r.AlreadyArchived,
		nullString(r.Error), nullString(r.ManifestJSON), formatTime(r.StartedAt), finishedAt,
	)
	return ledger.WriteError("save job run", err)
}

// ListJobRuns returns the most recent runs, optionally for one job kind.
func (s *Store) ListJobRuns(ctx context.Context, jobKind string, limit int) ([]ledger.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, job_kind, period_key, state, archived, failed, already_archived,
		       error, manifest_json, started_at, finished_at
		FROM job_runs`
	var args []any
	if jobKind != "" {
		query += " WHERE job_kind = ?"
		args = append(args, jobKind)
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.ReadError("list job runs", err)
	}
	defer rows.Close()

	var runs []ledger.JobRun
	for rows.Next() {
		var (
			r                     ledger.JobRun
			errText, manifest     sql.NullString
			startedAt, finishedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.JobKind, &r.PeriodKey, &r.State, &r.Archived, &r.Failed,
			&r.AlreadyArchived, &errText, &manifest, &startedAt, &finishedAt); err != nil {
			return nil, ledger.ReadError("scan job run", err)
		}
		r.Error = errText.String
		r.ManifestJSON = manifest.String
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, ledger.ReadError("decode job run "+r.ID, err)
		}
		if finishedAt.Valid {
			t, err := parseTime(finishedAt)
			if err != nil {
				return nil, ledger.ReadError("decode job run "+r.ID, err)
			}
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// HasCompletedRun checks if a run already finished for the period.
func (s *Store) HasCompletedRun(ctx context.Context, jobKind, periodKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM job_runs
		WHERE job_kind = ? AND period_key = ? AND state IN ('completed', 'partially_failed')`,
		jobKind, periodKey,
	).Scan(&count)
	if err != nil {
		return false, ledger.ReadError("check job runs", err)
	}
	return count > 0, nil
}
