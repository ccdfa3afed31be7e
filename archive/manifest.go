package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/agencyops/ledger-archive/ledger"
)

// =============================================================================
// RUN STATES
// =============================================================================

// RunState follows Idle -> Evaluating -> Skipped | Running ->
// Completed | PartiallyFailed. Failed is reachable from Evaluating and
// Running when a batch-level step breaks.
type RunState string

const (
	StateIdle            RunState = "idle"
	StateEvaluating      RunState = "evaluating"
	StateSkipped         RunState = "skipped"
	StateRunning         RunState = "running"
	StateCompleted       RunState = "completed"
	StatePartiallyFailed RunState = "partially_failed"
	StateFailed          RunState = "failed"
)

// =============================================================================
// ENTITY RESULTS
// =============================================================================

const (
	EntityCashRegister = "cash_register"
	EntityBankAccount  = "bank_account"
	EntityTransaction  = "transaction"
	EntityInvoice      = "invoice"
)

type Outcome string

const (
	OutcomeArchived        Outcome = "archived"
	OutcomeAlreadyArchived Outcome = "already_archived"
	OutcomeFailed          Outcome = "failed"
)

// EntityResult is the outcome of one entity's archive unit.
type EntityResult struct {
	EntityType string   `json:"entity_type"`
	EntityID   string   `json:"entity_id"`
	Outcome    Outcome  `json:"outcome"`
	ArchiveID  string   `json:"archive_id,omitempty"`
	Error      string   `json:"error,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`

	err error
}

// Err returns the failure cause, nil unless Outcome is failed.
func (r EntityResult) Err() error { return r.err }

// settle maps the error of an archive unit to an outcome. A natural-key
// conflict means an earlier run archived the entity; it is not a failure.
func settle(res EntityResult, archiveID string, err error) EntityResult {
	switch {
	case err == nil:
		res.Outcome = OutcomeArchived
		res.ArchiveID = archiveID
	case errors.Is(err, ledger.ErrAlreadyArchived):
		res.Outcome = OutcomeAlreadyArchived
	default:
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		res.err = err
	}
	return res
}

func unsummarizedWarnings(cs []ledger.Currency) []string {
	var out []string
	for _, c := range cs {
		out = append(out, fmt.Sprintf("currency %s had activity in the period but no balance entry; not summarized", c))
	}
	return out
}

// RolloverResult reports the full-ledger reset of the transaction job.
type RolloverResult struct {
	CashRegisters int    `json:"cash_registers"`
	BankAccounts  int    `json:"bank_accounts"`
	Skipped       bool   `json:"skipped"`
	Reason        string `json:"reason,omitempty"`
	Error         string `json:"error,omitempty"`
}

// =============================================================================
// MANIFEST
// =============================================================================

// Manifest is the structured result of one job invocation. Success is
// false only in state Failed; callers detect partial failure through State
// and Failed.
type Manifest struct {
	Success  bool   `json:"success"`
	Archived int    `json:"archived"`
	Month    int    `json:"month,omitempty"`
	Year     int    `json:"year,omitempty"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`

	Job             JobKind         `json:"job"`
	RunID           string          `json:"run_id"`
	State           RunState        `json:"state"`
	Period          string          `json:"period,omitempty"`
	Failed          int             `json:"failed"`
	AlreadyArchived int             `json:"already_archived"`
	Results         []EntityResult  `json:"results"`
	Rollover        *RolloverResult `json:"rollover,omitempty"`
	DocumentRef     string          `json:"document_ref,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`

	err error
}

func newManifest(kind JobKind, runID string, started time.Time) *Manifest {
	return &Manifest{
		Job:       kind,
		RunID:     runID,
		State:     StateIdle,
		Results:   []EntityResult{},
		StartedAt: started,
	}
}

// Err is the top-level failure, nil unless State is failed.
func (m *Manifest) Err() error { return m.err }

func (m *Manifest) setPeriod(p ledger.Period) {
	m.Period = p.Key()
	m.Year = p.Year()
	m.Month = p.Month()
}

func (m *Manifest) skip(reason string) {
	m.State = StateSkipped
	m.Skipped = true
	m.Success = true
	m.Message = reason
}

func (m *Manifest) fail(err error) {
	m.State = StateFailed
	m.Success = false
	m.Error = err.Error()
	m.err = err
}

// tally counts results and picks the terminal state of a finished sweep.
func (m *Manifest) tally() {
	m.Archived, m.Failed, m.AlreadyArchived = 0, 0, 0
	for _, r := range m.Results {
		switch r.Outcome {
		case OutcomeArchived:
			m.Archived++
		case OutcomeAlreadyArchived:
			m.AlreadyArchived++
		case OutcomeFailed:
			m.Failed++
		}
	}
	m.Success = true
	m.State = StateCompleted
	if m.Failed > 0 || (m.Rollover != nil && m.Rollover.Error != "") {
		m.State = StatePartiallyFailed
	}
}

// Succeeded returns the IDs of entities archived by this run.
func (m *Manifest) Succeeded() []string {
	return m.idsWith(OutcomeArchived)
}

// FailedEntities returns the IDs of entities whose unit failed.
func (m *Manifest) FailedEntities() []string {
	return m.idsWith(OutcomeFailed)
}

func (m *Manifest) idsWith(o Outcome) []string {
	var ids []string
	for _, r := range m.Results {
		if r.Outcome == o {
			ids = append(ids, r.EntityID)
		}
	}
	return ids
}
