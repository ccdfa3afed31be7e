/*
handlers.go - HTTP API handlers for the archival engine

PURPOSE:
  Exposes the archive jobs as stateless request/response triggers, and
  serves run records and archive tables for audits and the admin UI.

ENDPOINTS:
  Jobs:
    POST   /api/jobs/{kind}/run           Run a job for today
    POST   /api/jobs/{kind}/run?date=D    Run a job as if today were D
    GET    /api/jobs/runs?job=&limit=     Recent run records

  Archives:
    GET    /api/archives/registers?year=&month=
    GET    /api/archives/bank-accounts?year=&month=
    GET    /api/archives/transactions?year=&month=
    GET    /api/archives/invoices?year=

  Health:
    GET    /api/health

JOB RESPONSE:
  The body is always the run Manifest. A skip (date gate closed) is a
  success. Status codes for a Failed run:
  - 400: Unknown job kind, bad date
  - 409: Another run holds the lock for the period
  - 500: Store or blob failure

SECURITY NOTE:
  No authentication middleware. The role guard sits in front of this
  service.

SEE ALSO:
  - dto.go: Response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/agencyops/ledger-archive/archive"
	"github.com/agencyops/ledger-archive/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Runner    *archive.Runner
	Archives  ledger.ArchiveStore
	Runs      ledger.RunStore
	Scheduler *JobScheduler

	log zerolog.Logger
}

func NewHandler(runner *archive.Runner, archives ledger.ArchiveStore, runs ledger.RunStore, log zerolog.Logger) *Handler {
	return &Handler{Runner: runner, Archives: archives, Runs: runs, log: log}
}

// =============================================================================
// JOB ENDPOINTS
// =============================================================================

// RunJob triggers one archive job and returns its manifest.
// POST /api/jobs/{kind}/run[?date=YYYY-MM-DD]
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	kind, err := archive.ParseJobKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown job", err)
		return
	}

	now := h.Runner.Now()
	if d := r.URL.Query().Get("date"); d != "" {
		date, err := ledger.ParseDate(d)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		now = time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, now.Location())
	}

	m, err := h.Runner.RunAt(r.Context(), kind, now)
	if err != nil {
		h.log.Error().
			Err(err).
			Str("job", string(kind)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("job run failed")
	}
	writeJSON(w, statusFor(err), m)
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ledger.ErrRunInProgress):
		return http.StatusConflict
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ListJobRuns returns recent run records.
// GET /api/jobs/runs?job=&limit=&manifest=true
func (h *Handler) ListJobRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Runs.ListJobRuns(r.Context(), q.Get("job"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list job runs", err)
		return
	}

	withManifest := q.Get("manifest") == "true"
	dtos := make([]JobRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toJobRunDTO(run, withManifest))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ARCHIVE ENDPOINTS
// =============================================================================

// ListRegisterArchives returns cash-register archives for a month.
// GET /api/archives/registers?year=&month=
func (h *Handler) ListRegisterArchives(w http.ResponseWriter, r *http.Request) {
	p, ok := monthQuery(w, r)
	if !ok {
		return
	}
	items, err := h.Archives.ListCashRegisterArchives(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list register archives", err)
		return
	}
	writeJSON(w, http.StatusOK, newArchiveList(p, items))
}

// ListBankAccountArchives returns bank-account archives for a month.
// GET /api/archives/bank-accounts?year=&month=
func (h *Handler) ListBankAccountArchives(w http.ResponseWriter, r *http.Request) {
	p, ok := monthQuery(w, r)
	if !ok {
		return
	}
	items, err := h.Archives.ListBankAccountArchives(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list bank account archives", err)
		return
	}
	writeJSON(w, http.StatusOK, newArchiveList(p, items))
}

// ListTransactionArchives returns archived transactions for a month.
// GET /api/archives/transactions?year=&month=
func (h *Handler) ListTransactionArchives(w http.ResponseWriter, r *http.Request) {
	p, ok := monthQuery(w, r)
	if !ok {
		return
	}
	items, err := h.Archives.ListTransactionArchives(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transaction archives", err)
		return
	}
	writeJSON(w, http.StatusOK, newArchiveList(p, items))
}

// ListInvoiceArchives returns archived invoices for a year.
// GET /api/archives/invoices?year=
func (h *Handler) ListInvoiceArchives(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year < 1 {
		writeError(w, http.StatusBadRequest, "year is required", err)
		return
	}
	items, err := h.Archives.ListInvoiceArchives(r.Context(), year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list invoice archives", err)
		return
	}
	writeJSON(w, http.StatusOK, newArchiveList(ledger.ArchivePeriod{Year: year}, items))
}

func monthQuery(w http.ResponseWriter, r *http.Request) (ledger.ArchivePeriod, bool) {
	q := r.URL.Query()
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil || year < 1 {
		writeError(w, http.StatusBadRequest, "year is required", err)
		return ledger.ArchivePeriod{}, false
	}
	month, err := strconv.Atoi(q.Get("month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "month must be 1-12", err)
		return ledger.ArchivePeriod{}, false
	}
	return ledger.ArchivePeriod{Month: month, Year: year}, true
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Time: h.Runner.Now()}
	if h.Scheduler != nil && h.Scheduler.Enabled {
		next := h.Scheduler.GetNextRunTime()
		resp.SchedulerNext = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
