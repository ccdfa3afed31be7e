/*
dto.go - Data Transfer Objects for API responses

PURPOSE:
  JSON shapes served by the API that are not the archive Manifest itself.
  The Manifest is served as-is; it already carries its wire form.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Response: Wrappers

SEE ALSO:
  - handlers.go: Uses these types
  - archive/manifest.go: Job run response
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/agencyops/ledger-archive/ledger"
)

// JobRunDTO is one row of GET /api/jobs/runs.
type JobRunDTO struct {
	ID              string          `json:"id"`
	JobKind         string          `json:"job"`
	Period          string          `json:"period"`
	State           string          `json:"state"`
	Archived        int             `json:"archived"`
	Failed          int             `json:"failed"`
	AlreadyArchived int             `json:"already_archived"`
	Error           string          `json:"error,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	Manifest        json.RawMessage `json:"manifest,omitempty"`
}

func toJobRunDTO(r ledger.JobRun, withManifest bool) JobRunDTO {
	dto := JobRunDTO{
		ID:              r.ID,
		JobKind:         r.JobKind,
		Period:          r.PeriodKey,
		State:           r.State,
		Archived:        r.Archived,
		Failed:          r.Failed,
		AlreadyArchived: r.AlreadyArchived,
		Error:           r.Error,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
	}
	if withManifest && r.ManifestJSON != "" && json.Valid([]byte(r.ManifestJSON)) {
		dto.Manifest = json.RawMessage(r.ManifestJSON)
	}
	return dto
}

// ArchiveListResponse wraps archive rows with the period they were read for.
type ArchiveListResponse[T any] struct {
	Year  int `json:"year"`
	Month int `json:"month,omitempty"`
	Count int `json:"count"`
	Items []T `json:"items"`
}

func newArchiveList[T any](p ledger.ArchivePeriod, items []T) ArchiveListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ArchiveListResponse[T]{Year: p.Year, Month: p.Month, Count: len(items), Items: items}
}

// HealthResponse is served by GET /api/health.
type HealthResponse struct {
	Status        string     `json:"status"`
	Time          time.Time  `json:"time"`
	SchedulerNext *time.Time `json:"scheduler_next_check,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
