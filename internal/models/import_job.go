// Package models provides data models for the inventory importer.
package models

import (
	"time"

	"github.com/inventory-importer/internal/types"
)

// BatchErrorRow marks a RowError that describes a whole failed batch
const BatchErrorRow = 0

// ImportJob is the ledger entry for one import attempt
type ImportJob struct {
	ID            string           `json:"id" db:"id"`
	CompanyID     string           `json:"companyId" db:"company_id"`
	ImportType    types.ImportType `json:"importType" db:"import_type"`
	FileName      string           `json:"fileName" db:"file_name"`
	TotalRows     int              `json:"totalRows" db:"total_rows"`
	ProcessedRows int              `json:"processedRows" db:"processed_rows"`
	FailedRows    int              `json:"failedRows" db:"failed_rows"`
	Status        types.JobStatus  `json:"status" db:"status"`
	CreatedBy     string           `json:"createdBy" db:"created_by"`
	Errors        []RowError       `json:"errors,omitempty" db:"errors"`
	Summary       *ImportSummary   `json:"summary,omitempty" db:"summary"`
	FailureReason *string          `json:"failureReason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time        `json:"createdAt" db:"created_at"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty" db:"completed_at"`
}

// RawRecord is one decoded row keyed by header. It never leaves the
// decode, remap and validate stages.
type RawRecord map[string]string

// Clone returns a shallow copy
func (r RawRecord) Clone() RawRecord {
	out := make(RawRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RowError describes one rejected row, or a whole batch when Row is BatchErrorRow.
// Data holds the record as it was decoded, before header remapping.
type RowError struct {
	Row     int       `json:"row"`
	Message string    `json:"message"`
	Data    RawRecord `json:"data,omitempty"`
}

// ImportSummary is the structured summary stored with the job and returned to callers
type ImportSummary struct {
	ImportType     types.ImportType  `json:"importType"`
	FileName       string            `json:"fileName,omitempty"`
	Mode           types.PersistMode `json:"mode"`
	TotalRows      int               `json:"totalRows"`
	ValidRows      int               `json:"validRows"`
	InvalidRows    int               `json:"invalidRows"`
	ProcessedRows  int               `json:"processedRows"`
	FailedRows     int               `json:"failedRows"`
	Batches        int               `json:"batches"`
	FailedBatches  int               `json:"failedBatches"`
	DurationMillis int64             `json:"durationMs"`
}

// ImportResult is returned synchronously for every import request
type ImportResult struct {
	Success        bool            `json:"success"`
	IsDryRun       bool            `json:"isDryRun"`
	ImportID       string          `json:"importId,omitempty"`
	Status         types.JobStatus `json:"status,omitempty"`
	TotalRows      int             `json:"totalRows"`
	ProcessedCount int             `json:"processedCount"`
	ErrorCount     int             `json:"errorCount"`
	Errors         []RowError      `json:"errors"`
	Summary        *ImportSummary  `json:"summary,omitempty"`
	SummaryMessage string          `json:"summaryMessage"`
	// ErrorCode is set on request-level failures so transports can map a status code
	ErrorCode string `json:"errorCode,omitempty"`
	// RetryAfter is the number of seconds to wait after a rate limit rejection
	RetryAfter int `json:"retryAfter,omitempty"`
}

// Completion carries the terminal counts written to the ledger
type Completion struct {
	Status        types.JobStatus
	TotalRows     int
	ProcessedRows int
	FailedRows    int
	Errors        []RowError
	Summary       *ImportSummary
}

// JobFilter narrows ledger listings
type JobFilter struct {
	Status     types.JobStatus
	ImportType types.ImportType
	Limit      int
	Offset     int
}

// AuditEvent is one row of the company audit log
type AuditEvent struct {
	CompanyID  string                 `json:"companyId" db:"company_id"`
	ActorID    string                 `json:"actorId" db:"actor_id"`
	Action     string                 `json:"action" db:"action"`
	EntityType string                 `json:"entityType" db:"entity_type"`
	EntityID   string                 `json:"entityId" db:"entity_id"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time              `json:"createdAt" db:"created_at"`
}
