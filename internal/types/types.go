// Package types provides common type definitions for the inventory importer.
package types

import (
	"fmt"
	"strings"
)

// ImportType identifies the destination dataset of an import
type ImportType string

const (
	// ImportProductCosts updates supplier costs per SKU
	ImportProductCosts ImportType = "product-costs"
	// ImportSuppliers upserts supplier records
	ImportSuppliers ImportType = "suppliers"
	// ImportHistoricalSales loads past order lines
	ImportHistoricalSales ImportType = "historical-sales"
	// ImportInventory upserts stock levels per SKU
	ImportInventory ImportType = "inventory"
	// ImportReorderRules upserts reorder points and quantities
	ImportReorderRules ImportType = "reorder-rules"
	// ImportLocations upserts stock locations
	ImportLocations ImportType = "locations"
)

// AllImportTypes lists every supported import type in display order
var AllImportTypes = []ImportType{
	ImportProductCosts,
	ImportSuppliers,
	ImportHistoricalSales,
	ImportInventory,
	ImportReorderRules,
	ImportLocations,
}

// ParseImportType parses a request value into an ImportType
func ParseImportType(value string) (ImportType, error) {
	candidate := ImportType(strings.ToLower(strings.TrimSpace(value)))
	for _, t := range AllImportTypes {
		if t == candidate {
			return t, nil
		}
	}
	return "", fmt.Errorf("unsupported import type %q", value)
}

// JobStatus represents the lifecycle status of an import job
type JobStatus string

const (
	// JobStatusProcessing is the only non-terminal status
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted means every row was persisted
	JobStatusCompleted JobStatus = "completed"
	// JobStatusCompletedWithErrors means some rows were persisted and some failed
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	// JobStatusFailed means no row was persisted
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled means the import was stopped before completion
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change
func (s JobStatus) IsTerminal() bool {
	return s != JobStatusProcessing && s != ""
}

// Role is the caller's role within a company
type Role string

const (
	RoleOwner  Role = "Owner"
	RoleAdmin  Role = "Admin"
	RoleMember Role = "Member"
)

// CanImport reports whether the role may run bulk imports
func (r Role) CanImport() bool {
	return r == RoleOwner || r == RoleAdmin
}

// PersistMode selects how validated rows reach the destination
type PersistMode string

const (
	// PersistBatched submits fixed-size batches, each atomic on its own
	PersistBatched PersistMode = "batched"
	// PersistTransactional submits the whole valid set in one all-or-nothing call
	PersistTransactional PersistMode = "transactional"
)

// FileFormat is the container format of an uploaded file
type FileFormat string

const (
	FormatCSV  FileFormat = "csv"
	FormatXLSX FileFormat = "xlsx"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
