package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/inventory-importer/internal/models"
)

// AuditRepository appends to the company audit log
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record writes one audit event
func (r *AuditRepository) Record(ctx context.Context, event *models.AuditEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	query, args, err := psql.Insert("audit_log").
		Columns("company_id", "actor_id", "action", "entity_type", "entity_id", "metadata", "created_at").
		Values(event.CompanyID, event.ActorID, event.Action, event.EntityType, event.EntityID, metadataJSON, event.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}

	return nil
}
