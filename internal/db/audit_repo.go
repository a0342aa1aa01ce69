package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dfsportal/internal/types"
)

// AuditRepository appends to the audit_log table.
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates a new AuditRepository backed by the given
// database connection (pool or transaction).
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// Log persists an audit event. A missing ID is generated and a zero
// Timestamp is replaced with the current time.
func (r *AuditRepository) Log(ctx context.Context, e *types.AuditEvent) error {
	if e.ID == "" {
		e.ID = "audit_" + uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var metadata any
	if len(e.Metadata) > 0 {
		metadata = []byte(e.Metadata)
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_log (id, actor_id, actor_type, action, resource_type, resource_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID,
		e.ActorID,
		string(e.ActorType),
		e.Action,
		e.ResourceType,
		e.ResourceID,
		metadata,
		e.Timestamp,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write audit log", err)
	}
	return nil
}
