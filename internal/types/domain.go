package types

import (
	"encoding/json"
	"time"
)

// Draft is an in-progress sales report persisted between sessions.
// It is identified by the (Station, Date) pair; Date is the business date of
// the report as entered in the form (YYYY-MM-DD).
type Draft struct {
	Station string         `json:"station"`
	Date    string         `json:"date"`
	Payload map[string]any `json:"payload"`
	SavedAt time.Time      `json:"saved_at"`
}

// DraftSummary is the listing view of a draft with expiry derived at read time.
type DraftSummary struct {
	Station            string    `json:"station"`
	Date               string    `json:"date"`
	SavedAt            time.Time `json:"saved_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	TimeRemainingHours float64   `json:"time_remaining_hours"`
	Expired            bool      `json:"expired"`
	ExpiringSoon       bool      `json:"expiring_soon"`
	SizeBytes          int       `json:"size_bytes"`
}

// StorageUsage aggregates the draft namespace footprint.
type StorageUsage struct {
	Count      int `json:"count"`
	TotalBytes int `json:"total_bytes"`
}

// StatsSnapshot is one poll result for the dashboard stats panel.
// RequestID is the poller sequence number that produced it.
type StatsSnapshot struct {
	Employees         int       `json:"employees"`
	SalesReportsToday int       `json:"sales_reports_today"`
	PendingDeliveries int       `json:"pending_deliveries"`
	LicensesExpiring  int       `json:"licenses_expiring"`
	SMSSentToday      int       `json:"sms_sent_today"`
	RequestID         uint64    `json:"request_id"`
	FetchedAt         time.Time `json:"fetched_at"`
}

// DraftExpiryNotice is published for each draft entering its warning window.
type DraftExpiryNotice struct {
	MessageID      string    `json:"message_id"`
	Station        string    `json:"station"`
	Date           string    `json:"date"`
	ExpiresAt      time.Time `json:"expires_at"`
	RemainingHours float64   `json:"remaining_hours"`
	SenderName     string    `json:"sender_name,omitempty"`
}

// ResponseMeta contains non-blocking metadata returned with API responses.
type ResponseMeta struct {
	Warnings []string `json:"warnings,omitempty"`
	Count    *int     `json:"count,omitempty"`
}

// AuditEvent records an action taken on a resource for auditing purposes.
type AuditEvent struct {
	ID           string          `json:"id"`
	ActorID      string          `json:"actor_id"`
	ActorType    ActorType       `json:"actor_type"`
	Action       string          `json:"action"`
	ResourceID   string          `json:"resource_id"`
	ResourceType string          `json:"resource_type"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Audit action strings.
const (
	AuditActionDraftSaved   = "draft.saved"
	AuditActionDraftDeleted = "draft.deleted"
	AuditActionDraftCleanup = "draft.cleanup"
	AuditActionDraftImport  = "draft.imported"

	AuditResourceDraft = "draft"
)

// Profile is a portal user as resolved from an access token.
type Profile struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	TokenPrefix string      `json:"-"`
	TokenHash   string      `json:"-"`
	Permissions Permissions `json:"permissions"`
	CreatedAt   time.Time   `json:"created_at"`
	LastUsedAt  *time.Time  `json:"last_used_at,omitempty"`
	RevokedAt   *time.Time  `json:"revoked_at,omitempty"`
}

// Actor converts the profile into the request actor.
func (p *Profile) Actor() Actor {
	return Actor{
		ID:          p.ID,
		Type:        ActorTypeUser,
		DisplayName: p.DisplayName,
		Permissions: p.Permissions,
	}
}
