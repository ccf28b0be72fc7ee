package audit

import (
	"time"
)

// Log is one committed mutation as recorded in the audit trail.
type Log struct {
	ID            int64                  `json:"id"`
	TenantID      string                 `json:"tenantId"`
	ConfigType    string                 `json:"configType"`
	Context       string                 `json:"context"`
	ResourceID    string                 `json:"resourceId"`
	Action        string                 `json:"action"`
	ChangedBy     string                 `json:"changedBy"`
	Version       int64                  `json:"version"`
	PreviousValue map[string]interface{} `json:"previousValue,omitempty"`
	CurrentValue  map[string]interface{} `json:"currentValue,omitempty"`
	OccurredAt    time.Time              `json:"occurredAt"`
}

type ListQuery struct {
	TenantID   string
	ConfigType string
	ResourceID string
	Limit      int
}
