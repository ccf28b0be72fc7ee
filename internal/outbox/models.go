package outbox

import (
	"encoding/json"
	"fmt"
	"time"
)

type ChangeType string

const (
	ChangeTypeCreated ChangeType = "CREATED"
	ChangeTypeUpdated ChangeType = "UPDATED"
	ChangeTypeDeleted ChangeType = "DELETED"
)

// Entry is one committed mutation awaiting delivery. It is written in
// the same transaction as the config document, so a committed write
// always has exactly one entry.
type Entry struct {
	EventID       string                 `bson:"_id"`
	PartitionKey  string                 `bson:"partition_key"`
	TenantID      string                 `bson:"tenant_id"`
	ConfigType    string                 `bson:"config_type"`
	Context       string                 `bson:"context"`
	ResourceID    string                 `bson:"resource_id"`
	ChangeType    ChangeType             `bson:"change_type"`
	Version       int64                  `bson:"version"`
	PreviousValue map[string]interface{} `bson:"previous_value,omitempty"`
	CurrentValue  map[string]interface{} `bson:"current_value,omitempty"`
	CommittedAt   time.Time              `bson:"committed_at"`
	Delivered     bool                   `bson:"delivered"`
	DeliveredAt   *time.Time             `bson:"delivered_at,omitempty"`
	Attempts      int                    `bson:"attempts"`
}

// IdempotencyKey dedupes redeliveries. One version of one object maps
// to exactly one key, no matter how many times the entry is retried.
func (e *Entry) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%d", e.ConfigType, e.ResourceID, e.Version)
}

// ChangeEvent is the bus message consumers receive.
type ChangeEvent struct {
	EventID       string                 `json:"eventId"`
	TenantID      string                 `json:"tenantId"`
	ConfigType    string                 `json:"configType"`
	Context       string                 `json:"context"`
	ID            string                 `json:"id"`
	ChangeType    ChangeType             `json:"changeType"`
	Version       int64                  `json:"version"`
	PreviousValue map[string]interface{} `json:"previousValue,omitempty"`
	CurrentValue  map[string]interface{} `json:"currentValue,omitempty"`
	CommittedAt   time.Time              `json:"committedAt"`
}

func (e *Entry) ToChangeEvent() ChangeEvent {
	return ChangeEvent{
		EventID:       e.EventID,
		TenantID:      e.TenantID,
		ConfigType:    e.ConfigType,
		Context:       e.Context,
		ID:            e.ResourceID,
		ChangeType:    e.ChangeType,
		Version:       e.Version,
		PreviousValue: e.PreviousValue,
		CurrentValue:  e.CurrentValue,
		CommittedAt:   e.CommittedAt,
	}
}

func (e *Entry) Marshal() ([]byte, error) {
	body, err := json.Marshal(e.ToChangeEvent())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change event: %w", err)
	}
	return body, nil
}
