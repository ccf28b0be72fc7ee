package store

import (
	"fmt"
	"time"

	"confhub/internal/constants"
)

// Key identifies one config object. Context defaults to the global
// context when empty.
type Key struct {
	TenantID   string `json:"tenantId"`
	ConfigType string `json:"configType"`
	Context    string `json:"context"`
	ID         string `json:"id"`
}

func (k Key) Normalized() Key {
	if k.Context == "" {
		k.Context = constants.DefaultContext
	}
	return k
}

// String renders the composite uniqueness key. It doubles as the Mongo
// document id.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.TenantID, k.ConfigType, k.Context, k.ID)
}

// PartitionKey identifies the change event ordering domain. Context is
// deliberately excluded so all contexts of one object share a partition.
func (k Key) PartitionKey() string {
	return fmt.Sprintf("%s:%s:%s", k.TenantID, k.ConfigType, k.ID)
}

type ConfigObject struct {
	TenantID   string                 `bson:"tenant_id" json:"tenantId"`
	ConfigType string                 `bson:"config_type" json:"configType"`
	Context    string                 `bson:"context" json:"context"`
	ID         string                 `bson:"id" json:"id"`
	Value      map[string]interface{} `bson:"value" json:"value"`
	Version    int64                  `bson:"version" json:"version"`
	Deleted    bool                   `bson:"deleted" json:"deleted"`
	CreatedAt  time.Time              `bson:"created_at" json:"createdAt"`
	UpdatedAt  time.Time              `bson:"updated_at" json:"updatedAt"`
}

func (o *ConfigObject) Key() Key {
	return Key{
		TenantID:   o.TenantID,
		ConfigType: o.ConfigType,
		Context:    o.Context,
		ID:         o.ID,
	}
}

type UpsertRequest struct {
	Key             Key
	Value           map[string]interface{}
	ExpectedVersion *int64
}

type DeleteRequest struct {
	Key             Key
	ExpectedVersion *int64
}

// ListQuery filters a listing. Context empty means all contexts.
type ListQuery struct {
	TenantID       string
	ConfigType     string
	Context        string
	IncludeDeleted bool
	Limit          int
	Offset         int
}
