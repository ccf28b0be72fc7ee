package constants

import "time"

const (
	// DefaultContext is the context a config object belongs to when the
	// caller does not specify one. Reads fall back to it when no object
	// exists at the requested context.
	DefaultContext = "GLOBAL"
)

const (
	DefaultMongoDBName       = "confhub"
	ConfigurationsCollection = "configurations"
	OutboxCollection         = "change_event_outbox"
)

const (
	ConfigTypeLabelApplicationRule = "label-application-rule"
)

const (
	TenantIDHeader = "X-Tenant-ID"
	UserIDHeader   = "X-User-ID"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	// MaxBlindWriteAttempts bounds the internal read-modify-write retry
	// loop for upserts that did not pin an expected version.
	MaxBlindWriteAttempts = 5

	// MaxConditionDepth and MaxConditionChildren bound rule condition
	// trees at validation time.
	MaxConditionDepth    = 10
	MaxConditionChildren = 50
)

const (
	DefaultMaxPartitionsPerCycle = 256
	DefaultOutboxDrainInterval   = 2 * time.Second
	DefaultRuleCacheTTL          = 30 * time.Second
)
