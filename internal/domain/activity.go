package domain

import "time"

// ActivityEvent is one append-only, bounded domain event (spec §3, §4.C10).
type ActivityEvent struct {
	ID          int64             `json:"id"`
	EventType   string            `json:"event_type"`
	PoolID      string            `json:"pool_id,omitempty"`
	ContainerID string            `json:"container_id,omitempty"`
	TenantID    string            `json:"tenant_id,omitempty"`
	Message     string            `json:"message"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// ActivityFilter narrows ActivityLog.List results.
type ActivityFilter struct {
	EventType   string
	TenantID    string
	PoolID      string
	ContainerID string
	Limit       int
	Offset      int
}
