package domain

import "time"

// SyncDirection names the direction data moves relative to the container.
type SyncDirection string

const (
	DirectionUpload       SyncDirection = "upload"
	DirectionDownload     SyncDirection = "download"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// SyncMode selects the copy semantics the executor should use.
type SyncMode string

const (
	ModeSync SyncMode = "sync"
	ModeCopy SyncMode = "copy"
)

// Mapping is one unit of sync: a container path mapped to a remote path
// under a direction and mode (spec §4.C8, Glossary "Mapping").
type Mapping struct {
	ContainerPath string        `json:"container_path" yaml:"container_path"`
	Pattern       string        `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	SinkPath      string        `json:"sink_path,omitempty" yaml:"sink_path,omitempty"`
	Direction     SyncDirection `json:"direction" yaml:"direction"`
	Mode          SyncMode      `json:"mode" yaml:"mode"`
}

// SyncPolicy dictates when sync is triggered (spec §4.C8, Glossary "Policy").
// All fields default to true except Interval, which defaults to unset.
type SyncPolicy struct {
	OnClaim   *bool          `json:"on_claim,omitempty" yaml:"on_claim,omitempty"`
	OnRelease *bool          `json:"on_release,omitempty" yaml:"on_release,omitempty"`
	Interval  *time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	Manual    *bool          `json:"manual,omitempty" yaml:"manual,omitempty"`
}

// boolOr returns the pointee or def if p is nil, matching the "default true
// unless explicitly set" policy semantics of spec §4.C8.
func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (p SyncPolicy) ClaimEnabled() bool   { return boolOr(p.OnClaim, true) }
func (p SyncPolicy) ReleaseEnabled() bool { return boolOr(p.OnRelease, true) }
func (p SyncPolicy) ManualEnabled() bool  { return boolOr(p.Manual, true) }

// Sink is a tagged remote object store endpoint (Glossary "Sink"). The Type
// field selects the adapter registered in internal/copyexec for
// BuildRemotePath/Remote (Design Notes "Dynamic sink typing").
type Sink struct {
	Type string `json:"type" yaml:"type"`

	// S3-compatible fields, used when Type == "s3".
	Bucket    string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region    string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key,omitempty"`
}

// SyncConfig is the optional per-workload sync block (spec §4.C8, §6).
type SyncConfig struct {
	Sink     Sink       `json:"sink" yaml:"sink"`
	Mappings []Mapping  `json:"mappings" yaml:"mappings"`
	Policy   SyncPolicy `json:"policy" yaml:"policy"`
}

// SyncState is the coarse state of a (tenant, syncId) pair (spec §3).
type SyncState string

const (
	SyncIdle       SyncState = "idle"
	SyncSyncing    SyncState = "syncing"
	SyncStateError SyncState = "error"
)

// SyncStatus is the per-(tenant, syncId) tracked state (spec §3, §4.C7).
type SyncStatus struct {
	TenantID     string     `json:"tenant_id"`
	SyncID       string     `json:"sync_id"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	PendingCount int        `json:"pending_count"`
	State        SyncState  `json:"state"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SyncError is one append-only error record for a (tenant, syncId) pair
// (spec §3, §4.C7), bounded to the N most recent by (timestamp, id).
type SyncError struct {
	ID        int64     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	SyncID    string     `json:"sync_id"`
	Message   string     `json:"message"`
	Mapping   string     `json:"mapping,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// SyncResult is returned by the copy executor contract (spec §6, C3).
type SyncResult struct {
	Success           bool          `json:"success"`
	Direction         SyncDirection `json:"direction"`
	Mapping           Mapping       `json:"mapping"`
	BytesTransferred  int64         `json:"bytes_transferred,omitempty"`
	FilesTransferred  int           `json:"files_transferred,omitempty"`
	Errors            []string      `json:"errors,omitempty"`
	Duration          time.Duration `json:"duration"`
}
