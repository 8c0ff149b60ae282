package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/domain"

	// Register the pure-Go SQLite driver (no CGO required), matching
	// giantswarm-k8senv's internal/core/purge.go driver-import style.
	_ "modernc.org/sqlite"
)

// sqliteBusyTimeoutMs prevents "database is locked" errors under the
// write-through-per-operation policy of spec §5, where every pool/sync
// mutation commits in the same critical section as the in-memory update.
const sqliteBusyTimeoutMs = 5000

// SQLiteStore is the default embedded store driver (spec §4.C1).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) the SQLite database at path and
// ensures its schema exists.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, sqliteBusyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer embedded store; avoids SQLITE_BUSY under WAL

	s := &SQLiteStore{db: db}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS containers (
			container_id TEXT PRIMARY KEY,
			pool_id TEXT NOT NULL,
			status TEXT NOT NULL,
			tenant_id TEXT,
			last_tenant_id TEXT,
			last_activity TIMESTAMP NOT NULL,
			claimed_at TIMESTAMP,
			idle_expires_at TIMESTAMP,
			socket_path TEXT,
			state_dir TEXT,
			secrets_dir TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_containers_pool ON containers(pool_id)`,
		`CREATE INDEX IF NOT EXISTS idx_containers_pool_status ON containers(pool_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_containers_tenant ON containers(tenant_id)`,
		`CREATE TABLE IF NOT EXISTS pools (
			pool_id TEXT PRIMARY KEY,
			workload_id TEXT NOT NULL,
			min_idle INTEGER NOT NULL,
			max_size INTEGER NOT NULL,
			idle_timeout_ms INTEGER NOT NULL,
			eviction_interval_ms INTEGER NOT NULL,
			acquire_timeout_ms INTEGER NOT NULL,
			file_idle_ttl_ms INTEGER,
			networks TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_status (
			tenant_id TEXT NOT NULL,
			sync_id TEXT NOT NULL,
			last_sync_at TIMESTAMP,
			pending_count INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL DEFAULT 'idle',
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (tenant_id, sync_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			sync_id TEXT NOT NULL,
			message TEXT NOT NULL,
			mapping TEXT,
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_errors_tenant_sync ON sync_errors(tenant_id, sync_id)`,
		`CREATE TABLE IF NOT EXISTS activity_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			pool_id TEXT,
			container_id TEXT,
			tenant_id TEXT,
			message TEXT NOT NULL,
			metadata TEXT,
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity_log(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_type ON activity_log(event_type)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func scanNullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

// --- containers ---

func (s *SQLiteStore) UpsertContainer(ctx context.Context, c *domain.PoolContainer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO containers (container_id, pool_id, status, tenant_id, last_tenant_id,
			last_activity, claimed_at, idle_expires_at, socket_path, state_dir, secrets_dir, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(container_id) DO UPDATE SET
			pool_id=excluded.pool_id, status=excluded.status, tenant_id=excluded.tenant_id,
			last_tenant_id=excluded.last_tenant_id, last_activity=excluded.last_activity,
			claimed_at=excluded.claimed_at, idle_expires_at=excluded.idle_expires_at,
			socket_path=excluded.socket_path, state_dir=excluded.state_dir, secrets_dir=excluded.secrets_dir
	`,
		c.ContainerID, c.PoolID, string(c.Status), nullString(c.TenantID), nullString(c.LastTenantID),
		c.LastActivity, nullTime(c.ClaimedAt), nullTime(c.IdleExpiresAt), c.SocketPath, c.StateDir, c.SecretsDir, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert container: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *SQLiteStore) DeleteContainer(ctx context.Context, containerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM containers WHERE container_id = ?`, containerID)
	return err
}

func scanContainer(row interface{ Scan(...any) error }) (*domain.PoolContainer, error) {
	var c domain.PoolContainer
	var tenantID, lastTenantID sql.NullString
	var claimedAt, idleExpiresAt sql.NullTime
	var status string
	if err := row.Scan(&c.ContainerID, &c.PoolID, &status, &tenantID, &lastTenantID,
		&c.LastActivity, &claimedAt, &idleExpiresAt, &c.SocketPath, &c.StateDir, &c.SecretsDir, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = domain.ContainerStatus(status)
	c.TenantID = tenantID.String
	c.LastTenantID = lastTenantID.String
	c.ClaimedAt = scanNullTime(claimedAt)
	c.IdleExpiresAt = scanNullTime(idleExpiresAt)
	return &c, nil
}

const containerColumns = `container_id, pool_id, status, tenant_id, last_tenant_id,
	last_activity, claimed_at, idle_expires_at, socket_path, state_dir, secrets_dir, created_at`

func (s *SQLiteStore) GetContainer(ctx context.Context, containerID string) (*domain.PoolContainer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+containerColumns+` FROM containers WHERE container_id = ?`, containerID)
	c, err := scanContainer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *SQLiteStore) ListContainersByPool(ctx context.Context, poolID string) ([]*domain.PoolContainer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+containerColumns+` FROM containers WHERE pool_id = ?`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.PoolContainer
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetClaimedContainerForTenant(ctx context.Context, tenantID string) (*domain.PoolContainer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+containerColumns+` FROM containers WHERE tenant_id = ? AND status = 'claimed'`, tenantID)
	c, err := scanContainer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *SQLiteStore) CountClaimedForTenant(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM containers WHERE tenant_id = ? AND status = 'claimed'`, tenantID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) ListAllContainerIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT container_id FROM containers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- pools ---

func (s *SQLiteStore) UpsertPool(ctx context.Context, p *domain.Pool) error {
	networks, _ := json.Marshal(p.Networks)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pools (pool_id, workload_id, min_idle, max_size, idle_timeout_ms,
			eviction_interval_ms, acquire_timeout_ms, file_idle_ttl_ms, networks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pool_id) DO UPDATE SET
			workload_id=excluded.workload_id, min_idle=excluded.min_idle, max_size=excluded.max_size,
			idle_timeout_ms=excluded.idle_timeout_ms, eviction_interval_ms=excluded.eviction_interval_ms,
			acquire_timeout_ms=excluded.acquire_timeout_ms, file_idle_ttl_ms=excluded.file_idle_ttl_ms,
			networks=excluded.networks
	`,
		p.ID, p.WorkloadID, p.MinIdle, p.MaxSize, p.IdleTimeout.Milliseconds(),
		p.EvictionInterval.Milliseconds(), p.AcquireTimeout.Milliseconds(),
		nullableMillis(p.FileIdleTTL), string(networks), p.CreatedAt,
	)
	return err
}

func nullableMillis(d time.Duration) any {
	if d == 0 {
		return nil
	}
	return d.Milliseconds()
}

func (s *SQLiteStore) DeletePool(ctx context.Context, poolID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pools WHERE pool_id = ?`, poolID)
	return err
}

func scanPool(row interface{ Scan(...any) error }) (*domain.Pool, error) {
	var p domain.Pool
	var idleMs, evictMs, acqMs int64
	var fileIdleMs sql.NullInt64
	var networksJSON sql.NullString
	if err := row.Scan(&p.ID, &p.WorkloadID, &p.MinIdle, &p.MaxSize, &idleMs, &evictMs, &acqMs,
		&fileIdleMs, &networksJSON, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.IdleTimeout = time.Duration(idleMs) * time.Millisecond
	p.EvictionInterval = time.Duration(evictMs) * time.Millisecond
	p.AcquireTimeout = time.Duration(acqMs) * time.Millisecond
	if fileIdleMs.Valid {
		p.FileIdleTTL = time.Duration(fileIdleMs.Int64) * time.Millisecond
	}
	if networksJSON.Valid && networksJSON.String != "" {
		_ = json.Unmarshal([]byte(networksJSON.String), &p.Networks)
	}
	return &p, nil
}

const poolColumns = `pool_id, workload_id, min_idle, max_size, idle_timeout_ms,
	eviction_interval_ms, acquire_timeout_ms, file_idle_ttl_ms, networks, created_at`

func (s *SQLiteStore) GetPool(ctx context.Context, poolID string) (*domain.Pool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+poolColumns+` FROM pools WHERE pool_id = ?`, poolID)
	p, err := scanPool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) ListPools(ctx context.Context) ([]*domain.Pool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+poolColumns+` FROM pools`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- sync status ---

func (s *SQLiteStore) UpsertSyncStatus(ctx context.Context, st *domain.SyncStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_status (tenant_id, sync_id, last_sync_at, pending_count, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, sync_id) DO UPDATE SET
			last_sync_at=excluded.last_sync_at, pending_count=excluded.pending_count,
			state=excluded.state, updated_at=excluded.updated_at
	`, st.TenantID, st.SyncID, nullTime(st.LastSyncAt), st.PendingCount, string(st.State), st.UpdatedAt)
	return err
}

func scanSyncStatus(row interface{ Scan(...any) error }) (*domain.SyncStatus, error) {
	var st domain.SyncStatus
	var lastSync sql.NullTime
	var state string
	if err := row.Scan(&st.TenantID, &st.SyncID, &lastSync, &st.PendingCount, &state, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.LastSyncAt = scanNullTime(lastSync)
	st.State = domain.SyncState(state)
	return &st, nil
}

const syncStatusColumns = `tenant_id, sync_id, last_sync_at, pending_count, state, updated_at`

func (s *SQLiteStore) GetSyncStatus(ctx context.Context, tenantID, syncID string) (*domain.SyncStatus, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+syncStatusColumns+` FROM sync_status WHERE tenant_id = ? AND sync_id = ?`, tenantID, syncID)
	st, err := scanSyncStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return st, err
}

func (s *SQLiteStore) ListSyncStatusesForTenant(ctx context.Context, tenantID string) ([]*domain.SyncStatus, error) {
	return s.querySyncStatuses(ctx, `SELECT `+syncStatusColumns+` FROM sync_status WHERE tenant_id = ?`, tenantID)
}

func (s *SQLiteStore) ListPendingSyncStatuses(ctx context.Context) ([]*domain.SyncStatus, error) {
	return s.querySyncStatuses(ctx, `SELECT `+syncStatusColumns+` FROM sync_status WHERE pending_count > 0`)
}

func (s *SQLiteStore) ListErrorSyncStatuses(ctx context.Context) ([]*domain.SyncStatus, error) {
	return s.querySyncStatuses(ctx, `SELECT `+syncStatusColumns+` FROM sync_status WHERE state = 'error'`)
}

func (s *SQLiteStore) querySyncStatuses(ctx context.Context, query string, args ...any) ([]*domain.SyncStatus, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.SyncStatus
	for rows.Next() {
		st, err := scanSyncStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSyncStatus(ctx context.Context, tenantID, syncID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_status WHERE tenant_id = ? AND sync_id = ?`, tenantID, syncID)
	return err
}

func (s *SQLiteStore) DeleteSyncStatusesForTenant(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_status WHERE tenant_id = ?`, tenantID)
	return err
}

// --- sync errors ---

// InsertSyncErrorTrimmed inserts e and trims sync_errors for (tenant, sync)
// down to the keep most recent rows, ordered by (timestamp DESC, id DESC)
// to break ties on rapid inserts (spec §4.C7), all inside one transaction
// so the trim is atomic with the insert.
func (s *SQLiteStore) InsertSyncErrorTrimmed(ctx context.Context, e *domain.SyncError, keep int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_errors (tenant_id, sync_id, message, mapping, timestamp) VALUES (?, ?, ?, ?, ?)
	`, e.TenantID, e.SyncID, e.Message, nullString(e.Mapping), e.Timestamp); err != nil {
		return fmt.Errorf("insert sync error: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM sync_errors WHERE tenant_id = ? AND sync_id = ? AND id NOT IN (
			SELECT id FROM sync_errors WHERE tenant_id = ? AND sync_id = ?
			ORDER BY timestamp DESC, id DESC LIMIT ?
		)
	`, e.TenantID, e.SyncID, e.TenantID, e.SyncID, keep); err != nil {
		return fmt.Errorf("trim sync errors: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) ClearSyncErrors(ctx context.Context, tenantID, syncID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_errors WHERE tenant_id = ? AND sync_id = ?`, tenantID, syncID)
	return err
}

func (s *SQLiteStore) ListSyncErrors(ctx context.Context, tenantID, syncID string) ([]*domain.SyncError, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, sync_id, message, mapping, timestamp FROM sync_errors
		WHERE tenant_id = ? AND sync_id = ? ORDER BY timestamp DESC, id DESC
	`, tenantID, syncID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.SyncError
	for rows.Next() {
		var e domain.SyncError
		var mapping sql.NullString
		if err := rows.Scan(&e.ID, &e.TenantID, &e.SyncID, &e.Message, &mapping, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Mapping = mapping.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- activity log ---

func (s *SQLiteStore) InsertActivityEvent(ctx context.Context, e *domain.ActivityEvent) error {
	var metadataJSON any
	if len(e.Metadata) > 0 {
		b, _ := json.Marshal(e.Metadata)
		metadataJSON = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (event_type, pool_id, container_id, tenant_id, message, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.EventType, nullString(e.PoolID), nullString(e.ContainerID), nullString(e.TenantID), e.Message, metadataJSON, e.Timestamp)
	return err
}

// TrimActivityLog keeps only the maxEvents most recent rows (spec §4.C10).
func (s *SQLiteStore) TrimActivityLog(ctx context.Context, maxEvents int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM activity_log WHERE id NOT IN (
			SELECT id FROM activity_log ORDER BY id DESC LIMIT ?
		)
	`, maxEvents)
	return err
}

func (s *SQLiteStore) ListActivityEvents(ctx context.Context, f domain.ActivityFilter) ([]*domain.ActivityEvent, error) {
	var where []string
	var args []any
	if f.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.PoolID != "" {
		where = append(where, "pool_id = ?")
		args = append(args, f.PoolID)
	}
	if f.ContainerID != "" {
		where = append(where, "container_id = ?")
		args = append(args, f.ContainerID)
	}
	query := `SELECT id, event_type, pool_id, container_id, tenant_id, message, metadata, timestamp FROM activity_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ActivityEvent
	for rows.Next() {
		var e domain.ActivityEvent
		var poolID, containerID, tenantID, metadataJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.EventType, &poolID, &containerID, &tenantID, &e.Message, &metadataJSON, &e.Timestamp); err != nil {
			return nil, err
		}
		e.PoolID = poolID.String
		e.ContainerID = containerID.String
		e.TenantID = tenantID.String
		if metadataJSON.Valid && metadataJSON.String != "" {
			_ = json.Unmarshal([]byte(metadataJSON.String), &e.Metadata)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
