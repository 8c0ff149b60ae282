package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the alternate driver for deployments already running a
// shared Postgres instance, adapted from the reference codebase's
// internal/store/postgres.go (pgxpool + idempotent ensureSchema pattern),
// retargeted from that codebase's functions/invocation_logs schema to the
// containers/pools/sync_status/sync_errors/activity_log tables spec §4.C1
// calls for.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS containers (
			container_id TEXT PRIMARY KEY,
			pool_id TEXT NOT NULL,
			status TEXT NOT NULL,
			tenant_id TEXT,
			last_tenant_id TEXT,
			last_activity TIMESTAMPTZ NOT NULL,
			claimed_at TIMESTAMPTZ,
			idle_expires_at TIMESTAMPTZ,
			socket_path TEXT,
			state_dir TEXT,
			secrets_dir TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_containers_pool ON containers(pool_id)`,
		`CREATE INDEX IF NOT EXISTS idx_containers_pool_status ON containers(pool_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_containers_tenant ON containers(tenant_id)`,
		`CREATE TABLE IF NOT EXISTS pools (
			pool_id TEXT PRIMARY KEY,
			workload_id TEXT NOT NULL,
			min_idle INTEGER NOT NULL,
			max_size INTEGER NOT NULL,
			idle_timeout_ms BIGINT NOT NULL,
			eviction_interval_ms BIGINT NOT NULL,
			acquire_timeout_ms BIGINT NOT NULL,
			file_idle_ttl_ms BIGINT,
			networks JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_status (
			tenant_id TEXT NOT NULL,
			sync_id TEXT NOT NULL,
			last_sync_at TIMESTAMPTZ,
			pending_count INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL DEFAULT 'idle',
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, sync_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_errors (
			id BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			sync_id TEXT NOT NULL,
			message TEXT NOT NULL,
			mapping TEXT,
			timestamp TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_errors_tenant_sync ON sync_errors(tenant_id, sync_id)`,
		`CREATE TABLE IF NOT EXISTS activity_log (
			id BIGSERIAL PRIMARY KEY,
			event_type TEXT NOT NULL,
			pool_id TEXT,
			container_id TEXT,
			tenant_id TEXT,
			message TEXT NOT NULL,
			metadata JSONB,
			timestamp TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity_log(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_type ON activity_log(event_type)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func pgNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// --- containers ---

func (s *PostgresStore) UpsertContainer(ctx context.Context, c *domain.PoolContainer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO containers (container_id, pool_id, status, tenant_id, last_tenant_id,
			last_activity, claimed_at, idle_expires_at, socket_path, state_dir, secrets_dir, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (container_id) DO UPDATE SET
			pool_id=$2, status=$3, tenant_id=$4, last_tenant_id=$5, last_activity=$6,
			claimed_at=$7, idle_expires_at=$8, socket_path=$9, state_dir=$10, secrets_dir=$11
	`,
		c.ContainerID, c.PoolID, string(c.Status), pgNullString(c.TenantID), pgNullString(c.LastTenantID),
		c.LastActivity, c.ClaimedAt, c.IdleExpiresAt, c.SocketPath, c.StateDir, c.SecretsDir, c.CreatedAt,
	)
	return err
}

func pgNullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PostgresStore) DeleteContainer(ctx context.Context, containerID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM containers WHERE container_id = $1`, containerID)
	return err
}

const pgContainerColumns = `container_id, pool_id, status, tenant_id, last_tenant_id,
	last_activity, claimed_at, idle_expires_at, socket_path, state_dir, secrets_dir, created_at`

func scanPgContainer(row pgx.Row) (*domain.PoolContainer, error) {
	var c domain.PoolContainer
	var tenantID, lastTenantID *string
	var status string
	if err := row.Scan(&c.ContainerID, &c.PoolID, &status, &tenantID, &lastTenantID,
		&c.LastActivity, &c.ClaimedAt, &c.IdleExpiresAt, &c.SocketPath, &c.StateDir, &c.SecretsDir, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = domain.ContainerStatus(status)
	if tenantID != nil {
		c.TenantID = *tenantID
	}
	if lastTenantID != nil {
		c.LastTenantID = *lastTenantID
	}
	return &c, nil
}

func (s *PostgresStore) GetContainer(ctx context.Context, containerID string) (*domain.PoolContainer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgContainerColumns+` FROM containers WHERE container_id = $1`, containerID)
	c, err := scanPgContainer(row)
	if err != nil {
		return nil, pgNotFound(err)
	}
	return c, nil
}

func (s *PostgresStore) ListContainersByPool(ctx context.Context, poolID string) ([]*domain.PoolContainer, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgContainerColumns+` FROM containers WHERE pool_id = $1`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.PoolContainer
	for rows.Next() {
		c, err := scanPgContainer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetClaimedContainerForTenant(ctx context.Context, tenantID string) (*domain.PoolContainer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgContainerColumns+` FROM containers WHERE tenant_id = $1 AND status = 'claimed'`, tenantID)
	c, err := scanPgContainer(row)
	if err != nil {
		return nil, pgNotFound(err)
	}
	return c, nil
}

func (s *PostgresStore) CountClaimedForTenant(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM containers WHERE tenant_id = $1 AND status = 'claimed'`, tenantID).Scan(&n)
	return n, err
}

func (s *PostgresStore) ListAllContainerIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT container_id FROM containers`)
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

func (s *PostgresStore) UpsertPool(ctx context.Context, p *domain.Pool) error {
	networks, _ := json.Marshal(p.Networks)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pools (pool_id, workload_id, min_idle, max_size, idle_timeout_ms,
			eviction_interval_ms, acquire_timeout_ms, file_idle_ttl_ms, networks, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (pool_id) DO UPDATE SET
			workload_id=$2, min_idle=$3, max_size=$4, idle_timeout_ms=$5,
			eviction_interval_ms=$6, acquire_timeout_ms=$7, file_idle_ttl_ms=$8, networks=$9
	`,
		p.ID, p.WorkloadID, p.MinIdle, p.MaxSize, p.IdleTimeout.Milliseconds(),
		p.EvictionInterval.Milliseconds(), p.AcquireTimeout.Milliseconds(),
		pgNullableMillis(p.FileIdleTTL), networks, p.CreatedAt,
	)
	return err
}

func pgNullableMillis(d time.Duration) *int64 {
	if d == 0 {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

func (s *PostgresStore) DeletePool(ctx context.Context, poolID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM pools WHERE pool_id = $1`, poolID)
	return err
}

const pgPoolColumns = `pool_id, workload_id, min_idle, max_size, idle_timeout_ms,
	eviction_interval_ms, acquire_timeout_ms, file_idle_ttl_ms, networks, created_at`

func scanPgPool(row pgx.Row) (*domain.Pool, error) {
	var p domain.Pool
	var idleMs, evictMs, acqMs int64
	var fileIdleMs *int64
	var networksJSON []byte
	if err := row.Scan(&p.ID, &p.WorkloadID, &p.MinIdle, &p.MaxSize, &idleMs, &evictMs, &acqMs,
		&fileIdleMs, &networksJSON, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.IdleTimeout = time.Duration(idleMs) * time.Millisecond
	p.EvictionInterval = time.Duration(evictMs) * time.Millisecond
	p.AcquireTimeout = time.Duration(acqMs) * time.Millisecond
	if fileIdleMs != nil {
		p.FileIdleTTL = time.Duration(*fileIdleMs) * time.Millisecond
	}
	if len(networksJSON) > 0 {
		_ = json.Unmarshal(networksJSON, &p.Networks)
	}
	return &p, nil
}

func (s *PostgresStore) GetPool(ctx context.Context, poolID string) (*domain.Pool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgPoolColumns+` FROM pools WHERE pool_id = $1`, poolID)
	p, err := scanPgPool(row)
	if err != nil {
		return nil, pgNotFound(err)
	}
	return p, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]*domain.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgPoolColumns+` FROM pools`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Pool
	for rows.Next() {
		p, err := scanPgPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- sync status ---

func (s *PostgresStore) UpsertSyncStatus(ctx context.Context, st *domain.SyncStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_status (tenant_id, sync_id, last_sync_at, pending_count, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, sync_id) DO UPDATE SET
			last_sync_at=$3, pending_count=$4, state=$5, updated_at=$6
	`, st.TenantID, st.SyncID, st.LastSyncAt, st.PendingCount, string(st.State), st.UpdatedAt)
	return err
}

const pgSyncStatusColumns = `tenant_id, sync_id, last_sync_at, pending_count, state, updated_at`

func scanPgSyncStatus(row pgx.Row) (*domain.SyncStatus, error) {
	var st domain.SyncStatus
	var state string
	if err := row.Scan(&st.TenantID, &st.SyncID, &st.LastSyncAt, &st.PendingCount, &state, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.State = domain.SyncState(state)
	return &st, nil
}

func (s *PostgresStore) GetSyncStatus(ctx context.Context, tenantID, syncID string) (*domain.SyncStatus, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgSyncStatusColumns+` FROM sync_status WHERE tenant_id = $1 AND sync_id = $2`, tenantID, syncID)
	st, err := scanPgSyncStatus(row)
	if err != nil {
		return nil, pgNotFound(err)
	}
	return st, nil
}

func (s *PostgresStore) ListSyncStatusesForTenant(ctx context.Context, tenantID string) ([]*domain.SyncStatus, error) {
	return s.queryPgSyncStatuses(ctx, `SELECT `+pgSyncStatusColumns+` FROM sync_status WHERE tenant_id = $1`, tenantID)
}

func (s *PostgresStore) ListPendingSyncStatuses(ctx context.Context) ([]*domain.SyncStatus, error) {
	return s.queryPgSyncStatuses(ctx, `SELECT `+pgSyncStatusColumns+` FROM sync_status WHERE pending_count > 0`)
}

func (s *PostgresStore) ListErrorSyncStatuses(ctx context.Context) ([]*domain.SyncStatus, error) {
	return s.queryPgSyncStatuses(ctx, `SELECT `+pgSyncStatusColumns+` FROM sync_status WHERE state = 'error'`)
}

func (s *PostgresStore) queryPgSyncStatuses(ctx context.Context, query string, args ...any) ([]*domain.SyncStatus, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.SyncStatus
	for rows.Next() {
		st, err := scanPgSyncStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteSyncStatus(ctx context.Context, tenantID, syncID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sync_status WHERE tenant_id = $1 AND sync_id = $2`, tenantID, syncID)
	return err
}

func (s *PostgresStore) DeleteSyncStatusesForTenant(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sync_status WHERE tenant_id = $1`, tenantID)
	return err
}

// --- sync errors ---

func (s *PostgresStore) InsertSyncErrorTrimmed(ctx context.Context, e *domain.SyncError, keep int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO sync_errors (tenant_id, sync_id, message, mapping, timestamp) VALUES ($1, $2, $3, $4, $5)
	`, e.TenantID, e.SyncID, e.Message, pgNullString(e.Mapping), e.Timestamp); err != nil {
		return fmt.Errorf("insert sync error: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM sync_errors WHERE tenant_id = $1 AND sync_id = $2 AND id NOT IN (
			SELECT id FROM sync_errors WHERE tenant_id = $1 AND sync_id = $2
			ORDER BY timestamp DESC, id DESC LIMIT $3
		)
	`, e.TenantID, e.SyncID, keep); err != nil {
		return fmt.Errorf("trim sync errors: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ClearSyncErrors(ctx context.Context, tenantID, syncID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sync_errors WHERE tenant_id = $1 AND sync_id = $2`, tenantID, syncID)
	return err
}

func (s *PostgresStore) ListSyncErrors(ctx context.Context, tenantID, syncID string) ([]*domain.SyncError, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, sync_id, message, mapping, timestamp FROM sync_errors
		WHERE tenant_id = $1 AND sync_id = $2 ORDER BY timestamp DESC, id DESC
	`, tenantID, syncID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.SyncError
	for rows.Next() {
		var e domain.SyncError
		var mapping *string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.SyncID, &e.Message, &mapping, &e.Timestamp); err != nil {
			return nil, err
		}
		if mapping != nil {
			e.Mapping = *mapping
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- activity log ---

func (s *PostgresStore) InsertActivityEvent(ctx context.Context, e *domain.ActivityEvent) error {
	var metadataJSON []byte
	if len(e.Metadata) > 0 {
		metadataJSON, _ = json.Marshal(e.Metadata)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO activity_log (event_type, pool_id, container_id, tenant_id, message, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.EventType, pgNullString(e.PoolID), pgNullString(e.ContainerID), pgNullString(e.TenantID), e.Message, metadataJSON, e.Timestamp)
	return err
}

func (s *PostgresStore) TrimActivityLog(ctx context.Context, maxEvents int) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM activity_log WHERE id NOT IN (
			SELECT id FROM activity_log ORDER BY id DESC LIMIT $1
		)
	`, maxEvents)
	return err
}

func (s *PostgresStore) ListActivityEvents(ctx context.Context, f domain.ActivityFilter) ([]*domain.ActivityEvent, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.EventType != "" {
		where = append(where, "event_type = "+arg(f.EventType))
	}
	if f.TenantID != "" {
		where = append(where, "tenant_id = "+arg(f.TenantID))
	}
	if f.PoolID != "" {
		where = append(where, "pool_id = "+arg(f.PoolID))
	}
	if f.ContainerID != "" {
		where = append(where, "container_id = "+arg(f.ContainerID))
	}
	query := `SELECT id, event_type, pool_id, container_id, tenant_id, message, metadata, timestamp FROM activity_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT %s OFFSET %s", arg(limit), arg(f.Offset))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ActivityEvent
	for rows.Next() {
		var e domain.ActivityEvent
		var poolID, containerID, tenantID *string
		var metadataJSON []byte
		if err := rows.Scan(&e.ID, &e.EventType, &poolID, &containerID, &tenantID, &e.Message, &metadataJSON, &e.Timestamp); err != nil {
			return nil, err
		}
		if poolID != nil {
			e.PoolID = *poolID
		}
		if containerID != nil {
			e.ContainerID = *containerID
		}
		if tenantID != nil {
			e.TenantID = *tenantID
		}
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &e.Metadata)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
