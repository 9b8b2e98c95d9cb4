// Package sqlstore keeps the snapshot in three relational tables, on
// PostgreSQL (lib/pq) or SQLite (modernc.org/sqlite).
package sqlstore

import (
	"context"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/leozw/presence-guardian/internal/core"
	"github.com/leozw/presence-guardian/internal/storage"
	"github.com/leozw/presence-guardian/internal/storage/lockfile"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// advisoryLockKey identifies the snapshot lock among PostgreSQL advisory locks.
const advisoryLockKey int64 = 0x70726573656e6365

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Backend struct {
	db          *sqlx.DB
	driver      string
	lockTimeout time.Duration

	// fileLock serializes SQLite writers across processes; nil for
	// PostgreSQL and in-memory databases.
	fileLock *lockfile.Lock
}

type Option func(*Backend)

// WithLockTimeout bounds how long Lock waits for another process.
func WithLockTimeout(timeout time.Duration) Option {
	return func(b *Backend) { b.lockTimeout = timeout }
}

type channelRow struct {
	TenantID  string `db:"tenant_id"`
	ChannelID string `db:"channel_id"`
}

type accountRow struct {
	TenantID  string `db:"tenant_id"`
	AccountID string `db:"account_id"`
	Position  int    `db:"position"`
}

type statsRow struct {
	TenantID    string      `db:"tenant_id"`
	AccountID   string      `db:"account_id"`
	OnlineTime  int64       `db:"online_time"`
	OfflineTime int64       `db:"offline_time"`
	LastStatus  core.Status `db:"last_status"`
	LastCheck   string      `db:"last_check"`
}

// Open connects to dsn and applies pending migrations. For SQLite dsn is a
// file path; for PostgreSQL it must be a postgres:// URL.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Backend, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	if err := runMigrations(driver, dsn); err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	b := &Backend{db: db, driver: driver}
	for _, opt := range opts {
		opt(b)
	}
	if driver == DriverSQLite {
		if path := sqlitePath(dsn); path != "" {
			b.fileLock = lockfile.New(path, b.lockTimeout)
		}
	}
	return b, nil
}

// sqlitePath returns the database file behind dsn, or "" for in-memory databases.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	return path
}

func runMigrations(driver, dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	url := dsn
	if driver == DriverSQLite {
		url = "sqlite://" + dsn
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func (b *Backend) Load(ctx context.Context) (*core.Snapshot, error) {
	snap := core.NewSnapshot()

	var channels []channelRow
	if err := b.db.SelectContext(ctx, &channels, `SELECT tenant_id, channel_id FROM tenant_channels`); err != nil {
		return nil, fmt.Errorf("failed to load channels: %w", err)
	}
	for _, row := range channels {
		snap.SetChannel(row.TenantID, row.ChannelID)
	}

	var accounts []accountRow
	query := `SELECT tenant_id, account_id, position FROM monitored_accounts ORDER BY tenant_id, position`
	if err := b.db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, fmt.Errorf("failed to load monitored accounts: %w", err)
	}
	for _, row := range accounts {
		snap.AddAccount(row.TenantID, row.AccountID)
	}

	var stats []statsRow
	query = `
        SELECT tenant_id, account_id, online_time, offline_time, last_status, last_check
        FROM uptime_stats`
	if err := b.db.SelectContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to load uptime stats: %w", err)
	}
	for _, row := range stats {
		lastCheck, err := core.ParseTimestamp(row.LastCheck)
		if err != nil {
			return nil, fmt.Errorf("%w: tenant %s account %s: %v", storage.ErrStoreCorrupt, row.TenantID, row.AccountID, err)
		}
		snap.PutRecord(row.TenantID, row.AccountID, &core.StatsRecord{
			OnlineTime:  row.OnlineTime,
			OfflineTime: row.OfflineTime,
			LastStatus:  row.LastStatus,
			LastCheck:   lastCheck,
		})
	}

	return snap, nil
}

// Save replaces the contents of all three tables in one transaction.
func (b *Backend) Save(ctx context.Context, snap *core.Snapshot) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"uptime_stats", "monitored_accounts", "tenant_channels"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for tenant, channel := range snap.Channels {
		_, err := tx.NamedExecContext(ctx,
			`INSERT INTO tenant_channels (tenant_id, channel_id) VALUES (:tenant_id, :channel_id)`,
			channelRow{TenantID: tenant, ChannelID: channel})
		if err != nil {
			return fmt.Errorf("failed to save channel of tenant %s: %w", tenant, err)
		}
	}

	for tenant, accounts := range snap.MonitoredBots {
		for i, account := range accounts {
			_, err := tx.NamedExecContext(ctx,
				`INSERT INTO monitored_accounts (tenant_id, account_id, position) VALUES (:tenant_id, :account_id, :position)`,
				accountRow{TenantID: tenant, AccountID: account, Position: i})
			if err != nil {
				return fmt.Errorf("failed to save account %s of tenant %s: %w", account, tenant, err)
			}
		}
	}

	for tenant, records := range snap.UptimeStats {
		for account, rec := range records {
			row := statsRow{
				TenantID:    tenant,
				AccountID:   account,
				OnlineTime:  rec.OnlineTime,
				OfflineTime: rec.OfflineTime,
				LastStatus:  rec.LastStatus,
				LastCheck:   rec.LastCheck.String(),
			}
			_, err := tx.NamedExecContext(ctx, `
                INSERT INTO uptime_stats (
                    tenant_id, account_id, online_time, offline_time, last_status, last_check
                ) VALUES (
                    :tenant_id, :account_id, :online_time, :offline_time, :last_status, :last_check
                )`, row)
			if err != nil {
				return fmt.Errorf("failed to save stats of account %s in tenant %s: %w", account, tenant, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Lock serializes snapshot updates across processes. PostgreSQL uses a
// session advisory lock held on a dedicated connection until unlock; SQLite
// uses a file lock next to the database.
func (b *Backend) Lock(ctx context.Context) (func(), error) {
	if b.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.lockTimeout)
		defer cancel()
	}

	switch {
	case b.driver == DriverPostgres:
		return b.advisoryLock(ctx)
	case b.fileLock != nil:
		return b.fileLock.Lock(ctx)
	default:
		return func() {}, nil
	}
}

func (b *Backend) advisoryLock(ctx context.Context) (func(), error) {
	conn, err := b.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockKey); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to take advisory lock: %w", err)
	}

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock($1)`, advisoryLockKey); err != nil {
			// Dropping the session releases the lock.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *Backend) Close() error {
	if b.fileLock != nil {
		_ = b.fileLock.Close()
	}
	return b.db.Close()
}
