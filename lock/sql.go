package lock

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"
)

// DefaultTableName is the table SQL locks are stored in.
const DefaultTableName = "modctx_locks"

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return nil
}

// SQLRepository stores locks as rows of a table. A row whose heartbeat is
// older than the stale timeout is taken over by the next owner asking.
type SQLRepository struct {
	db    *sql.DB
	table string
	opts  Options
	now   func() time.Time
}

// NewSQLRepository creates a repository over db. An empty table name uses
// DefaultTableName.
func NewSQLRepository(db *sql.DB, table string, opts Options) (*SQLRepository, error) {
	if table == "" {
		table = DefaultTableName
	}
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	return &SQLRepository{db: db, table: table, opts: opts.withDefaults(), now: time.Now}, nil
}

// CreateSchema creates the lock table if it does not exist.
func (r *SQLRepository) CreateSchema(ctx context.Context) error {
	// #nosec G201 - table name is validated in the constructor
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		lock_id VARCHAR(255) PRIMARY KEY,
		owner_id VARCHAR(255) NOT NULL,
		acquired_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`, r.table)
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create lock table %s: %w", r.table, err)
	}
	return nil
}

// Table returns the lock table name.
func (r *SQLRepository) Table() string { return r.table }

// Obtain implements Repository.
func (r *SQLRepository) Obtain(id string) Lock {
	return newHandle(id, r.opts, r)
}

// Owner implements Repository.
func (r *SQLRepository) Owner() string { return r.opts.Owner }

// CurrentOwner returns the owner recorded for id.
func (r *SQLRepository) CurrentOwner(ctx context.Context, id string) (string, bool, error) {
	// #nosec G201 - table name is validated in the constructor
	query := fmt.Sprintf("SELECT owner_id FROM %s WHERE lock_id = ?", r.table)
	var owner string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read lock %s: %w", id, err)
	}
	return owner, true, nil
}

func (r *SQLRepository) acquire(ctx context.Context, id, owner string) (bool, error) {
	now := r.now()
	staleBefore := now.Add(-r.opts.StaleTimeout).UnixNano()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin lock transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				r.opts.Logger.Warn("Lock transaction rollback failed", "lock", id, "error", rollbackErr)
			}
		}
	}()

	// #nosec G201 - table name is validated in the constructor
	deleteStale := fmt.Sprintf("DELETE FROM %s WHERE lock_id = ? AND updated_at < ? AND owner_id <> ?", r.table)
	res, err := tx.ExecContext(ctx, deleteStale, id, staleBefore, owner)
	if err != nil {
		return false, fmt.Errorf("failed to clear stale lock %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.opts.Logger.Warn("Took over stale lock", "lock", id, "owner", owner)
	}

	// #nosec G201 - table name is validated in the constructor
	insert := fmt.Sprintf(`INSERT INTO %s (lock_id, owner_id, acquired_at, updated_at)
		SELECT ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM %s WHERE lock_id = ?)`, r.table, r.table)
	res, err = tx.ExecContext(ctx, insert, id, owner, now.UnixNano(), now.UnixNano(), id)
	if err != nil {
		return false, fmt.Errorf("failed to insert lock %s: %w", id, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read lock insert result: %w", err)
	}

	acquired := inserted == 1
	if !acquired {
		// #nosec G201 - table name is validated in the constructor
		query := fmt.Sprintf("SELECT owner_id FROM %s WHERE lock_id = ?", r.table)
		var current string
		if err = tx.QueryRowContext(ctx, query, id).Scan(&current); err != nil && err != sql.ErrNoRows {
			return false, fmt.Errorf("failed to read lock %s: %w", id, err)
		}
		err = nil
		acquired = current == owner
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit lock %s: %w", id, err)
	}
	return acquired, nil
}

func (r *SQLRepository) release(ctx context.Context, id, owner string) error {
	// #nosec G201 - table name is validated in the constructor
	query := fmt.Sprintf("DELETE FROM %s WHERE lock_id = ? AND owner_id = ?", r.table)
	res, err := r.db.ExecContext(ctx, query, id, owner)
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, id)
	}
	return nil
}

func (r *SQLRepository) refresh(ctx context.Context, id, owner string) error {
	// #nosec G201 - table name is validated in the constructor
	query := fmt.Sprintf("UPDATE %s SET updated_at = ? WHERE lock_id = ? AND owner_id = ?", r.table)
	res, err := r.db.ExecContext(ctx, query, r.now().UnixNano(), id, owner)
	if err != nil {
		return fmt.Errorf("failed to refresh lock %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, id)
	}
	return nil
}
