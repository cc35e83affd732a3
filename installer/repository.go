package installer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"
)

// DefaultTableName is the table installer versions are stored in.
const DefaultTableName = "modctx_installers"

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Record is the stored state of one installer of one module.
type Record struct {
	Module      string
	Installer   string
	Version     int
	Description string
	UpdatedAt   time.Time
}

// Repository stores installed versions.
type Repository interface {
	// InstalledVersion returns the recorded version, UnknownVersion when none.
	InstalledVersion(ctx context.Context, module, installer string) (int, error)
	SetInstalled(ctx context.Context, rec Record) error
}

// MemoryRepository keeps records in memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

func memoryKey(module, installer string) string {
	return ID(module) + "\x00" + ID(installer)
}

// InstalledVersion implements Repository.
func (r *MemoryRepository) InstalledVersion(_ context.Context, module, installer string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.records[memoryKey(module, installer)]; ok {
		return rec.Version, nil
	}
	return UnknownVersion, nil
}

// SetInstalled implements Repository.
func (r *MemoryRepository) SetInstalled(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.Description = TruncateDescription(rec.Description)
	r.records[memoryKey(rec.Module, rec.Installer)] = rec
	return nil
}

// Record returns the stored record.
func (r *MemoryRepository) Record(module, installer string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[memoryKey(module, installer)]
	return rec, ok
}

// SQLRepository stores records in a table keyed by (module_id, installer_id).
type SQLRepository struct {
	db    *sql.DB
	table string
}

// NewSQLRepository creates a repository over db. An empty table name uses
// DefaultTableName.
func NewSQLRepository(db *sql.DB, table string) (*SQLRepository, error) {
	if table == "" {
		table = DefaultTableName
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}
	return &SQLRepository{db: db, table: table}, nil
}

// Table returns the table name.
func (r *SQLRepository) Table() string { return r.table }

// CreateSchema creates the installer table if it does not exist.
func (r *SQLRepository) CreateSchema(ctx context.Context) error {
	// #nosec G201 - table name is validated in the constructor
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		module_id VARCHAR(%d) NOT NULL,
		installer_id VARCHAR(%d) NOT NULL,
		version INTEGER NOT NULL,
		description VARCHAR(%d),
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (module_id, installer_id)
	)`, r.table, MaxIDLength, MaxIDLength, MaxDescriptionLength)
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create installer table %s: %w", r.table, err)
	}
	return nil
}

// InstalledVersion implements Repository.
func (r *SQLRepository) InstalledVersion(ctx context.Context, module, installer string) (int, error) {
	// #nosec G201 - table name is validated in the constructor
	query := fmt.Sprintf("SELECT version FROM %s WHERE module_id = ? AND installer_id = ?", r.table)
	var version int
	err := r.db.QueryRowContext(ctx, query, ID(module), ID(installer)).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return UnknownVersion, nil
	}
	if err != nil {
		return UnknownVersion, fmt.Errorf("failed to read version of installer %s/%s: %w", module, installer, err)
	}
	return version, nil
}

// SetInstalled implements Repository. The row is updated in place or
// inserted when missing.
func (r *SQLRepository) SetInstalled(ctx context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	moduleID, installerID := ID(rec.Module), ID(rec.Installer)
	description := TruncateDescription(rec.Description)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin installer record transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// #nosec G201 - table name is validated in the constructor
	update := fmt.Sprintf("UPDATE %s SET version = ?, description = ?, updated_at = ? WHERE module_id = ? AND installer_id = ?", r.table)
	res, err := tx.ExecContext(ctx, update, rec.Version, description, rec.UpdatedAt.UnixNano(), moduleID, installerID)
	if err != nil {
		return fmt.Errorf("failed to update installer %s/%s: %w", rec.Module, rec.Installer, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read installer update result: %w", err)
	}
	if n == 0 {
		// #nosec G201 - table name is validated in the constructor
		insert := fmt.Sprintf("INSERT INTO %s (module_id, installer_id, version, description, updated_at) VALUES (?, ?, ?, ?, ?)", r.table)
		if _, err = tx.ExecContext(ctx, insert, moduleID, installerID, rec.Version, description, rec.UpdatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert installer %s/%s: %w", rec.Module, rec.Installer, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit installer %s/%s: %w", rec.Module, rec.Installer, err)
	}
	return nil
}

// Records returns every stored record ordered by module and installer id.
func (r *SQLRepository) Records(ctx context.Context) ([]Record, error) {
	// #nosec G201 - table name is validated in the constructor
	query := fmt.Sprintf("SELECT module_id, installer_id, version, description, updated_at FROM %s ORDER BY module_id, installer_id", r.table)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list installers: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec         Record
			description sql.NullString
			updated     int64
		)
		if err := rows.Scan(&rec.Module, &rec.Installer, &rec.Version, &description, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan installer record: %w", err)
		}
		rec.Description = description.String
		rec.UpdatedAt = time.Unix(0, updated)
		out = append(out, rec)
	}
	return out, rows.Err()
}
