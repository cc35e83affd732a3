package installer

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/GoCodeAlone/modctx/container"
)

// SQLScript runs statements in a single transaction.
type SQLScript struct {
	DB         *sql.DB
	Statements []string
}

// Install implements Installer.
func (s *SQLScript) Install(ctx context.Context) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin script transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range s.Statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d failed: %w", i+1, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit script: %w", err)
	}
	return nil
}

// Script registers a SQL script installer. The database is looked up by
// dbBean, or by type when dbBean is empty.
func Script(md Metadata, dbBean string, statements ...string) Registration {
	return Registration{
		Metadata: md,
		Factory: func(r container.Resolver) (Installer, error) {
			var (
				bean any
				err  error
			)
			if dbBean != "" {
				bean, err = r.Get(dbBean)
			} else {
				bean, err = r.GetByType(reflect.TypeFor[*sql.DB]())
			}
			if err != nil {
				return nil, fmt.Errorf("installer %s needs a database: %w", md.Name, err)
			}
			db, ok := bean.(*sql.DB)
			if !ok {
				return nil, fmt.Errorf("installer %s: bean %T is not a *sql.DB", md.Name, bean)
			}
			return &SQLScript{DB: db, Statements: statements}, nil
		},
	}
}

// SchemaCreator creates the tables it stores data in.
type SchemaCreator interface {
	CreateSchema(ctx context.Context) error
}

// CoreSchema creates the tables the bootstrap itself needs. It runs on
// every bootstrap.
type CoreSchema struct {
	Schemas []SchemaCreator
}

// Install implements Installer.
func (c *CoreSchema) Install(ctx context.Context) error {
	for _, s := range c.Schemas {
		if err := s.CreateSchema(ctx); err != nil {
			return err
		}
	}
	return nil
}

// AlwaysRun implements AlwaysRun.
func (c *CoreSchema) AlwaysRun() bool { return true }
