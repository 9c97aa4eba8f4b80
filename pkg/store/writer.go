package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cloudpivot/metamirror/pkg/errors"
	"github.com/cloudpivot/metamirror/pkg/identifier"
	"github.com/cloudpivot/metamirror/pkg/normalize"
)

// TableTxn is one scoped table write: rows are appended in batches and become
// visible only on Commit. Rollback after Commit is a no-op, so callers can
// defer it unconditionally.
type TableTxn interface {
	Append(ctx context.Context, rows []normalize.Row) error
	Commit(ctx context.Context) error
	Rollback() error
}

// stagingSuffix marks the temporary table a replace loads into before the swap
const stagingSuffix = "_staging"

// tableTxn carries the shared transaction state for replace and upsert writes
type tableTxn struct {
	tx     *sql.Tx
	stmt   *sql.Stmt
	cols   []normalize.Column
	done   bool
	commit func(ctx context.Context, tx *sql.Tx) error
}

func (t *tableTxn) Append(ctx context.Context, rows []normalize.Row) error {
	if t.done {
		return errors.New(errors.ErrorTypeQuery, "append on a finished table transaction")
	}
	for _, row := range rows {
		if _, err := t.stmt.ExecContext(ctx, rowValues(row, t.cols)...); err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "failed to insert row")
		}
	}
	return nil
}

func (t *tableTxn) Commit(ctx context.Context) error {
	if t.done {
		return errors.New(errors.ErrorTypeQuery, "commit on a finished table transaction")
	}
	t.done = true
	_ = t.stmt.Close()

	if err := t.commit(ctx, t.tx); err != nil {
		_ = t.tx.Rollback()
		return err
	}
	if err := t.tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to commit table transaction")
	}
	return nil
}

func (t *tableTxn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	_ = t.stmt.Close()
	return t.tx.Rollback()
}

// BeginReplace starts an atomic full-table replace. Rows are loaded into a
// staging table; Commit drops the previous table and renames the staging
// table in the same transaction, so readers see either the fully-old or the
// fully-new table, never a mix.
func (s *Store) BeginReplace(ctx context.Context, table string, cols []normalize.Column) (TableTxn, error) {
	name, err := identifier.Sanitize(table)
	if err != nil {
		return nil, err
	}
	// The staging name must itself fit the identifier length cap, so the base
	// is shortened to leave room for the suffix when the table name is long.
	base := name
	if len(base) > identifier.MaxLength-len(stagingSuffix) {
		base = base[:identifier.MaxLength-len(stagingSuffix)]
	}
	staging, err := identifier.Sanitize(base + stagingSuffix)
	if err != nil {
		return nil, err
	}
	ddl, names, err := columnDDL(cols)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to begin transaction")
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+staging); err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to drop stale staging table")
	}
	if _, err := tx.ExecContext(ctx, `CREATE TABLE `+staging+` (`+ddl+`)`); err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to create staging table")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+staging+` (`+strings.Join(names, ", ")+`) VALUES (`+placeholders(len(names))+`)`)
	if err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to prepare staging insert")
	}

	return &tableTxn{
		tx:   tx,
		stmt: stmt,
		cols: cols,
		commit: func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+name); err != nil {
				return errors.Wrap(err, errors.ErrorTypeQuery, "failed to drop previous table")
			}
			if _, err := tx.ExecContext(ctx, `ALTER TABLE `+staging+` RENAME TO `+name); err != nil {
				return errors.Wrap(err, errors.ErrorTypeQuery, "failed to swap in staging table")
			}
			return nil
		},
	}, nil
}

// BeginUpsert starts a merge write keyed by naturalKey: new keys insert,
// existing keys update, and rows absent from the batch are retained.
func (s *Store) BeginUpsert(ctx context.Context, table string, cols []normalize.Column, naturalKey string) (TableTxn, error) {
	name, err := identifier.Sanitize(table)
	if err != nil {
		return nil, err
	}
	key, err := identifier.Sanitize(naturalKey)
	if err != nil {
		return nil, err
	}
	ddl, names, err := columnDDL(cols)
	if err != nil {
		return nil, err
	}

	updates := make([]string, 0, len(names))
	for _, n := range names {
		if n == key {
			continue
		}
		updates = append(updates, n+" = excluded."+n)
	}
	conflict := `ON CONFLICT (` + key + `) DO NOTHING`
	if len(updates) > 0 {
		conflict = `ON CONFLICT (` + key + `) DO UPDATE SET ` + strings.Join(updates, ", ")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to begin transaction")
	}

	if _, err := tx.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS `+name+` (`+ddl+`, PRIMARY KEY (`+key+`))`); err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to create table")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+name+` (`+strings.Join(names, ", ")+`) VALUES (`+placeholders(len(names))+`) `+conflict)
	if err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to prepare upsert")
	}

	return &tableTxn{tx: tx, stmt: stmt, cols: cols, commit: func(context.Context, *sql.Tx) error { return nil }}, nil
}

// ReplaceTable atomically replaces a table's contents with rows
func (s *Store) ReplaceTable(ctx context.Context, table string, cols []normalize.Column, rows []normalize.Row) error {
	txn, err := s.BeginReplace(ctx, table, cols)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	if err := txn.Append(ctx, rows); err != nil {
		return err
	}
	return txn.Commit(ctx)
}

// UpsertTable merges rows into a table by natural key
func (s *Store) UpsertTable(ctx context.Context, table string, cols []normalize.Column, rows []normalize.Row, naturalKey string) error {
	txn, err := s.BeginUpsert(ctx, table, cols, naturalKey)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	if err := txn.Append(ctx, rows); err != nil {
		return err
	}
	return txn.Commit(ctx)
}
