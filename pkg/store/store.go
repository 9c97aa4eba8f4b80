// Package store materializes normalized rows into a local embedded DuckDB
// database and keeps per-(kind, scope) sync watermarks.
//
// Table and column identifiers are re-validated through the identifier
// sanitizer at this boundary before they reach any schema statement; data
// values always travel as bound query parameters.
package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	duckdb "github.com/marcboeker/go-duckdb/v2"
	"go.uber.org/zap"

	"github.com/cloudpivot/metamirror/pkg/errors"
	"github.com/cloudpivot/metamirror/pkg/identifier"
	"github.com/cloudpivot/metamirror/pkg/logger"
	"github.com/cloudpivot/metamirror/pkg/normalize"
	"github.com/cloudpivot/metamirror/pkg/resource"
)

const watermarkTable = "sync_watermarks"

// Store wraps one DuckDB database
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Watermark records how far a previous sync progressed for one (kind, scope)
type Watermark struct {
	Kind     resource.Kind
	ScopeKey string
	Value    time.Time
	Cursor   string
	SyncedAt time.Time
}

// Open opens (creating if needed) the database at path. An empty path opens
// an in-memory database.
func Open(path string) (*Store, error) {
	connector, err := duckdb.NewConnector(path, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to open local store")
	}

	db := sql.OpenDB(connector)
	s := &Store{db: db, log: logger.With(zap.String("component", "store"), zap.String("path", path))}

	if err := s.ensureWatermarkTable(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureWatermarkTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+watermarkTable+` (
			resource_kind VARCHAR NOT NULL,
			scope_key     VARCHAR NOT NULL,
			watermark     TIMESTAMP,
			cursor        VARCHAR,
			synced_at     TIMESTAMP NOT NULL,
			PRIMARY KEY (resource_kind, scope_key)
		)`)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create watermark table")
	}
	return nil
}

// GetWatermark returns the stored watermark for (kind, scopeKey), or nil when
// no prior sync completed.
func (s *Store) GetWatermark(ctx context.Context, kind resource.Kind, scopeKey string) (*Watermark, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT watermark, cursor, synced_at FROM `+watermarkTable+` WHERE resource_kind = ? AND scope_key = ?`,
		kind.String(), scopeKey)

	var value sql.NullTime
	var cursor sql.NullString
	var syncedAt time.Time
	if err := row.Scan(&value, &cursor, &syncedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read watermark")
	}

	wm := &Watermark{Kind: kind, ScopeKey: scopeKey, Cursor: cursor.String, SyncedAt: syncedAt.UTC()}
	if value.Valid {
		wm.Value = value.Time.UTC()
	}
	return wm, nil
}

// PutWatermark upserts a watermark. The stored watermark value never moves
// backward: an older incoming value only refreshes cursor and synced_at.
func (s *Store) PutWatermark(ctx context.Context, wm Watermark) error {
	var value interface{}
	if !wm.Value.IsZero() {
		value = wm.Value.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+watermarkTable+` (resource_kind, scope_key, watermark, cursor, synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (resource_kind, scope_key) DO UPDATE SET
			watermark = CASE
				WHEN excluded.watermark IS NULL THEN `+watermarkTable+`.watermark
				WHEN `+watermarkTable+`.watermark IS NULL OR excluded.watermark > `+watermarkTable+`.watermark THEN excluded.watermark
				ELSE `+watermarkTable+`.watermark
			END,
			cursor = excluded.cursor,
			synced_at = excluded.synced_at`,
		wm.Kind.String(), wm.ScopeKey, value, wm.Cursor, wm.SyncedAt.UTC())
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to persist watermark")
	}
	return nil
}

// CountRows returns the row count of a table
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	name, err := identifier.Sanitize(table)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM `+name).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to count rows")
	}
	return n, nil
}

// columnDDL renders the sanitized column definitions for a create statement
func columnDDL(cols []normalize.Column) (string, []string, error) {
	defs := make([]string, 0, len(cols))
	names := make([]string, 0, len(cols))
	for _, col := range cols {
		name, err := identifier.Sanitize(col.Name)
		if err != nil {
			return "", nil, err
		}
		names = append(names, name)
		defs = append(defs, name+" "+sqlType(col.Type))
	}
	return strings.Join(defs, ", "), names, nil
}

func sqlType(t normalize.FieldType) string {
	switch t {
	case normalize.TypeInteger:
		return "BIGINT"
	case normalize.TypeFloat:
		return "DOUBLE"
	case normalize.TypeBoolean:
		return "BOOLEAN"
	case normalize.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// rowValues orders a row's values to match the sanitized column list
func rowValues(row normalize.Row, cols []normalize.Column) []interface{} {
	values := make([]interface{}, len(cols))
	for i, col := range cols {
		values[i] = row[col.Name]
	}
	return values
}
