package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpivot/metamirror/pkg/errors"
	"github.com/cloudpivot/metamirror/pkg/identifier"
	"github.com/cloudpivot/metamirror/pkg/normalize"
	"github.com/cloudpivot/metamirror/pkg/resource"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var objectCols = []normalize.Column{
	{Name: "key", Type: normalize.TypeString},
	{Name: "last_modified", Type: normalize.TypeTimestamp},
	{Name: "size", Type: normalize.TypeInteger},
}

func objectRow(key string, modified time.Time, size int64) normalize.Row {
	return normalize.Row{"key": key, "last_modified": modified, "size": size}
}

func TestReplaceTable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := s.ReplaceTable(ctx, "s3_objects", objectCols, []normalize.Row{
		objectRow("a.csv", now, 10),
		objectRow("b.csv", now, 20),
	})
	require.NoError(t, err)

	n, err := s.CountRows(ctx, "s3_objects")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// A second replace swaps in the new snapshot wholesale.
	err = s.ReplaceTable(ctx, "s3_objects", objectCols, []normalize.Row{
		objectRow("c.csv", now, 30),
	})
	require.NoError(t, err)

	n, err = s.CountRows(ctx, "s3_objects")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReplaceRollbackKeepsPreviousTable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, s.ReplaceTable(ctx, "s3_objects", objectCols, []normalize.Row{
		objectRow("a.csv", now, 10),
	}))

	txn, err := s.BeginReplace(ctx, "s3_objects", objectCols)
	require.NoError(t, err)
	require.NoError(t, txn.Append(ctx, []normalize.Row{objectRow("b.csv", now, 20)}))
	require.NoError(t, txn.Rollback())

	// The abandoned staging load never touched the live table.
	n, err := s.CountRows(ctx, "s3_objects")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// And a fresh replace still succeeds after the rollback.
	require.NoError(t, s.ReplaceTable(ctx, "s3_objects", objectCols, []normalize.Row{
		objectRow("c.csv", now, 30),
		objectRow("d.csv", now, 40),
	}))
	n, err = s.CountRows(ctx, "s3_objects")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestReplaceTableAtMaxIdentifierLength(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	// The staging suffix must not push the table name past the length cap.
	name := strings.Repeat("a", identifier.MaxLength)
	err := s.ReplaceTable(ctx, name, objectCols, []normalize.Row{
		objectRow("a.csv", now, 10),
	})
	require.NoError(t, err)

	n, err := s.CountRows(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Replacing again reuses the shortened staging name cleanly.
	require.NoError(t, s.ReplaceTable(ctx, name, objectCols, []normalize.Row{
		objectRow("b.csv", now, 20),
		objectRow("c.csv", now, 30),
	}))
	n, err = s.CountRows(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestUpsertInsertsAndUpdates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, s.UpsertTable(ctx, "s3_objects", objectCols, []normalize.Row{
		objectRow("a.csv", now, 10),
		objectRow("b.csv", now, 20),
	}, "key"))

	later := now.Add(time.Hour)
	require.NoError(t, s.UpsertTable(ctx, "s3_objects", objectCols, []normalize.Row{
		objectRow("b.csv", later, 25), // existing key: updated in place
		objectRow("c.csv", later, 30), // new key: inserted
	}, "key"))

	n, err := s.CountRows(ctx, "s3_objects")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "rows absent from the batch are retained")

	var size int64
	var modified time.Time
	err = s.db.QueryRowContext(ctx, `SELECT size, last_modified FROM s3_objects WHERE key = ?`, "b.csv").
		Scan(&size, &modified)
	require.NoError(t, err)
	assert.Equal(t, int64(25), size)
	assert.Equal(t, later, modified.UTC())
}

func TestUpsertNullValues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTable(ctx, "s3_objects", objectCols, []normalize.Row{
		{"key": "a.csv", "last_modified": nil, "size": nil},
	}, "key"))

	n, err := s.CountRows(ctx, "s3_objects")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRejectsBadIdentifiers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.BeginReplace(ctx, "objects; DROP TABLE users", objectCols)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	badCols := []normalize.Column{{Name: `key"`, Type: normalize.TypeString}}
	_, err = s.BeginUpsert(ctx, "s3_objects", badCols, "key")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = s.CountRows(ctx, "no such table")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestWatermarkRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetWatermark(ctx, resource.KindS3Object, "bucket=data-lake")
	require.NoError(t, err)
	assert.Nil(t, got, "no watermark before the first sync")

	value := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	syncedAt := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, s.PutWatermark(ctx, Watermark{
		Kind:     resource.KindS3Object,
		ScopeKey: "bucket=data-lake",
		Value:    value,
		SyncedAt: syncedAt,
	}))

	got, err = s.GetWatermark(ctx, resource.KindS3Object, "bucket=data-lake")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, value, got.Value)
	assert.Equal(t, syncedAt, got.SyncedAt)

	// A different scope is tracked independently.
	other, err := s.GetWatermark(ctx, resource.KindS3Object, "bucket=other")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestWatermarkNeverMovesBackward(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	newer := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	require.NoError(t, s.PutWatermark(ctx, Watermark{
		Kind: resource.KindGlueJob, ScopeKey: "default", Value: newer, SyncedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.PutWatermark(ctx, Watermark{
		Kind: resource.KindGlueJob, ScopeKey: "default", Value: older, SyncedAt: time.Now().UTC(),
	}))

	got, err := s.GetWatermark(ctx, resource.KindGlueJob, "default")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer, got.Value, "an older value must not overwrite a newer watermark")
}

func TestWatermarkZeroValueKeepsExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	value := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutWatermark(ctx, Watermark{
		Kind: resource.KindGlueJob, ScopeKey: "default", Value: value, SyncedAt: time.Now().UTC(),
	}))

	// A run that saw no records still refreshes synced_at without clearing
	// the stored watermark.
	later := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, s.PutWatermark(ctx, Watermark{
		Kind: resource.KindGlueJob, ScopeKey: "default", SyncedAt: later,
	}))

	got, err := s.GetWatermark(ctx, resource.KindGlueJob, "default")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, value, got.Value)
	assert.Equal(t, later, got.SyncedAt)
}
