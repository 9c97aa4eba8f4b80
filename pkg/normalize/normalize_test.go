package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpivot/metamirror/pkg/errors"
	"github.com/cloudpivot/metamirror/pkg/resource"
)

func TestNormalizeS3Object(t *testing.T) {
	modified := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.FixedZone("PST", -8*3600))

	row, err := Normalize(resource.KindS3Object, resource.RawRecord{
		"key":           "raw/events/2026/03/14/part-0001.parquet",
		"last_modified": &modified,
		"size":          int64(52428800),
		"storage_class": "STANDARD",
		"etag":          `"9b2cf535f27731c974343645a3985328"`,
	})
	require.NoError(t, err)

	assert.Equal(t, "raw/events/2026/03/14/part-0001.parquet", row["key"])
	assert.Equal(t, int64(52428800), row["size"])
	assert.Equal(t, "STANDARD", row["storage_class"])

	ts, ok := row["last_modified"].(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.UTC, ts.Location(), "timestamps are normalized to UTC")
	assert.Equal(t, modified.UTC().Truncate(time.Microsecond), ts)
}

func TestNormalizeNullFillsMissingColumns(t *testing.T) {
	row, err := Normalize(resource.KindGlueJob, resource.RawRecord{
		"name": "nightly-compaction",
	})
	require.NoError(t, err)

	assert.Equal(t, "nightly-compaction", row["name"])
	assert.Nil(t, row["role"])
	assert.Nil(t, row["created_on"])
	assert.Nil(t, row["max_capacity"])
	assert.Len(t, row, len(Schema(resource.KindGlueJob)), "every declared column is present")
}

func TestNormalizeDropsUndeclaredFields(t *testing.T) {
	row, err := Normalize(resource.KindS3Object, resource.RawRecord{
		"key":            "a.csv",
		"owner":          "someone",
		"checksum_types": []interface{}{"SHA256"},
	})
	require.NoError(t, err)

	_, hasOwner := row["owner"]
	assert.False(t, hasOwner)
	assert.Len(t, row, len(Schema(resource.KindS3Object)))
}

func TestNormalizeMissingNaturalKey(t *testing.T) {
	_, err := Normalize(resource.KindS3Object, resource.RawRecord{
		"size": int64(10),
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	// An empty-string key is as useless as an absent one.
	_, err = Normalize(resource.KindS3Object, resource.RawRecord{
		"key": "",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestNormalizeFlattensNestedMappings(t *testing.T) {
	row, err := Normalize(resource.KindGlueJobRun, resource.RawRecord{
		"run_id":   "jr_001",
		"job_name": "nightly-compaction",
		"execution": map[string]interface{}{
			"time": 183,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(183), row["execution_time"], "nested keys are joined with underscores")
}

func TestNormalizeSerializesNestedStructureIntoDeclaredColumn(t *testing.T) {
	row, err := Normalize(resource.KindCatalogTable, resource.RawRecord{
		"name":          "events",
		"catalog_name":  "AwsDataCatalog",
		"database_name": "analytics",
		"column_count":  int32(14),
		"parameters": map[string]interface{}{
			"classification": "parquet",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(14), row["column_count"])
	assert.JSONEq(t, `{"classification":"parquet"}`, row["parameters"].(string))
}

func TestCoerceTimestampFromString(t *testing.T) {
	row, err := Normalize(resource.KindStepFunctionExecution, resource.RawRecord{
		"execution_arn": "arn:aws:states:us-east-1:123456789012:execution:etl:run-42",
		"start_date":    "2026-03-14T09:26:53Z",
	})
	require.NoError(t, err)

	ts, ok := row["start_date"].(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC), ts)
}

func TestCoerceUnparseableValuesBecomeNull(t *testing.T) {
	row, err := Normalize(resource.KindGlueJobRun, resource.RawRecord{
		"run_id":         "jr_002",
		"started_on":     "not a time",
		"execution_time": "not a number",
	})
	require.NoError(t, err)

	assert.Nil(t, row["started_on"])
	assert.Nil(t, row["execution_time"])
}

func TestCoerceNumericWidening(t *testing.T) {
	row, err := Normalize(resource.KindKinesisStream, resource.RawRecord{
		"stream_name":            "clickstream",
		"open_shard_count":       int32(8),
		"retention_period_hours": float64(24),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(8), row["open_shard_count"])
	assert.Equal(t, int64(24), row["retention_period_hours"])
}

func TestSchemaDeclaredForEveryKind(t *testing.T) {
	for _, kind := range resource.All() {
		cols := Schema(kind)
		require.NotEmpty(t, cols, "kind %s has no schema", kind)

		found := false
		for _, col := range cols {
			if col.Name == kind.NaturalKey() {
				found = true
				break
			}
		}
		assert.True(t, found, "kind %s schema lacks its natural key column", kind)

		if wm := kind.WatermarkColumn(); wm != "" {
			var wmType FieldType
			for _, col := range cols {
				if col.Name == wm {
					wmType = col.Type
				}
			}
			assert.Equal(t, TypeTimestamp, wmType, "kind %s watermark column must be a timestamp", kind)
		}
	}
}
