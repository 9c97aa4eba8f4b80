// Package normalize converts raw source records into flat rows that conform
// to a declared per-kind column set.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/cloudpivot/metamirror/pkg/errors"
	"github.com/cloudpivot/metamirror/pkg/resource"
)

// FieldType represents the data type of a normalized column
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeInteger   FieldType = "integer"
	TypeFloat     FieldType = "float"
	TypeBoolean   FieldType = "boolean"
	TypeTimestamp FieldType = "timestamp"
)

// Column declares one column of a kind's normalized schema
type Column struct {
	Name string
	Type FieldType
}

// Row is a flat mapping from declared column name to a scalar value.
// Values are string, int64, float64, bool, time.Time (UTC), or nil.
type Row map[string]interface{}

// flattenSep joins parent and child keys when nested mappings are flattened
const flattenSep = "_"

// maxFlattenDepth bounds recursion; deeper structures are serialized as JSON
const maxFlattenDepth = 3

var schemas = map[resource.Kind][]Column{
	resource.KindS3Object: {
		{Name: "key", Type: TypeString},
		{Name: "last_modified", Type: TypeTimestamp},
		{Name: "size", Type: TypeInteger},
		{Name: "storage_class", Type: TypeString},
		{Name: "etag", Type: TypeString},
	},
	resource.KindGlueJob: {
		{Name: "name", Type: TypeString},
		{Name: "role", Type: TypeString},
		{Name: "created_on", Type: TypeTimestamp},
		{Name: "last_modified_on", Type: TypeTimestamp},
		{Name: "max_capacity", Type: TypeFloat},
		{Name: "worker_type", Type: TypeString},
		{Name: "number_of_workers", Type: TypeInteger},
		{Name: "glue_version", Type: TypeString},
	},
	resource.KindGlueJobRun: {
		{Name: "run_id", Type: TypeString},
		{Name: "job_name", Type: TypeString},
		{Name: "status", Type: TypeString},
		{Name: "started_on", Type: TypeTimestamp},
		{Name: "completed_on", Type: TypeTimestamp},
		{Name: "execution_time", Type: TypeInteger},
		{Name: "attempt", Type: TypeInteger},
		{Name: "error_message", Type: TypeString},
	},
	resource.KindCatalogTable: {
		{Name: "name", Type: TypeString},
		{Name: "catalog_name", Type: TypeString},
		{Name: "database_name", Type: TypeString},
		{Name: "create_time", Type: TypeTimestamp},
		{Name: "last_access_time", Type: TypeTimestamp},
		{Name: "table_type", Type: TypeString},
		{Name: "column_count", Type: TypeInteger},
		{Name: "parameters", Type: TypeString},
	},
	resource.KindAthenaQueryError: {
		{Name: "query_id", Type: TypeString},
		{Name: "workgroup", Type: TypeString},
		{Name: "submission_time", Type: TypeTimestamp},
		{Name: "completion_time", Type: TypeTimestamp},
		{Name: "failure_reason", Type: TypeString},
	},
	resource.KindSageMakerTrainingJob: {
		{Name: "training_job_name", Type: TypeString},
		{Name: "training_job_arn", Type: TypeString},
		{Name: "status", Type: TypeString},
		{Name: "creation_time", Type: TypeTimestamp},
		{Name: "training_end_time", Type: TypeTimestamp},
		{Name: "last_modified_time", Type: TypeTimestamp},
	},
	resource.KindSageMakerProcessingJob: {
		{Name: "processing_job_name", Type: TypeString},
		{Name: "processing_job_arn", Type: TypeString},
		{Name: "status", Type: TypeString},
		{Name: "creation_time", Type: TypeTimestamp},
		{Name: "processing_end_time", Type: TypeTimestamp},
		{Name: "last_modified_time", Type: TypeTimestamp},
	},
	resource.KindSageMakerTransformJob: {
		{Name: "transform_job_name", Type: TypeString},
		{Name: "transform_job_arn", Type: TypeString},
		{Name: "status", Type: TypeString},
		{Name: "creation_time", Type: TypeTimestamp},
		{Name: "transform_end_time", Type: TypeTimestamp},
		{Name: "last_modified_time", Type: TypeTimestamp},
	},
	resource.KindSageMakerPipelineExec: {
		{Name: "execution_arn", Type: TypeString},
		{Name: "pipeline_name", Type: TypeString},
		{Name: "display_name", Type: TypeString},
		{Name: "status", Type: TypeString},
		{Name: "start_time", Type: TypeTimestamp},
		{Name: "failure_reason", Type: TypeString},
	},
	resource.KindStepFunctionExecution: {
		{Name: "execution_arn", Type: TypeString},
		{Name: "name", Type: TypeString},
		{Name: "state_machine_arn", Type: TypeString},
		{Name: "status", Type: TypeString},
		{Name: "start_date", Type: TypeTimestamp},
		{Name: "stop_date", Type: TypeTimestamp},
	},
	resource.KindCloudFormationStack: {
		{Name: "stack_id", Type: TypeString},
		{Name: "stack_name", Type: TypeString},
		{Name: "stack_status", Type: TypeString},
		{Name: "creation_time", Type: TypeTimestamp},
		{Name: "last_updated_time", Type: TypeTimestamp},
		{Name: "deletion_time", Type: TypeTimestamp},
		{Name: "stack_status_reason", Type: TypeString},
		{Name: "template_description", Type: TypeString},
	},
	resource.KindKinesisStream: {
		{Name: "stream_name", Type: TypeString},
		{Name: "stream_arn", Type: TypeString},
		{Name: "stream_status", Type: TypeString},
		{Name: "stream_mode", Type: TypeString},
		{Name: "open_shard_count", Type: TypeInteger},
		{Name: "retention_period_hours", Type: TypeInteger},
		{Name: "stream_creation_timestamp", Type: TypeTimestamp},
	},
}

// Schema returns the declared ordered column set for a kind
func Schema(kind resource.Kind) []Column {
	return schemas[kind]
}

// Normalize converts one raw record into a row conforming exactly to the
// kind's declared column set: no extra columns, missing values null-filled.
// It fails only when the record lacks the kind's natural-key field.
func Normalize(kind resource.Kind, raw resource.RawRecord) (Row, error) {
	cols := schemas[kind]
	flat := flatten(raw, "", 0)

	row := make(Row, len(cols))
	for _, col := range cols {
		// Prefer the unflattened value so a declared column may hold a
		// serialized nested structure (e.g. a parameters map as JSON).
		v, ok := raw[col.Name]
		if !ok {
			v = flat[col.Name]
		}
		row[col.Name] = coerce(v, col.Type)
	}

	key := kind.NaturalKey()
	if row[key] == nil || row[key] == "" {
		return nil, errors.New(errors.ErrorTypeData, "record is missing its natural key").
			WithDetail("kind", kind.String()).
			WithDetail("column", key)
	}

	return row, nil
}

// flatten joins nested mapping keys with flattenSep. Sequences and structures
// past the depth cap are kept as single serialized values, so one raw record
// always yields exactly one row.
func flatten(m map[string]interface{}, prefix string, depth int) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		name := k
		if prefix != "" {
			name = prefix + flattenSep + k
		}
		switch nested := v.(type) {
		case map[string]interface{}:
			if depth+1 >= maxFlattenDepth {
				out[name] = jsonString(nested)
				continue
			}
			for fk, fv := range flatten(nested, name, depth+1) {
				out[fk] = fv
			}
		case resource.RawRecord:
			if depth+1 >= maxFlattenDepth {
				out[name] = jsonString(nested)
				continue
			}
			for fk, fv := range flatten(nested, name, depth+1) {
				out[fk] = fv
			}
		case []interface{}:
			out[name] = jsonString(nested)
		default:
			out[name] = v
		}
	}
	return out
}

// coerce converts a raw value to the column's canonical scalar type,
// returning nil for absent or unconvertible values.
func coerce(v interface{}, t FieldType) interface{} {
	if v == nil {
		return nil
	}
	switch t {
	case TypeString:
		return coerceString(v)
	case TypeInteger:
		return coerceInt(v)
	case TypeFloat:
		return coerceFloat(v)
	case TypeBoolean:
		return coerceBool(v)
	case TypeTimestamp:
		return coerceTimestamp(v)
	}
	return nil
}

func coerceString(v interface{}) interface{} {
	switch s := v.(type) {
	case string:
		if s == "" {
			return nil
		}
		return s
	case fmt.Stringer:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	case int:
		return strconv.Itoa(s)
	case int32:
		return strconv.FormatInt(int64(s), 10)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case time.Time:
		return s.UTC().Format(time.RFC3339Nano)
	case map[string]interface{}, []interface{}, map[string]string:
		return jsonString(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func coerceInt(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i
		}
		return nil
	default:
		return nil
	}
}

func coerceFloat(v interface{}) interface{} {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f
		}
		return nil
	default:
		return nil
	}
}

func coerceBool(v interface{}) interface{} {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
		return nil
	default:
		return nil
	}
}

// coerceTimestamp converts to UTC with microsecond precision, the canonical
// timestamp representation for stored tables.
func coerceTimestamp(v interface{}) interface{} {
	switch ts := v.(type) {
	case time.Time:
		if ts.IsZero() {
			return nil
		}
		return ts.UTC().Truncate(time.Microsecond)
	case *time.Time:
		if ts == nil || ts.IsZero() {
			return nil
		}
		return ts.UTC().Truncate(time.Microsecond)
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, ts); err == nil {
				return parsed.UTC().Truncate(time.Microsecond)
			}
		}
		return nil
	default:
		return nil
	}
}

func jsonString(v interface{}) interface{} {
	b, err := gojson.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}
