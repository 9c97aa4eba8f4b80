package identifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpivot/metamirror/pkg/errors"
)

func TestSanitizeAccepts(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		want      string
	}{
		{"plain", "s3_objects", "s3_objects"},
		{"lowercases", "Glue_Jobs", "glue_jobs"},
		{"leading underscore", "_internal", "_internal"},
		{"digits after first", "t2_micro_usage", "t2_micro_usage"},
		{"max length", strings.Repeat("a", MaxLength), strings.Repeat("a", MaxLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sanitize(tt.candidate)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeRejects(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
	}{
		{"empty", ""},
		{"too long", strings.Repeat("a", MaxLength+1)},
		{"leading digit", "2fast"},
		{"semicolon injection", "objects; DROP TABLE users"},
		{"quoted", `objects"`},
		{"single quote", "obj'ects"},
		{"space", "my table"},
		{"dash", "glue-jobs"},
		{"dot", "schema.table"},
		{"parens", "t(x)"},
		{"comment", "t--x"},
		{"reserved word", "table"},
		{"reserved word uppercased", "SELECT"},
		{"unicode", "tablé"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sanitize(tt.candidate)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation),
				"expected a validation error, got %v", err)
		})
	}
}

func TestSanitizeNeverRewrites(t *testing.T) {
	// Apart from lowercasing, a candidate either passes through unchanged or
	// is rejected. There is no character stripping or renaming.
	got, err := Sanitize("already_valid")
	require.NoError(t, err)
	assert.Equal(t, "already_valid", got)

	_, err = Sanitize("almost_valid!")
	require.Error(t, err)
}

func TestJoin(t *testing.T) {
	got, err := Join("aws", "s3_objects")
	require.NoError(t, err)
	assert.Equal(t, "aws_s3_objects", got)

	got, err = Join("", "s3_objects")
	require.NoError(t, err)
	assert.Equal(t, "s3_objects", got)

	_, err = Join("bad prefix", "s3_objects")
	require.Error(t, err)

	_, err = Join("", "")
	require.Error(t, err)
}
