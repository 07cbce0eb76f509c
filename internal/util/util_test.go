package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path":  map[string]any{"type": "string"},
			"file_paths": map[string]any{"type": "array"},
			"mode":       map[string]any{"type": "string", "enum": []string{"fast", "slow"}},
		},
		"required": []string{"file_path"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"file_path": "a"}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"file_path": "a", "extra": 1}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"file_path": "a", "file_paths": []any{"x"}}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Equal(t, "file_path", vErr.Field)

	err = ValidateParameters(map[string]any{"file_path": 3.0}, schema)
	assert.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "expected type string")

	err = ValidateParameters(map[string]any{"file_path": "a", "mode": "medium"}, schema)
	assert.ErrorAs(t, err, &vErr)
	assert.Equal(t, "mode", vErr.Field)
}

func TestValidateParametersDecodedRequired(t *testing.T) {
	schema := map[string]any{"required": []any{"a"}}
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"a": true}, schema))
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain text", nil)
	assert.NoError(t, err)
	assert.Equal(t, "plain text", out)

	out, err = RenderTemplate("Give me converted code of {{.Path}}", map[string]any{"Path": "src/<App>.tsx"})
	assert.NoError(t, err)
	assert.Equal(t, "Give me converted code of src/<App>.tsx", out)

	_, err = RenderTemplate("{{.Path", nil)
	assert.Error(t, err)
}
