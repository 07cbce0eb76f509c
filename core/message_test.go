package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImagePartMediaType(t *testing.T) {
	cases := map[string]string{
		"photo.jpg":  "image/jpeg",
		"photo.JPEG": "image/jpeg",
		"icon.png":   "image/png",
		"anim.gif":   "image/gif",
	}
	for name, want := range cases {
		got, err := ImagePart{FileName: name}.MediaType()
		assert.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ImagePart{FileName: "diagram.svg"}.MediaType()
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, err = ImagePart{FileName: "noext"}.MediaType()
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestImagePartDataURL(t *testing.T) {
	img := ImagePart{FileName: "a.png", Data: []byte("hi")}
	url, err := img.DataURL()
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,aGk=", url)

	_, err = ImagePart{FileName: "a.bmp", Data: []byte("hi")}.DataURL()
	assert.Error(t, err)
}

func TestMessageMarshalJSONLoggableProjection(t *testing.T) {
	msg := NewAssistantMessage(false,
		TextPart{Text: "working"},
		ImagePart{FileName: "broken.tiff", Data: []byte{1, 2}},
		ToolCallPart{ID: "c1", Name: "read_file", Arguments: map[string]any{"file_path": "a.js"}},
		ToolResponsePart{ID: "c1", Name: "read_file", Result: "content"},
	)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "assistant", decoded["role"])

	content := decoded["content"].([]any)
	require.Len(t, content, 4)
	assert.Equal(t, "working", content[0])
	assert.Equal(t, "broken.tiff", content[1]) // unsupported images still log
	assert.Equal(t, map[string]any{
		"name":      "read_file",
		"arguments": map[string]any{"file_path": "a.js"},
		"id":        "c1",
	}, content[2])
	assert.Equal(t, map[string]any{"name": "read_file", "result": "content", "id": "c1"}, content[3])
}

func TestMessageAccessors(t *testing.T) {
	msg := NewAssistantMessage(true,
		TextPart{Text: "a"},
		ToolCallPart{ID: "1", Name: "x"},
		TextPart{Text: "b"},
		ToolCallPart{ID: "2", Name: "y"},
	)
	assert.Equal(t, RoleModel, msg.Role)
	assert.True(t, msg.Role.IsAssistant())
	assert.Equal(t, "ab", msg.Text())

	calls := msg.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "x", calls[0].Name)
	assert.Equal(t, "y", calls[1].Name)
	assert.Empty(t, msg.ToolResponses())

	assert.False(t, NewUserText("q").Role.IsAssistant())
}

func TestParseArguments(t *testing.T) {
	args, err := ParseArguments("")
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = ParseArguments(`{"file_paths":["a","b"]}`)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, args["file_paths"])

	_, err = ParseArguments(`{not json`)
	assert.Error(t, err)
}

func TestToolCallArgumentsJSON(t *testing.T) {
	assert.Equal(t, "{}", ToolCallPart{}.ArgumentsJSON())
	assert.JSONEq(t, `{"a":1}`, ToolCallPart{Arguments: map[string]any{"a": 1}}.ArgumentsJSON())
}
