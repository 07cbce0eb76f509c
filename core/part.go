package core

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrUnsupportedFormat is returned by ImagePart.MediaType when the file
// extension is outside the supported image set.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Part represents a polymorphic segment of message content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// ImagePart is an inline image attachment identified by its file name.
type ImagePart struct {
	FileName string // Original file name, also used to derive the media type
	Data     []byte // Raw image bytes
}

// isPart implements the Part interface for ImagePart.
func (ImagePart) isPart() {}

// MediaType derives the MIME type from the file extension. It is evaluated
// lazily so unsupported attachments can still be listed and logged.
func (p ImagePart) MediaType() (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p.FileName), "."))
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg", nil
	case "png":
		return "image/png", nil
	case "gif":
		return "image/gif", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// Base64 returns the standard base64 encoding of the image bytes.
func (p ImagePart) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// DataURL returns a data: URL embedding the image.
func (p ImagePart) DataURL() (string, error) {
	mt, err := p.MediaType()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("data:%s;base64,%s", mt, p.Base64()), nil
}

// ToolCallPart is a model issued function invocation request.
type ToolCallPart struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// isPart implements the Part interface for ToolCallPart.
func (ToolCallPart) isPart() {}

// ArgumentsJSON serializes the arguments, yielding "{}" for an empty map.
func (p ToolCallPart) ArgumentsJSON() string {
	if len(p.Arguments) == 0 {
		return "{}"
	}
	b, err := json.Marshal(p.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ToolResponsePart carries a handler result correlated to a ToolCallPart by ID.
type ToolResponsePart struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result string `json:"result"`
}

// isPart implements the Part interface for ToolResponsePart.
func (ToolResponsePart) isPart() {}

// ParseArguments decodes a JSON object of tool arguments. Empty input yields
// an empty map.
func ParseArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal args: %w", err)
	}
	return args, nil
}

// loggable returns the transcript projection of a part.
func loggable(p Part) any {
	switch v := p.(type) {
	case TextPart:
		return v.Text
	case ImagePart:
		return v.FileName
	case ToolCallPart:
		args := v.Arguments
		if args == nil {
			args = map[string]any{}
		}
		return map[string]any{"name": v.Name, "arguments": args, "id": v.ID}
	case ToolResponsePart:
		return map[string]any{"name": v.Name, "result": v.Result, "id": v.ID}
	default:
		return fmt.Sprintf("%T", p)
	}
}
