package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hupe1980/evalmesh/logging"
)

// Built-in tool names.
const (
	ListFilesName      = "list_files"
	ReadFileName       = "read_file"
	WriteFileName      = "write_file"
	FileStructureName  = "file_structure"
	EndTaskName        = "end_task"
	SubmitSolutionName = "submit_solution"
)

// Model visible replies of the built-in handlers.
const (
	WriteSucceeded        = "File written successfully"
	WriteFailed           = "Failed to write file"
	FileStructureReceived = "File structure received successfully. Now provide each file from this list"
)

var (
	// ListFilesTool lists every file below the read root.
	ListFilesTool = Tool{Name: ListFilesName, Description: "List all files in the legacy directory"}

	// ReadFileTool reads a file below the read root.
	ReadFileTool = Tool{
		Name:        ReadFileName,
		Description: "Read the content of a file from the legacy application",
		Parameters: []Parameter{
			{Name: "file_path", Type: "string", Description: "Path to the file to read", Required: true},
		},
	}

	// FileStructureTool lets the model announce the files it intends to produce.
	FileStructureTool = Tool{
		Name:        FileStructureName,
		Description: "Return the new file structure of the new application",
		Parameters: []Parameter{
			{Name: "file_paths", Type: "array", Description: "List of file paths for the new application", Required: true, ItemsType: "string"},
		},
	}

	// WriteFileTool writes a file below the write root.
	WriteFileTool = Tool{
		Name:        WriteFileName,
		Description: "Write converted code to a file in the new application",
		Parameters: []Parameter{
			{Name: "file_path", Type: "string", Description: "Path where the file should be written", Required: true},
			{Name: "content", Type: "string", Description: "The converted code content", Required: true, AnyValue: true},
		},
	}

	// EndTaskTool is the loop termination signal. It has no handler.
	EndTaskTool = Tool{Name: EndTaskName, Description: "End the translation task when complete"}

	// SubmitSolutionTool submits one iteration of a guided task.
	SubmitSolutionTool = Tool{
		Name:        SubmitSolutionName,
		Description: "Submit current code",
		Parameters: []Parameter{
			{Name: "content", Type: "string", Description: "The current code", Required: true},
			{Name: "changes_description", Type: "string", Description: "Description of what was changed/added", Required: true},
		},
	}
)

// NewFileRegistry builds the registry of filesystem tools. Reads are confined
// to readRoot and writes to writeRoot.
func NewFileRegistry(readRoot, writeRoot string, optFns ...func(o *RegistryOptions)) *Registry {
	r := NewRegistry(optFns...)
	r.Register(NewFunctionHandler(ListFilesTool, listFilesHandler(readRoot)))
	r.Register(NewFunctionHandler(ReadFileTool, readFileHandler(readRoot)))
	r.Register(NewFunctionHandler(FileStructureTool, fileStructureHandler))
	r.Register(NewFunctionHandler(WriteFileTool, writeFileHandler(writeRoot, r.logger)))
	return r
}

// DefaultToolSet returns the declarations offered in file translation tasks,
// end_task included.
func DefaultToolSet() *Set {
	return NewSet(ListFilesTool, ReadFileTool, FileStructureTool, WriteFileTool, EndTaskTool)
}

// resolve joins a model supplied relative path onto root without allowing
// it to escape the root. A leading "/" is treated as relative.
func resolve(root, p string) string {
	return filepath.Join(root, filepath.Clean("/"+filepath.ToSlash(p)))
}

// ListFiles returns the slash separated paths of all regular files below
// root, relative to root, in lexical order.
func ListFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func listFilesHandler(root string) HandlerFunc {
	return func(_ context.Context, _ map[string]any) (string, error) {
		files, err := ListFiles(root)
		if err != nil {
			return "", NewToolError(ListFilesName, "Could not list files directory files", CodeExecutionError)
		}
		return strings.Join(files, "\n"), nil
	}
}

func readFileHandler(root string) HandlerFunc {
	return func(_ context.Context, args map[string]any) (string, error) {
		filePath, _ := args["file_path"].(string)
		data, err := os.ReadFile(resolve(root, filePath))
		if err != nil {
			return fmt.Sprintf("Error: File at %s not found or file_path is incorrect.", filePath), nil
		}
		return string(data), nil
	}
}

func fileStructureHandler(_ context.Context, _ map[string]any) (string, error) {
	return FileStructureReceived, nil
}

func writeFileHandler(root string, logger logging.Logger) HandlerFunc {
	return func(_ context.Context, args map[string]any) (string, error) {
		filePath, _ := args["file_path"].(string)
		content := args["content"]
		if _, ok := content.(string); !ok && !isJSONPath(filePath) {
			return "", NewToolError(WriteFileName, "content must be a string unless file_path names a .json file", CodeValidationError)
		}
		if err := writeFile(root, filePath, content); err != nil {
			logger.Warn("tool.write_file.failed", "file_path", filePath, "error", err.Error())
			return WriteFailed, nil
		}
		return WriteSucceeded, nil
	}
}

// isJSONPath reports whether content for filePath is serialized as JSON.
func isJSONPath(filePath string) bool { return strings.Contains(filePath, ".json") }

// writeFile writes content below root, creating parent directories. Paths
// containing .json are written as indented JSON, everything else verbatim.
func writeFile(root, filePath string, content any) error {
	full := resolve(root, filePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}

	var data []byte
	if isJSONPath(filePath) {
		encoded, err := encodeJSON(content)
		if err != nil {
			return err
		}
		data = encoded
	} else {
		s, _ := content.(string)
		data = []byte(s)
	}

	return os.WriteFile(full, data, 0o644)
}

// encodeJSON indents JSON documents passed as strings and serializes any
// other value.
func encodeJSON(content any) ([]byte, error) {
	if s, ok := content.(string); ok && json.Valid([]byte(s)) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(s), "", "    "); err == nil {
			return buf.Bytes(), nil
		}
	}
	return json.MarshalIndent(content, "", "    ")
}

// SubmitSolutionHandler persists every submitted iteration of a guided task
// below writeRoot as step_N/component.tsx and step_N/changes.txt.
type SubmitSolutionHandler struct {
	root  string
	mu    sync.Mutex
	steps int
}

// NewSubmitSolutionHandler creates a handler writing below root.
func NewSubmitSolutionHandler(root string) *SubmitSolutionHandler {
	return &SubmitSolutionHandler{root: root}
}

// Steps returns the number of persisted submissions.
func (h *SubmitSolutionHandler) Steps() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.steps
}

// Call implements Handler.
func (h *SubmitSolutionHandler) Call(_ context.Context, args map[string]any) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	content, _ := args["content"].(string)
	changes, _ := args["changes_description"].(string)

	step := h.steps + 1
	dir := filepath.Join(h.root, fmt.Sprintf("step_%d", step))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "component.tsx"), []byte(content), 0o644); err != nil {
		return "", err
	}
	summary := fmt.Sprintf("Step %d Changes:\n%s", step, changes)
	if err := os.WriteFile(filepath.Join(dir, "changes.txt"), []byte(summary), 0o644); err != nil {
		return "", err
	}
	h.steps = step

	return fmt.Sprintf("Step %d saved. Changes: %s\n\nWaiting for next guidance...", step, changes), nil
}

// NewSubmitSolutionRegistry builds a registry exposing only submit_solution.
func NewSubmitSolutionRegistry(writeRoot string, optFns ...func(o *RegistryOptions)) (*Registry, *SubmitSolutionHandler) {
	h := NewSubmitSolutionHandler(writeRoot)
	r := NewRegistry(optFns...)
	r.Register(NewFunctionHandler(SubmitSolutionTool, h.Call))
	return r, h
}
