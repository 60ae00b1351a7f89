// Package tools implements the sandboxed workspace tools agents can invoke
// during planning and review, grounded on
// services/orchestrator/src/tools.py (GrepTool, FileReadTool, ToolRegistry)
// with JSON-schema generation in the style of the teacher's
// core.BaseAgent.generateJSONSchema (explicit map-literal schema construction
// rather than a reflection-based schema library, since the shape here is
// small and fixed per tool).
package tools

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Result is the outcome of a single tool invocation.
type Result struct {
	Success bool
	Output  string
	Error   string
}

// Tool is a single workspace-scoped capability an agent can call.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]interface{}
	Execute(args map[string]interface{}) Result
}

var skipDirs = map[string]struct{}{
	".git": {}, "__pycache__": {}, "node_modules": {}, ".venv": {}, "venv": {},
}

var skipExts = map[string]struct{}{
	".pyc": {}, ".pyo": {}, ".so": {}, ".dll": {}, ".exe": {}, ".bin": {}, ".jpg": {}, ".png": {},
}

func shouldSkip(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if _, skip := skipDirs[part]; skip {
			return true
		}
	}
	_, skip := skipExts[strings.ToLower(filepath.Ext(path))]
	return skip
}

// GrepTool searches files under a workspace root for a regex pattern.
type GrepTool struct {
	WorkspaceDir string
}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search for a pattern in files within the workspace. " +
		"Returns matching lines with file paths and line numbers. " +
		"Use this to find code, functions, or specific text patterns."
}

func (t *GrepTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pattern": map[string]interface{}{
						"type":        "string",
						"description": "Regex pattern to search for",
					},
					"file_pattern": map[string]interface{}{
						"type":        "string",
						"description": "Glob pattern to filter which files are searched (e.g. '*.py')",
						"default":     "*",
					},
					"max_results": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of results to return",
						"default":     20,
					},
				},
				"required": []string{"pattern"},
			},
		},
	}
}

func (t *GrepTool) Execute(args map[string]interface{}) Result {
	pattern, _ := args["pattern"].(string)
	filePattern, ok := args["file_pattern"].(string)
	if !ok || filePattern == "" {
		filePattern = "*"
	}
	maxResults := 20
	if v, ok := args["max_results"].(int); ok && v > 0 {
		maxResults = v
	} else if v, ok := args["max_results"].(float64); ok && v > 0 {
		maxResults = int(v)
	}

	if _, err := os.Stat(t.WorkspaceDir); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("Workspace directory does not exist: %s", t.WorkspaceDir)}
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("Invalid regex: %s", err)}
	}

	var matches []string
	walkErr := filepath.WalkDir(t.WorkspaceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if len(matches) >= maxResults {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldSkip(path) {
			return nil
		}
		if matched, err := filepath.Match(filePattern, d.Name()); err != nil || !matched {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		rel, _ := filepath.Rel(t.WorkspaceDir, path)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, lineNo, line))
				if len(matches) >= maxResults {
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return Result{Success: false, Error: walkErr.Error()}
	}

	if len(matches) == 0 {
		return Result{Success: true, Output: fmt.Sprintf("No matches found for pattern: %s", pattern)}
	}
	header := fmt.Sprintf("Found %d matches:\n", len(matches))
	return Result{Success: true, Output: header + strings.Join(matches, "\n")}
}

// ReadFileTool reads a workspace-relative file, optionally restricted to a
// line range.
type ReadFileTool struct {
	WorkspaceDir string
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file in the workspace. " +
		"Can optionally read only specific line ranges. " +
		"Use this to examine code or configuration files."
}

func (t *ReadFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Path to file relative to workspace root",
					},
					"start_line": map[string]interface{}{
						"type":        "integer",
						"description": "First line to read (1-indexed, inclusive)",
						"default":     1,
					},
					"end_line": map[string]interface{}{
						"type":        "integer",
						"description": "Last line to read (1-indexed, inclusive). -1 for end of file.",
						"default":     -1,
					},
				},
				"required": []string{"path"},
			},
		},
	}
}

func (t *ReadFileTool) Execute(args map[string]interface{}) Result {
	path, _ := args["path"].(string)
	startLine := intArg(args, "start_line", 1)
	endLine := intArg(args, "end_line", -1)

	workspaceAbs, err := filepath.Abs(t.WorkspaceDir)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	target := filepath.Join(workspaceAbs, path)
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	if targetAbs != workspaceAbs && !strings.HasPrefix(targetAbs, workspaceAbs+string(filepath.Separator)) {
		return Result{Success: false, Error: "Access denied: path outside workspace"}
	}

	info, err := os.Stat(targetAbs)
	if os.IsNotExist(err) {
		return Result{Success: false, Error: fmt.Sprintf("File not found: %s", path)}
	}
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	if info.IsDir() {
		return Result{Success: false, Error: fmt.Sprintf("Not a file: %s", path)}
	}

	data, err := os.ReadFile(targetAbs)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	total := len(lines)

	startIdx := startLine - 1
	if startIdx < 0 {
		startIdx = 0
	}
	endIdx := total
	if endLine != -1 && endLine < total {
		endIdx = endLine
	}
	if startIdx > endIdx {
		startIdx = endIdx
	}

	var b strings.Builder
	fmt.Fprintf(&b, "File: %s (lines %d-%d of %d)\n", path, startIdx+1, endIdx, total)
	for i := startIdx; i < endIdx; i++ {
		fmt.Fprintf(&b, "%4d | %s", i+1, lines[i])
		if i < endIdx-1 {
			b.WriteString("\n")
		}
	}
	return Result{Success: true, Output: b.String()}
}

func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// Registry is a name-keyed collection of tools, providing function-call
// schemas for LLM prompts and dispatching execution by name.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// DefaultRegistry returns a Registry pre-populated with grep and read_file,
// scoped to workspaceDir.
func DefaultRegistry(workspaceDir string) *Registry {
	r := NewRegistry()
	r.Register(&GrepTool{WorkspaceDir: workspaceDir})
	r.Register(&ReadFileTool{WorkspaceDir: workspaceDir})
	return r
}

func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Schemas returns the OpenAI-style function schemas for every registered
// tool, in registration order, for inclusion in an LLM prompt.
func (r *Registry) Schemas() []map[string]interface{} {
	schemas := make([]map[string]interface{}, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}

// Execute dispatches a tool call by name.
func (r *Registry) Execute(name string, args map[string]interface{}) Result {
	t, ok := r.Get(name)
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("Unknown tool: %s", name)}
	}
	return t.Execute(args)
}
