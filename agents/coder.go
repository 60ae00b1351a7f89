package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/arcflow/orchestrator/events"
	"github.com/arcflow/orchestrator/inference"
	"github.com/arcflow/orchestrator/state"
)

const coderSystemPrompt = `You are an expert code generator. Generate the content for ONE specific file.

Given:
- The overall project task
- The specific file you're generating (path and description)
- Other files in the project (for context on imports/dependencies)

Output ONLY the file content with appropriate code fences.

## Rules
- Generate ONLY the content for the specified file
- Use proper imports from other project files when needed
- Include appropriate comments

## Output Format
` + "```python" + `
# Your code here (or the appropriate language for the file type)
` + "```"

// Coder generates each file in the Architect's plan, grounded on
// agents/coder.py's CoderAgent.
type Coder struct {
	Base
	WorkspaceDir string
}

func NewCoder(b Base, workspaceDir string) *Coder {
	b.AgentName = "coder"
	b.SystemPrompt = coderSystemPrompt
	return &Coder{Base: b, WorkspaceDir: workspaceDir}
}

func (c *Coder) Invoke(ctx context.Context, s *state.OrchestrationState) error {
	if err := os.MkdirAll(c.WorkspaceDir, 0o755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}

	if s.Plan == nil || len(s.Plan.Files) == 0 {
		return c.generateSingleFile(ctx, s)
	}

	allFiles := make([]string, 0, len(s.Plan.Files))
	for _, f := range s.Plan.Files {
		allFiles = append(allFiles, fmt.Sprintf("%s: %s", f.Path, f.Description))
	}

	generated := 0
	for i := range s.Plan.Files {
		fileSpec := &s.Plan.Files[i]
		if fileSpec.Generated {
			continue
		}

		targetPath, err := state.ResolveWorkspacePath(c.WorkspaceDir, fileSpec.Path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return err
		}

		messages := c.buildFilePrompt(s, fileSpec, allFiles)
		response, err := c.CallLLMStreaming(ctx, messages, 2048, targetPath)
		if err != nil {
			return err
		}

		content := extractContent(response, fileSpec.Path)
		if content == "" {
			content = fmt.Sprintf("# TODO: Generate content for %s\n", fileSpec.Path)
			c.Logger.Warn("coder failed to extract content", map[string]interface{}{"path": fileSpec.Path})
		}

		if err := os.WriteFile(targetPath, []byte(content), 0o644); err != nil {
			return err
		}

		s.SetFileContent(fileSpec.Path, content)
		generated++
		c.Bus.Emit(events.TypeFileCreated, c.AgentName, map[string]interface{}{
			"path": fileSpec.Path, "bytes": len(content),
		})
	}

	if len(s.Plan.Files) > 0 {
		last := s.Plan.Files[len(s.Plan.Files)-1]
		s.Code = last.Content
		s.FilePath = filepath.Join(c.WorkspaceDir, last.Path)
	}

	s.AddHistory(c.AgentName, "generate", fmt.Sprintf("Generated %d files", generated))
	return nil
}

func (c *Coder) buildFilePrompt(s *state.OrchestrationState, fileSpec *state.FileSpec, allFiles []string) []inference.Message {
	var other []string
	target := fmt.Sprintf("%s: %s", fileSpec.Path, fileSpec.Description)
	for _, f := range allFiles {
		if f != target {
			other = append(other, "- "+f)
		}
	}

	var existing strings.Builder
	if s.Plan != nil {
		for _, f := range s.Plan.Files {
			if f.Generated && f.Path != fileSpec.Path {
				fmt.Fprintf(&existing, "\n\n### %s\n```\n%s\n```", f.Path, truncate(f.Content, 500))
			}
		}
	}

	prompt := fmt.Sprintf(`Generate the content for this file:

**Project Task:** %s

**File to Generate:** %s
**Description:** %s

**Other Project Files:**
%s
%s

Generate ONLY the content for %s. Output the complete file content in a code block.`,
		s.Task, fileSpec.Path, fileSpec.Description, strings.Join(other, "\n"), existing.String(), fileSpec.Path)

	if s.ReviewAttempts > 0 && !s.ReviewPassed && s.ReviewFeedback != "" {
		prompt += "\n\nThe previous version of this code failed review:\n" + s.ReviewFeedback
	}
	if s.ErrorCount > 0 && s.ExecutionOutput != "" {
		prompt += "\n\nThe previous execution failed with this output:\n" + truncate(s.ExecutionOutput, 1024)
	}

	return []inference.Message{{Role: "user", Content: prompt}}
}

func (c *Coder) generateSingleFile(ctx context.Context, s *state.OrchestrationState) error {
	messages := []inference.Message{{Role: "user", Content: "Write code for: " + s.Task}}
	filename := generateFilename(s.Task)
	targetPath := filepath.Join(c.WorkspaceDir, filename)

	response, err := c.CallLLMStreaming(ctx, messages, 2048, targetPath)
	if err != nil {
		return err
	}
	code := extractContent(response, filename)

	if err := os.WriteFile(targetPath, []byte(code), 0o644); err != nil {
		return err
	}
	c.Bus.Emit(events.TypeCodeWritten, c.AgentName, map[string]interface{}{"path": targetPath, "bytes": len(code)})

	s.Code = code
	s.FilePath = targetPath
	if s.WorkspaceFiles == nil {
		s.WorkspaceFiles = make(map[string]string)
	}
	s.WorkspaceFiles[filename] = code
	s.AddHistory(c.AgentName, "generate", fmt.Sprintf("Generated %s", filename))
	return nil
}

// langsByExt mirrors coder.py's lang_map: which fenced-code-block language
// tags are acceptable for a given file extension.
var langsByExt = map[string][]string{
	".py":   {"python", "py"},
	".txt":  {"txt", "text", ""},
	".json": {"json"},
	".tf":   {"hcl", "terraform"},
	".js":   {"javascript", "js"},
	".ts":   {"typescript", "ts"},
	".html": {"html"},
	".css":  {"css"},
	".yaml": {"yaml", "yml"},
	".yml":  {"yaml", "yml"},
	".md":   {"markdown", "md"},
	".sh":   {"bash", "sh", "shell"},
}

var anyFenceRe = regexp.MustCompile("(?s)```\\w*\\s*(.*?)```")

// extractContent pulls file content out of an LLM response, trying the
// extension-appropriate fence first, then any fence, then a heuristic
// code-likeness check — identical fallback order to coder.py's
// _extract_content.
func extractContent(response, filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, lang := range langsByExt[ext] {
		pattern := regexp.MustCompile("(?is)```" + regexp.QuoteMeta(lang) + `\s*(.*?)` + "```")
		if m := pattern.FindStringSubmatch(response); m != nil {
			return strings.TrimSpace(m[1])
		}
	}

	if m := anyFenceRe.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}

	lines := strings.Split(strings.TrimSpace(response), "\n")
	var codeLines []string
	for _, line := range lines {
		if strings.HasPrefix(line, "Here") || strings.HasPrefix(line, "This") {
			continue
		}
		codeLines = append(codeLines, line)
	}
	joined := strings.Join(codeLines, "\n")
	indicators := []string{"def ", "class ", "import ", "from ", "=", "print(", "return "}
	for _, ind := range indicators {
		if len(codeLines) > 0 && strings.Contains(joined, ind) {
			return joined
		}
	}
	return ""
}

var nonWordRe = regexp.MustCompile(`[^a-z0-9_]`)
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "write": true, "create": true,
	"make": true, "build": true, "python": true, "code": true,
}

// generateFilename derives a legacy single-file name from up to three
// significant task words, per coder.py's _generate_filename.
func generateFilename(task string) string {
	words := strings.Fields(strings.ToLower(task))
	var meaningful []string
	for _, w := range words {
		if isAlnum(w) && !stopWords[w] {
			meaningful = append(meaningful, w)
			if len(meaningful) == 3 {
				break
			}
		}
	}
	name := "generated"
	if len(meaningful) > 0 {
		name = strings.Join(meaningful, "_")
	}
	name = nonWordRe.ReplaceAllString(name, "")
	return name + ".py"
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return s != ""
}
