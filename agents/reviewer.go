package agents

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"regexp"
	"strings"

	"github.com/arcflow/orchestrator/events"
	"github.com/arcflow/orchestrator/state"
)

// dangerousPatterns mirrors reviewer.py's DANGEROUS_PATTERNS: constructs
// that should never appear in generated code regardless of language.
var dangerousPatterns = []struct {
	re      *regexp.Regexp
	message string
}{
	{regexp.MustCompile(`eval\s*\(`), "use of eval()"},
	{regexp.MustCompile(`exec\s*\(`), "use of exec()"},
	{regexp.MustCompile(`__import__\s*\(`), "dynamic import via __import__()"},
	{regexp.MustCompile(`os\.system\s*\(`), "shell execution via os.system()"},
	{regexp.MustCompile(`subprocess\.call\s*\([^)]*shell\s*=\s*[Tt]rue`), "shell=True subprocess invocation"},
	{regexp.MustCompile(`open\s*\([^)]*,\s*['"]w['"]`), "writing to an arbitrary file"},
}

const maxLineLength = 120

// Reviewer runs static syntax, security, and quality checks with no LLM
// call, grounded on agents/reviewer.py's ReviewerAgent.
type Reviewer struct {
	Base
}

func NewReviewer(b Base) *Reviewer {
	b.AgentName = "reviewer"
	return &Reviewer{Base: b}
}

func (r *Reviewer) Invoke(ctx context.Context, s *state.OrchestrationState) error {
	var issues []string

	files := generatedFiles(s)
	for _, f := range files {
		issues = append(issues, checkSyntax(f.path, f.content)...)
		issues = append(issues, checkSecurity(f.content)...)
		issues = append(issues, checkQuality(f.content)...)
	}

	s.ReviewAttempts++
	s.ReviewPassed = len(issues) == 0
	s.ReviewFeedback = strings.Join(issues, "\n")

	r.Bus.Emit(events.TypeCodeReviewed, r.AgentName, map[string]interface{}{
		"passed":      s.ReviewPassed,
		"issue_count": len(issues),
		"attempt":     s.ReviewAttempts,
	})

	result := "passed"
	if !s.ReviewPassed {
		result = fmt.Sprintf("%d issues", len(issues))
	}
	s.AddHistory(r.AgentName, "review", result)
	return nil
}

type reviewedFile struct {
	path    string
	content string
}

func generatedFiles(s *state.OrchestrationState) []reviewedFile {
	if s.Plan != nil && len(s.Plan.Files) > 0 {
		var out []reviewedFile
		for _, f := range s.Plan.Files {
			if f.Generated {
				out = append(out, reviewedFile{path: f.Path, content: f.Content})
			}
		}
		return out
	}
	if s.Code != "" {
		return []reviewedFile{{path: s.FilePath, content: s.Code}}
	}
	return nil
}

// checkSyntax parses Go files with go/parser (this engine's host language
// has a real grammar available, unlike the Python original's ast.parse).
// Python files, the pipeline's actual generated-code target, get a
// structural/heuristic parse (balanced brackets, indentation-colon check)
// since there is no embedded Python grammar to check against. Every other
// extension skips the syntax stage entirely.
func checkSyntax(path, content string) []string {
	switch {
	case strings.HasSuffix(path, ".go"):
		fset := token.NewFileSet()
		if _, err := parser.ParseFile(fset, path, content, parser.AllErrors); err != nil {
			return []string{fmt.Sprintf("Line: %s", err.Error())}
		}
		return nil
	case strings.HasSuffix(path, ".py"):
		return checkPythonSyntax(content)
	default:
		return nil
	}
}

// checkPythonSyntax applies two structural checks in place of a real
// parse: bracket balance (tracking string literals and # comments so
// brackets inside them aren't counted) and an indentation check after
// every line ending in ':' (the block it opens must be indented deeper
// than the line itself).
func checkPythonSyntax(content string) []string {
	var issues []string
	if msg, ok := checkBalancedBrackets(content); !ok {
		issues = append(issues, msg)
	}
	issues = append(issues, checkIndentationColons(content)...)
	return issues
}

func checkBalancedBrackets(content string) (string, bool) {
	type frame struct {
		ch   byte
		line int
	}
	closing := map[byte]byte{'(': ')', '[': ']', '{': '}'}
	var stack []frame
	line := 1
	var quote byte

	for i := 0; i < len(content); i++ {
		c := content[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			} else if c == '\n' {
				line++
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '#':
			for i < len(content) && content[i] != '\n' {
				i++
			}
			line++
		case c == '\n':
			line++
		case c == '(' || c == '[' || c == '{':
			stack = append(stack, frame{c, line})
		case c == ')' || c == ']' || c == '}':
			if len(stack) == 0 {
				return fmt.Sprintf("Line %d: unmatched '%c'", line, c), false
			}
			top := stack[len(stack)-1]
			if closing[top.ch] != c {
				return fmt.Sprintf("Line %d: mismatched '%c', expected '%c'", line, c, closing[top.ch]), false
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return fmt.Sprintf("Line %d: unclosed '%c'", top.line, top.ch), false
	}
	return "", true
}

func checkIndentationColons(content string) []string {
	lines := strings.Split(content, "\n")
	var issues []string
	for i, raw := range lines {
		trimmed := strings.TrimRight(raw, " \t")
		stripped := strings.TrimSpace(trimmed)
		if stripped == "" || strings.HasPrefix(stripped, "#") || !strings.HasSuffix(trimmed, ":") {
			continue
		}
		indent := len(raw) - len(strings.TrimLeft(raw, " \t"))

		next := -1
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "" {
				continue
			}
			next = j
			break
		}
		if next == -1 {
			issues = append(issues, fmt.Sprintf("Line %d: expected an indented block after ':'", i+1))
			continue
		}
		nextIndent := len(lines[next]) - len(strings.TrimLeft(lines[next], " \t"))
		if nextIndent <= indent {
			issues = append(issues, fmt.Sprintf("Line %d: expected an indented block after ':'", i+1))
		}
	}
	return issues
}

func checkSecurity(content string) []string {
	var issues []string
	for _, p := range dangerousPatterns {
		if p.re.MatchString(content) {
			issues = append(issues, "Security: "+p.message)
		}
	}
	return issues
}

func checkQuality(content string) []string {
	var longLines []int
	for i, line := range strings.Split(content, "\n") {
		if len(line) > maxLineLength {
			longLines = append(longLines, i+1)
			if len(longLines) >= 3 {
				break
			}
		}
	}
	if len(longLines) == 0 {
		return nil
	}
	return []string{fmt.Sprintf("Quality: Lines too long (>120 chars): %v", longLines)}
}
