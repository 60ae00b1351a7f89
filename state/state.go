// Package state defines the OrchestrationState aggregate that flows through
// the agent pipeline, grounded on
// services/orchestrator/src/state.py's OrchestratorState (add_history,
// can_retry) and generalized per SPEC_FULL.md section 3 to carry the full
// plan/file/execution-plan shape the distilled Pydantic model omitted.
package state

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PreviewType is how a running project should be surfaced to the user.
type PreviewType string

const (
	PreviewTerminal PreviewType = "terminal"
	PreviewIframe   PreviewType = "iframe"
	PreviewNone     PreviewType = "none"
)

// FileSpec is one file in an Architect-produced plan.
type FileSpec struct {
	Path        string
	Description string
	Content     string
	Generated   bool
}

// ExecutionStep is one command in an ExecutionPlan.
type ExecutionStep struct {
	Cmd             string
	Label           string
	Background      bool
	Port            int
	RequiresApproval bool
}

// ExecutionPlan is the ordered set of commands that run after code
// generation, plus how the result should be previewed.
type ExecutionPlan struct {
	Steps       []ExecutionStep
	PreviewType PreviewType
	PreviewURL  string
}

// Plan is the Architect's structured output.
type Plan struct {
	ProjectName string
	Summary     string
	Files       []FileSpec
	Execution   ExecutionPlan
}

// HistoryEntry is one append-only audit record of an agent transition.
type HistoryEntry struct {
	Agent  string
	Action string
	Result string
}

// Message is one turn of conversation memory used for context passing
// between agent calls.
type Message struct {
	Role       string
	Content    string
	Agent      string
	Compressed bool
}

// OrchestrationState is the single aggregate mutated sequentially by each
// agent node. It is owned by exactly one run; callers must not mutate it
// concurrently from multiple goroutines.
type OrchestrationState struct {
	Task string

	Plan *Plan

	CurrentFileIndex int
	CurrentSubtask   string

	// Code/FilePath preserve the legacy single-file view for the fallback
	// path and for older callers that only care about "the" generated file.
	Code     string
	FilePath string

	ReviewPassed      bool
	ReviewFeedback    string
	ReviewAttempts    int
	MaxReviewAttempts int

	ExecutionOutput  string
	ExecutionSuccess bool
	PreviewURL       string

	ErrorCount  int
	MaxRetries  int
	CurrentAgent string

	History []HistoryEntry
	Messages []Message

	ContextTokens       int
	MaxContextTokens    int
	ContextCompressed   bool

	WorkspaceFiles map[string]string
}

// New builds an OrchestrationState with the documented defaults
// (max_review_attempts=2, max_retries=3, max_context_tokens=4096).
func New(task string) *OrchestrationState {
	return &OrchestrationState{
		Task:              task,
		MaxReviewAttempts: 2,
		MaxRetries:        3,
		MaxContextTokens:  4096,
		WorkspaceFiles:    make(map[string]string),
	}
}

// AddHistory appends an audit entry. agent must be a non-empty name of an
// agent that has actually been scheduled in this run — callers are
// responsible for that invariant; AddHistory only guards against the empty
// case since an anonymous history entry can never be attributed back to a
// scheduled agent.
func (s *OrchestrationState) AddHistory(agent, action, result string) {
	if agent == "" {
		agent = "unknown"
	}
	s.History = append(s.History, HistoryEntry{Agent: agent, Action: action, Result: result})
}

// CanRetry reports whether another execution retry is permitted.
func (s *OrchestrationState) CanRetry() bool {
	return s.ErrorCount < s.MaxRetries
}

// CanReviewRetry reports whether another review-triggered Coder pass is
// permitted: ReviewAttempts < MaxReviewAttempts. The engine's router applies
// the same test after Reviewer.Invoke has already incremented
// ReviewAttempts for the round just run (see DESIGN.md's note on the
// review_attempts off-by-one Open Question).
func (s *OrchestrationState) CanReviewRetry() bool {
	return s.ReviewAttempts < s.MaxReviewAttempts
}

// ResolveWorkspacePath joins a workspace-relative path onto workspaceDir
// and verifies the result does not escape it, returning an error instead
// of the resolved path if it does.
func ResolveWorkspacePath(workspaceDir, relPath string) (string, error) {
	absWorkspace, err := filepath.Abs(workspaceDir)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(absWorkspace, relPath)
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if absJoined != absWorkspace && !strings.HasPrefix(absJoined, absWorkspace+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace %q", relPath, workspaceDir)
	}
	return absJoined, nil
}

// SetFileContent records generated content for a plan file by path,
// updating both Plan.Files and WorkspaceFiles, and marking it generated.
func (s *OrchestrationState) SetFileContent(path, content string) {
	if s.WorkspaceFiles == nil {
		s.WorkspaceFiles = make(map[string]string)
	}
	s.WorkspaceFiles[path] = content
	if s.Plan == nil {
		return
	}
	for i := range s.Plan.Files {
		if s.Plan.Files[i].Path == path {
			s.Plan.Files[i].Content = content
			s.Plan.Files[i].Generated = true
			return
		}
	}
}

// AllFilesGenerated reports whether every planned file has content.
func (s *OrchestrationState) AllFilesGenerated() bool {
	if s.Plan == nil {
		return true
	}
	for _, f := range s.Plan.Files {
		if !f.Generated {
			return false
		}
	}
	return true
}

// NextUngenerated returns the index of the first ungenerated file in the
// plan, or -1 if all files are generated (or there is no plan).
func (s *OrchestrationState) NextUngenerated() int {
	if s.Plan == nil {
		return -1
	}
	for i, f := range s.Plan.Files {
		if !f.Generated {
			return i
		}
	}
	return -1
}

// CompressMessages implements the conversation-memory compression law from
// SPEC_FULL.md section 9: a pure function of (messages, keepRecent). It
// keeps the last keepRecent messages verbatim, folds everything before that
// into one synthetic summary message, and is a no-op if the conversation is
// already below maxContextTokens or already compressed with nothing new to
// fold.
func (s *OrchestrationState) CompressMessages(keepRecent int) {
	if s.ContextTokens < s.MaxContextTokens {
		return
	}
	if len(s.Messages) <= keepRecent {
		return
	}
	cut := len(s.Messages) - keepRecent
	var summary strings.Builder
	summary.WriteString("[compressed context] ")
	for _, m := range s.Messages[:cut] {
		summary.WriteString(m.Role)
		summary.WriteString(": ")
		if len(m.Content) > 80 {
			summary.WriteString(m.Content[:80])
		} else {
			summary.WriteString(m.Content)
		}
		summary.WriteString(" ")
	}
	compacted := append([]Message{{Role: "system", Content: summary.String(), Compressed: true}}, s.Messages[cut:]...)
	s.Messages = compacted
	s.ContextCompressed = true
	s.ContextTokens = EstimateTokens(compacted)
}

// EstimateTokens approximates token count as chars/4, per SPEC_FULL.md's
// context_tokens definition.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	return total
}

// KVCacheStats reports backend KV-cache utilization, read-only to agents.
type KVCacheStats struct {
	UsedBlocks        int
	TotalBlocks       int
	UtilizationPercent float64
	GPUMemoryUsedMB    float64
	GPUMemoryTotalMB   float64
}

// NewKVCacheStats derives UtilizationPercent from used/total blocks.
func NewKVCacheStats(usedBlocks, totalBlocks int, gpuUsedMB, gpuTotalMB float64) KVCacheStats {
	util := 0.0
	if totalBlocks > 0 {
		util = float64(usedBlocks) / float64(totalBlocks) * 100
	}
	return KVCacheStats{
		UsedBlocks:         usedBlocks,
		TotalBlocks:        totalBlocks,
		UtilizationPercent: util,
		GPUMemoryUsedMB:    gpuUsedMB,
		GPUMemoryTotalMB:   gpuTotalMB,
	}
}
