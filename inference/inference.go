// Package inference implements the resilient LLM inference client described
// in SPEC_FULL.md section 4.4, grounded structurally on
// services/orchestrator/src/inference_client.py (Runtime enum,
// CompletionRequest/Response, InferenceClientFactory.get_client's
// active-then-primary-then-fallback health-check selection) with span
// instrumentation in the style of ai/chain_client.go's per-attempt
// telemetry wrapping.
package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/arcflow/orchestrator/core"
)

// Runtime identifies which backend a Client talks to.
type Runtime string

const (
	RuntimeLlamaCPP Runtime = "llama-cpp"
	RuntimeVLLM     Runtime = "vllm"
	RuntimeAuto     Runtime = "auto"
)

// ModelTier is used by the OOM downgrade ladder: large models are retried
// against progressively smaller ones after an out-of-memory failure.
type ModelTier string

const (
	TierLarge  ModelTier = "large"
	TierMedium ModelTier = "medium"
	TierSmall  ModelTier = "small"
)

// tierLadder maps a tier to the next, smaller tier to fall back to, and the
// model name to request at that tier. Thresholds (GB) are the minimum VRAM
// the tier is expected to need, descending per SPEC_FULL.md's OOM downgrade
// table.
type tierSpec struct {
	tier      ModelTier
	minGB     int
	modelName string
}

var tierLadder = []tierSpec{
	{TierLarge, 20, "large"},
	{TierMedium, 8, "medium"},
	{TierSmall, 4, "small"},
}

// OOMError signals the backend ran out of memory serving a request.
type OOMError struct {
	Tier ModelTier
}

func (e *OOMError) Error() string {
	return fmt.Sprintf("out of memory serving tier %s", e.Tier)
}

// isOOMMessage matches the original's out-of-memory heuristic: a failure
// is treated as OOM when its message mentions "out of memory", "oom", or
// "cuda", regardless of the HTTP status code the backend happened to use.
func isOOMMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "out of memory") || strings.Contains(lower, "oom") || strings.Contains(lower, "cuda")
}

// DisconnectError signals the backend is unreachable and the request has
// been queued for retry rather than failed outright.
type DisconnectError struct {
	Queued bool
}

func (e *DisconnectError) Error() string {
	if e.Queued {
		return "inference backend disconnected, request queued for retry"
	}
	return "inference backend disconnected, queue full"
}

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest mirrors services/orchestrator/src/inference_client.py's
// CompletionRequest dataclass.
type CompletionRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Stream      bool
	Model       string
}

// TokenUsage reports token accounting from the backend, when provided.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse mirrors CompletionResponse.
type CompletionResponse struct {
	Content      string
	Usage        *TokenUsage
	Model        string
	FinishReason string
}

// KVCacheStats holds backend KV-cache usage as used/total tokens. Nothing in
// this package fetches it from the backend or records it as a metric.
type KVCacheStats struct {
	UsedTokens  int
	TotalTokens int
}

func (s KVCacheStats) UtilizationRatio() float64 {
	if s.TotalTokens == 0 {
		return 0
	}
	return float64(s.UsedTokens) / float64(s.TotalTokens)
}

// Client is a single backend connection (one of LlamaCppClient/VLLMClient
// in the original; Go collapses them into one struct since both speak the
// same OpenAI-compatible wire format — the original's subclass split exists
// only to distinguish the runtime label, which Go expresses as a field
// instead).
type Client struct {
	URL       string
	Runtime   Runtime
	HTTP      *http.Client
	Telemetry core.Telemetry
	Logger    core.Logger
}

// NewClient builds a Client against url with the given timeout. The
// transport is wrapped with otelhttp so every outbound call to the
// inference backend carries a client span and propagates trace context,
// the way telemetry.NewTracedHTTPClient wraps outbound calls in the
// teacher's own services.
func NewClient(url string, runtime Runtime, timeout time.Duration, tel core.Telemetry, logger core.Logger) *Client {
	return &Client{
		URL:     url,
		Runtime: runtime,
		HTTP: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Telemetry: tel,
		Logger:    logger,
	}
}

// HealthCheck reports whether the backend answers GET /health with 200.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type chatPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *TokenUsage `json:"usage"`
}

// Complete issues a non-streaming chat completion, wrapped in a span
// following ai/chain_client.go's per-attempt instrumentation convention.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, span := c.Telemetry.StartSpan(ctx, "inference.complete")
	defer span.End()
	span.SetAttribute("inference.runtime", string(c.Runtime))
	span.SetAttribute("inference.model", req.Model)

	payload := chatPayload{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		if isOOMMessage(err.Error()) {
			oomErr := &OOMError{}
			span.RecordError(oomErr)
			return nil, oomErr
		}
		span.RecordError(err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		msg := string(data)
		if isOOMMessage(msg) {
			oomErr := &OOMError{}
			span.RecordError(oomErr)
			return nil, oomErr
		}
		err := fmt.Errorf("inference backend returned %d: %s", resp.StatusCode, msg)
		span.RecordError(err)
		return nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("parsing inference response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		err := fmt.Errorf("inference response had no choices")
		span.RecordError(err)
		return nil, err
	}

	finish := parsed.Choices[0].FinishReason
	if finish == "" {
		finish = "stop"
	}
	model := parsed.Model
	if model == "" {
		model = req.Model
	}

	span.SetAttribute("inference.finish_reason", finish)
	return &CompletionResponse{
		Content:      parsed.Choices[0].Message.Content,
		Usage:        parsed.Usage,
		Model:        model,
		FinishReason: finish,
	}, nil
}

// StreamComplete issues a streaming chat completion, invoking onToken for
// each content delta decoded from the backend's SSE stream. It mirrors the
// original's `data: ` line parsing and `[DONE]` terminator handling.
func (c *Client) StreamComplete(ctx context.Context, req CompletionRequest, onToken func(string)) error {
	ctx, span := c.Telemetry.StartSpan(ctx, "inference.stream_complete")
	defer span.End()

	payload := chatPayload{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		err := fmt.Errorf("inference backend returned %d", resp.StatusCode)
		span.RecordError(err)
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		dataStr := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(dataStr) == "[DONE]" {
			break
		}
		var chunk chatResponse
		if err := json.Unmarshal([]byte(dataStr), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			onToken(content)
		}
	}
	return scanner.Err()
}

// queuedRequest is a request waiting for the backend to reconnect.
type queuedRequest struct {
	req    CompletionRequest
	result chan<- completionOutcome
}

type completionOutcome struct {
	resp *CompletionResponse
	err  error
}

// Factory selects between a primary and fallback Client by health check,
// downgrades model tier on OOM, and queues requests across a backend
// disconnect, per SPEC_FULL.md section 4.4.
type Factory struct {
	primaryURL  string
	fallbackURL string
	runtime     Runtime
	timeout     time.Duration
	telemetry   core.Telemetry
	logger      core.Logger

	mu             sync.Mutex
	primary        *Client
	fallback       *Client
	active         *Client
	maxOOMFallback int

	queueMu           sync.Mutex
	queue             []queuedRequest
	maxQueueSize      int
	maxReconnectTries int
}

// FactoryOption configures a Factory at construction time.
type FactoryOption func(*Factory)

func WithMaxQueueSize(n int) FactoryOption {
	return func(f *Factory) { f.maxQueueSize = n }
}

func WithMaxReconnectAttempts(n int) FactoryOption {
	return func(f *Factory) { f.maxReconnectTries = n }
}

// NewFactory builds a Factory. fallbackURL may be empty.
func NewFactory(primaryURL, fallbackURL string, runtime Runtime, timeout time.Duration, tel core.Telemetry, logger core.Logger, opts ...FactoryOption) *Factory {
	f := &Factory{
		primaryURL:        primaryURL,
		fallbackURL:       fallbackURL,
		runtime:           runtime,
		timeout:           timeout,
		telemetry:         tel,
		logger:            logger,
		maxOOMFallback:    2,
		maxQueueSize:      10,
		maxReconnectTries: 5,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) resolveRuntime() Runtime {
	if f.runtime != RuntimeAuto {
		return f.runtime
	}
	return RuntimeLlamaCPP
}

// GetClient returns a healthy client, preferring the currently active one,
// then the primary, then the fallback — mirroring
// InferenceClientFactory.get_client's selection order exactly.
func (f *Factory) GetClient(ctx context.Context) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active != nil && f.active.HealthCheck(ctx) {
		return f.active
	}

	if f.primary == nil {
		f.primary = NewClient(f.primaryURL, f.resolveRuntime(), f.timeout, f.telemetry, f.logger)
	}
	if f.primary.HealthCheck(ctx) {
		f.active = f.primary
		f.logger.Info("using primary inference", map[string]interface{}{"runtime": string(f.primary.Runtime)})
		return f.active
	}

	if f.fallbackURL != "" {
		if f.fallback == nil {
			f.fallback = NewClient(f.fallbackURL, f.resolveRuntime(), f.timeout, f.telemetry, f.logger)
		}
		if f.fallback.HealthCheck(ctx) {
			f.active = f.fallback
			f.logger.Warn("primary inference unavailable, using fallback", map[string]interface{}{"runtime": string(f.fallback.Runtime)})
			return f.active
		}
	}

	f.logger.Error("no healthy inference service available", nil)
	f.active = f.primary
	return f.active
}

// CompleteWithDowngrade calls Complete on the active client, stepping down
// the model tier ladder on each OOMError up to maxOOMFallback times.
func (f *Factory) CompleteWithDowngrade(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	client := f.GetClient(ctx)
	attempts := 0
	tierIdx := 0
	for {
		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		var oomErr *OOMError
		if !asOOM(err, &oomErr) || attempts >= f.maxOOMFallback || tierIdx >= len(tierLadder)-1 {
			return nil, err
		}
		attempts++
		tierIdx++
		req.Model = tierLadder[tierIdx].modelName
		f.logger.Warn("inference OOM, downgrading model tier", map[string]interface{}{
			"tier":    tierLadder[tierIdx].tier,
			"attempt": attempts,
		})
	}
}

func asOOM(err error, target **OOMError) bool {
	if oe, ok := err.(*OOMError); ok {
		*target = oe
		return true
	}
	return false
}

// Enqueue buffers req for later delivery after a backend disconnect,
// bounded at maxQueueSize. Returns a DisconnectError describing whether the
// request was queued or dropped for being over capacity.
func (f *Factory) Enqueue(req CompletionRequest) error {
	f.queueMu.Lock()
	defer f.queueMu.Unlock()
	if len(f.queue) >= f.maxQueueSize {
		return &DisconnectError{Queued: false}
	}
	f.queue = append(f.queue, queuedRequest{req: req})
	return &DisconnectError{Queued: true}
}

// ProcessQueue attempts to reconnect and drain any queued requests, using
// exponential backoff bounded at 30s: min(2^attempt, 30).
func (f *Factory) ProcessQueue(ctx context.Context) {
	f.queueMu.Lock()
	pending := f.queue
	f.queue = nil
	f.queueMu.Unlock()

	if len(pending) == 0 {
		return
	}

	for attempt := 0; attempt < f.maxReconnectTries; attempt++ {
		client := f.GetClient(ctx)
		if client.HealthCheck(ctx) {
			for _, qr := range pending {
				resp, err := client.Complete(ctx, qr.req)
				if err != nil {
					f.logger.Warn("queued inference request failed", map[string]interface{}{"error": err.Error()})
				}
				if qr.result != nil {
					qr.result <- completionOutcome{resp: resp, err: err}
				}
			}
			return
		}
		delaySeconds := math.Min(math.Pow(2, float64(attempt)), 30)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(delaySeconds * float64(time.Second))):
		}
	}

	for _, qr := range pending {
		if qr.result != nil {
			qr.result <- completionOutcome{err: &DisconnectError{Queued: false}}
		}
	}
}

// EnqueueAndAwait queues req for delivery once the backend reconnects and
// blocks until ProcessQueue delivers an outcome or ctx is done, giving a
// caller on the real request path (rather than a test) a synchronous result
// from the disconnect-queue mechanism instead of a bare "queued" signal.
func (f *Factory) EnqueueAndAwait(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	result := make(chan completionOutcome, 1)
	f.queueMu.Lock()
	if len(f.queue) >= f.maxQueueSize {
		f.queueMu.Unlock()
		return nil, &DisconnectError{Queued: false}
	}
	f.queue = append(f.queue, queuedRequest{req: req, result: result})
	f.queueMu.Unlock()

	go f.ProcessQueue(ctx)

	select {
	case outcome := <-result:
		return outcome.resp, outcome.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close is a no-op placeholder for symmetry with the original factory's
// close(); Go's http.Client needs no explicit teardown.
func (f *Factory) Close() {}
