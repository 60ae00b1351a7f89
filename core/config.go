package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-tunable of the orchestrator. Fields are
// populated by DefaultConfig then overridden by LoadFromEnv, mirroring the
// defaults-then-env-then-options precedence of the framework this engine
// grew out of.
type Config struct {
	WorkspaceDir          string `json:"workspace_dir"`
	InferenceURL          string `json:"inference_url"`
	InferenceFallbackURL  string `json:"inference_fallback_url"`
	InferenceRuntime      string `json:"inference_runtime"`
	InferenceModel        string `json:"inference_model"`
	AgentTimeout          time.Duration `json:"agent_timeout"`
	ExecutionTimeout      time.Duration `json:"execution_timeout"`
	MockLLM               bool   `json:"mock_llm"`
	Port                  int    `json:"port"`
	MaxRecursion          int    `json:"max_recursion"`
	RunRegistryCapacity   int    `json:"run_registry_capacity"`

	Logging LoggingConfig `json:"logging"`

	logger Logger
}

// LoggingConfig controls the ProductionLogger.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Option mutates a Config during construction. Mirrors the functional-options
// pattern used throughout the framework this engine is built on.
type Option func(*Config) error

// WithLogger overrides the logger that would otherwise be built from
// LoggingConfig.
func WithLogger(l Logger) Option {
	return func(c *Config) error {
		c.logger = l
		return nil
	}
}

// WithWorkspaceDir overrides WORKSPACE_DIR programmatically (tests).
func WithWorkspaceDir(dir string) Option {
	return func(c *Config) error {
		c.WorkspaceDir = dir
		return nil
	}
}

// WithMockLLM forces mock-mode regardless of environment.
func WithMockLLM(on bool) Option {
	return func(c *Config) error {
		c.MockLLM = on
		return nil
	}
}

// DefaultConfig returns the documented defaults from SPEC_FULL.md section 6.
func DefaultConfig() *Config {
	return &Config{
		WorkspaceDir:         "/workspace",
		InferenceURL:         "http://inference:8000",
		InferenceFallbackURL: "",
		InferenceRuntime:     "auto",
		InferenceModel:       "tinyllama",
		AgentTimeout:         60 * time.Second,
		ExecutionTimeout:     120 * time.Second,
		MockLLM:              false,
		Port:                 8080,
		MaxRecursion:         50,
		RunRegistryCapacity:  200,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadFromEnv overlays values found in the environment on top of whatever is
// already set. Unset variables leave the existing value untouched, so
// DefaultConfig() followed by LoadFromEnv() gives default-then-env
// precedence.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("WORKSPACE_DIR"); v != "" {
		c.WorkspaceDir = v
	}
	if v := os.Getenv("INFERENCE_URL"); v != "" {
		c.InferenceURL = v
	}
	if v := os.Getenv("INFERENCE_FALLBACK_URL"); v != "" {
		c.InferenceFallbackURL = v
	}
	if v := os.Getenv("INFERENCE_RUNTIME"); v != "" {
		c.InferenceRuntime = v
	}
	if v := os.Getenv("INFERENCE_MODEL"); v != "" {
		c.InferenceModel = v
	}
	if v := os.Getenv("AGENT_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.AgentTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("EXECUTION_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.ExecutionTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("MOCK_LLM"); v != "" {
		c.MockLLM = parseBool(v)
	} else if v := os.Getenv("MOCK_MODE"); v != "" {
		c.MockLLM = parseBool(v)
	}
	if v := os.Getenv("ORCHESTRATOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("ORCHESTRATOR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ORCHESTRATOR_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("MAX_RECURSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRecursion = n
		}
	}
	if v := os.Getenv("RUN_REGISTRY_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RunRegistryCapacity = n
		}
	}
	return nil
}

// Validate rejects configurations that would make the engine misbehave
// rather than fail loudly at startup.
func (c *Config) Validate() error {
	if c.WorkspaceDir == "" {
		return NewFrameworkError("Config.Validate", "config", "", "workspace_dir must not be empty", ErrInvalidConfig)
	}
	if c.InferenceURL == "" {
		return NewFrameworkError("Config.Validate", "config", "", "inference_url must not be empty", ErrInvalidConfig)
	}
	switch c.InferenceRuntime {
	case "local", "gpu", "auto":
	default:
		return NewFrameworkError("Config.Validate", "config", c.InferenceRuntime, "inference_runtime must be local|gpu|auto", ErrInvalidConfig)
	}
	if c.MaxRecursion <= 0 {
		return NewFrameworkError("Config.Validate", "config", "", "max_recursion must be positive", ErrInvalidConfig)
	}
	return nil
}

// NewConfig builds a Config the way the rest of the engine constructs one:
// defaults, then environment, then explicit options, then validation.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, NewFrameworkError("NewConfig", "config", "", "applying option", err)
		}
	}
	if cfg.logger == nil {
		cfg.logger = NewProductionLogger(cfg.Logging, cfg.WorkspaceDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Logger returns the configured logger, building a default one if NewConfig
// was bypassed (e.g. DefaultConfig used directly in a test).
func (c *Config) Logger() Logger {
	if c.logger == nil {
		c.logger = NewProductionLogger(c.Logging, c.WorkspaceDir)
	}
	return c.logger
}

// ProductionLogger is a small structured logger writing JSON or
// human-readable lines to stdout/stderr. It has no external dependency:
// the teacher's equivalent (core.ProductionLogger) is likewise hand-rolled
// rather than built on a third-party logging library, since none of the
// example repos pull one in for this purpose (see DESIGN.md).
type ProductionLogger struct {
	level     string
	debug     bool
	format    string
	output    io.Writer
	component string
}

// NewProductionLogger builds a ProductionLogger from LoggingConfig.
func NewProductionLogger(cfg LoggingConfig, serviceName string) Logger {
	out := io.Writer(os.Stdout)
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	return &ProductionLogger{
		level:     strings.ToLower(cfg.Level),
		debug:     strings.ToLower(cfg.Level) == "debug",
		format:    cfg.Format,
		output:    out,
		component: serviceName,
	}
}

func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{})  { p.log("INFO", msg, fields, nil) }
func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) { p.log("ERROR", msg, fields, nil) }
func (p *ProductionLogger) Warn(msg string, fields map[string]interface{})  { p.log("WARN", msg, fields, nil) }
func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.log("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.log("INFO", msg, fields, ctx)
}
func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.log("ERROR", msg, fields, ctx)
}
func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.log("WARN", msg, fields, ctx)
}
func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.log("DEBUG", msg, fields, ctx)
	}
}

func (p *ProductionLogger) log(level, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"component": p.component,
			"message":   msg,
		}
		if reqID := requestIDFromContext(ctx); reqID != "" {
			entry["request_id"] = reqID
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
		return
	}

	var b strings.Builder
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	fmt.Fprintf(p.output, "%s [%s] [%s] %s%s\n", timestamp, level, p.component, msg, b.String())
}

type requestIDKey struct{}

// WithRequestID attaches a request/run identifier to ctx for log correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
