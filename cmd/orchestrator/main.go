// Command orchestrator wires the full agent pipeline together and serves it
// over HTTP/WebSocket. The OpenTelemetry provider setup (OTLP exporter when
// OTEL_EXPORTER_OTLP_ENDPOINT is set, stdout exporter otherwise) is grounded
// on pkg/telemetry/otel.go's NewAutoOTEL; the rest of the wiring follows the
// defaults-then-env-then-options Config pattern from core/config.go.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/arcflow/orchestrator/agents"
	"github.com/arcflow/orchestrator/core"
	"github.com/arcflow/orchestrator/engine"
	"github.com/arcflow/orchestrator/events"
	"github.com/arcflow/orchestrator/inference"
	"github.com/arcflow/orchestrator/sandbox"
	"github.com/arcflow/orchestrator/tools"
	"github.com/arcflow/orchestrator/transport"
)

func main() {
	cfg, err := core.NewConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	logger := cfg.Logger()

	shutdownTracing, err := setupTracing(cfg)
	if err != nil {
		logger.Error("failed to set up tracing", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	if err := setupMetrics(); err != nil {
		logger.Error("failed to set up metrics", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	tel := core.NewOtelTelemetry("orchestrator")
	bus := events.New()

	inferenceFactory := inference.NewFactory(
		cfg.InferenceURL, cfg.InferenceFallbackURL, inference.Runtime(cfg.InferenceRuntime),
		cfg.AgentTimeout, tel, logger,
	)
	toolRegistry := tools.DefaultRegistry(cfg.WorkspaceDir)

	base := agents.Base{
		Inference: inferenceFactory, Tools: toolRegistry, Bus: bus,
		Logger: logger, Telemetry: tel, Model: cfg.InferenceModel,
		MockLLM: cfg.MockLLM, AgentTimeout: cfg.AgentTimeout,
	}

	architect := agents.NewArchitect(base)
	coder := agents.NewCoder(base, cfg.WorkspaceDir)
	reviewer := agents.NewReviewer(base)
	runner := &sandbox.Runner{WorkspaceDir: cfg.WorkspaceDir, ExecutionTimeout: cfg.ExecutionTimeout}
	executor := agents.NewExecutor(base, runner)

	machine := engine.NewStateMachine(architect, coder, reviewer, executor, bus, logger, tel, cfg.MaxRecursion)
	eng := engine.NewEngine(machine, cfg.RunRegistryCapacity)

	server := transport.NewServer(eng, logger, promhttp.Handler())
	mux := http.NewServeMux()
	server.Routes(mux)

	devMode := cfg.Logging.Level == "debug"
	traced := otelhttp.NewHandler(mux, "orchestrator")
	handler := core.RecoveryMiddleware(logger)(core.LoggingMiddleware(logger, devMode)(traced))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ExecutionTimeout + cfg.AgentTimeout,
	}

	go func() {
		logger.Info("orchestrator listening", map[string]interface{}{"port": cfg.Port})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}()

	waitForShutdown(httpServer, logger)
}

func waitForShutdown(server *http.Server, logger core.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}

// setupTracing installs the global OTel tracer provider, preferring an OTLP
// gRPC exporter when OTEL_EXPORTER_OTLP_ENDPOINT is set and falling back to
// a stdout exporter otherwise, per pkg/telemetry/otel.go's
// setupTraceProvider.
func setupTracing(cfg *core.Config) (func(context.Context) error, error) {
	ctx := context.Background()

	var tp *sdktrace.TracerProvider
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("creating OTLP exporter: %w", err)
		}
		tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	} else {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	}

	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// setupMetrics installs the global OTel meter provider backed by a
// Prometheus exporter, per SPEC_FULL.md section 6's GET /metrics contract.
// The exporter registers itself as a collector against the default
// Prometheus registry, so promhttp.Handler() in main serves exactly the
// counters/gauges/histograms core.OtelTelemetry records through
// otel.Meter("orchestrator").
func setupMetrics() error {
	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("creating Prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)
	return nil
}
