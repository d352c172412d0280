// Package provider dispatches an ordered message chain to one of two
// interchangeable text-generation backends and normalizes their
// failures into a shared taxonomy.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"SafeChat/internal/session"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Provider variants. Exactly one is active per process lifetime.
const (
	VariantOllama = "ollama"
	VariantAzure  = "azure"
)

// Temperature is fixed for every dispatch; neither variant exposes it
// to callers.
const Temperature = 0.7

// Settings carries the connection parameters for the active variant.
type Settings struct {
	Variant string

	// Ollama
	BaseURL string

	// Azure OpenAI
	Endpoint   string
	APIKey     string
	APIVersion string

	Model   string
	Timeout time.Duration
}

// Description is the no-network health view of the active backend.
type Description struct {
	Variant  string `json:"provider"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
}

// Generator is the single capability both backend variants implement:
// take an ordered message chain and a sampling temperature, return
// generated text or fail with an implementation-specific error that
// the client maps to the taxonomy at its own boundary.
type Generator interface {
	Generate(ctx context.Context, messages []session.Message, temperature float64) (string, error)
}

// Gateway owns the active backend client plus its fixed configuration.
// It holds no mutable state.
type Gateway struct {
	generator Generator
	desc      Description
	logger    *slog.Logger
	tracer    trace.Tracer
	meter     metric.Meter
}

// New selects and constructs the backend client for the configured
// variant. The variant is fixed for the life of the returned Gateway.
func New(cfg Settings, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*Gateway, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	var gen Generator
	var desc Description
	switch cfg.Variant {
	case VariantOllama:
		gen = &ollamaClient{baseURL: cfg.BaseURL, model: cfg.Model, http: httpClient, tracer: tracer}
		desc = Description{Variant: VariantOllama, Model: cfg.Model, Endpoint: cfg.BaseURL}
	case VariantAzure:
		gen = &azureClient{
			endpoint:   cfg.Endpoint,
			apiKey:     cfg.APIKey,
			apiVersion: cfg.APIVersion,
			model:      cfg.Model,
			http:       httpClient,
			tracer:     tracer,
		}
		desc = Description{Variant: VariantAzure, Model: cfg.Model, Endpoint: cfg.Endpoint}
	default:
		return nil, fmt.Errorf("unknown provider variant: %q", cfg.Variant)
	}

	logger.Info("provider configured",
		"variant", desc.Variant, "model", desc.Model, "endpoint", desc.Endpoint)

	return &Gateway{
		generator: gen,
		desc:      desc,
		logger:    logger,
		tracer:    tracer,
		meter:     meter,
	}, nil
}

// NewWithGenerator wires an explicit Generator, mainly for tests.
func NewWithGenerator(gen Generator, desc Description, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Gateway {
	return &Gateway{generator: gen, desc: desc, logger: logger, tracer: tracer, meter: meter}
}

// BuildChain assembles the ordered chain for one turn: one system
// message, the session history with roles preserved, then one user
// message for the new input.
func (g *Gateway) BuildChain(systemPrompt string, history []session.Message, userMessage string) []session.Message {
	chain := make([]session.Message, 0, len(history)+2)
	chain = append(chain, session.Message{Role: session.RoleSystem, Content: systemPrompt})
	chain = append(chain, history...)
	chain = append(chain, session.Message{Role: session.RoleUser, Content: userMessage})
	return chain
}

// Dispatch sends the chain to the active backend and returns the reply
// text. Failures always come back as *Error with a taxonomy kind;
// anything the client could not classify is KindUnknown, never
// swallowed.
func (g *Gateway) Dispatch(ctx context.Context, chain []session.Message) (string, error) {
	ctx, span := g.tracer.Start(ctx, "provider_dispatch")
	defer span.End()

	start := time.Now()
	reply, err := g.generator.Generate(ctx, chain, Temperature)
	duration := time.Since(start)

	histogram, herr := g.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if herr == nil {
		histogram.Record(ctx, float64(duration.Milliseconds()))
	}

	if err != nil {
		perr, ok := err.(*Error)
		if !ok {
			perr = newError(KindUnknown, fmt.Sprintf("%s dispatch failed", g.desc.Variant), err)
		}
		g.logger.Error("dispatch failed",
			"variant", g.desc.Variant, "kind", string(perr.Kind), "error", err)
		return "", perr
	}

	g.logger.Info("dispatch completed",
		"variant", g.desc.Variant, "messages", len(chain),
		"duration_ms", duration.Milliseconds(), "reply_len", len(reply))
	return reply, nil
}

// Describe reports the active configuration without touching the
// network.
func (g *Gateway) Describe() Description { return g.desc }
