package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"SafeChat/internal/session"

	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGateway(t *testing.T, gen Generator) *Gateway {
	t.Helper()
	return NewWithGenerator(gen, Description{Variant: VariantOllama, Model: "phi3"},
		testLogger(), tracenoop.NewTracerProvider().Tracer("test"), noop.NewMeterProvider().Meter("test"))
}

type fakeGenerator struct {
	reply string
	err   error
	got   []session.Message
}

func (f *fakeGenerator) Generate(_ context.Context, messages []session.Message, _ float64) (string, error) {
	f.got = messages
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestBuildChainShape(t *testing.T) {
	g := testGateway(t, &fakeGenerator{})

	history := []session.Message{
		{Role: session.RoleUser, Content: "hi"},
		{Role: session.RoleAssistant, Content: "hello"},
	}
	chain := g.BuildChain("be helpful", history, "who are you")

	if len(chain) != 4 {
		t.Fatalf("BuildChain() = %d messages, want 4", len(chain))
	}
	if chain[0].Role != session.RoleSystem || chain[0].Content != "be helpful" {
		t.Errorf("chain[0] = {%s %q}, want the system prompt", chain[0].Role, chain[0].Content)
	}
	if chain[1].Content != "hi" || chain[2].Content != "hello" {
		t.Errorf("history not preserved in order: %v", chain[1:3])
	}
	last := chain[len(chain)-1]
	if last.Role != session.RoleUser || last.Content != "who are you" {
		t.Errorf("chain end = {%s %q}, want the new user message", last.Role, last.Content)
	}
}

func TestBuildChainEmptyHistory(t *testing.T) {
	g := testGateway(t, &fakeGenerator{})
	chain := g.BuildChain("sys", nil, "first message")
	if len(chain) != 2 {
		t.Fatalf("BuildChain() = %d messages, want 2", len(chain))
	}
}

func TestDispatchSuccess(t *testing.T) {
	gen := &fakeGenerator{reply: "hello there"}
	g := testGateway(t, gen)

	reply, err := g.Dispatch(context.Background(), g.BuildChain("sys", nil, "hi"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if reply != "hello there" {
		t.Errorf("Dispatch() = %q, want %q", reply, "hello there")
	}
	if len(gen.got) != 2 {
		t.Errorf("backend received %d messages, want 2", len(gen.got))
	}
}

func TestDispatchClassifiedErrorPassesThrough(t *testing.T) {
	gen := &fakeGenerator{err: newError(KindRateLimited, "slow down", nil)}
	g := testGateway(t, gen)

	_, err := g.Dispatch(context.Background(), nil)
	if KindOf(err) != KindRateLimited {
		t.Errorf("Dispatch() kind = %s, want %s", KindOf(err), KindRateLimited)
	}
}

func TestDispatchUnclassifiedErrorBecomesUnknown(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("surprise")}
	g := testGateway(t, gen)

	_, err := g.Dispatch(context.Background(), nil)
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("Dispatch() error = %T, want *Error", err)
	}
	if pe.Kind != KindUnknown {
		t.Errorf("kind = %s, want %s", pe.Kind, KindUnknown)
	}
	if !errors.Is(err, gen.err) {
		t.Error("original cause was dropped")
	}
}

func TestDescribeNoNetwork(t *testing.T) {
	g := testGateway(t, &fakeGenerator{})
	desc := g.Describe()
	if desc.Variant != VariantOllama || desc.Model != "phi3" {
		t.Errorf("Describe() = %+v", desc)
	}
}

func newOllamaClient(baseURL string) *ollamaClient {
	return &ollamaClient{
		baseURL: baseURL,
		model:   "phi3",
		http:    &http.Client{Timeout: 2 * time.Second},
		tracer:  tracenoop.NewTracerProvider().Tracer("test"),
	}
}

func TestOllamaGenerate(t *testing.T) {
	var gotReq OllamaRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		var resp OllamaResponse
		resp.Message.Role = "assistant"
		resp.Message.Content = "hi from ollama"
		resp.Done = true
		json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	c := newOllamaClient(ts.URL)
	reply, err := c.Generate(context.Background(), []session.Message{
		{Role: session.RoleSystem, Content: "sys"},
		{Role: session.RoleUser, Content: "hi"},
	}, Temperature)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if reply != "hi from ollama" {
		t.Errorf("Generate() = %q", reply)
	}
	if gotReq.Model != "phi3" || gotReq.Stream || len(gotReq.Messages) != 2 {
		t.Errorf("request = %+v", gotReq)
	}
	if gotReq.Messages[0]["role"] != session.RoleSystem {
		t.Errorf("first wire message role = %q, want system", gotReq.Messages[0]["role"])
	}
}

func TestOllamaGenerateStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   Kind
	}{
		{"model missing", http.StatusNotFound, KindModelNotFound},
		{"overloaded", http.StatusTooManyRequests, KindRateLimited},
		{"down", http.StatusServiceUnavailable, KindUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(ollamaErrorBody{Error: "backend says no"})
			}))
			defer ts.Close()

			c := newOllamaClient(ts.URL)
			_, err := c.Generate(context.Background(), nil, Temperature)
			if KindOf(err) != tt.want {
				t.Errorf("kind = %s, want %s", KindOf(err), tt.want)
			}
		})
	}
}

func TestOllamaGenerateUnreachable(t *testing.T) {
	c := newOllamaClient("http://127.0.0.1:1") // nothing listens here
	_, err := c.Generate(context.Background(), nil, Temperature)
	if KindOf(err) != KindUnavailable {
		t.Errorf("kind = %s, want %s", KindOf(err), KindUnavailable)
	}
}

func TestOllamaGenerateTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	c := newOllamaClient(ts.URL)
	c.http.Timeout = 20 * time.Millisecond
	_, err := c.Generate(context.Background(), nil, Temperature)
	if KindOf(err) != KindTimedOut {
		t.Errorf("kind = %s, want %s", KindOf(err), KindTimedOut)
	}
}

func TestAzureGenerate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-key"); got != "secret" {
			t.Errorf("api-key header = %q", got)
		}
		if got := r.URL.Query().Get("api-version"); got != "2024-02-15-preview" {
			t.Errorf("api-version = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"hi from azure"},"finish_reason":"stop"}]}`)
	}))
	defer ts.Close()

	c := &azureClient{
		endpoint:   ts.URL,
		apiKey:     "secret",
		apiVersion: "2024-02-15-preview",
		model:      "gpt-4o-mini",
		http:       &http.Client{Timeout: 2 * time.Second},
		tracer:     tracenoop.NewTracerProvider().Tracer("test"),
	}
	reply, err := c.Generate(context.Background(), []session.Message{{Role: session.RoleUser, Content: "hi"}}, Temperature)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if reply != "hi from azure" {
		t.Errorf("Generate() = %q", reply)
	}
}

func TestAzureGenerateUnauthorized(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		body := azureErrorBody{}
		body.Error.Code = "401"
		body.Error.Message = "Access denied due to invalid subscription key"
		json.NewEncoder(w).Encode(body)
	}))
	defer ts.Close()

	c := &azureClient{
		endpoint: ts.URL, apiKey: "bad", apiVersion: "v", model: "m",
		http:   &http.Client{Timeout: 2 * time.Second},
		tracer: tracenoop.NewTracerProvider().Tracer("test"),
	}
	_, err := c.Generate(context.Background(), nil, Temperature)
	if KindOf(err) != KindUnauthorized {
		t.Errorf("kind = %s, want %s", KindOf(err), KindUnauthorized)
	}
}

func TestNewRejectsUnknownVariant(t *testing.T) {
	_, err := New(Settings{Variant: "carrier-pigeon"}, testLogger(),
		tracenoop.NewTracerProvider().Tracer("test"), noop.NewMeterProvider().Meter("test"))
	if err == nil {
		t.Fatal("New() with unknown variant succeeded, want error")
	}
}
