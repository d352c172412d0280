// Package chat ties the session store, the redaction pipeline and the
// provider gateway into the one externally visible operation:
// process a single conversational turn.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"SafeChat/internal/audit"
	"SafeChat/internal/cache"
	"SafeChat/internal/provider"
	"SafeChat/internal/redact"
	"SafeChat/internal/session"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Input bounds for one turn. Out-of-bounds input is rejected before
// the store or the gateway is touched.
const (
	MaxSessionIDLen = 100
	MaxMessageLen   = 10000
)

// ValidationError marks turn input rejected before any processing.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return e.Detail }

// IsValidation reports whether err is a turn-input rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Orchestrator processes conversational turns. It owns the response
// cache; every other collaborator is injected at construction.
type Orchestrator struct {
	store    *session.Store
	gateway  *provider.Gateway
	redactor *redact.Pipeline
	recorder *audit.Recorder // optional

	systemPrompt     string
	redactionEnabled bool

	replyCache sync.Map
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

// Options configures an Orchestrator.
type Options struct {
	SystemPrompt     string
	RedactionEnabled bool
}

// New wires an orchestrator. The audit recorder may be nil, in which
// case redaction events are only logged.
func New(store *session.Store, gateway *provider.Gateway, redactor *redact.Pipeline,
	recorder *audit.Recorder, opts Options,
	logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Orchestrator {
	return &Orchestrator{
		store:            store,
		gateway:          gateway,
		redactor:         redactor,
		recorder:         recorder,
		systemPrompt:     opts.SystemPrompt,
		redactionEnabled: opts.RedactionEnabled,
		logger:           logger,
		tracer:           tracer,
		meter:            meter,
	}
}

// ProcessTurn runs one turn: validate, redact, assemble the chain,
// dispatch, then record both sides of the exchange. On a dispatch
// failure nothing is appended to the session.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sessionID, userMessage string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "process_turn")
	defer span.End()

	start := time.Now()

	if err := validateInput(sessionID, userMessage); err != nil {
		return "", err
	}

	var findings []redact.Finding
	if o.redactionEnabled {
		userMessage, findings = o.redactor.MaskWithFindings(userMessage)
		if len(findings) > 0 {
			o.recordRedaction(ctx, sessionID, findings)
		}
	}

	history := o.store.History(sessionID)
	chain := o.gateway.BuildChain(o.systemPrompt, history, userMessage)

	key := cache.Key(chain)
	if val, ok := o.replyCache.Load(key); ok {
		cached := val.(cache.CachedReply)
		o.logger.Info("reply cache hit", "session_id", sessionID, "key", key[:16])
		o.store.Append(sessionID, session.RoleUser, userMessage)
		o.store.Append(sessionID, session.RoleAssistant, cached.Reply)
		return cached.Reply, nil
	}

	reply, err := o.gateway.Dispatch(ctx, chain)
	if err != nil {
		o.logger.Error("turn failed", "session_id", sessionID,
			"kind", string(provider.KindOf(err)), "error", err)
		return "", err
	}

	o.replyCache.Store(key, cache.CachedReply{Reply: reply, Timestamp: time.Now()})

	o.store.Append(sessionID, session.RoleUser, userMessage)
	o.store.Append(sessionID, session.RoleAssistant, reply)

	counter, cerr := o.meter.Int64Counter("chat.turns",
		metric.WithDescription("Completed conversational turns"))
	if cerr == nil {
		counter.Add(ctx, 1)
	}

	o.logger.Info("turn completed", "session_id", sessionID,
		"messages", len(chain), "duration_ms", time.Since(start).Milliseconds(),
		"reply_len", len(reply))
	return reply, nil
}

func (o *Orchestrator) recordRedaction(ctx context.Context, sessionID string, findings []redact.Finding) {
	total := 0
	for _, f := range findings {
		total += f.Count
	}
	o.logger.Info("redacted user input", "session_id", sessionID, "entities", total)

	counter, err := o.meter.Int64Counter("redaction.entities",
		metric.WithDescription("Entities rewritten by the redaction pipeline"))
	if err == nil {
		counter.Add(ctx, int64(total))
	}

	if o.recorder != nil {
		o.recorder.Record(sessionID, findings)
	}
}

// SessionCount reports how many sessions the store currently holds.
func (o *Orchestrator) SessionCount() int { return o.store.Count() }

// ClearSession drops a session's history, reporting whether it existed.
func (o *Orchestrator) ClearSession(id string) bool { return o.store.Clear(id) }

// Describe exposes the active backend configuration for health
// reporting. No network call is made.
func (o *Orchestrator) Describe() provider.Description { return o.gateway.Describe() }

func validateInput(sessionID, userMessage string) error {
	if n := utf8.RuneCountInString(sessionID); n < 1 || n > MaxSessionIDLen {
		return &ValidationError{Detail: "session_id must be between 1 and 100 characters"}
	}
	if n := utf8.RuneCountInString(userMessage); n < 1 || n > MaxMessageLen {
		return &ValidationError{Detail: "user_message must be between 1 and 10000 characters"}
	}
	if strings.TrimSpace(userMessage) == "" {
		return &ValidationError{Detail: "user_message cannot be empty"}
	}
	return nil
}
