// Package redact lowers the chance that sensitive personal data
// reaches a backend or lands in session history. The pipeline is
// best-effort and fails open: on any internal error the caller gets
// the original text back rather than a blocked turn.
package redact

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Entity is one detected sensitive span. Offsets are byte offsets into
// the source text with 0 <= Start < End <= len(text).
type Entity struct {
	Type  string
	Start int
	End   int
	Score float64
}

// Detector is the detection capability consumed by the pipeline. The
// built-in Engine implements it; a statistical NER engine can replace
// it without touching the pipeline.
type Detector interface {
	Detect(text, language string, threshold float64) ([]Entity, error)
}

// Rewrite pairs an entity with its resolved operator.
type Rewrite struct {
	Entity   Entity
	Operator Operator
}

// Rewriter applies resolved operators to their spans.
type Rewriter interface {
	Rewrite(text string, plans []Rewrite) (string, error)
}

// Finding summarizes what the pipeline redacted in one call. It never
// carries the covered text.
type Finding struct {
	EntityType string
	Count      int
}

// Short administrative abbreviations that detection engines routinely
// misread as locations next to genuinely sensitive data. They are
// suppressed below the high-confidence cutoff.
var commonAbbreviations = map[string]bool{
	"US": true, "UK": true, "CA": true, "NY": true, "TX": true,
	"FL": true, "IL": true, "PA": true, "OH": true, "MI": true,
}

const highConfidence = 0.9

// Config tunes a Pipeline.
type Config struct {
	Language  string
	Threshold float64
	Policy    *Policy
}

// Pipeline detects sensitive spans, filters known false positives and
// rewrites the survivors per policy. Safe for concurrent use.
type Pipeline struct {
	detector  Detector
	rewriter  Rewriter
	policy    *Policy
	language  string
	threshold float64
	logger    *slog.Logger
}

// New builds a pipeline around an explicit detector and rewriter.
func New(detector Detector, rewriter Rewriter, cfg Config, logger *slog.Logger) *Pipeline {
	policy := cfg.Policy
	if policy == nil {
		policy = DefaultPolicy()
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.5
	}
	return &Pipeline{
		detector:  detector,
		rewriter:  rewriter,
		policy:    policy,
		language:  language,
		threshold: threshold,
		logger:    logger,
	}
}

var (
	defaultOnce     sync.Once
	defaultPipeline *Pipeline
)

// Default returns a process-wide pipeline over the built-in engine.
// The engine compiles its recognizers on first use only; every later
// caller observes the same fully constructed instance.
func Default(cfg Config, logger *slog.Logger) *Pipeline {
	defaultOnce.Do(func() {
		engine := NewEngine()
		defaultPipeline = New(engine, engine, cfg, logger)
	})
	return defaultPipeline
}

// Mask rewrites sensitive spans in text per policy. On any failure the
// original text is returned unchanged.
func (p *Pipeline) Mask(text string) string {
	masked, _ := p.MaskWithFindings(text)
	return masked
}

// MaskWithFindings is Mask plus a per-entity-type summary of what was
// rewritten, for auditing. Findings are nil when nothing was redacted.
func (p *Pipeline) MaskWithFindings(text string) (string, []Finding) {
	if text == "" {
		return text, nil
	}

	entities, err := p.detector.Detect(text, p.language, p.threshold)
	if err != nil {
		p.logger.Warn("entity detection failed, passing text through", "error", err)
		return text, nil
	}
	if len(entities) == 0 {
		return text, nil
	}

	entities = p.filterFalsePositives(text, entities)
	entities = reconcile(text, entities)
	if len(entities) == 0 {
		return text, nil
	}

	plans := make([]Rewrite, 0, len(entities))
	counts := make(map[string]int)
	for _, ent := range entities {
		op := p.policy.Resolve(ent.Type)
		if op.Op == OpKeep {
			continue
		}
		plans = append(plans, Rewrite{Entity: ent, Operator: op})
		counts[ent.Type]++
	}
	if len(plans) == 0 {
		return text, nil
	}

	masked, err := p.rewriter.Rewrite(text, plans)
	if err != nil {
		p.logger.Warn("rewrite failed, passing text through", "error", err)
		return text, nil
	}

	findings := make([]Finding, 0, len(counts))
	for entityType, count := range counts {
		findings = append(findings, Finding{EntityType: entityType, Count: count})
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].EntityType < findings[j].EntityType })
	return masked, findings
}

// filterFalsePositives drops low-confidence location hits on short
// administrative abbreviations ("US", "UK", ...). A hit at or above
// the high-confidence cutoff is kept and rewritten per policy.
func (p *Pipeline) filterFalsePositives(text string, entities []Entity) []Entity {
	filtered := entities[:0]
	for _, ent := range entities {
		if ent.Type == EntityLocation && ent.Score < highConfidence {
			covered := strings.ToUpper(text[ent.Start:ent.End])
			if commonAbbreviations[covered] {
				continue
			}
		}
		filtered = append(filtered, ent)
	}
	return filtered
}

// reconcile validates offsets and resolves overlapping spans. The
// longest span wins; equal lengths resolve to the later (rightmost)
// start. The result is sorted by start offset and non-overlapping.
func reconcile(text string, entities []Entity) []Entity {
	valid := make([]Entity, 0, len(entities))
	for _, ent := range entities {
		if ent.Start < 0 || ent.End <= ent.Start || ent.End > len(text) {
			continue
		}
		valid = append(valid, ent)
	}

	sort.Slice(valid, func(i, j int) bool {
		li, lj := valid[i].End-valid[i].Start, valid[j].End-valid[j].Start
		if li != lj {
			return li > lj
		}
		return valid[i].Start > valid[j].Start
	})

	var accepted []Entity
	for _, ent := range valid {
		overlaps := false
		for _, kept := range accepted {
			if ent.Start < kept.End && kept.Start < ent.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, ent)
		}
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Start < accepted[j].Start })
	return accepted
}
