package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// rule is one compiled recognizer. Rule-based detection carries a
// fixed confidence per rule rather than a learned score.
type rule struct {
	entityType string
	pattern    *regexp.Regexp
	score      float64
	group      int               // submatch index to report, 0 for the whole match
	validate   func(string) bool // optional post-match check
}

// Engine is the built-in rule-based detection and rewrite engine. It
// is expensive to construct (every recognizer is compiled up front)
// and safe for concurrent use once built.
type Engine struct {
	rules []rule
}

// NewEngine compiles the stock recognizer set.
func NewEngine() *Engine {
	return &Engine{rules: []rule{
		{
			entityType: EntityEmail,
			pattern:    regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			score:      1.0,
		},
		{
			entityType: EntitySSN,
			pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			score:      0.85,
		},
		{
			entityType: EntityPhone,
			pattern:    regexp.MustCompile(`\b(?:\+?1[-.\s])?(?:\(\d{3}\)\s?|\d{3}[-.\s])\d{3}[-.\s]\d{4}\b`),
			score:      0.7,
		},
		{
			entityType: EntityCreditCard,
			pattern:    regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`),
			score:      0.8,
			validate:   luhnValid,
		},
		{
			entityType: EntityIP,
			pattern:    regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			score:      0.6,
			validate:   validIPv4,
		},
		{
			entityType: EntityIBAN,
			pattern:    regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
			score:      0.8,
		},
		{
			entityType: EntityPerson,
			pattern:    regexp.MustCompile(`\b(?i:my name is|i am|i'm|this is)\s+([A-Z][a-z]+(?:\s[A-Z][a-z]+)+)`),
			score:      0.85,
			group:      1,
		},
		{
			entityType: EntityLocation,
			pattern:    regexp.MustCompile(`\b(?:US|UK|CA|NY|TX|FL|IL|PA|OH|MI)\b`),
			score:      0.6,
		},
	}}
}

// Detect runs every recognizer over the text and returns entities at
// or above the confidence threshold. The language parameter is
// accepted for interface compatibility; the built-in rules are
// language-neutral patterns.
func (e *Engine) Detect(text, language string, threshold float64) ([]Entity, error) {
	if text == "" {
		return nil, nil
	}

	var entities []Entity
	for _, r := range e.rules {
		if r.score < threshold {
			continue
		}
		for _, match := range r.pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := match[2*r.group], match[2*r.group+1]
			if start < 0 || end <= start {
				continue
			}
			if r.validate != nil && !r.validate(text[start:end]) {
				continue
			}
			entities = append(entities, Entity{
				Type:  r.entityType,
				Start: start,
				End:   end,
				Score: r.score,
			})
		}
	}
	return entities, nil
}

// Rewrite applies each plan's operator to its span and copies all text
// outside the spans unchanged. Plans must be non-overlapping and
// sorted by start offset; the pipeline reconciles overlaps before
// calling this.
func (e *Engine) Rewrite(text string, plans []Rewrite) (string, error) {
	var b strings.Builder
	b.Grow(len(text))

	pos := 0
	for _, plan := range plans {
		if plan.Entity.Start < pos || plan.Entity.End > len(text) {
			return "", fmt.Errorf("rewrite span [%d,%d) out of order or out of range", plan.Entity.Start, plan.Entity.End)
		}
		b.WriteString(text[pos:plan.Entity.Start])
		b.WriteString(applyOperator(text[plan.Entity.Start:plan.Entity.End], plan.Operator))
		pos = plan.Entity.End
	}
	b.WriteString(text[pos:])
	return b.String(), nil
}

func applyOperator(span string, op Operator) string {
	switch op.Op {
	case OpReplace:
		return op.Placeholder
	case OpMask:
		return maskSpan(span, op)
	case OpKeep:
		return span
	default:
		// Unknown operators keep the span; the policy loader rejects
		// them before they can reach a live pipeline.
		return span
	}
}

// maskSpan replaces all but the visible run with the mask character.
func maskSpan(span string, op Operator) string {
	runes := []rune(span)
	visible := op.Visible
	if visible > len(runes) {
		visible = len(runes)
	}

	masked := strings.Repeat(op.MaskChar, len(runes)-visible)
	if op.VisibleEnd {
		return masked + string(runes[len(runes)-visible:])
	}
	return string(runes[:visible]) + masked
}

// luhnValid reports whether the digits of s form a valid Luhn
// checksum. Separators (spaces, dashes) are ignored.
func luhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func validIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if len(part) > 1 && part[0] == '0' {
			return false
		}
		n := 0
		for _, r := range part {
			n = n*10 + int(r-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}
