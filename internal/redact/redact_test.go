package redact

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultTestPipeline() *Pipeline {
	engine := NewEngine()
	return New(engine, engine, Config{}, testLogger())
}

// fakeDetector returns a scripted result regardless of input.
type fakeDetector struct {
	entities []Entity
	err      error
}

func (f *fakeDetector) Detect(text, language string, threshold float64) ([]Entity, error) {
	return f.entities, f.err
}

func TestMaskDefaultPolicyExample(t *testing.T) {
	p := defaultTestPipeline()

	in := "My SSN is 123-45-6789 and email me at a@b.com"
	want := "My SSN is *********89 and email me at {{EMAIL}}"
	if got := p.Mask(in); got != want {
		t.Errorf("Mask() = %q, want %q", got, want)
	}
}

func TestMaskEntityExamples(t *testing.T) {
	p := defaultTestPipeline()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email", "contact bob@example.org today", "contact {{EMAIL}} today"},
		{"phone", "call 555-867-5309 now", "call {{PHONE}} now"},
		{"ip", "server at 192.168.1.10 is down", "server at {{IP}} is down"},
		{"credit card", "card 4111 1111 1111 1111 expired", "card ***************1111 expired"},
		{"person", "hello, my name is Jane Doe and I need help", "hello, my name is {{NAME}} and I need help"},
		{"clean text", "nothing sensitive here", "nothing sensitive here"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Mask(tt.in); got != tt.want {
				t.Errorf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMaskIdempotentOnRedactedOutput(t *testing.T) {
	p := defaultTestPipeline()

	in := "My SSN is 123-45-6789 and email me at a@b.com"
	once := p.Mask(in)
	twice := p.Mask(once)
	if twice != once {
		t.Errorf("Mask() not idempotent: %q then %q", once, twice)
	}
}

func TestMaskFailsOpenOnDetectorError(t *testing.T) {
	det := &fakeDetector{err: errors.New("model load failed")}
	p := New(det, NewEngine(), Config{}, testLogger())

	in := "My SSN is 123-45-6789"
	if got := p.Mask(in); got != in {
		t.Errorf("Mask() = %q, want input unchanged byte for byte", got)
	}
}

type failingRewriter struct{}

func (failingRewriter) Rewrite(text string, plans []Rewrite) (string, error) {
	return "", errors.New("rewrite engine broke")
}

func TestMaskFailsOpenOnRewriteError(t *testing.T) {
	det := &fakeDetector{entities: []Entity{{Type: EntityEmail, Start: 0, End: 7, Score: 1.0}}}
	p := New(det, failingRewriter{}, Config{}, testLogger())

	in := "a@b.com is my address"
	if got := p.Mask(in); got != in {
		t.Errorf("Mask() = %q, want input unchanged", got)
	}
}

func TestMaskDropsInvalidSpans(t *testing.T) {
	// An entity pointing past the end of the text violates the offset
	// invariant and is discarded before rewrite.
	det := &fakeDetector{entities: []Entity{{Type: EntityEmail, Start: 5, End: 500, Score: 1.0}}}
	p := New(det, NewEngine(), Config{}, testLogger())

	in := "short text"
	if got := p.Mask(in); got != in {
		t.Errorf("Mask() = %q, want input unchanged", got)
	}
}

func TestLocationFalsePositiveFilter(t *testing.T) {
	in := "sent from US yesterday"
	start := 10 // "US"
	tests := []struct {
		name  string
		score float64
		want  string
	}{
		{"low confidence suppressed", 0.6, in},
		// At or above the cutoff the hit survives the filter; the
		// policy then routes it through DEFAULT via a replace mapping.
		{"high confidence retained", 0.95, "sent from {{LOC}} yesterday"},
	}

	policy := NewPolicy(map[string]Operator{
		EntityLocation: {Op: OpReplace, Placeholder: "{{LOC}}"},
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := &fakeDetector{entities: []Entity{{Type: EntityLocation, Start: start, End: start + 2, Score: tt.score}}}
			p := New(det, NewEngine(), Config{Policy: policy}, testLogger())
			if got := p.Mask(in); got != tt.want {
				t.Errorf("Mask() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeepOperatorLeavesSpan(t *testing.T) {
	in := "meet me in US"
	det := &fakeDetector{entities: []Entity{{Type: EntityLocation, Start: 11, End: 13, Score: 0.95}}}
	p := New(det, NewEngine(), Config{}, testLogger()) // default policy keeps LOCATION

	if got := p.Mask(in); got != in {
		t.Errorf("Mask() = %q, want unchanged (keep operator)", got)
	}
}

func TestDefaultOperatorForUnmappedType(t *testing.T) {
	in := "id X-99 on file"
	det := &fakeDetector{entities: []Entity{{Type: "EMPLOYEE_ID", Start: 3, End: 7, Score: 0.9}}}
	p := New(det, NewEngine(), Config{}, testLogger())

	if got := p.Mask(in); got != "id {{PII}} on file" {
		t.Errorf("Mask() = %q, want the DEFAULT placeholder", got)
	}
}

func TestReconcileOverlaps(t *testing.T) {
	text := "0123456789"
	entities := []Entity{
		{Type: "A", Start: 0, End: 4, Score: 1},
		{Type: "B", Start: 2, End: 9, Score: 1},  // longest, wins
		{Type: "C", Start: 9, End: 10, Score: 1}, // disjoint, kept
		{Type: "D", Start: -1, End: 3, Score: 1}, // invalid, dropped
	}

	got := reconcile(text, entities)
	if len(got) != 2 {
		t.Fatalf("reconcile() = %d entities, want 2", len(got))
	}
	if got[0].Type != "B" || got[1].Type != "C" {
		t.Errorf("reconcile() kept %s,%s; want B,C", got[0].Type, got[1].Type)
	}
	if got[0].Start > got[1].Start {
		t.Error("reconcile() result not sorted by start")
	}
}

func TestReconcileEqualLengthPrefersRightmost(t *testing.T) {
	text := "abcdefgh"
	entities := []Entity{
		{Type: "LEFT", Start: 0, End: 4, Score: 1},
		{Type: "RIGHT", Start: 2, End: 6, Score: 1},
	}

	got := reconcile(text, entities)
	if len(got) != 1 || got[0].Type != "RIGHT" {
		t.Errorf("reconcile() = %+v, want only RIGHT", got)
	}
}

func TestMaskWithFindings(t *testing.T) {
	p := defaultTestPipeline()

	_, findings := p.MaskWithFindings("a@b.com and c@d.org and 123-45-6789")
	want := map[string]int{EntityEmail: 2, EntitySSN: 1}
	if len(findings) != len(want) {
		t.Fatalf("findings = %+v, want %v", findings, want)
	}
	for _, f := range findings {
		if want[f.EntityType] != f.Count {
			t.Errorf("finding %s = %d, want %d", f.EntityType, f.Count, want[f.EntityType])
		}
	}
}

func TestMaskSpanVisibleRuns(t *testing.T) {
	tests := []struct {
		name string
		op   Operator
		in   string
		want string
	}{
		{"visible end", Operator{Op: OpMask, MaskChar: "*", Visible: 4, VisibleEnd: true}, "4111111111111111", "************1111"},
		{"visible start", Operator{Op: OpMask, MaskChar: "#", Visible: 3}, "ABCDEFGH", "ABC#####"},
		{"visible longer than span", Operator{Op: OpMask, MaskChar: "*", Visible: 10, VisibleEnd: true}, "abc", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskSpan(tt.in, tt.op); got != tt.want {
				t.Errorf("maskSpan() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEngineDetectThreshold(t *testing.T) {
	e := NewEngine()

	// IP rule confidence is 0.6; a higher threshold must exclude it.
	entities, err := e.Detect("host 10.0.0.1 down", "en", 0.7)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	for _, ent := range entities {
		if ent.Type == EntityIP {
			t.Errorf("Detect() returned %s below threshold", ent.Type)
		}
	}
}

func TestEngineRejectsLuhnFailures(t *testing.T) {
	e := NewEngine()
	entities, err := e.Detect("number 1234 5678 9012 3456 is not a card", "en", 0.5)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	for _, ent := range entities {
		if ent.Type == EntityCreditCard {
			t.Error("Detect() accepted a Luhn-invalid card number")
		}
	}
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.toml")
	content := `
[operators.EMAIL_ADDRESS]
op = "replace"
placeholder = "<email>"

[operators.US_SSN]
op = "mask"
mask_char = "#"
visible = 3
visible_end = true

[operators.DEFAULT]
op = "keep"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}

	if op := policy.Resolve(EntityEmail); op.Placeholder != "<email>" {
		t.Errorf("Resolve(email) = %+v", op)
	}
	if op := policy.Resolve(EntitySSN); op.MaskChar != "#" || op.Visible != 3 || !op.VisibleEnd {
		t.Errorf("Resolve(ssn) = %+v", op)
	}
	if op := policy.Resolve("SOMETHING_ELSE"); op.Op != OpKeep {
		t.Errorf("Resolve(unmapped) = %+v, want the file's DEFAULT", op)
	}
}

func TestLoadPolicyRejectsBadOperator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.toml")
	content := `
[operators.EMAIL_ADDRESS]
op = "rot13"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy(path); err == nil {
		t.Fatal("LoadPolicy() accepted an unknown operator")
	}
}
