package redact

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Entity type tags produced by the detection engine. The policy keys
// on these; unmapped types fall back to the DEFAULT operator.
const (
	EntityEmail      = "EMAIL_ADDRESS"
	EntityPhone      = "PHONE_NUMBER"
	EntityCreditCard = "CREDIT_CARD"
	EntityPerson     = "PERSON"
	EntityIP         = "IP_ADDRESS"
	EntityIBAN       = "IBAN_CODE"
	EntitySSN        = "US_SSN"
	EntityLocation   = "LOCATION"
)

// Operator kinds.
const (
	OpReplace = "replace"
	OpMask    = "mask"
	OpKeep    = "keep"
)

// Operator is the rewrite action for one entity type: replace the span
// with a placeholder, mask it leaving a short visible run, or keep it
// unchanged.
type Operator struct {
	Op          string `toml:"op"`
	Placeholder string `toml:"placeholder"`
	MaskChar    string `toml:"mask_char"`
	Visible     int    `toml:"visible"`     // length of the unmasked run
	VisibleEnd  bool   `toml:"visible_end"` // run sits at the end of the span
}

// Policy maps entity types to operators. It is immutable after
// construction and shared read-only across all invocations.
type Policy struct {
	operators map[string]Operator
	fallback  Operator
}

// NewPolicy copies the given mapping. The DEFAULT key, when present,
// overrides the built-in fallback (replace with {{PII}}).
func NewPolicy(operators map[string]Operator) *Policy {
	p := &Policy{
		operators: make(map[string]Operator, len(operators)),
		fallback:  Operator{Op: OpReplace, Placeholder: "{{PII}}"},
	}
	for entity, op := range operators {
		if entity == "DEFAULT" {
			p.fallback = op
			continue
		}
		p.operators[entity] = op
	}
	return p
}

// DefaultPolicy mirrors the stock anonymization rules: identifiers are
// replaced with type-labelled placeholders, card and national-id
// numbers keep only a short visible run, locations pass through.
func DefaultPolicy() *Policy {
	return NewPolicy(map[string]Operator{
		EntityEmail:      {Op: OpReplace, Placeholder: "{{EMAIL}}"},
		EntityPhone:      {Op: OpReplace, Placeholder: "{{PHONE}}"},
		EntityPerson:     {Op: OpReplace, Placeholder: "{{NAME}}"},
		EntityIP:         {Op: OpReplace, Placeholder: "{{IP}}"},
		EntityIBAN:       {Op: OpReplace, Placeholder: "{{IBAN}}"},
		EntityCreditCard: {Op: OpMask, MaskChar: "*", Visible: 4, VisibleEnd: true},
		EntitySSN:        {Op: OpMask, MaskChar: "*", Visible: 2, VisibleEnd: true},
		EntityLocation:   {Op: OpKeep},
	})
}

type policyFile struct {
	Operators map[string]Operator `toml:"operators"`
}

// LoadPolicy reads an operator mapping from a TOML file:
//
//	[operators.EMAIL_ADDRESS]
//	op = "replace"
//	placeholder = "{{EMAIL}}"
//
//	[operators.DEFAULT]
//	op = "replace"
//	placeholder = "{{PII}}"
func LoadPolicy(path string) (*Policy, error) {
	var pf policyFile
	if _, err := toml.DecodeFile(path, &pf); err != nil {
		return nil, fmt.Errorf("failed to load policy file: %w", err)
	}
	for entity, op := range pf.Operators {
		if err := validateOperator(op); err != nil {
			return nil, fmt.Errorf("policy entry %s: %w", entity, err)
		}
	}
	return NewPolicy(pf.Operators), nil
}

func validateOperator(op Operator) error {
	switch op.Op {
	case OpReplace:
		if op.Placeholder == "" {
			return fmt.Errorf("replace operator requires a placeholder")
		}
	case OpMask:
		if op.MaskChar == "" {
			return fmt.Errorf("mask operator requires a mask_char")
		}
		if op.Visible < 0 {
			return fmt.Errorf("mask operator visible run must not be negative")
		}
	case OpKeep:
	default:
		return fmt.Errorf("unknown operator %q", op.Op)
	}
	return nil
}

// Resolve returns the operator for an entity type, falling back to the
// DEFAULT operator for unmapped types.
func (p *Policy) Resolve(entityType string) Operator {
	if op, ok := p.operators[entityType]; ok {
		return op
	}
	return p.fallback
}
