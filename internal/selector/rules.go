package selector

import "fmt"

// RuleSet maps a virtual phenotype name to the specification that selects it.
type RuleSet map[string]Spec

// RuleError reports a malformed phenotype rule definition.
type RuleError struct {
	Name   string
	Reason string
}

func (e *RuleError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("phenotype rule %q: %s", e.Name, e.Reason)
	}
	return "phenotype rule: " + e.Reason
}

// Resolve returns a rule set covering every requested name. Names without an
// entry in rules get a trivial rule selecting the literal phenotype, so plain
// phenotype labels pass through unchanged. Whether a literal phenotype occurs
// in any particular table is not checked here; an empty selection is a valid
// outcome, not an error.
func Resolve(names []string, rules RuleSet) (RuleSet, error) {
	out := make(RuleSet, len(rules)+len(names))
	for name, spec := range rules {
		if err := validateSpec(name, spec); err != nil {
			return nil, err
		}
		out[name] = spec
	}
	for _, name := range names {
		if _, ok := out[name]; !ok {
			out[name] = Phenotype(name)
		}
	}
	return out, nil
}

// validateSpec checks that a rule value is a legal specification. Evaluation
// errors that depend on a table (unknown columns) are deferred to selection
// time.
func validateSpec(rule string, spec Spec) error {
	if spec == nil {
		return &RuleError{Name: rule, Reason: "nil specification"}
	}
	switch s := spec.(type) {
	case Phenotype:
		if s == "" {
			return &RuleError{Name: rule, Reason: "empty phenotype name"}
		}
	case AnyOf:
		for _, name := range s {
			if name == "" {
				return &RuleError{Name: rule, Reason: "empty phenotype name in set"}
			}
		}
	case Predicate:
		if s.Column == "" {
			return &RuleError{Name: rule, Reason: "predicate has no column"}
		}
		if s.Test == nil {
			return &RuleError{Name: rule, Reason: "predicate has no test function"}
		}
	case AllOf:
		for _, member := range s {
			if err := validateSpec(rule, member); err != nil {
				return err
			}
		}
	default:
		return &RuleError{Name: rule, Reason: fmt.Sprintf("unsupported specification type %T", spec)}
	}
	return nil
}
