package selector

import (
	"fmt"
)

// ParseSpec converts a decoded YAML or JSON document into a specification.
// Supported forms:
//
//	"CD8+"                               phenotype name
//	["CD8+", "CD8+ PD1+"]                set of names (OR)
//	{column: "PDL1", op: ">", value: 3}  column predicate
//	{all: [...]}                         collection (AND), members recurse
//	{any: [...]}                         set of names (OR), explicit form
//
// Anything else is a RuleError.
func ParseSpec(doc interface{}) (Spec, error) {
	return parseSpec("", doc)
}

// ParseRuleSet converts a decoded mapping of rule name to specification
// document into a RuleSet.
func ParseRuleSet(docs map[string]interface{}) (RuleSet, error) {
	rules := make(RuleSet, len(docs))
	for name, doc := range docs {
		spec, err := parseSpec(name, doc)
		if err != nil {
			return nil, err
		}
		rules[name] = spec
	}
	return rules, nil
}

func parseSpec(rule string, doc interface{}) (Spec, error) {
	switch d := doc.(type) {
	case string:
		if d == "" {
			return nil, &RuleError{Name: rule, Reason: "empty phenotype name"}
		}
		return Phenotype(d), nil

	case []interface{}:
		names, err := stringList(rule, d)
		if err != nil {
			return nil, err
		}
		return AnyOf(names), nil

	case map[string]interface{}:
		if members, ok := d["all"]; ok {
			list, ok := members.([]interface{})
			if !ok {
				return nil, &RuleError{Name: rule, Reason: "\"all\" must be a list"}
			}
			specs := make(AllOf, 0, len(list))
			for _, m := range list {
				s, err := parseSpec(rule, m)
				if err != nil {
					return nil, err
				}
				specs = append(specs, s)
			}
			return specs, nil
		}
		if members, ok := d["any"]; ok {
			list, ok := members.([]interface{})
			if !ok {
				return nil, &RuleError{Name: rule, Reason: "\"any\" must be a list"}
			}
			names, err := stringList(rule, list)
			if err != nil {
				return nil, err
			}
			return AnyOf(names), nil
		}
		if _, ok := d["column"]; ok {
			return parsePredicate(rule, d)
		}
		return nil, &RuleError{Name: rule, Reason: "mapping must contain \"all\", \"any\" or \"column\""}

	default:
		return nil, &RuleError{Name: rule, Reason: fmt.Sprintf("unsupported specification document %T", doc)}
	}
}

func parsePredicate(rule string, doc map[string]interface{}) (Spec, error) {
	column, ok := doc["column"].(string)
	if !ok || column == "" {
		return nil, &RuleError{Name: rule, Reason: "predicate \"column\" must be a non-empty string"}
	}
	op, ok := doc["op"].(string)
	if !ok {
		return nil, &RuleError{Name: rule, Reason: "predicate is missing \"op\""}
	}
	value, ok := doc["value"]
	if !ok {
		return nil, &RuleError{Name: rule, Reason: "predicate is missing \"value\""}
	}

	if s, ok := value.(string); ok {
		switch op {
		case "==", "eq":
			return EqualsText(column, s), nil
		default:
			return nil, &RuleError{Name: rule, Reason: fmt.Sprintf("operator %q not supported for text values", op)}
		}
	}

	threshold, err := numValue(value)
	if err != nil {
		return nil, &RuleError{Name: rule, Reason: err.Error()}
	}

	switch op {
	case ">", "gt":
		return GreaterThan(column, threshold), nil
	case ">=", "ge":
		return AtLeast(column, threshold), nil
	case "<", "lt":
		return LessThan(column, threshold), nil
	case "<=", "le":
		return AtMost(column, threshold), nil
	case "==", "eq":
		return numericPredicate(column, func(v float64) bool { return v == threshold }), nil
	case "!=", "ne":
		return numericPredicate(column, func(v float64) bool { return v != threshold }), nil
	default:
		return nil, &RuleError{Name: rule, Reason: fmt.Sprintf("unknown operator %q", op)}
	}
}

func stringList(rule string, list []interface{}) ([]string, error) {
	names := make([]string, 0, len(list))
	for _, m := range list {
		s, ok := m.(string)
		if !ok || s == "" {
			return nil, &RuleError{Name: rule, Reason: "phenotype sets may only contain non-empty names"}
		}
		names = append(names, s)
	}
	return names, nil
}

// numValue accepts the numeric types produced by yaml.v3 and encoding/json.
func numValue(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("predicate \"value\" must be a number or string, got %T", v)
	}
}
