package selector

import (
	"errors"
	"testing"

	"github.com/phenomap/server/internal/data/cellseg"
)

func TestResolve_PassThrough(t *testing.T) {
	rules, err := Resolve([]string{"CK+", "CD8+"}, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	for _, name := range []string{"CK+", "CD8+"} {
		spec, ok := rules[name]
		if !ok {
			t.Fatalf("missing rule for %q", name)
		}
		if p, ok := spec.(Phenotype); !ok || string(p) != name {
			t.Errorf("rule for %q should be the literal phenotype, got %#v", name, spec)
		}
	}
}

func TestResolve_ExplicitRuleWins(t *testing.T) {
	defined := RuleSet{
		"Tumor": AnyOf{"CK+", "CK+ PDL1+"},
	}
	rules, err := Resolve([]string{"Tumor", "CD8+"}, defined)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, ok := rules["Tumor"].(AnyOf); !ok {
		t.Errorf("defined rule was replaced: %#v", rules["Tumor"])
	}
	if _, ok := rules["CD8+"].(Phenotype); !ok {
		t.Errorf("undefined name should pass through: %#v", rules["CD8+"])
	}
}

func TestResolve_KeepsUnrequestedRules(t *testing.T) {
	defined := RuleSet{"Tumor": Phenotype("CK+")}
	rules, err := Resolve(nil, defined)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, ok := rules["Tumor"]; !ok {
		t.Error("defined rules should survive even when not requested")
	}
}

func TestResolve_Validation(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
	}{
		{"nilSpec", nil},
		{"emptyPhenotype", Phenotype("")},
		{"emptyNameInSet", AnyOf{"CK+", ""}},
		{"predicateNoColumn", Predicate{Test: func(cellseg.Value) bool { return true }}},
		{"predicateNoTest", Predicate{Column: "PDL1"}},
		{"nestedBad", AllOf{Phenotype("CK+"), Phenotype("")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(nil, RuleSet{"bad": tc.spec})
			var re *RuleError
			if !errors.As(err, &re) {
				t.Fatalf("expected RuleError, got %v", err)
			}
			if re.Name != "bad" {
				t.Errorf("error should carry the rule name, got %q", re.Name)
			}
		})
	}
}
