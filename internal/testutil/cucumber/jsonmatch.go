package cucumber

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// JSONMustMatch fails unless actual and expected are equal JSON documents.
func (s *TestScenario) JSONMustMatch(actual, expected string, expand bool) error {
	act, exp, err := s.parsePair(actual, expected, expand)
	if err != nil {
		return err
	}
	if reflect.DeepEqual(exp, act) {
		return nil
	}
	return fmt.Errorf("actual does not match expected, diff:\n%s", textDiff(indent(exp), indent(act)))
}

// JSONMustContain fails unless every value in expected is present in actual.
// Objects may carry extra keys; arrays must have the same length.
func (s *TestScenario) JSONMustContain(actual, expected string, expand bool) error {
	act, exp, err := s.parsePair(actual, expected, expand)
	if err != nil {
		return err
	}
	if err := jsonSubset(exp, act, "$"); err != nil {
		return fmt.Errorf("actual does not contain expected: %w\nexpected:\n%s\nactual:\n%s", err, indent(exp), indent(act))
	}
	return nil
}

func (s *TestScenario) parsePair(actual, expected string, expand bool) (any, any, error) {
	var act any
	if err := json.Unmarshal([]byte(actual), &act); err != nil {
		return nil, nil, fmt.Errorf("actual is not json: %w\n%s", err, actual)
	}
	if expand {
		var err error
		if expected, err = s.Expand(expected); err != nil {
			return nil, nil, err
		}
	}
	if strings.TrimSpace(expected) == "" {
		return nil, nil, fmt.Errorf("no expected json given, actual was:\n%s", indent(act))
	}
	var exp any
	if err := json.Unmarshal([]byte(expected), &exp); err != nil {
		return nil, nil, fmt.Errorf("expected is not json: %w\n%s", err, expected)
	}
	return act, exp, nil
}

func jsonSubset(expected, actual any, at string) error {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return fmt.Errorf("at %s: expected an object, got %T", at, actual)
		}
		for key, want := range exp {
			got, present := act[key]
			if !present {
				return fmt.Errorf("at %s: missing key %q", at, key)
			}
			if err := jsonSubset(want, got, at+"."+key); err != nil {
				return err
			}
		}
		return nil
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return fmt.Errorf("at %s: expected an array, got %T", at, actual)
		}
		if len(act) != len(exp) {
			return fmt.Errorf("at %s: expected %d element(s), got %d", at, len(exp), len(act))
		}
		for i := range exp {
			if err := jsonSubset(exp[i], act[i], fmt.Sprintf("%s[%d]", at, i)); err != nil {
				return err
			}
		}
		return nil
	}
	if !reflect.DeepEqual(expected, actual) {
		return fmt.Errorf("at %s: expected %v, got %v", at, expected, actual)
	}
	return nil
}

func indent(v any) string {
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func textDiff(expected, actual string) string {
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return diff
}
