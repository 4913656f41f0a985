package cucumber

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
)

// Pipe transforms a resolved value inside a ${value | pipe} reference.
type Pipe func(value any) (any, error)

// Pipes holds the transformations available to variable references.
var Pipes = map[string]Pipe{
	"json": func(value any) (any, error) {
		out, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return nil, err
		}
		return string(out) + "\n", nil
	},
	"json_escape": func(value any) (any, error) {
		out, err := json.Marshal(fmt.Sprint(value))
		if err != nil {
			return nil, err
		}
		return strings.Trim(string(out), `"`), nil
	},
	"string": func(value any) (any, error) {
		return fmt.Sprint(value), nil
	},
	"upper": func(value any) (any, error) {
		return strings.ToUpper(fmt.Sprint(value)), nil
	},
	"length": func(value any) (any, error) {
		v := reflect.ValueOf(value)
		switch v.Kind() {
		case reflect.Slice, reflect.Map, reflect.String:
			return v.Len(), nil
		}
		return nil, fmt.Errorf("length: unsupported type %T", value)
	},
}

// Expand substitutes every ${...} reference in value.
func (s *TestScenario) Expand(value string) (string, error) {
	var firstErr error
	out := os.Expand(value, func(ref string) string {
		resolved, err := s.ResolveString(ref)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return resolved
	})
	return out, firstErr
}

// ResolveString resolves ref and renders it as text. Scalars render bare,
// anything else renders as JSON.
func (s *TestScenario) ResolveString(ref string) (string, error) {
	value, err := s.Resolve(ref)
	if err != nil {
		return "", err
	}
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool, int, int32, int64:
		return fmt.Sprint(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	out, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Resolve evaluates a reference without rendering it.
func (s *TestScenario) Resolve(ref string) (any, error) {
	parts := strings.Split(ref, "|")
	value, err := s.lookup(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, err
	}
	for _, name := range parts[1:] {
		pipe := Pipes[strings.TrimSpace(name)]
		if pipe == nil {
			return nil, fmt.Errorf("unknown pipe: %s", strings.TrimSpace(name))
		}
		if value, err = pipe(value); err != nil {
			return nil, err
		}
	}
	return value, nil
}

func (s *TestScenario) lookup(name string) (any, error) {
	if len(name) >= 2 && strings.HasPrefix(name, `"`) && strings.HasSuffix(name, `"`) {
		return name[1 : len(name)-1], nil
	}

	if name == "response" || strings.HasPrefix(name, "response.") || strings.HasPrefix(name, "response[") {
		doc, err := s.Session().RespJSON()
		if err != nil {
			return nil, err
		}
		selected, found, err := selectJSON("."+name, map[string]any{"response": doc})
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("${%s} not found in response:\n%s", name, s.Session().RespBytes)
		}
		return selected, nil
	}

	path := strings.Split(name, ".")
	value, ok := s.Variables[path[0]]
	if !ok {
		return nil, fmt.Errorf("variable ${%s} not defined yet", path[0])
	}
	for _, step := range path[1:] {
		next, err := child(value, step)
		if err != nil {
			return nil, fmt.Errorf("${%s}: %w", name, err)
		}
		value = next
	}
	return value, nil
}

func child(value any, step string) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		out, ok := v[step]
		if !ok {
			return nil, fmt.Errorf("key %q not found", step)
		}
		return out, nil
	case []any:
		i, err := strconv.Atoi(step)
		if err != nil || i < 0 || i >= len(v) {
			return nil, fmt.Errorf("index %q out of range", step)
		}
		return v[i], nil
	}
	return nil, fmt.Errorf("cannot select %q from %T", step, value)
}

// selectJSON returns the first result of a gojq query over doc.
func selectJSON(selector string, doc any) (any, bool, error) {
	query, err := gojq.Parse(selector)
	if err != nil {
		return nil, false, err
	}
	result, found := query.Run(doc).Next()
	if !found {
		return nil, false, nil
	}
	if err, isErr := result.(error); isErr {
		return nil, false, err
	}
	return result, true, nil
}
