package framework

import (
	"fmt"
	"math"
)

// Request field accessors. Every handler validates its required keys before
// touching any session; a missing or mistyped key yields a framework error
// of the form "key 'X' of type T missing" / "key 'X' of type T invalid".

type fieldError struct {
	key string
	typ string
	bad bool // present but mistyped
}

func (e *fieldError) Error() string {
	if e.bad {
		return fmt.Sprintf("key '%s' of type %s invalid", e.key, e.typ)
	}
	return fmt.Sprintf("key '%s' of type %s missing", e.key, e.typ)
}

func strField(req map[string]any, key string) (string, error) {
	raw, ok := req[key]
	if !ok {
		return "", &fieldError{key: key, typ: "str"}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &fieldError{key: key, typ: "str", bad: true}
	}
	return s, nil
}

// intField accepts JSON numbers with an integral value; encoding/json
// decodes all numbers as float64.
func intField(req map[string]any, key string) (int, error) {
	raw, ok := req[key]
	if !ok {
		return 0, &fieldError{key: key, typ: "int"}
	}
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, &fieldError{key: key, typ: "int", bad: true}
		}
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, &fieldError{key: key, typ: "int", bad: true}
	}
}

func boolField(req map[string]any, key string) (bool, error) {
	raw, ok := req[key]
	if !ok {
		return false, &fieldError{key: key, typ: "bool"}
	}
	b, ok := raw.(bool)
	if !ok {
		return false, &fieldError{key: key, typ: "bool", bad: true}
	}
	return b, nil
}

func mapField(req map[string]any, key string) (map[string]any, error) {
	raw, ok := req[key]
	if !ok {
		return nil, &fieldError{key: key, typ: "map"}
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, &fieldError{key: key, typ: "map", bad: true}
	}
	return m, nil
}
