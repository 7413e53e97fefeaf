// Package tools provides the tool registry that executes extracted calls and
// the memory tools built on top of it.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/vinayprograms/textcall/errors"
)

// Args wraps call parameters with typed accessor methods. Missing or
// mistyped required values come back as INVALID_PARAMS errors.
type Args map[string]interface{}

// String gets a required string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", errors.InvalidParams(fmt.Sprintf("%s is required", key))
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.InvalidParams(fmt.Sprintf("%s must be a string, got %T", key, v))
	}
	return s, nil
}

// StringOr gets an optional string argument with a default.
func (a Args) StringOr(key, defaultVal string) string {
	s, ok := a[key].(string)
	if !ok {
		return defaultVal
	}
	return s
}

// Int gets a required integer argument.
// Handles both int and float64 (JSON numbers decode as float64).
func (a Args) Int(key string) (int, error) {
	v, ok := a[key]
	if !ok {
		return 0, errors.InvalidParams(fmt.Sprintf("%s is required", key))
	}
	n, ok := toInt(v)
	if !ok {
		return 0, errors.InvalidParams(fmt.Sprintf("%s must be a number, got %T", key, v))
	}
	return n, nil
}

// IntOr gets an optional integer argument with a default.
func (a Args) IntOr(key string, defaultVal int) int {
	v, ok := a[key]
	if !ok {
		return defaultVal
	}
	if n, ok := toInt(v); ok {
		return n
	}
	return defaultVal
}

// Has returns true if the key exists in the arguments.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
