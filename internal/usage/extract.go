// Package usage pulls token counts out of LLM provider responses.
package usage

import (
	"encoding/json"
	"math"
	"reflect"
)

// Tokens is the input/output split reported by a provider.
type Tokens struct {
	Input  int64 `json:"input_tokens"`
	Output int64 `json:"output_tokens"`
}

// Total returns input plus output tokens, saturating at math.MaxInt64.
func (t Tokens) Total() int64 {
	if t.Output > 0 && t.Input > math.MaxInt64-t.Output {
		return math.MaxInt64
	}
	return t.Input + t.Output
}

// Reporter is implemented by response types that know their own usage.
// Extract prefers it over inspecting the payload.
type Reporter interface {
	TokenUsage() Tokens
}

// Extract reads the usage block of a response. Two shapes are recognized,
// in order: usage.{input_tokens, output_tokens} and
// usage.{prompt_tokens, completion_tokens}. Both fields of a shape must be
// non-negative numbers; anything else yields zero tokens.
//
// Maps are inspected directly, raw JSON is decoded, and structs or pointers
// are round-tripped through encoding/json so their json tags apply.
func Extract(v any) Tokens {
	if v == nil {
		return Tokens{}
	}
	if r, ok := v.(Reporter); ok {
		return r.TokenUsage()
	}

	var root map[string]any
	switch t := v.(type) {
	case map[string]any:
		root = t
	case json.RawMessage:
		root = decode(t)
	case []byte:
		root = decode(t)
	case string:
		return Tokens{}
	default:
		if !isObjectLike(v) {
			return Tokens{}
		}
		data, err := json.Marshal(v)
		if err != nil {
			return Tokens{}
		}
		root = decode(data)
	}

	block, ok := root["usage"].(map[string]any)
	if !ok {
		return Tokens{}
	}

	if in, out, ok := pair(block, "input_tokens", "output_tokens"); ok {
		return Tokens{Input: in, Output: out}
	}
	if in, out, ok := pair(block, "prompt_tokens", "completion_tokens"); ok {
		return Tokens{Input: in, Output: out}
	}
	return Tokens{}
}

func decode(data []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func isObjectLike(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Struct || rv.Kind() == reflect.Map
}

func pair(block map[string]any, inKey, outKey string) (int64, int64, bool) {
	in, ok := count(block[inKey])
	if !ok {
		return 0, 0, false
	}
	out, ok := count(block[outKey])
	if !ok {
		return 0, 0, false
	}
	return in, out, true
}

// count accepts any Go numeric type; fractional values are truncated.
// Values that do not fit in an int64 are rejected.
func count(v any) (int64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		if n < 0 {
			return 0, false
		}
		return n, true
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f < 0 || f >= math.MaxInt64 || math.IsNaN(f) {
		return 0, false
	}
	return int64(f), true
}
