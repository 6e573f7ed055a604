// Package metrics turns QC tool output into canonical records and locates
// the artifact each record is read from.
package metrics

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Value is a scalar metric: numeric when the raw text parses as a finite
// number, otherwise a string. NaN and Inf stay strings.
type Value struct {
	raw    string
	num    float64
	number bool
}

func ParseValue(raw string) Value {
	raw = strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return Value{raw: raw, num: f, number: true}
	}
	return Value{raw: raw}
}

func (v Value) IsNumber() bool { return v.number }

func (v Value) Float() (float64, bool) { return v.num, v.number }

func (v Value) String() string { return v.raw }

func (v Value) MarshalJSON() ([]byte, error) {
	if v.number {
		return json.Marshal(v.num)
	}
	return json.Marshal(v.raw)
}

// Record maps lowercase field names to values. Records are never mutated
// after parsing.
type Record map[string]Value

// Float returns a numeric field. Blank or non-numeric fields report false.
func (r Record) Float(key string) (float64, bool) {
	v, ok := r[key]
	if !ok {
		return 0, false
	}
	return v.Float()
}

// String returns a field's raw text. A blank field reports false.
func (r Record) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v.raw == "" {
		return "", false
	}
	return v.raw, true
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, "%", "pct")
	key = strings.ReplaceAll(key, "#", "num_")
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	return key
}
