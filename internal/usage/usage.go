// Package usage accumulates the usage statistics reported by each response
// of a multi-turn run.
package usage

import (
	"encoding/json"
	"math"
	"sync"
)

// LoopsKey counts how many responses contributed to a Totals value.
const LoopsKey = "loops"

// Totals maps a counter name to an int64, a float64 or a nested Totals
// (e.g. input_tokens_details).
type Totals map[string]any

// FromMap normalises a decoded usage object. Integral numbers become
// int64, other numbers float64, nested objects Totals; values of any other
// type are dropped.
func FromMap(m map[string]any) Totals {
	if m == nil {
		return nil
	}
	out := make(Totals, len(m))
	for key, raw := range m {
		if v, ok := normalize(raw); ok {
			out[key] = v
		}
	}
	return out
}

func normalize(raw any) (any, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float32:
		return normalizeFloat(float64(v)), true
	case float64:
		return normalizeFloat(v), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		if f, err := v.Float64(); err == nil {
			return f, true
		}
		return nil, false
	case Totals:
		return FromMap(v), true
	case map[string]any:
		return FromMap(v), true
	}
	return nil, false
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

// Merge returns a new Totals holding the sum of a and b; neither input is
// modified. Nested maps are merged recursively. Mixing an int64 with a
// float64 yields a float64. When one side has a number and the other a
// nested map under the same key, the map is kept.
func Merge(a, b Totals) Totals {
	out := make(Totals, len(a)+len(b))
	for key, v := range a {
		out[key] = clone(v)
	}
	for key, bv := range b {
		av, ok := out[key]
		if !ok {
			out[key] = clone(bv)
			continue
		}
		out[key] = mergeValue(av, bv)
	}
	return out
}

func mergeValue(a, b any) any {
	am, aIsMap := a.(Totals)
	bm, bIsMap := b.(Totals)
	switch {
	case aIsMap && bIsMap:
		return Merge(am, bm)
	case aIsMap:
		return am
	case bIsMap:
		return clone(bm)
	}
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		return ai + bi
	}
	return toFloat(a) + toFloat(b)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func clone(v any) any {
	if m, ok := v.(Totals); ok {
		return Merge(nil, m)
	}
	return v
}

// Int returns the integer counter at the given key path, or 0.
func (t Totals) Int(path ...string) int64 {
	var cur any = t
	for _, key := range path {
		switch m := cur.(type) {
		case Totals:
			cur = m[key]
		case map[string]any:
			cur = m[key]
		default:
			return 0
		}
	}
	switch n := cur.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

// Accumulator sums usage across the turns of one run. It is safe for
// concurrent use.
type Accumulator struct {
	mu     sync.Mutex
	totals Totals
}

// Add merges one response's usage object and counts one loop. A nil usage
// object is ignored.
func (a *Accumulator) Add(raw map[string]any) {
	if raw == nil {
		return
	}
	turn := FromMap(raw)
	turn[LoopsKey] = int64(1)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.totals = Merge(a.totals, turn)
}

// Totals returns a copy of the accumulated totals, or nil when nothing was
// added.
func (a *Accumulator) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.totals == nil {
		return nil
	}
	return Merge(nil, a.totals)
}
