package pipeline

import "strings"

// lookupPath walks a dot-separated path through nested maps. A missing
// segment, or a segment applied to a non-map, resolves to (nil, false).
func lookupPath(root map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = root
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// compare evaluates a skip-condition operator. Ordering operators only
// apply to numbers; everything else compares false rather than erroring
// so an odd payload keeps the step running.
func compare(got any, op Operator, want any) bool {
	gn, gok := asNumber(got)
	wn, wok := asNumber(want)
	if gok && wok {
		switch op {
		case OpEq:
			return gn == wn
		case OpNeq:
			return gn != wn
		case OpGt:
			return gn > wn
		case OpLt:
			return gn < wn
		case OpGte:
			return gn >= wn
		case OpLte:
			return gn <= wn
		}
		return false
	}

	switch op {
	case OpEq:
		return scalarEqual(got, want)
	case OpNeq:
		return !scalarEqual(got, want)
	default:
		return false
	}
}

func scalarEqual(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return false
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
