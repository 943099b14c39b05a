package store

import (
	"fmt"
)

// Filter is a conjunctive predicate over record payloads: every top-level
// key must match. A bare value means exact equality; a map value holds
// comparison operators.
//
// Supported operators: $gte, $lte, $gt, $lt (numeric range) and $in
// (set membership). Anything else fails with ErrValidation rather than
// silently matching nothing.
type Filter map[string]any

var rangeOps = map[string]bool{"$gte": true, "$lte": true, "$gt": true, "$lt": true}

// Validate checks the filter's operators without evaluating it.
func (f Filter) Validate() error {
	for field, cond := range f {
		ops, ok := cond.(map[string]any)
		if !ok {
			continue // bare equality
		}
		for op, arg := range ops {
			switch {
			case rangeOps[op]:
				if _, ok := toFloat(arg); !ok {
					return fmt.Errorf("%w: operator %s on field %q requires a numeric argument", ErrValidation, op, field)
				}
			case op == "$in":
				if _, ok := toSlice(arg); !ok {
					return fmt.Errorf("%w: operator $in on field %q requires a list argument", ErrValidation, field)
				}
			default:
				return fmt.Errorf("%w: unsupported filter operator %q on field %q", ErrValidation, op, field)
			}
		}
	}
	return nil
}

// Matches evaluates the filter against a payload. A type-mismatched
// numeric comparison is an ErrValidation, not a silent false.
func (f Filter) Matches(payload map[string]any) (bool, error) {
	for field, cond := range f {
		val, present := payload[field]
		ops, isOps := cond.(map[string]any)
		if !isOps {
			if !present || !equalValue(val, cond) {
				return false, nil
			}
			continue
		}
		for op, arg := range ops {
			switch {
			case rangeOps[op]:
				if !present {
					return false, nil
				}
				lhs, ok := toFloat(val)
				if !ok {
					return false, fmt.Errorf("%w: field %q is not numeric, cannot apply %s", ErrValidation, field, op)
				}
				rhs, ok := toFloat(arg)
				if !ok {
					return false, fmt.Errorf("%w: operator %s on field %q requires a numeric argument", ErrValidation, op, field)
				}
				if !compareRange(op, lhs, rhs) {
					return false, nil
				}
			case op == "$in":
				members, ok := toSlice(arg)
				if !ok {
					return false, fmt.Errorf("%w: operator $in on field %q requires a list argument", ErrValidation, field)
				}
				if !present {
					return false, nil
				}
				found := false
				for _, m := range members {
					if equalValue(val, m) {
						found = true
						break
					}
				}
				if !found {
					return false, nil
				}
			default:
				return false, fmt.Errorf("%w: unsupported filter operator %q on field %q", ErrValidation, op, field)
			}
		}
	}
	return true, nil
}

func compareRange(op string, lhs, rhs float64) bool {
	switch op {
	case "$gte":
		return lhs >= rhs
	case "$lte":
		return lhs <= rhs
	case "$gt":
		return lhs > rhs
	case "$lt":
		return lhs < rhs
	}
	return false
}

// equalValue compares payload values. Numbers compare numerically so that
// an int filter matches a float64 payload decoded from JSON.
func equalValue(a, b any) bool {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		return fa == fb
	}
	if aok != bok {
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}
