package firestorestore

import (
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/billingguard/pkg/docstore"
)

func matchAll(data map[string]any, preds []docstore.Predicate) (bool, error) {
	for _, p := range preds {
		ok, err := match(data[p.Field], p)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(stored any, p docstore.Predicate) (bool, error) {
	if p.Op == docstore.OpContains {
		s, ok := stored.(string)
		return ok && strings.Contains(s, p.Value.(string)), nil
	}
	cmp, comparable, err := compare(stored, p.Value)
	if err != nil {
		return false, fmt.Errorf("field %q: %w", p.Field, err)
	}
	if !comparable {
		return p.Op == docstore.OpEqual && stored == nil && isNil(p.Value), nil
	}
	switch p.Op {
	case docstore.OpEqual:
		return cmp == 0, nil
	case docstore.OpGreaterOrEqual:
		return cmp >= 0, nil
	case docstore.OpLessOrEqual:
		return cmp <= 0, nil
	case docstore.OpLess:
		return cmp < 0, nil
	case docstore.OpGreater:
		return cmp > 0, nil
	}
	return false, fmt.Errorf("%w: %q", docstore.ErrUnsupportedPredicate, p.Op)
}

// compare orders a stored Firestore value against a predicate value. The
// second result is false when either side is null.
func compare(stored, want any) (int, bool, error) {
	if stored == nil || isNil(want) {
		return 0, false, nil
	}
	switch a := stored.(type) {
	case bool:
		b, ok := want.(bool)
		if !ok {
			return 0, false, fmt.Errorf("cannot compare bool with %T", want)
		}
		if a == b {
			return 0, true, nil
		}
		return 1, true, nil
	case string:
		b, ok := toString(want)
		if !ok {
			return 0, false, fmt.Errorf("cannot compare string with %T", want)
		}
		return strings.Compare(a, b), true, nil
	case time.Time:
		b, ok := toTime(want)
		if !ok {
			return 0, false, fmt.Errorf("cannot compare timestamp with %T", want)
		}
		return a.Compare(b), true, nil
	}
	a, ok := toFloat(stored)
	if !ok {
		return 0, false, fmt.Errorf("unsupported stored type %T", stored)
	}
	b, ok := toFloat(want)
	if !ok {
		return 0, false, fmt.Errorf("cannot compare number with %T", want)
	}
	switch {
	case a < b:
		return -1, true, nil
	case a > b:
		return 1, true, nil
	}
	return 0, true, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case *time.Time:
		return t == nil
	case *string:
		return t == nil
	}
	return false
}

func toString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case fmt.Stringer:
		return t.String(), true
	case *string:
		return *t, true
	}
	return "", false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		return *t, true
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
