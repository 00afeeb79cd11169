package firestorestore

import (
	"testing"
	"time"

	"github.com/smallbiznis/billingguard/pkg/docstore"
)

func TestMatchAll(t *testing.T) {
	lockedAt := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	data := map[string]any{
		"billing_status":          "DUE",
		"is_billing_cycle_locked": false,
		"billing_cycle_locked_at": nil,
		"units":                   int64(42),
		"grace_period_end":        lockedAt,
		"metadata":                `{"entity":"org_1"}`,
	}

	cases := []struct {
		name  string
		preds []docstore.Predicate
		want  bool
	}{
		{"bool equal", []docstore.Predicate{docstore.Equal("is_billing_cycle_locked", false)}, true},
		{"bool mismatch", []docstore.Predicate{docstore.Equal("is_billing_cycle_locked", true)}, false},
		{"string equal", []docstore.Predicate{docstore.Equal("billing_status", "DUE")}, true},
		{"number range", []docstore.Predicate{docstore.GreaterOrEqual("units", 40), docstore.Less("units", 43)}, true},
		{"number greater", []docstore.Predicate{docstore.Greater("units", 42)}, false},
		{"time lte", []docstore.Predicate{docstore.LessOrEqual("grace_period_end", lockedAt)}, true},
		{"null equal", []docstore.Predicate{docstore.Equal("billing_cycle_locked_at", nil)}, true},
		{"null range", []docstore.Predicate{docstore.Less("billing_cycle_locked_at", lockedAt)}, false},
		{"contains", []docstore.Predicate{docstore.Contains("metadata", "org_1")}, true},
		{"missing field", []docstore.Predicate{docstore.Equal("nope", "x")}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := matchAll(data, tc.preds)
			if err != nil {
				t.Fatalf("match: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestMatchTypeMismatch(t *testing.T) {
	_, err := matchAll(map[string]any{"units": int64(1)}, []docstore.Predicate{docstore.Equal("units", "one")})
	if err == nil {
		t.Fatalf("expected type mismatch error")
	}
}
