package gormstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/billingguard/pkg/docstore"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type widget struct {
	ID        string            `gorm:"primaryKey;type:text"`
	Name      string            `gorm:"type:text"`
	Count     int               `gorm:"not null;default:0"`
	Active    bool              `gorm:"not null;default:false"`
	SeenAt    *time.Time        `gorm:""`
	Labels    datatypes.JSONMap `gorm:"type:text"`
	CreatedAt time.Time
}

func (widget) TableName() string { return "widgets" }

func (w widget) DocumentID() string { return w.ID }

func setupStore(t *testing.T) (docstore.Collection[widget], *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := conn.AutoMigrate(&widget{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New[widget](conn), conn
}

func TestGetMissingReturnsNil(t *testing.T) {
	store, _ := setupStore(t)
	got, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil document, got %+v", got)
	}
}

func TestCreateGetUpdateDelete(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "w1", &widget{ID: "w1", Name: "one", Count: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, "w1", &widget{ID: "w1", Name: "dup"}); !errors.Is(err, docstore.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := store.Create(ctx, "w2", &widget{ID: "other"}); !errors.Is(err, docstore.ErrIDMismatch) {
		t.Fatalf("expected ErrIDMismatch, got %v", err)
	}

	seen := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := store.Update(ctx, "w1", map[string]any{"count": 5, "seen_at": seen}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := store.Get(ctx, "w1")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.Count != 5 || got.SeenAt == nil || !got.SeenAt.Equal(seen) {
		t.Fatalf("unexpected document %+v", got)
	}

	if err := store.Update(ctx, "w1", map[string]any{"seen_at": nil}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ = store.Get(ctx, "w1")
	if got.SeenAt != nil {
		t.Fatalf("expected seen_at cleared, got %v", got.SeenAt)
	}

	if err := store.Update(ctx, "missing", map[string]any{"count": 1}); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Update(ctx, "w1", map[string]any{"count; DROP": 1}); !errors.Is(err, docstore.ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}

	if err := store.Delete(ctx, "w1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = store.Get(ctx, "w1")
	if got != nil {
		t.Fatalf("expected deleted document")
	}
}

func TestListPredicates(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("w%d", i)
		doc := &widget{
			ID:     id,
			Name:   fmt.Sprintf("name-%d", i),
			Count:  i,
			Active: i%2 == 1,
			Labels: datatypes.JSONMap{"entity": fmt.Sprintf("org_%d", i)},
		}
		if err := store.Create(ctx, id, doc); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	cases := []struct {
		name  string
		preds []docstore.Predicate
		limit int
		want  []string
	}{
		{"equal", []docstore.Predicate{docstore.Equal("active", true)}, 0, []string{"w1", "w3", "w5"}},
		{"range", []docstore.Predicate{docstore.GreaterOrEqual("count", 2), docstore.Less("count", 4)}, 0, []string{"w2", "w3"}},
		{"lte", []docstore.Predicate{docstore.LessOrEqual("count", 2)}, 0, []string{"w1", "w2"}},
		{"greater", []docstore.Predicate{docstore.Greater("count", 4)}, 0, []string{"w5"}},
		{"contains", []docstore.Predicate{docstore.Contains("labels", "org_4")}, 0, []string{"w4"}},
		{"limit", nil, 2, []string{"w1", "w2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.List(ctx, tc.preds, tc.limit)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d documents, got %d", len(tc.want), len(got))
			}
			for i, doc := range got {
				if doc.ID != tc.want[i] {
					t.Fatalf("expected %s at %d, got %s", tc.want[i], i, doc.ID)
				}
			}
		})
	}

	if _, err := store.List(ctx, []docstore.Predicate{docstore.Equal("bad field", 1)}, 0); !errors.Is(err, docstore.ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}
}

func TestUpdateIf(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	if err := store.Create(ctx, "w1", &widget{ID: "w1", Count: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	cond, ok := store.(docstore.ConditionalUpdater)
	if !ok {
		t.Fatalf("gorm store should support conditional updates")
	}

	applied, err := cond.UpdateIf(ctx, "w1", []docstore.Predicate{docstore.Equal("active", false)}, map[string]any{"active": true, "count": 2})
	if err != nil || !applied {
		t.Fatalf("expected first conditional update to apply, got %v %v", applied, err)
	}
	applied, err = cond.UpdateIf(ctx, "w1", []docstore.Predicate{docstore.Equal("active", false)}, map[string]any{"active": true, "count": 3})
	if err != nil || applied {
		t.Fatalf("expected second conditional update to be rejected, got %v %v", applied, err)
	}
	got, _ := store.Get(ctx, "w1")
	if got.Count != 2 {
		t.Fatalf("expected count 2, got %d", got.Count)
	}

	if _, err := cond.UpdateIf(ctx, "missing", nil, map[string]any{"count": 1}); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
