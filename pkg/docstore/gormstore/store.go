// Package gormstore backs docstore collections with SQL tables through GORM.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/billingguard/pkg/db"
	"github.com/smallbiznis/billingguard/pkg/docstore"
	"gorm.io/gorm"
)

type store[T any] struct {
	db *gorm.DB
}

// New returns a collection over the table of T.
func New[T any](conn *gorm.DB) docstore.Collection[T] {
	return &store[T]{db: conn}
}

func (s *store[T]) Get(ctx context.Context, id string) (*T, error) {
	if id == "" {
		return nil, docstore.ErrEmptyID
	}
	var result T
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (s *store[T]) List(ctx context.Context, preds []docstore.Predicate, limit int) ([]*T, error) {
	stmt, err := s.filter(s.db.WithContext(ctx).Model(new(T)), preds)
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	var result []*T
	if err := stmt.Order("id").Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (s *store[T]) Create(ctx context.Context, id string, doc *T) error {
	if err := docstore.CheckID(id, doc); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return fmt.Errorf("%w: %s", docstore.ErrAlreadyExists, id)
		}
		return err
	}
	return nil
}

func (s *store[T]) Update(ctx context.Context, id string, fields map[string]any) error {
	if id == "" {
		return docstore.ErrEmptyID
	}
	if err := docstore.ValidateFields(fields); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return s.ensureExists(ctx, id)
}

// UpdateIf applies fields only while the row still matches preds, in a single
// guarded UPDATE statement.
func (s *store[T]) UpdateIf(ctx context.Context, id string, preds []docstore.Predicate, fields map[string]any) (bool, error) {
	if id == "" {
		return false, docstore.ErrEmptyID
	}
	if err := docstore.ValidateFields(fields); err != nil {
		return false, err
	}
	stmt, err := s.filter(s.db.WithContext(ctx).Model(new(T)).Where("id = ?", id), preds)
	if err != nil {
		return false, err
	}
	res := stmt.Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if err := s.ensureExists(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *store[T]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return docstore.ErrEmptyID
	}
	var dummy T
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&dummy).Error
}

func (s *store[T]) ensureExists(ctx context.Context, id string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", docstore.ErrNotFound, id)
	}
	return nil
}

func (s *store[T]) filter(stmt *gorm.DB, preds []docstore.Predicate) (*gorm.DB, error) {
	if err := docstore.Validate(preds); err != nil {
		return nil, err
	}
	for _, p := range preds {
		switch p.Op {
		case docstore.OpContains:
			stmt = stmt.Where(
				fmt.Sprintf("CAST(%s AS %s) LIKE ? ESCAPE '!'", p.Field, textType(s.db)),
				"%"+escapeLike(p.Value.(string))+"%",
			)
		default:
			stmt = stmt.Where(fmt.Sprintf("%s %s ?", p.Field, sqlOp(p.Op)), p.Value)
		}
	}
	return stmt, nil
}

func sqlOp(op docstore.Op) string {
	if op == docstore.OpEqual {
		return "="
	}
	return string(op)
}

func textType(conn *gorm.DB) string {
	if conn.Dialector != nil && conn.Dialector.Name() == "mysql" {
		return "CHAR"
	}
	return "TEXT"
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}

var _ docstore.ConditionalUpdater = (*store[struct{}])(nil)
