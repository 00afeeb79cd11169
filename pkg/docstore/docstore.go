// Package docstore defines the document-store capability consumed by the
// billing guards: keyed get, filtered list, create, partial update and delete
// over named collections, with no cross-document transactions.
package docstore

import (
	"context"
	"errors"
)

var (
	ErrNotFound             = errors.New("document_not_found")
	ErrAlreadyExists        = errors.New("document_already_exists")
	ErrUnsupportedPredicate = errors.New("unsupported_predicate")
	ErrInvalidField         = errors.New("invalid_field")
	ErrIDMismatch           = errors.New("document_id_mismatch")
	ErrEmptyID              = errors.New("document_id_empty")
)

// Collection is a typed view over one collection.
//
// Get returns (nil, nil) when the document does not exist. List returns
// documents ordered by id; on Firestore, queries with range predicates order
// by the range fields first, so a limited List may cut at different documents
// on each backend. Update applies a
// partial field map keyed by storage field name and returns ErrNotFound when
// the document does not exist.
type Collection[T any] interface {
	Get(ctx context.Context, id string) (*T, error)
	List(ctx context.Context, preds []Predicate, limit int) ([]*T, error)
	Create(ctx context.Context, id string, doc *T) error
	Update(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error
}

// ConditionalUpdater is implemented by backends that can apply an update only
// while the stored document still matches preds. applied is false when the
// document exists but no longer matches.
type ConditionalUpdater interface {
	UpdateIf(ctx context.Context, id string, preds []Predicate, fields map[string]any) (applied bool, err error)
}

// Document exposes the identifier of a stored model.
type Document interface {
	DocumentID() string
}

// Named lets a model declare its collection name.
type Named interface {
	TableName() string
}

// CheckID verifies that doc carries the identifier it is being stored under.
func CheckID(id string, doc any) error {
	if id == "" {
		return ErrEmptyID
	}
	if d, ok := doc.(Document); ok && d.DocumentID() != id {
		return ErrIDMismatch
	}
	return nil
}

// CollectionName resolves the collection for T from its TableName method.
func CollectionName[T any]() string {
	var zero T
	if n, ok := any(&zero).(Named); ok {
		return n.TableName()
	}
	if n, ok := any(zero).(Named); ok {
		return n.TableName()
	}
	return ""
}

// Conditional returns the conditional-write capability of c when its backend
// provides one.
func Conditional[T any](c Collection[T]) (ConditionalUpdater, bool) {
	cu, ok := c.(ConditionalUpdater)
	return cu, ok
}
