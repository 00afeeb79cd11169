// Package firestorestore backs docstore collections with Cloud Firestore.
// Field names are the `firestore` struct tags of the stored model.
package firestorestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/smallbiznis/billingguard/pkg/docstore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type store[T any] struct {
	client *firestore.Client
	coll   *firestore.CollectionRef
}

// New returns a collection named after T's TableName.
func New[T any](client *firestore.Client) docstore.Collection[T] {
	return NewNamed[T](client, docstore.CollectionName[T]())
}

func NewNamed[T any](client *firestore.Client, name string) docstore.Collection[T] {
	return &store[T]{client: client, coll: client.Collection(name)}
}

func (s *store[T]) Get(ctx context.Context, id string) (*T, error) {
	if id == "" {
		return nil, docstore.ErrEmptyID
	}
	snap, err := s.coll.Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, err
	}
	var out T
	if err := snap.DataTo(&out); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", s.coll.ID, id, err)
	}
	return &out, nil
}

func (s *store[T]) List(ctx context.Context, preds []docstore.Predicate, limit int) ([]*T, error) {
	if err := docstore.Validate(preds); err != nil {
		return nil, err
	}
	q := s.coll.Query
	for _, p := range preds {
		if p.Op == docstore.OpContains {
			return nil, fmt.Errorf("%w: firestore has no substring filter on %q", docstore.ErrUnsupportedPredicate, p.Field)
		}
		q = q.Where(p.Field, string(p.Op), p.Value)
	}
	for _, field := range orderFields(preds) {
		q = q.OrderBy(field, firestore.Asc)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(snaps))
	for _, snap := range snaps {
		var doc T
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", s.coll.ID, snap.Ref.ID, err)
		}
		out = append(out, &doc)
	}
	return out, nil
}

// orderFields lists the sort keys for a List query. Firestore requires range
// fields to lead the ordering, so ranged queries sort by those fields before
// the document id. Equality-only queries sort by id like the SQL backend.
func orderFields(preds []docstore.Predicate) []string {
	var fields []string
	seen := map[string]bool{}
	for _, p := range preds {
		if p.Op == docstore.OpEqual || seen[p.Field] {
			continue
		}
		seen[p.Field] = true
		fields = append(fields, p.Field)
	}
	return append(fields, firestore.DocumentID)
}

func (s *store[T]) Create(ctx context.Context, id string, doc *T) error {
	if err := docstore.CheckID(id, doc); err != nil {
		return err
	}
	if _, err := s.coll.Doc(id).Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
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
	if _, err := s.coll.Doc(id).Update(ctx, toUpdates(fields)); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", docstore.ErrNotFound, id)
		}
		return err
	}
	return nil
}

var errConditionFailed = errors.New("condition_failed")

// UpdateIf evaluates preds against the document inside a Firestore
// transaction, so the check and the write commit together.
func (s *store[T]) UpdateIf(ctx context.Context, id string, preds []docstore.Predicate, fields map[string]any) (bool, error) {
	if id == "" {
		return false, docstore.ErrEmptyID
	}
	if err := docstore.Validate(preds); err != nil {
		return false, err
	}
	if err := docstore.ValidateFields(fields); err != nil {
		return false, err
	}
	ref := s.coll.Doc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: %s", docstore.ErrNotFound, id)
			}
			return err
		}
		ok, err := matchAll(snap.Data(), preds)
		if err != nil {
			return err
		}
		if !ok {
			return errConditionFailed
		}
		return tx.Update(ref, toUpdates(fields))
	})
	if errors.Is(err, errConditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *store[T]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return docstore.ErrEmptyID
	}
	_, err := s.coll.Doc(id).Delete(ctx)
	return err
}

func toUpdates(fields map[string]any) []firestore.Update {
	updates := make([]firestore.Update, 0, len(fields))
	for path, value := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	return updates
}

var _ docstore.ConditionalUpdater = (*store[struct{}])(nil)
