// Package backend selects the document-store implementation for the process
// and hands out typed collections from it.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/smallbiznis/billingguard/internal/config"
	"github.com/smallbiznis/billingguard/pkg/docstore"
	"github.com/smallbiznis/billingguard/pkg/docstore/firestorestore"
	"github.com/smallbiznis/billingguard/pkg/docstore/gormstore"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrMissingDB        = errors.New("docstore_missing_db")
	ErrMissingProjectID = errors.New("docstore_missing_firestore_project")
)

// Backend owns the connection a collection is opened against.
type Backend struct {
	kind      string
	db        *gorm.DB
	firestore *firestore.Client
}

func NewSQL(db *gorm.DB) *Backend {
	return &Backend{kind: config.DocStoreSQL, db: db}
}

func NewFirestore(client *firestore.Client) *Backend {
	return &Backend{kind: config.DocStoreFirestore, firestore: client}
}

func (b *Backend) Kind() string { return b.kind }

// DB returns the SQL connection, or nil on the Firestore backend.
func (b *Backend) DB() *gorm.DB { return b.db }

// Collection opens the collection for T on b.
func Collection[T any](b *Backend) docstore.Collection[T] {
	if b.kind == config.DocStoreFirestore {
		return firestorestore.New[T](b.firestore)
	}
	return gormstore.New[T](b.db)
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	DB        *gorm.DB `optional:"true"`
}

// Provide builds the backend selected by DOCSTORE_BACKEND.
func Provide(p Params) (*Backend, error) {
	log := p.Log.Named("docstore")

	switch p.Config.DocStoreBackend {
	case config.DocStoreFirestore:
		projectID := strings.TrimSpace(p.Config.FirestoreProjectID)
		if projectID == "" {
			return nil, ErrMissingProjectID
		}
		client, err := firestore.NewClient(context.Background(), projectID)
		if err != nil {
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
		log.Info("docstore backend selected", zap.String("backend", config.DocStoreFirestore), zap.String("project_id", projectID))
		return NewFirestore(client), nil
	default:
		if p.DB == nil {
			return nil, ErrMissingDB
		}
		log.Info("docstore backend selected", zap.String("backend", config.DocStoreSQL))
		return NewSQL(p.DB), nil
	}
}

var Module = fx.Module("docstore",
	fx.Provide(Provide),
)
