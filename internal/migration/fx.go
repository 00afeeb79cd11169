package migration

import (
	"github.com/smallbiznis/billingguard/internal/config"
	"github.com/smallbiznis/billingguard/pkg/docstore/backend"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(store *backend.Backend, cfg config.Config, log *zap.Logger) error {
		conn := store.DB()
		if conn == nil {
			// Firestore has no schema.
			return nil
		}
		if cfg.DBType != "postgres" {
			if !cfg.DBAutoMigrate {
				return nil
			}
			log.Info("migration.auto_migrate", zap.String("db_type", cfg.DBType))
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
