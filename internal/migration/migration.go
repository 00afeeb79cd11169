package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	alertdomain "github.com/smallbiznis/billingguard/internal/alert/domain"
	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	invdomain "github.com/smallbiznis/billingguard/internal/invariant/domain"
	invoicedomain "github.com/smallbiznis/billingguard/internal/invoice/domain"
	orgdomain "github.com/smallbiznis/billingguard/internal/organization/domain"
	usagedomain "github.com/smallbiznis/billingguard/internal/usage/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded Postgres schema.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every persisted document type.
func Models() []any {
	return []any{
		&orgdomain.Organization{},
		&orgdomain.OrganizationMember{},
		&orgdomain.Workspace{},
		&orgdomain.WorkspaceMember{},
		&orgdomain.Project{},
		&orgdomain.ProjectTeam{},
		&orgdomain.ProjectTeamMember{},
		&accountdomain.BillingAccount{},
		&usagedomain.UsageEvent{},
		&usagedomain.UsageAggregation{},
		&invoicedomain.Invoice{},
		&invdomain.ViolationRecord{},
		&alertdomain.UsageAlert{},
		&alertdomain.Notification{},
	}
}

// AutoMigrate creates the schema from the models, for dialects the SQL
// migrations do not target.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
