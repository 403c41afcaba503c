package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/supportdesk/internal/audit/domain"
	"github.com/smallbiznis/supportdesk/internal/config"
	directorydomain "github.com/smallbiznis/supportdesk/internal/directory/domain"
	"github.com/smallbiznis/supportdesk/internal/events"
	notificationdomain "github.com/smallbiznis/supportdesk/internal/notification/domain"
	sldomain "github.com/smallbiznis/supportdesk/internal/servicelevel/domain"
	ticketdomain "github.com/smallbiznis/supportdesk/internal/ticket/domain"
	workentrydomain "github.com/smallbiznis/supportdesk/internal/workentry/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table owned by the service, parents first.
func Models() []any {
	return []any{
		&directorydomain.Company{},
		&directorydomain.User{},
		&sldomain.ServiceLevel{},
		&ticketdomain.Ticket{},
		&ticketdomain.Message{},
		&workentrydomain.WorkEntry{},
		&events.DomainEvent{},
		&notificationdomain.Notification{},
		&auditdomain.AuditLog{},
	}
}

// Migrate brings the schema up to date. Postgres uses the versioned SQL
// migrations; other dialects fall back to gorm AutoMigrate when enabled.
func Migrate(conn *gorm.DB, cfg config.Config) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.DBType)) {
	case "", "postgres", "postgresql":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	default:
		if !cfg.DBAutoMigrate {
			return nil
		}
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
}

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
