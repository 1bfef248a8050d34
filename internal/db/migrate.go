package db

import (
	"fmt"

	"github.com/syntaxvpn/vpnpool/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Identifier{},
		&models.Subscription{},
		&models.PaymentEvent{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return ensureIndexes(conn)
}

// ensureIndexes creates the partial indexes AutoMigrate cannot express.
// Both PostgreSQL and SQLite accept the same partial index syntax.
func ensureIndexes(conn *gorm.DB) error {
	if errOneActive := conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_active
		ON subscriptions (telegram_id) WHERE is_active
	`).Error; errOneActive != nil {
		return fmt.Errorf("db: create one-active subscription index: %w", errOneActive)
	}
	if errFree := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_identifiers_free
		ON identifiers (server, id) WHERE NOT is_used
	`).Error; errFree != nil {
		return fmt.Errorf("db: create free identifier index: %w", errFree)
	}
	return nil
}
