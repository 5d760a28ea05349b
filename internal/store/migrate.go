package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	migrationsPath = "migrations"

	// Keep these version markers in sync with SQL files under migrations/.
	versionBaseSchema       = 1
	versionAddClientCountry = 2
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrateTable = "schema_migrations"

// MigrateDB applies the mock.db migration sequence. Safe to run on
// every engine start: databases created by older versions are
// baselined first, then brought up to the current version.
func MigrateDB(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: nil db")
	}

	sourceDriver, err := iofs.New(migrationsFS, migrationsPath)
	if err != nil {
		return fmt.Errorf("migrate: init source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: migrateTable,
	})
	if err != nil {
		return fmt.Errorf("migrate: init db driver: %w", err)
	}

	if err := prepareLegacyBaseline(db, dbDriver); err != nil {
		return fmt.Errorf("migrate: prehook: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("migrate: init migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: up: %w", err)
	}
	return nil
}

// prepareLegacyBaseline aligns migration version metadata for databases
// created before golang-migrate was introduced.
//
// The pre-rules schema scoped endpoints by HTTP method; a `method`
// column on `endpoints` therefore marks a database whose rows cannot be
// carried forward, and triggers a full drop-and-recreate of all three
// tables. This is a deliberate one-way, data-losing migration.
func prepareLegacyBaseline(db *sql.DB, driver migratedb.Driver) error {
	hasVersion, err := hasMigrationVersion(db, migrateTable)
	if err != nil {
		return err
	}
	if hasVersion {
		return nil
	}

	hasEndpoints, err := hasTable(db, "endpoints")
	if err != nil {
		return err
	}
	if !hasEndpoints {
		// Fresh database: migrate from the base schema.
		return nil
	}

	hasMethod, err := hasTableColumn(db, "endpoints", "method")
	if err != nil {
		return err
	}
	if hasMethod {
		log.Printf("[store] warning: legacy method-scoped endpoint schema detected, dropping and recreating tables (data is not preserved)")
		drops := []string{
			"DROP TABLE IF EXISTS request_logs",
			"DROP TABLE IF EXISTS mock_rules",
			"DROP TABLE IF EXISTS endpoints",
		}
		for _, stmt := range drops {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("drop legacy table: %w", err)
			}
		}
		return nil
	}

	hasCountry, err := hasTableColumn(db, "request_logs", "client_country")
	if err != nil {
		return err
	}
	if hasCountry {
		return setMigrationVersion(driver, versionAddClientCountry)
	}
	return setMigrationVersion(driver, versionBaseSchema)
}

func hasMigrationVersion(db *sql.DB, table string) (bool, error) {
	var count int
	if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		return false, fmt.Errorf("read %s: %w", table, err)
	}
	return count > 0, nil
}

func setMigrationVersion(driver migratedb.Driver, version int) error {
	if err := driver.SetVersion(version, false); err != nil {
		return fmt.Errorf("set migration version=%d: %w", version, err)
	}
	return nil
}

func hasTable(db *sql.DB, table string) (bool, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup table %s: %w", table, err)
	}
	return true, nil
}

func hasTableColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			defaultV  sql.NullString
			primaryID int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultV, &primaryID); err != nil {
			return false, fmt.Errorf("scan table_info(%s): %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate table_info(%s): %w", table, err)
	}
	return false, nil
}
