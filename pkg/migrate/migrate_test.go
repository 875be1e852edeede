package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marketa-io/marketa-backend/pkg/migrate"
)

func TestInitSchemaMigrationContainsCoreTables(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_init_schema.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no init schema migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS orders",
		"CREATE TABLE IF NOT EXISTS shop_orders",
		"CREATE TABLE IF NOT EXISTS order_items",
		"CREATE TABLE IF NOT EXISTS vouchers",
		"CREATE TABLE IF NOT EXISTS return_orders",
		"CREATE TABLE IF NOT EXISTS transactions",
		"idx_shop_orders_status_delivered",
		"DROP TABLE IF EXISTS orders",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestShippedMigrationsValidate(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("shipped migrations failed validation: %v", err)
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()

	path, err := migrate.CreateSQLMigration(dir, "Add Refund Index")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_refund_index.sql") {
		t.Fatalf("unexpected migration path %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read created migration: %v", err)
	}
	if !strings.Contains(string(data), "-- +goose Up") {
		t.Fatalf("created migration missing goose Up marker")
	}

	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration failed validation: %v", err)
	}
}
