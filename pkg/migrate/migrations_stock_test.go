package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/packfinderz-stock/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one %s migration, found %d", suffix, len(matches))
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestStockItemsMigrationContainsConstraints(t *testing.T) {
	assertContains(t, readMigration(t, "create_stock_items"), []string{
		"CREATE TABLE IF NOT EXISTS stock_items",
		"CONSTRAINT ux_stock_items_product_warehouse UNIQUE (product_id, warehouse_id)",
		"CHECK (quantity_on_hand >= 0)",
		"CHECK (quantity_reserved >= 0)",
		"CHECK (backorderable OR quantity_reserved <= quantity_on_hand)",
		"DROP TABLE IF EXISTS stock_items",
	})
}

func TestReservationsMigrationContainsIndexes(t *testing.T) {
	assertContains(t, readMigration(t, "create_stock_reservations"), []string{
		"ON stock_reservations (order_id, status)",
		"ON stock_reservations (status, expires_at)",
		"CHECK (expires_at > reserved_at)",
		"DROP TABLE IF EXISTS stock_reservations",
	})
}

func TestMovementsMigrationIsAppendOnly(t *testing.T) {
	assertContains(t, readMigration(t, "create_stock_movements"), []string{
		"ON stock_movements (stock_item_id)",
		"ON stock_movements (reference_type, reference_id)",
		"CHECK (quantity_after = quantity_before + quantity_change)",
		"BEFORE UPDATE OR DELETE ON stock_movements",
	})
}

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	embedded, err := migrate.Source("")
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	for _, path := range onDisk {
		want, _ := os.ReadFile(path)
		got, err := fs.ReadFile(embedded, filepath.Base(path))
		if err != nil {
			t.Fatalf("embedded copy of %s: %v", path, err)
		}
		if string(got) != string(want) {
			t.Errorf("embedded %s differs from disk", filepath.Base(path))
		}
	}
}
