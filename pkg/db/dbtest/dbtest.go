// Package dbtest opens throwaway sqlite databases migrated with the stock
// schema for package tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/migrate"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open returns a private in-memory database with every stock table created.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migrate.AutoMigrateModels(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// SeedWarehouse inserts a warehouse. The column defaults to active, so an
// inactive warehouse needs a second write.
func SeedWarehouse(t testing.TB, conn *gorm.DB, active bool) models.Warehouse {
	t.Helper()
	id := uuid.New()
	warehouse := models.Warehouse{ID: id, Code: "WH-" + id.String()[:8], Name: "Warehouse " + id.String()[:8], IsActive: true}
	if err := conn.Create(&warehouse).Error; err != nil {
		t.Fatalf("seed warehouse: %v", err)
	}
	if !active {
		if err := conn.Model(&models.Warehouse{}).Where("id = ?", id).Update("is_active", false).Error; err != nil {
			t.Fatalf("deactivate warehouse: %v", err)
		}
		warehouse.IsActive = false
	}
	return warehouse
}

// SeedItem inserts a ledger entry with the given counters and no movements.
func SeedItem(t testing.TB, conn *gorm.DB, item models.StockItem) models.StockItem {
	t.Helper()
	if item.ProductID == uuid.Nil {
		item.ProductID = uuid.New()
	}
	if item.VendorID == uuid.Nil {
		item.VendorID = uuid.New()
	}
	if item.SKU == "" {
		item.SKU = "SKU-" + uuid.NewString()[:8]
	}
	item.StockStatus = item.DerivedStatus()
	if err := conn.Create(&item).Error; err != nil {
		t.Fatalf("seed stock item: %v", err)
	}
	return item
}
