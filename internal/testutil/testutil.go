// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/commerce-chat/internal/models"
)

// OpenDB returns a migrated in-memory SQLite database private to the test.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := gdb.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

// SeedProduct inserts an active product with the given images (first one
// primary when primary is true).
func SeedProduct(t *testing.T, gdb *gorm.DB, name string, price int64, stock int, primary bool, imageURLs ...string) *models.Product {
	t.Helper()

	p := &models.Product{
		ID:       uuid.New(),
		Name:     name,
		Slug:     strings.ReplaceAll(strings.ToLower(name), " ", "-") + "-" + uuid.NewString()[:8],
		Price:    price,
		Stock:    stock,
		IsActive: true,
	}
	for i, u := range imageURLs {
		order := i
		p.Images = append(p.Images, models.ProductImage{
			URL:          u,
			IsPrimary:    primary && i == 0,
			DisplayOrder: &order,
		})
	}
	if err := gdb.WithContext(context.Background()).Create(p).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return p
}
