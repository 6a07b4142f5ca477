//go:build integration
// +build integration

package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dujiao-next/cart-core/internal/constants"
	"github.com/dujiao-next/cart-core/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupPostgresIntegrationDB 初始化 PostgreSQL 集成测试数据库。
func setupPostgresIntegrationDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("skip postgres integration test: TEST_POSTGRES_DSN is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open postgres failed: %v", err)
	}

	cleanupModels := []interface{}{
		&models.StockReservation{},
		&models.CartItem{},
		&models.Cart{},
		&models.ProductSKU{},
		&models.Product{},
		&models.CheckoutSession{},
	}
	_ = db.Migrator().DropTable(cleanupModels...)

	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate postgres models failed: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Migrator().DropTable(cleanupModels...)
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

func TestPostgresCartLockNoWaitConflict(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	ownerKey := "session:pg-lock"
	sessionID := "pg-lock"
	cart := &models.Cart{SessionID: &sessionID, OwnerKey: &ownerKey, Status: constants.CartStatusActive, Currency: "BRL"}
	repo := NewCartRepository(db)
	if err := repo.Create(cart); err != nil {
		t.Fatalf("create cart failed: %v", err)
	}

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- repo.Transaction(context.Background(), func(tx *gorm.DB) error {
			if _, err := repo.WithTx(tx).GetByIDForUpdate(cart.ID, false); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := repo.Transaction(context.Background(), func(tx *gorm.DB) error {
		_, err := repo.WithTx(tx).GetByIDForUpdate(cart.ID, true)
		return err
	})
	close(release)
	if !errors.Is(err, ErrLockNotAvailable) {
		t.Fatalf("expected lock not available, got: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("holder transaction failed: %v", err)
	}
}

func TestPostgresStockLockSerializesReaders(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	product := &models.Product{Slug: "pg-stock", Title: "PG", PriceAmount: 100, ManageStock: true, StockQuantity: 3}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	stockRepo := NewStockRepository(db)
	ref := StockRef{ProductID: product.ID}

	locked := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- db.Transaction(func(tx *gorm.DB) error {
			if _, err := stockRepo.WithTx(tx).LockStockRecord(ref); err != nil {
				return err
			}
			close(locked)
			time.Sleep(200 * time.Millisecond)
			return nil
		})
	}()
	<-locked

	start := time.Now()
	err := db.Transaction(func(tx *gorm.DB) error {
		record, err := stockRepo.WithTx(tx).LockStockRecord(ref)
		if err != nil {
			return err
		}
		if record == nil || record.Sellable != 3 {
			t.Errorf("unexpected stock record: %+v", record)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("second lock failed: %v", err)
	}
	if time.Since(start) < 150*time.Millisecond {
		t.Fatalf("second lock should wait for the first transaction")
	}
	if err := <-done; err != nil {
		t.Fatalf("holder transaction failed: %v", err)
	}
}

func TestPostgresCartLockTimeoutFailsFast(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	ownerKey := "session:pg-timeout"
	sessionID := "pg-timeout"
	cart := &models.Cart{SessionID: &sessionID, OwnerKey: &ownerKey, Status: constants.CartStatusActive, Currency: "BRL"}
	repo := NewCartRepository(db).WithLockTimeout(100 * time.Millisecond)
	if err := repo.Create(cart); err != nil {
		t.Fatalf("create cart failed: %v", err)
	}

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- repo.Transaction(context.Background(), func(tx *gorm.DB) error {
			if _, err := repo.WithTx(tx).GetByIDForUpdate(cart.ID, false); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	start := time.Now()
	err := repo.Transaction(context.Background(), func(tx *gorm.DB) error {
		_, err := repo.WithTx(tx).GetByIDForUpdate(cart.ID, false)
		return err
	})
	close(release)
	if !errors.Is(err, ErrLockNotAvailable) {
		t.Fatalf("expected lock timeout to surface as lock not available, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("blocking lock should give up after the timeout, took %v", elapsed)
	}
	if err := <-done; err != nil {
		t.Fatalf("holder transaction failed: %v", err)
	}
}
