package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dujiao-next/cart-core/internal/constants"
	"github.com/dujiao-next/cart-core/internal/models"
	"github.com/dujiao-next/cart-core/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type cartCoreFixture struct {
	db         *gorm.DB
	cartRepo   repository.CartRepository
	stockRepo  repository.StockRepository
	ledger     *ReservationLedger
	carts      *CartService
	validation *CartValidationService
	merge      *CartMergeService
}

func setupCartCoreTest(t *testing.T) *cartCoreFixture {
	t.Helper()
	return setupCartCoreTestWith(t, constants.ReservationTTLBasisActivity, nil)
}

func setupCartCoreTestWith(t *testing.T, ttlBasis string, discounts DiscountProvider) *cartCoreFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:cart_core_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	// 单连接串行化事务
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.Migrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	cartRepo := repository.NewCartRepository(db)
	stockRepo := repository.NewStockRepository(db)
	ledger := NewReservationLedger(repository.NewReservationRepository(db), stockRepo, ttlBasis)
	carts := NewCartService(cartRepo, stockRepo, ledger, discounts, "BRL")
	return &cartCoreFixture{
		db:         db,
		cartRepo:   cartRepo,
		stockRepo:  stockRepo,
		ledger:     ledger,
		carts:      carts,
		validation: NewCartValidationService(carts),
		merge:      NewCartMergeService(carts, 3, 0),
	}
}

func (f *cartCoreFixture) createProduct(t *testing.T, title string, price int64, stock int) *models.Product {
	t.Helper()
	product := &models.Product{
		Slug:          fmt.Sprintf("%s-%d", title, time.Now().UnixNano()),
		Title:         title,
		PriceAmount:   price,
		PriceCurrency: "BRL",
		ManageStock:   true,
		StockQuantity: stock,
		IsActive:      true,
	}
	if err := f.db.Create(product).Error; err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	return product
}

func (f *cartCoreFixture) createSKU(t *testing.T, product *models.Product, code string, price int64, stock int) *models.ProductSKU {
	t.Helper()
	sku := &models.ProductSKU{
		ProductID:     product.ID,
		SKUCode:       code,
		Label:         code,
		PriceAmount:   price,
		ManageStock:   true,
		StockQuantity: stock,
		IsActive:      true,
	}
	if err := f.db.Create(sku).Error; err != nil {
		t.Fatalf("create sku failed: %v", err)
	}
	return sku
}

func (f *cartCoreFixture) setStock(t *testing.T, productID uint, stock int) {
	t.Helper()
	if err := f.db.Model(&models.Product{}).Where("id = ?", productID).Update("stock_quantity", stock).Error; err != nil {
		t.Fatalf("update stock failed: %v", err)
	}
}

func (f *cartCoreFixture) setPrice(t *testing.T, productID uint, price int64) {
	t.Helper()
	if err := f.db.Model(&models.Product{}).Where("id = ?", productID).Update("price_amount", price).Error; err != nil {
		t.Fatalf("update price failed: %v", err)
	}
}

func (f *cartCoreFixture) deactivate(t *testing.T, productID uint) {
	t.Helper()
	if err := f.db.Model(&models.Product{}).Where("id = ?", productID).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate product failed: %v", err)
	}
}

func (f *cartCoreFixture) sessionCart(t *testing.T, sessionID string) *models.Cart {
	t.Helper()
	cart, err := f.carts.GetOrCreate(context.Background(), CartOwner{SessionID: sessionID})
	if err != nil {
		t.Fatalf("get or create session cart failed: %v", err)
	}
	return cart
}

func (f *cartCoreFixture) userCart(t *testing.T, userID uint) *models.Cart {
	t.Helper()
	cart, err := f.carts.GetOrCreate(context.Background(), CartOwner{UserID: userID})
	if err != nil {
		t.Fatalf("get or create user cart failed: %v", err)
	}
	return cart
}

func (f *cartCoreFixture) addItem(t *testing.T, cartID, productID uint, quantity int) *models.CartItem {
	t.Helper()
	item, err := f.carts.AddItem(context.Background(), AddCartItemInput{CartID: cartID, ProductID: productID, Quantity: quantity})
	if err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	return item
}

func (f *cartCoreFixture) reservedQuantity(t *testing.T, productID, skuID uint) int {
	t.Helper()
	var total int64
	if err := f.db.Model(&models.StockReservation{}).
		Where("product_id = ? AND sku_id = ?", productID, skuID).
		Select("COALESCE(SUM(quantity), 0)").Scan(&total).Error; err != nil {
		t.Fatalf("sum reservations failed: %v", err)
	}
	return int(total)
}

func (f *cartCoreFixture) reservationOf(t *testing.T, itemID uint) *models.StockReservation {
	t.Helper()
	var rows []models.StockReservation
	if err := f.db.Where("cart_item_id = ?", itemID).Find(&rows).Error; err != nil {
		t.Fatalf("load reservation failed: %v", err)
	}
	if len(rows) == 0 {
		return nil
	}
	return &rows[0]
}

func (f *cartCoreFixture) countRows(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		t.Fatalf("count rows failed: %v", err)
	}
	return count
}
