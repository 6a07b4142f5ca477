package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dujiao-next/cart-core/internal/constants"
	"github.com/dujiao-next/cart-core/internal/models"
	"github.com/dujiao-next/cart-core/internal/repository"
)

func TestCartServiceShirtScenario(t *testing.T) {
	f := setupCartCoreTest(t)
	shirt := f.createProduct(t, "Shirt", 5000, 10)
	cart := f.sessionCart(t, "shirt-session")

	item := f.addItem(t, cart.ID, shirt.ID, 3)
	if item.Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", item.Quantity)
	}
	reservation := f.reservationOf(t, item.ID)
	if reservation == nil || reservation.Quantity != 3 {
		t.Fatalf("expected reservation of 3, got %+v", reservation)
	}
	loaded, err := f.carts.Get(context.Background(), cart.ID)
	if err != nil {
		t.Fatalf("get cart failed: %v", err)
	}
	if loaded.SubtotalAmount != 15000 || loaded.TotalAmount != 15000 {
		t.Fatalf("unexpected totals: subtotal=%d total=%d", loaded.SubtotalAmount, loaded.TotalAmount)
	}

	_, err = f.carts.UpdateQuantity(context.Background(), item.ID, 12)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got: %v", err)
	}
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.MaxQuantity != 10 {
		t.Fatalf("expected max quantity 10, got: %+v", stockErr)
	}
	if max, ok := MaxSatisfiableQuantity(err); !ok || max != 10 {
		t.Fatalf("unexpected max satisfiable quantity: %d %v", max, ok)
	}

	after, err := f.carts.Get(context.Background(), cart.ID)
	if err != nil {
		t.Fatalf("get cart failed: %v", err)
	}
	if len(after.Items) != 1 || after.Items[0].Quantity != 3 {
		t.Fatalf("item should remain at 3: %+v", after.Items)
	}
	if got := f.reservationOf(t, item.ID); got == nil || got.Quantity != 3 {
		t.Fatalf("reservation should remain at 3: %+v", got)
	}
}

func TestCartServiceAddSameLineIncrementsQuantity(t *testing.T) {
	f := setupCartCoreTest(t)
	mug := f.createProduct(t, "Mug", 1200, 10)
	cart := f.sessionCart(t, "mug-session")

	first := f.addItem(t, cart.ID, mug.ID, 2)
	second := f.addItem(t, cart.ID, mug.ID, 1)
	if first.ID != second.ID {
		t.Fatalf("expected same cart item, got %d and %d", first.ID, second.ID)
	}
	if second.Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", second.Quantity)
	}
	if n := f.countRows(t, &models.CartItem{}, "cart_id = ?", cart.ID); n != 1 {
		t.Fatalf("expected 1 cart item row, got %d", n)
	}
	if reserved := f.reservedQuantity(t, mug.ID, 0); reserved != 3 {
		t.Fatalf("expected 3 reserved, got %d", reserved)
	}
}

func TestCartServiceNoOversellConcurrent(t *testing.T) {
	f := setupCartCoreTest(t)
	const stock = 4
	const shoppers = 12
	product := f.createProduct(t, "Limited", 9900, stock)

	cartIDs := make([]uint, shoppers)
	for i := 0; i < shoppers; i++ {
		cartIDs[i] = f.sessionCart(t, fmt.Sprintf("race-%d", i)).ID
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, insufficient := 0, 0
	var unexpected []error
	for i := 0; i < shoppers; i++ {
		wg.Add(1)
		go func(cartID uint) {
			defer wg.Done()
			_, err := f.carts.AddItem(context.Background(), AddCartItemInput{CartID: cartID, ProductID: product.ID, Quantity: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientStock):
				insufficient++
			default:
				unexpected = append(unexpected, err)
			}
		}(cartIDs[i])
	}
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("unexpected errors: %v", unexpected)
	}
	if succeeded != stock || insufficient != shoppers-stock {
		t.Fatalf("expected %d successes and %d failures, got %d and %d", stock, shoppers-stock, succeeded, insufficient)
	}
	if reserved := f.reservedQuantity(t, product.ID, 0); reserved != stock {
		t.Fatalf("reserved quantity exceeds stock: %d", reserved)
	}
}

func TestCartServiceAvailabilityExcludesOtherCarts(t *testing.T) {
	f := setupCartCoreTest(t)
	product := f.createProduct(t, "Cap", 3000, 5)
	first := f.sessionCart(t, "cap-a")
	second := f.sessionCart(t, "cap-b")
	f.addItem(t, first.ID, product.ID, 3)

	_, err := f.carts.AddItem(context.Background(), AddCartItemInput{CartID: second.ID, ProductID: product.ID, Quantity: 3})
	if max, ok := MaxSatisfiableQuantity(err); !ok || max != 2 {
		t.Fatalf("expected max 2 from other cart reservation, got %d err=%v", max, err)
	}
	if n := f.countRows(t, &models.CartItem{}, "cart_id = ?", second.ID); n != 0 {
		t.Fatalf("failed add should not leave a cart item, got %d", n)
	}
	f.addItem(t, second.ID, product.ID, 2)
	if reserved := f.reservedQuantity(t, product.ID, 0); reserved != 5 {
		t.Fatalf("expected all 5 reserved, got %d", reserved)
	}
}

func TestCartServiceRemoveItemRestoresAvailability(t *testing.T) {
	f := setupCartCoreTest(t)
	product := f.createProduct(t, "Poster", 2500, 7)
	cart := f.sessionCart(t, "poster-session")
	ref := repository.StockRef{ProductID: product.ID}
	ctx := context.Background()

	before, err := f.ledger.AvailableQuantity(ctx, ref)
	if err != nil {
		t.Fatalf("available before failed: %v", err)
	}
	item := f.addItem(t, cart.ID, product.ID, 4)
	during, err := f.ledger.AvailableQuantity(ctx, ref)
	if err != nil || during != before-4 {
		t.Fatalf("expected %d available after add, got %d err=%v", before-4, during, err)
	}

	if err := f.carts.RemoveItem(ctx, item.ID); err != nil {
		t.Fatalf("remove item failed: %v", err)
	}
	after, err := f.ledger.AvailableQuantity(ctx, ref)
	if err != nil || after != before {
		t.Fatalf("expected availability restored to %d, got %d err=%v", before, after, err)
	}
	if err := f.carts.RemoveItem(ctx, item.ID); err != nil {
		t.Fatalf("second remove should be a noop, got: %v", err)
	}
	loaded, err := f.carts.Get(ctx, cart.ID)
	if err != nil {
		t.Fatalf("get cart failed: %v", err)
	}
	if !loaded.IsEmpty() || loaded.SubtotalAmount != 0 || loaded.TotalAmount != 0 {
		t.Fatalf("cart should be empty with zero totals: %+v", loaded)
	}
}

func TestCartServiceGetOrCreateOwner(t *testing.T) {
	f := setupCartCoreTest(t)
	ctx := context.Background()

	if _, err := f.carts.GetOrCreate(ctx, CartOwner{}); !errors.Is(err, ErrInvalidOwner) {
		t.Fatalf("expected invalid owner for empty owner, got: %v", err)
	}
	if _, err := f.carts.GetOrCreate(ctx, CartOwner{UserID: 1, SessionID: "s"}); !errors.Is(err, ErrInvalidOwner) {
		t.Fatalf("expected invalid owner for both identities, got: %v", err)
	}

	first := f.userCart(t, 42)
	again := f.userCart(t, 42)
	if first.ID != again.ID {
		t.Fatalf("expected same active cart, got %d and %d", first.ID, again.ID)
	}
	if first.UserID == nil || *first.UserID != 42 || first.SessionID != nil {
		t.Fatalf("unexpected owner fields: %+v", first)
	}
	if first.Status != constants.CartStatusActive || first.Currency != "BRL" {
		t.Fatalf("unexpected cart defaults: %+v", first)
	}
}

func TestCartServiceRejectsUnavailableInput(t *testing.T) {
	f := setupCartCoreTest(t)
	ctx := context.Background()
	cart := f.sessionCart(t, "reject-session")
	hidden := f.createProduct(t, "Hidden", 1000, 5)
	f.deactivate(t, hidden.ID)
	variable := f.createProduct(t, "Tee", 4000, 0)
	sku := f.createSKU(t, variable, "TEE-M", 0, 3)

	if _, err := f.carts.AddItem(ctx, AddCartItemInput{CartID: cart.ID, ProductID: hidden.ID, Quantity: 1}); !errors.Is(err, ErrProductUnavailable) {
		t.Fatalf("expected product unavailable, got: %v", err)
	}
	if _, err := f.carts.AddItem(ctx, AddCartItemInput{CartID: cart.ID, ProductID: 9999, Quantity: 1}); !errors.Is(err, ErrProductUnavailable) {
		t.Fatalf("expected missing product unavailable, got: %v", err)
	}
	if _, err := f.carts.AddItem(ctx, AddCartItemInput{CartID: cart.ID, ProductID: variable.ID, Quantity: 1}); !errors.Is(err, ErrProductSKURequired) {
		t.Fatalf("expected sku required, got: %v", err)
	}
	if _, err := f.carts.AddItem(ctx, AddCartItemInput{CartID: cart.ID, ProductID: variable.ID, SKUID: sku.ID, Quantity: 0}); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected invalid quantity, got: %v", err)
	}
	if _, err := f.carts.AddItem(ctx, AddCartItemInput{CartID: 9999, ProductID: variable.ID, SKUID: sku.ID, Quantity: 1}); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected cart not found, got: %v", err)
	}

	item, err := f.carts.AddItem(ctx, AddCartItemInput{CartID: cart.ID, ProductID: variable.ID, SKUID: sku.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("add variant failed: %v", err)
	}
	if item.UnitPrice != 4000 {
		t.Fatalf("variant without price should inherit product price, got %d", item.UnitPrice)
	}
	if reserved := f.reservedQuantity(t, variable.ID, sku.ID); reserved != 2 {
		t.Fatalf("expected variant reservation 2, got %d", reserved)
	}
	if _, err := f.carts.UpdateQuantity(ctx, item.ID, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("zero quantity must be rejected, got: %v", err)
	}
	if _, err := f.carts.UpdateQuantity(ctx, 9999, 1); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected item not found, got: %v", err)
	}
}

type fixedDiscount int64

func (d fixedDiscount) Discount(ctx context.Context, cart *models.Cart) (int64, error) {
	return int64(d), nil
}

func TestCartServiceRecalculatePassesDiscountThrough(t *testing.T) {
	f := setupCartCoreTestWith(t, constants.ReservationTTLBasisActivity, fixedDiscount(1500))
	product := f.createProduct(t, "Book", 2000, 10)
	cart := f.sessionCart(t, "book-session")
	f.addItem(t, cart.ID, product.ID, 3)

	loaded, err := f.carts.Recalculate(context.Background(), cart.ID)
	if err != nil {
		t.Fatalf("recalculate failed: %v", err)
	}
	if loaded.SubtotalAmount != 6000 || loaded.DiscountAmount != 1500 || loaded.TotalAmount != 4500 {
		t.Fatalf("unexpected totals: %+v", loaded)
	}

	cheap := setupCartCoreTestWith(t, constants.ReservationTTLBasisActivity, fixedDiscount(99999))
	pen := cheap.createProduct(t, "Pen", 300, 10)
	penCart := cheap.sessionCart(t, "pen-session")
	cheap.addItem(t, penCart.ID, pen.ID, 1)
	clamped, err := cheap.carts.Recalculate(context.Background(), penCart.ID)
	if err != nil {
		t.Fatalf("recalculate failed: %v", err)
	}
	if clamped.DiscountAmount != 300 || clamped.TotalAmount != 0 {
		t.Fatalf("discount should clamp to subtotal: %+v", clamped)
	}
}

func TestCartServiceConvertReleasesReservationsAndOwner(t *testing.T) {
	f := setupCartCoreTest(t)
	ctx := context.Background()
	product := f.createProduct(t, "Lamp", 8000, 2)
	cart := f.userCart(t, 7)
	item := f.addItem(t, cart.ID, product.ID, 2)

	if err := f.carts.Convert(ctx, cart.ID); err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	converted, err := f.carts.Get(ctx, cart.ID)
	if err != nil {
		t.Fatalf("get cart failed: %v", err)
	}
	if converted.Status != constants.CartStatusConverted || converted.OwnerKey != nil || converted.ConvertedAt == nil {
		t.Fatalf("unexpected converted cart: %+v", converted)
	}
	if reserved := f.reservedQuantity(t, product.ID, 0); reserved != 0 {
		t.Fatalf("converted cart should release reservations, got %d", reserved)
	}
	if _, err := f.carts.AddItem(ctx, AddCartItemInput{CartID: cart.ID, ProductID: product.ID, Quantity: 1}); !errors.Is(err, ErrCartNotActive) {
		t.Fatalf("expected cart not active, got: %v", err)
	}
	if err := f.carts.RemoveItem(ctx, item.ID); !errors.Is(err, ErrCartNotActive) {
		t.Fatalf("remove on a converted cart should be rejected, got: %v", err)
	}
	if n := f.countRows(t, &models.CartItem{}, "id = ?", item.ID); n != 1 {
		t.Fatalf("converted cart items must stay untouched, got %d", n)
	}
	closed, err := f.carts.Get(ctx, cart.ID)
	if err != nil || closed.TotalAmount != converted.TotalAmount {
		t.Fatalf("converted totals must not be recomputed: %+v err=%v", closed, err)
	}

	fresh := f.userCart(t, 7)
	if fresh.ID == cart.ID {
		t.Fatalf("expected a new active cart after conversion")
	}
}
