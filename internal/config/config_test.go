package config

import (
	"strings"
	"testing"
	"time"

	"github.com/dujiao-next/cart-core/internal/constants"

	"github.com/spf13/viper"
)

func TestDecodeDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Decode(v)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if cfg.Cart.ReservationTTLBasis != constants.ReservationTTLBasisActivity {
		t.Fatalf("unexpected ttl basis: %s", cfg.Cart.ReservationTTLBasis)
	}
	if cfg.Cart.ReservationTTL().Minutes() != 60 {
		t.Fatalf("unexpected reservation ttl: %s", cfg.Cart.ReservationTTL())
	}
	if cfg.Cart.MergeMaxAttempts != 3 {
		t.Fatalf("unexpected merge attempts: %d", cfg.Cart.MergeMaxAttempts)
	}
	if cfg.Checkout.SessionKeyPrefix != constants.CheckoutSessionPrefixDefault {
		t.Fatalf("unexpected session prefix: %s", cfg.Checkout.SessionKeyPrefix)
	}
	if cfg.Cart.LockTimeout() != 3*time.Second {
		t.Fatalf("unexpected lock timeout: %s", cfg.Cart.LockTimeout())
	}
	if (CartConfig{LockTimeoutMS: -1}).LockTimeout() != 0 {
		t.Fatalf("negative lock timeout should disable the limit")
	}
}

func TestDecodeYAMLOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	yml := `
cart:
  reservation_ttl_minutes: 15
  reservation_ttl_basis: CREATED
  merge_max_attempts: 0
checkout:
  session_ttl_minutes: 5
  session_key_prefix: "  "
`
	if err := v.ReadConfig(strings.NewReader(yml)); err != nil {
		t.Fatalf("read config failed: %v", err)
	}
	cfg, err := Decode(v)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if cfg.Cart.ReservationTTLBasis != constants.ReservationTTLBasisCreated {
		t.Fatalf("expected created basis, got %s", cfg.Cart.ReservationTTLBasis)
	}
	if cfg.Cart.ReservationTTL().Minutes() != 15 {
		t.Fatalf("unexpected reservation ttl: %s", cfg.Cart.ReservationTTL())
	}
	if cfg.Cart.MergeMaxAttempts != 1 {
		t.Fatalf("expected merge attempts clamped to 1, got %d", cfg.Cart.MergeMaxAttempts)
	}
	if cfg.Checkout.SessionTTL().Minutes() != 5 {
		t.Fatalf("unexpected session ttl: %s", cfg.Checkout.SessionTTL())
	}
	if cfg.Checkout.SessionKeyPrefix != constants.CheckoutSessionPrefixDefault {
		t.Fatalf("expected default prefix, got %q", cfg.Checkout.SessionKeyPrefix)
	}
}
