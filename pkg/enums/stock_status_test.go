package enums

import "testing"

func TestDeriveStockStatus(t *testing.T) {
	cases := []struct {
		name          string
		available     int
		threshold     int
		backorderable bool
		want          StockStatus
	}{
		{name: "plenty", available: 20, threshold: 5, want: StockStatusInStock},
		{name: "at threshold", available: 5, threshold: 5, want: StockStatusLowStock},
		{name: "empty", available: 0, threshold: 5, want: StockStatusOutOfStock},
		{name: "empty backorderable", available: 0, threshold: 5, backorderable: true, want: StockStatusBackorder},
		{name: "zero threshold", available: 1, threshold: 0, want: StockStatusInStock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStockStatus(tc.available, tc.threshold, tc.backorderable); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestWorsePicksMostSevere(t *testing.T) {
	if got := StockStatusInStock.Worse(StockStatusLowStock); got != StockStatusLowStock {
		t.Fatalf("expected LOW_STOCK, got %s", got)
	}
	if got := StockStatusOutOfStock.Worse(StockStatusBackorder); got != StockStatusOutOfStock {
		t.Fatalf("expected OUT_OF_STOCK, got %s", got)
	}
}

func TestParseActorType(t *testing.T) {
	got, err := ParseActorType(" User ")
	if err != nil || got != ActorUser {
		t.Fatalf("expected user, got %q (%v)", got, err)
	}
	if _, err := ParseActorType("robot"); err == nil {
		t.Fatal("expected error for unknown actor")
	}
}

func TestReservationStatusTerminal(t *testing.T) {
	if ReservationStatusReserved.IsTerminal() {
		t.Fatal("RESERVED must not be terminal")
	}
	for _, s := range []ReservationStatus{ReservationStatusConfirmed, ReservationStatusReleased, ReservationStatusExpired} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}

func TestParseIsExact(t *testing.T) {
	if got, err := ParseStockStatus("LOW_STOCK"); err != nil || got != StockStatusLowStock {
		t.Fatalf("ParseStockStatus(LOW_STOCK) = %q, %v", got, err)
	}
	if _, err := ParseStockStatus("low_stock"); err == nil {
		t.Fatal("expected lower-case status to be rejected")
	}
	if got, err := ParseMovementReferenceType("order"); err != nil || got != ReferenceOrder {
		t.Fatalf("ParseMovementReferenceType(order) = %q, %v", got, err)
	}
	if _, err := ParseMovementReferenceType(""); err == nil {
		t.Fatal("expected empty reference type to be rejected")
	}
	if ReservationStatus("PENDING").IsTerminal() {
		t.Fatal("unknown status must not count as terminal")
	}
}
