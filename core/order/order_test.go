package order

import (
	"regexp"
	"testing"
	"time"
)

func TestGenerateNumber(t *testing.T) {
	now := time.Date(2023, 4, 12, 9, 30, 15, 0, time.UTC)

	got := GenerateNumber(now)

	re := regexp.MustCompile(`^SO-20230412-093015-[A-Za-z0-9]{6}$`)
	if !re.MatchString(got) {
		t.Fatalf("order number %q does not match the expected shape", got)
	}

	if again := GenerateNumber(now); again == got {
		t.Fatalf("two numbers at the same instant should differ, both are %q", got)
	}
}

func TestTotals(t *testing.T) {
	items := []Item{
		{Price: 1999, Quantity: 2},
		{Price: 500, Quantity: 1},
	}

	subtotal, tax, total := Totals(items, 0)
	if subtotal != 4498 || tax != 0 || total != 4498 {
		t.Fatalf("zero tax: got subtotal %d, tax %d, total %d", subtotal, tax, total)
	}

	// 750 basis points is 7.5%, truncated to whole cents.
	subtotal, tax, total = Totals(items, 750)
	if subtotal != 4498 {
		t.Fatalf("subtotal changed with tax rate: %d", subtotal)
	}
	if tax != 337 {
		t.Fatalf("expected tax 337, got %d", tax)
	}
	if total != subtotal+tax {
		t.Fatalf("total %d is not subtotal %d plus tax %d", total, subtotal, tax)
	}

	if s, tx, tot := Totals(nil, 750); s != 0 || tx != 0 || tot != 0 {
		t.Fatalf("empty order should total zero, got %d/%d/%d", s, tx, tot)
	}
}

func TestStockError(t *testing.T) {
	err := &StockError{Violations: []Violation{
		{PlanID: "a", ProductName: "Acme TV", PlanType: "PREMIUM", Requested: 3, Available: 1},
		{PlanID: "b", ProductName: "Acme Music", PlanType: "BASIC", Requested: 2, Available: 0},
	}}

	want := "insufficient stock: Acme TV (PREMIUM): only 1 available (requested 3); Acme Music (BASIC): out of stock"
	if got := err.Error(); got != want {
		t.Fatalf("aggregated message mismatch:\n got: %s\nwant: %s", got, want)
	}
}

func TestPlanError(t *testing.T) {
	err := &PlanError{PlanIDs: []string{"p1", "p2"}}
	if got, want := err.Error(), "plan unavailable: p1, p2"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		Pending:    false,
		Processing: false,
		Completed:  true,
		Cancelled:  true,
		Failed:     true,
		Refunded:   true,
	}

	for st, want := range terminal {
		if got := st.Terminal(); got != want {
			t.Errorf("%s: Terminal() = %v, want %v", st, got, want)
		}
	}
}
