package test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/velmora/subshop/core/order"
	"github.com/velmora/subshop/core/plan"
	"github.com/velmora/subshop/core/stock"
	"github.com/velmora/subshop/core/subscription"
	"github.com/velmora/subshop/core/ticket"
)

type orderTest struct {
	*TestEnv
}

func TestOrder(t *testing.T) {
	env, err := NewTestEnv(t, "order_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}

	ot := &orderTest{env}

	t.Run("stockViolationsAggregated", ot.testStockViolationsAggregated)
	t.Run("unknownPlanRejected", ot.testUnknownPlanRejected)
	t.Run("bypassForbiddenForUsers", ot.testBypassForbiddenForUsers)
	t.Run("bypassCompletesImmediately", ot.testBypassCompletesImmediately)
	t.Run("priceFrozenAtCreation", ot.testPriceFrozenAtCreation)
	t.Run("validateReflectsStock", ot.testValidateReflectsStock)
}

// A request exceeding stock on several lines must report every violation at
// once, not just the first.
func (ot *orderTest) testStockViolationsAggregated(t *testing.T) {
	scarce := ot.SeedPlan(t, "Acme TV", 1999, plan.DeliveryAutomatic)
	ot.SeedStock(t, scarce.ID, 1)
	empty := ot.SeedPlan(t, "Acme Music", 999, plan.DeliveryAutomatic)

	ot.Login(t, ot.UserEmail, ot.UserPass)
	defer ot.Logout(t)

	var resp struct {
		Error string `json:"error"`
	}
	status := ot.PostJSON(t, "/orders", map[string]any{
		"paymentMethod": "PAYPAL",
		"items": []map[string]any{
			{"planId": scarce.ID, "quantity": 3},
			{"planId": empty.ID, "quantity": 2},
		},
	}, &resp)

	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}

	for _, want := range []string{
		"insufficient stock",
		"Acme TV (PREMIUM): only 1 available (requested 3)",
		"Acme Music (PREMIUM): out of stock",
	} {
		if !strings.Contains(resp.Error, want) {
			t.Errorf("error %q does not mention %q", resp.Error, want)
		}
	}

	var ords []order.Order
	if status := ot.GetJSON(t, "/orders", &ords); status != http.StatusOK {
		t.Fatalf("listing orders: status %d", status)
	}
	if len(ords) != 0 {
		t.Fatalf("rejected request must not create an order, found %d", len(ords))
	}
}

func (ot *orderTest) testUnknownPlanRejected(t *testing.T) {
	ot.Login(t, ot.UserEmail, ot.UserPass)
	defer ot.Logout(t)

	var resp struct {
		Error string `json:"error"`
	}
	status := ot.PostJSON(t, "/orders", map[string]any{
		"paymentMethod": "PAYPAL",
		"items": []map[string]any{
			{"planId": "8f8bbea8-0ba2-4b1c-a0ed-a0d47022c9d3", "quantity": 1},
		},
	}, &resp)

	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if !strings.Contains(resp.Error, "plan unavailable") {
		t.Fatalf("unexpected error: %q", resp.Error)
	}
}

func (ot *orderTest) testBypassForbiddenForUsers(t *testing.T) {
	pln := ot.SeedPlan(t, "Bypass Denied", 500, plan.DeliveryAutomatic)
	ot.SeedStock(t, pln.ID, 1)

	ot.Login(t, ot.UserEmail, ot.UserPass)
	defer ot.Logout(t)

	status := ot.PostJSON(t, "/orders", map[string]any{
		"paymentMethod": "ADMIN_BYPASS",
		"items":         []map[string]any{{"planId": pln.ID, "quantity": 1}},
	}, nil)

	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
}

// An admin bypass order skips the provider entirely: completed order,
// subscription, claimed stock, and for manual plans a support ticket.
func (ot *orderTest) testBypassCompletesImmediately(t *testing.T) {
	auto := ot.SeedPlan(t, "Bypass Auto", 1500, plan.DeliveryAutomatic)
	ot.SeedStock(t, auto.ID, 2)
	manual := ot.SeedPlan(t, "Bypass Manual", 2500, plan.DeliveryManual)

	ot.Login(t, ot.AdminEmail, ot.AdminPass)
	defer ot.Logout(t)

	var cr order.Created
	status := ot.PostJSON(t, "/orders", map[string]any{
		"paymentMethod": "ADMIN_BYPASS",
		"items": []map[string]any{
			{"planId": auto.ID, "quantity": 2},
			{"planId": manual.ID, "quantity": 1},
		},
	}, &cr)

	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if cr.Status != order.Completed {
		t.Fatalf("bypass order must be COMPLETED, got %s", cr.Status)
	}
	if cr.RedirectURL != "" {
		t.Fatalf("bypass order must not carry a redirect, got %q", cr.RedirectURL)
	}
	if cr.Total != 2*1500+2500 {
		t.Fatalf("unexpected total %d", cr.Total)
	}

	ctx := context.Background()

	items, err := order.FetchItems(ctx, ot.DB, cr.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 order items, got %d", len(items))
	}

	for _, it := range items {
		n, err := subscription.CountByOrderItem(ctx, ot.DB, it.ID)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Fatalf("order item %s: expected exactly 1 subscription, got %d", it.ID, n)
		}
	}

	left, err := stock.CountAvailable(ctx, ot.DB, auto.ID)
	if err != nil {
		t.Fatal(err)
	}
	if left != 0 {
		t.Fatalf("both stock units should be claimed, %d left", left)
	}

	// Ticket creation runs on the background delivery worker.
	WaitFor(t, 5*time.Second, func() bool {
		tcks, err := ticket.FetchByUser(ctx, ot.DB, ot.AdminID)
		return err == nil && len(tcks) == 1
	})
}

// Changing the plan price after creation must not affect the committed order.
func (ot *orderTest) testPriceFrozenAtCreation(t *testing.T) {
	pln := ot.SeedPlan(t, "Frozen Price", 4200, plan.DeliveryAutomatic)
	ot.SeedStock(t, pln.ID, 1)

	ot.Login(t, ot.UserEmail, ot.UserPass)
	defer ot.Logout(t)

	var cr order.Created
	status := ot.PostJSON(t, "/orders", map[string]any{
		"paymentMethod": "PAYPAL",
		"items":         []map[string]any{{"planId": pln.ID, "quantity": 1}},
	}, &cr)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}

	ctx := context.Background()
	pln.Price = 9900
	if err := plan.Update(ctx, ot.DB, pln); err != nil {
		t.Fatal(err)
	}

	var shown struct {
		order.Order
		Items []order.Item `json:"items"`
	}
	if status := ot.GetJSON(t, "/orders/"+cr.OrderID, &shown); status != http.StatusOK {
		t.Fatalf("showing order: status %d", status)
	}

	if shown.Total != 4200 {
		t.Fatalf("total moved with the plan price: %d", shown.Total)
	}

	want := []order.Item{{
		OrderID:      cr.OrderID,
		PlanID:       pln.ID,
		Quantity:     1,
		Price:        4200,
		Currency:     "USD",
		DeliveryType: plan.DeliveryAutomatic,
	}}
	if diff := cmp.Diff(want, shown.Items, cmpopts.IgnoreFields(order.Item{}, "ID", "CreatedAt")); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
}

func (ot *orderTest) testValidateReflectsStock(t *testing.T) {
	pln := ot.SeedPlan(t, "Validated", 700, plan.DeliveryAutomatic)
	ot.SeedStock(t, pln.ID, 2)

	ot.Login(t, ot.UserEmail, ot.UserPass)
	defer ot.Logout(t)

	var cr order.Created
	if status := ot.PostJSON(t, "/orders", map[string]any{
		"paymentMethod": "PAYPAL",
		"items":         []map[string]any{{"planId": pln.ID, "quantity": 2}},
	}, &cr); status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}

	var v order.Validation
	if status := ot.GetJSON(t, "/orders/"+cr.OrderID+"/validate", &v); status != http.StatusOK {
		t.Fatalf("validating order: status %d", status)
	}
	if !v.Valid || !v.CanProceedWithPayment {
		t.Fatalf("fresh order should validate: %+v", v)
	}

	// Another order consumes the stock out from under this one.
	if _, err := stock.Claim(context.Background(), ot.DB, pln.ID, cr.OrderID); err != nil {
		t.Fatal(err)
	}

	if status := ot.GetJSON(t, "/orders/"+cr.OrderID+"/validate", &v); status != http.StatusOK {
		t.Fatalf("re-validating order: status %d", status)
	}
	if v.Valid || v.CanProceedWithPayment {
		t.Fatalf("order should fail validation after stock loss: %+v", v)
	}
	if len(v.Items) != 1 || v.Items[0].AvailableStock != 1 {
		t.Fatalf("expected 1 unit left, got %+v", v.Items)
	}
}
