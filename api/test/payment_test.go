package test

import (
	"context"
	"net/http"
	"path"
	"testing"

	"github.com/velmora/subshop/core/order"
	"github.com/velmora/subshop/core/payment"
	"github.com/velmora/subshop/core/plan"
)

type paymentTest struct {
	*TestEnv
}

func TestPayment(t *testing.T) {
	env, err := NewTestEnv(t, "payment_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}

	pt := &paymentTest{env}

	t.Run("retrySupersedesPendingAttempt", pt.testRetrySupersedesPendingAttempt)
	t.Run("sessionRejectedForForeignOrder", pt.testSessionRejectedForForeignOrder)
	t.Run("sessionRejectedForWrongMethod", pt.testSessionRejectedForWrongMethod)
}

// Opening a second session for the same order cancels the abandoned attempt
// and the order completes through the new one.
func (pt *paymentTest) testRetrySupersedesPendingAttempt(t *testing.T) {
	pln := pt.SeedPlan(t, "Retry TV", 1099, plan.DeliveryAutomatic)
	pt.SeedStock(t, pln.ID, 1)

	pt.Login(t, pt.UserEmail, pt.UserPass)

	var cr order.Created
	if status := pt.PostJSON(t, "/orders", map[string]any{
		"paymentMethod": "PAYPAL",
		"items":         []map[string]any{{"planId": pln.ID, "quantity": 1}},
	}, &cr); status != http.StatusCreated {
		t.Fatalf("creating order: status %d", status)
	}

	var sess struct {
		Success           bool   `json:"success"`
		PaymentID         string `json:"paymentId"`
		PaymentURL        string `json:"paymentUrl"`
		ProviderPaymentID string `json:"providerPaymentId"`
	}
	status := pt.PostJSON(t, "/payments/paypal", map[string]string{"orderId": cr.OrderID}, &sess)
	if status != http.StatusCreated {
		t.Fatalf("opening session: status %d", status)
	}
	if !sess.Success || sess.PaymentURL == "" || sess.ProviderPaymentID == "" {
		t.Fatalf("incomplete session response: %+v", sess)
	}

	var pays []payment.Payment
	if status := pt.GetJSON(t, "/orders/"+cr.OrderID+"/payments", &pays); status != http.StatusOK {
		t.Fatalf("listing payments: status %d", status)
	}
	if len(pays) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(pays))
	}

	var pending, cancelled int
	for _, p := range pays {
		switch p.Status {
		case payment.Pending:
			pending++
		case payment.Cancelled:
			cancelled++
		}
	}
	if pending != 1 || cancelled != 1 {
		t.Fatalf("expected 1 PENDING and 1 CANCELLED attempt, got %+v", pays)
	}

	pt.Logout(t)

	token := path.Base(sess.PaymentURL)
	httpStatus, res := (&callbackTest{pt.TestEnv}).callbackGET(t, "paypal", token)
	if httpStatus != http.StatusOK || !res.Success {
		t.Fatalf("callback on retry attempt failed: status %d, %+v", httpStatus, res)
	}

	ord, err := order.Fetch(context.Background(), pt.DB, cr.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if ord.Status != order.Completed {
		t.Fatalf("order status %s, want COMPLETED", ord.Status)
	}
}

func (pt *paymentTest) testSessionRejectedForForeignOrder(t *testing.T) {
	pln := pt.SeedPlan(t, "Foreign TV", 899, plan.DeliveryAutomatic)
	pt.SeedStock(t, pln.ID, 1)

	pt.Login(t, pt.UserEmail, pt.UserPass)
	var cr order.Created
	if status := pt.PostJSON(t, "/orders", map[string]any{
		"paymentMethod": "PAYPAL",
		"items":         []map[string]any{{"planId": pln.ID, "quantity": 1}},
	}, &cr); status != http.StatusCreated {
		t.Fatalf("creating order: status %d", status)
	}
	pt.Logout(t)

	if _, err := pt.seedUser(context.Background(), "Intruder", "intruder@test.local", "intruder-pass", "USER"); err != nil {
		t.Fatal(err)
	}

	pt.Login(t, "intruder@test.local", "intruder-pass")
	defer pt.Logout(t)

	status := pt.PostJSON(t, "/payments/paypal", map[string]string{"orderId": cr.OrderID}, nil)
	if status != http.StatusNotFound {
		t.Fatalf("foreign order must look nonexistent, got %d", status)
	}
}

func (pt *paymentTest) testSessionRejectedForWrongMethod(t *testing.T) {
	pln := pt.SeedPlan(t, "Wrong Method TV", 799, plan.DeliveryAutomatic)
	pt.SeedStock(t, pln.ID, 1)

	pt.Login(t, pt.UserEmail, pt.UserPass)
	defer pt.Logout(t)

	var cr order.Created
	if status := pt.PostJSON(t, "/orders", map[string]any{
		"paymentMethod": "STRIPE",
		"items":         []map[string]any{{"planId": pln.ID, "quantity": 1}},
	}, &cr); status != http.StatusCreated {
		t.Fatalf("creating order: status %d", status)
	}

	status := pt.PostJSON(t, "/payments/paypal", map[string]string{"orderId": cr.OrderID}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for method mismatch, got %d", status)
	}
}
