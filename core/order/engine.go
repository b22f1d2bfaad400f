package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/velmora/subshop/api/background"
	"github.com/velmora/subshop/core/cart"
	"github.com/velmora/subshop/core/plan"
	"github.com/velmora/subshop/core/product"
	"github.com/velmora/subshop/core/stock"
	"github.com/velmora/subshop/core/subscription"
	"github.com/velmora/subshop/database"
	"github.com/velmora/subshop/metrics"
	"github.com/velmora/subshop/random"
	"github.com/velmora/subshop/validate"
)

// Engine owns order creation and the cancellation paths. Payment session
// opening and payment-row cancellation are injected so the engine never
// depends on provider shapes.
type Engine struct {
	DB             *sqlx.DB
	Log            logrus.FieldLogger
	BG             *background.Background
	Dispatcher     Dispatcher
	StartSession   SessionFunc
	CancelPayments PaymentCanceller

	// TaxRate in basis points. Zero for now, but a product decision
	// rather than an invariant.
	TaxRate int
}

// GenerateNumber builds a human-readable order number. Uniqueness relies on
// the timestamp plus a random suffix; the unique index on order_number is
// the real guarantee.
func GenerateNumber(now time.Time) string {
	return fmt.Sprintf("SO-%s-%s", now.Format("20060102-150405"), random.String(6))
}

// Totals computes subtotal, tax and total in cents for the given frozen
// line prices. taxRate is in basis points.
func Totals(items []Item, taxRate int) (subtotal, tax, total int) {
	for _, it := range items {
		subtotal += it.Price * it.Quantity
	}
	tax = subtotal * taxRate / 10000
	return subtotal, tax, subtotal + tax
}

// Create validates stock, freezes prices, and creates the order with its
// items in one transaction. Bypass orders complete synchronously; everything
// else stays PENDING and gets a payment session opened post-commit.
func (e *Engine) Create(ctx context.Context, userID string, admin bool, no New) (Created, error) {
	method := PaymentMethod(no.PaymentMethod)

	if method == MethodAdminBypass && !admin {
		return Created{}, ErrBypassForbidden
	}

	planIDs := make([]string, 0, len(no.Items))
	seen := make(map[string]bool, len(no.Items))
	for _, it := range no.Items {
		if !seen[it.PlanID] {
			seen[it.PlanID] = true
			planIDs = append(planIDs, it.PlanID)
		}
	}

	plans, err := plan.FetchAvailableByIDs(ctx, e.DB, planIDs)
	if err != nil {
		return Created{}, fmt.Errorf("resolving plans: %w", err)
	}

	var missing []string
	for _, id := range planIDs {
		if _, ok := plans[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return Created{}, &PlanError{PlanIDs: missing}
	}

	if err := e.checkStock(ctx, e.DB, no.Items, plans); err != nil {
		return Created{}, err
	}

	now := time.Now().UTC()

	currency := "USD"
	if len(planIDs) > 0 {
		currency = plans[planIDs[0]].Currency
	}

	ord := Order{
		ID:            validate.GenerateID(),
		Number:        GenerateNumber(now),
		UserID:        userID,
		Status:        Pending,
		PaymentMethod: method,
		Currency:      currency,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if method == MethodAdminBypass {
		ord.Status = Completed
		ord.CompletedAt = &now
	}

	items := make([]Item, 0, len(no.Items))
	for _, in := range no.Items {
		p := plans[in.PlanID]
		items = append(items, Item{
			ID:           validate.GenerateID(),
			OrderID:      ord.ID,
			PlanID:       p.ID,
			Quantity:     in.Quantity,
			Price:        p.Price,
			Currency:     p.Currency,
			DeliveryType: p.DeliveryType,
			CreatedAt:    now,
		})
	}

	ord.Subtotal, ord.Tax, ord.Total = Totals(items, e.TaxRate)

	var conflicted []string
	err = database.Transaction(e.DB, func(tx sqlx.ExtContext) error {
		if err := Create(ctx, tx, ord); err != nil {
			return err
		}

		for _, it := range items {
			if err := CreateItem(ctx, tx, it); err != nil {
				return err
			}
		}

		if method == MethodAdminBypass {
			var err error
			conflicted, err = CompleteItems(ctx, tx, e.Log, ord, items, plans, now)
			return err
		}

		return nil
	})
	if err != nil {
		return Created{}, fmt.Errorf("creating order for user[%s]: %w", userID, err)
	}

	metrics.OrdersCreated.WithLabelValues(string(method)).Inc()

	cr := Created{
		OrderID:     ord.ID,
		OrderNumber: ord.Number,
		Status:      ord.Status,
		Total:       ord.Total,
	}

	if method == MethodAdminBypass {
		for _, planID := range conflicted {
			e.Log.Warnf("order[%s]: stock conflict on plan[%s] during bypass completion", ord.ID, planID)
		}
		e.Dispatch(ord, items)
		return cr, nil
	}

	// The order is committed at this point; a session failure is logged and
	// the caller retries through the payment endpoints.
	if e.StartSession != nil {
		url, err := e.StartSession(ctx, ord)
		if err != nil {
			e.Log.Errorf("opening payment session for order[%s]: %v", ord.ID, err)
		} else {
			cr.RedirectURL = url
		}
	}

	return cr, nil
}

// checkStock aggregates every violating line into one error.
func (e *Engine) checkStock(ctx context.Context, db sqlx.ExtContext, items []ItemNew, plans map[string]plan.Plan) error {
	requested := make(map[string]int)
	var autoIDs []string
	for _, it := range items {
		p := plans[it.PlanID]
		if p.DeliveryType != plan.DeliveryAutomatic {
			continue
		}
		if _, ok := requested[it.PlanID]; !ok {
			autoIDs = append(autoIDs, it.PlanID)
		}
		requested[it.PlanID] += it.Quantity
	}

	if len(autoIDs) == 0 {
		return nil
	}

	counts, err := stock.CountAvailableBatch(ctx, db, autoIDs)
	if err != nil {
		return fmt.Errorf("counting stock: %w", err)
	}

	var violations []Violation
	for _, planID := range autoIDs {
		want := requested[planID]
		have := counts[planID]
		if have >= want {
			continue
		}

		p := plans[planID]
		name := p.ProductID
		if prd, err := product.Fetch(ctx, db, p.ProductID); err == nil {
			name = prd.Name
		}

		violations = append(violations, Violation{
			PlanID:      planID,
			ProductName: name,
			PlanType:    p.PlanType,
			Requested:   want,
			Available:   have,
		})
	}

	if len(violations) > 0 {
		return &StockError{Violations: violations}
	}
	return nil
}

// CompleteItems applies the completion bookkeeping for every item of an
// order inside the caller's transaction: one subscription per item, and one
// claimed stock unit per purchased quantity for AUTOMATIC plans. A failed
// claim is a stock conflict, reported back and logged, never an error: by
// then the payment is authoritative.
func CompleteItems(ctx context.Context, tx sqlx.ExtContext, log logrus.FieldLogger, ord Order, items []Item, plans map[string]plan.Plan, now time.Time) ([]string, error) {
	var conflicted []string

	for _, it := range items {
		p, ok := plans[it.PlanID]
		if !ok {
			return nil, fmt.Errorf("plan[%s] missing during completion of order[%s]", it.PlanID, ord.ID)
		}

		end := now.AddDate(0, 0, p.DurationDays)
		sub := subscription.Subscription{
			ID:          validate.GenerateID(),
			UserID:      ord.UserID,
			OrderItemID: it.ID,
			PlanID:      it.PlanID,
			StartAt:     now,
			EndAt:       end,
			RenewalAt:   end,
			CreatedAt:   now,
		}
		if err := subscription.Create(ctx, tx, sub); err != nil {
			return nil, err
		}

		if it.DeliveryType != plan.DeliveryAutomatic {
			continue
		}

		for n := 0; n < it.Quantity; n++ {
			stockID, err := stock.Claim(ctx, tx, it.PlanID, it.ID)
			if err != nil {
				if errors.Is(err, stock.ErrNoStock) {
					log.Warnf("order item[%s]: no stock left for plan[%s]", it.ID, it.PlanID)
					conflicted = append(conflicted, it.PlanID)
					break
				}
				return nil, err
			}

			if n == 0 {
				if err := SetItemStock(ctx, tx, it.ID, stockID); err != nil {
					return nil, err
				}
			}
		}
	}

	return conflicted, nil
}

// Dispatch hands every item to the delivery collaborator in the background.
func (e *Engine) Dispatch(ord Order, items []Item) {
	if e.Dispatcher == nil || e.BG == nil {
		return
	}

	for _, it := range items {
		it := it
		e.BG.Add(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := e.Dispatcher.Deliver(ctx, ord, it); err != nil {
				e.Log.Errorf("delivering order item[%s] of order[%s]: %v", it.ID, ord.ID, err)
			}
		})
	}
}

// ValidateForPayment re-checks stock for a PENDING order right before the
// browser is sent to the provider. Read-only: stock may have been consumed
// by a competing order since creation.
func (e *Engine) ValidateForPayment(ctx context.Context, userID string, admin bool, orderID string) (Validation, error) {
	ord, err := Fetch(ctx, e.DB, orderID)
	if err != nil {
		return Validation{}, err
	}

	if ord.UserID != userID && !admin {
		return Validation{}, ErrNotFound
	}

	items, err := FetchItems(ctx, e.DB, orderID)
	if err != nil {
		return Validation{}, err
	}

	planIDs := make([]string, 0, len(items))
	for _, it := range items {
		planIDs = append(planIDs, it.PlanID)
	}

	plans, err := plan.FetchByIDs(ctx, e.DB, planIDs)
	if err != nil {
		return Validation{}, err
	}

	var autoIDs []string
	for _, it := range items {
		if it.DeliveryType == plan.DeliveryAutomatic {
			autoIDs = append(autoIDs, it.PlanID)
		}
	}

	counts, err := stock.CountAvailableBatch(ctx, e.DB, autoIDs)
	if err != nil {
		return Validation{}, err
	}

	v := Validation{
		OrderID:     ord.ID,
		OrderNumber: ord.Number,
		Valid:       true,
	}

	for _, it := range items {
		p := plans[it.PlanID]

		name := p.ProductID
		if prd, err := product.Fetch(ctx, e.DB, p.ProductID); err == nil {
			name = prd.Name
		}

		iv := ItemValidation{
			OrderItemID:       it.ID,
			PlanID:            it.PlanID,
			ProductName:       name,
			PlanType:          p.PlanType,
			RequestedQuantity: it.Quantity,
			Valid:             true,
		}

		if it.DeliveryType == plan.DeliveryAutomatic {
			iv.AvailableStock = counts[it.PlanID]
			if iv.AvailableStock < it.Quantity {
				iv.Valid = false
				iv.Error = Violation{
					PlanID:      it.PlanID,
					ProductName: name,
					PlanType:    p.PlanType,
					Requested:   it.Quantity,
					Available:   iv.AvailableStock,
				}.message()
				v.Valid = false
			}
		} else {
			// Manual plans have unconstrained logical stock.
			iv.AvailableStock = it.Quantity
		}

		v.Items = append(v.Items, iv)
	}

	v.CanProceedWithPayment = v.Valid && ord.Status == Pending
	return v, nil
}

// CancelDueToStockConflict moves a PENDING order to CANCELLED, cancels its
// pending payments with the reason, and purges the order's plans from the
// owner's cart. Re-cancelling an already-terminal order reports ErrNotFound.
func (e *Engine) CancelDueToStockConflict(ctx context.Context, orderID string, reason string) error {
	ord, err := Fetch(ctx, e.DB, orderID)
	if err != nil {
		return err
	}

	if ord.Status != Pending {
		return ErrNotFound
	}

	items, err := FetchItems(ctx, e.DB, orderID)
	if err != nil {
		return err
	}

	planIDs := make([]string, 0, len(items))
	for _, it := range items {
		planIDs = append(planIDs, it.PlanID)
	}

	cancelled := false
	err = database.Transaction(e.DB, func(tx sqlx.ExtContext) error {
		ok, err := Transition(ctx, tx, orderID, Cancelled, nil)
		if err != nil {
			return err
		}
		if !ok {
			// Lost the race to a concurrent transition. Nothing to undo.
			return nil
		}
		cancelled = true

		if e.CancelPayments != nil {
			if err := e.CancelPayments(ctx, tx, orderID, reason); err != nil {
				return err
			}
		}

		return cart.PurgePlans(ctx, tx, ord.UserID, planIDs)
	})
	if err != nil {
		return fmt.Errorf("cancelling order[%s]: %w", orderID, err)
	}

	if cancelled {
		metrics.OrdersCancelled.Inc()
		e.Log.Infof("order[%s] cancelled: %s", orderID, reason)
	}

	return nil
}

// CancelConflicting sweeps still-PENDING orders whose requested quantity for
// any of the given plans now exceeds remaining stock. Invoked after an order
// completes and consumes stock; the completed order is excluded. Per-order
// failures are logged, the sweep keeps going.
func (e *Engine) CancelConflicting(ctx context.Context, completedOrderID string, planIDs []string) {
	ords, err := FetchPendingByPlans(ctx, e.DB, planIDs, completedOrderID)
	if err != nil {
		e.Log.Errorf("sweeping conflicting orders of order[%s]: %v", completedOrderID, err)
		return
	}

	for _, ord := range ords {
		items, err := FetchItems(ctx, e.DB, ord.ID)
		if err != nil {
			e.Log.Errorf("sweep: fetching items of order[%s]: %v", ord.ID, err)
			continue
		}

		requested := make(map[string]int)
		var autoIDs []string
		for _, it := range items {
			if it.DeliveryType != plan.DeliveryAutomatic {
				continue
			}
			if _, ok := requested[it.PlanID]; !ok {
				autoIDs = append(autoIDs, it.PlanID)
			}
			requested[it.PlanID] += it.Quantity
		}

		counts, err := stock.CountAvailableBatch(ctx, e.DB, autoIDs)
		if err != nil {
			e.Log.Errorf("sweep: counting stock for order[%s]: %v", ord.ID, err)
			continue
		}

		var affected []string
		for _, planID := range autoIDs {
			if counts[planID] < requested[planID] {
				affected = append(affected, planID)
			}
		}
		if len(affected) == 0 {
			continue
		}

		reason := fmt.Sprintf("stock was consumed by a competing order before payment of order %s completed", ord.Number)

		if err := e.CancelDueToStockConflict(ctx, ord.ID, reason); err != nil {
			if errors.Is(err, ErrNotFound) {
				// Lost the race to a concurrent transition. Nothing to undo.
				continue
			}
			e.Log.Errorf("sweep: cancelling order[%s]: %v", ord.ID, err)
		}
	}
}
