package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/velmora/subshop/api/web"
	"github.com/velmora/subshop/core/order"
	"github.com/velmora/subshop/core/plan"
	"github.com/velmora/subshop/database"
	"github.com/velmora/subshop/metrics"
)

// ExtractToken pulls the logical token out of whichever shape the callback
// arrived in: GET query, JSON body, form body, or a raw body.
func ExtractToken(r *http.Request) string {
	if t := web.Query(r, "token"); t != "" {
		return t
	}

	if r.Body == nil {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return ""
	}

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.Contains(ct, "application/json"):
		var in struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(body, &in); err != nil {
			return ""
		}
		return in.Token

	case strings.Contains(ct, "application/x-www-form-urlencoded"):
		vals, err := url.ParseQuery(string(body))
		if err != nil {
			return ""
		}
		return vals.Get("token")
	}

	// Raw body: some integrations POST the bare token, others a JSON or
	// query-string payload without a content type.
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "{") {
		var in struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal([]byte(raw), &in); err == nil {
			return in.Token
		}
		return ""
	}
	if strings.Contains(raw, "token=") {
		if vals, err := url.ParseQuery(raw); err == nil {
			return vals.Get("token")
		}
	}
	return raw
}

// IsBrowser classifies the callback caller from its user agent. It is a
// heuristic kept in one place so the ambiguous default (treat as server,
// answer JSON) is a single decision point.
func IsBrowser(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range []string{"mozilla", "chrome", "safari", "firefox", "edg/", "opera"} {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// Reconciler converges payment, order and stock state from provider
// callbacks, exactly once per real-world outcome.
type Reconciler struct {
	DB        *sqlx.DB
	Log       logrus.FieldLogger
	Engine    *order.Engine
	Providers map[order.PaymentMethod]Provider

	// OrderListURL is the browser destination after a callback.
	OrderListURL string
}

// Apply moves the payment and its order to the terminal state the outcome
// dictates, claims stock and creates subscriptions on completion, then runs
// delivery dispatch and the conflict sweep. Re-applying a callback to an
// already-terminal payment is a no-op; the bool reports whether side
// effects ran.
func (rec *Reconciler) Apply(ctx context.Context, pay Payment, out Outcome) (order.Order, bool, error) {
	ord, err := order.Fetch(ctx, rec.DB, pay.OrderID)
	if err != nil {
		return order.Order{}, false, err
	}

	if pay.Status.Terminal() {
		return ord, false, nil
	}

	now := time.Now().UTC()

	ordStatus := order.Failed
	var completedAt *time.Time
	if out.Status == Completed {
		ordStatus = order.Completed
		completedAt = &now
	}

	var (
		applied    bool
		orderMoved bool
		items      []order.Item
		conflicted []string
	)

	err = database.Transaction(rec.DB, func(tx sqlx.ExtContext) error {
		ok, err := MarkTerminal(ctx, tx, pay.ID, out.Status, out.ProviderPaymentID, out.Raw, out.Reason, completedAt)
		if err != nil {
			return err
		}
		if !ok {
			// A concurrent duplicate already finalized this payment.
			return nil
		}
		applied = true

		orderMoved, err = order.Transition(ctx, tx, pay.OrderID, ordStatus, completedAt)
		if err != nil {
			return err
		}

		if out.Status != Completed {
			return nil
		}

		if !orderMoved {
			// The order reached a terminal state while the payment was in
			// flight (e.g. cancelled by the conflict sweep). Completing its
			// items now would consume stock for a dead order; flagged for
			// manual reconciliation instead.
			rec.Log.Warnf("payment[%s] completed but order[%s] is already terminal", pay.ID, pay.OrderID)
			return nil
		}

		items, err = order.FetchItems(ctx, tx, pay.OrderID)
		if err != nil {
			return err
		}

		planIDs := make([]string, 0, len(items))
		for _, it := range items {
			planIDs = append(planIDs, it.PlanID)
		}

		plans, err := plan.FetchByIDs(ctx, tx, planIDs)
		if err != nil {
			return err
		}

		conflicted, err = order.CompleteItems(ctx, tx, rec.Log, ord, items, plans, now)
		return err
	})
	if err != nil {
		return order.Order{}, false, fmt.Errorf("applying callback to payment[%s]: %w", pay.ID, err)
	}

	if !applied {
		ord, err := order.Fetch(ctx, rec.DB, pay.OrderID)
		return ord, false, err
	}

	metrics.PaymentsFinalized.WithLabelValues(string(out.Status)).Inc()

	// Post-write read-back: a diagnostic safety net, never a failure.
	if check, err := Fetch(ctx, rec.DB, pay.ID); err != nil {
		rec.Log.Warnf("read-back of payment[%s] failed: %v", pay.ID, err)
	} else if check.Status != out.Status {
		rec.Log.Warnf("payment[%s] read back as %s after commit of %s", pay.ID, check.Status, out.Status)
	}

	ord, err = order.Fetch(ctx, rec.DB, pay.OrderID)
	if err != nil {
		return order.Order{}, true, err
	}

	if out.Status == Completed && orderMoved {
		for _, planID := range conflicted {
			rec.Log.Warnf("order[%s]: stock conflict on plan[%s] during completion", ord.ID, planID)
		}

		rec.Engine.Dispatch(ord, items)

		planIDs := make([]string, 0, len(items))
		for _, it := range items {
			if it.DeliveryType == plan.DeliveryAutomatic {
				planIDs = append(planIDs, it.PlanID)
			}
		}
		rec.Engine.CancelConflicting(ctx, ord.ID, planIDs)
	}

	return ord, true, nil
}
