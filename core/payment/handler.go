package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/velmora/subshop/api/web"
	"github.com/velmora/subshop/api/weberr"
	"github.com/velmora/subshop/core/claims"
	"github.com/velmora/subshop/core/order"
	"github.com/velmora/subshop/metrics"
	"github.com/velmora/subshop/validate"
)

// openSession records a PENDING payment attempt, asks the provider for a
// session, and stores the provider handles. A failed attempt stays in the
// payment history as FAILED.
func openSession(ctx context.Context, db *sqlx.DB, log logrus.FieldLogger, prov Provider, ord order.Order) (Payment, SessionResult, error) {
	now := time.Now().UTC()

	pay := Payment{
		ID:        validate.GenerateID(),
		OrderID:   ord.ID,
		Method:    prov.Method(),
		Amount:    ord.Total,
		Currency:  ord.Currency,
		Status:    Pending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := Create(ctx, db, pay); err != nil {
		return Payment{}, SessionResult{}, err
	}

	res, err := prov.CreateSession(ctx, SessionRequest{
		PaymentID:   pay.ID,
		OrderID:     ord.ID,
		OrderNumber: ord.Number,
		Amount:      ord.Total,
		Currency:    ord.Currency,
	})
	if err != nil {
		if ferr := MarkFailed(ctx, db, pay.ID, err.Error()); ferr != nil {
			log.Errorf("marking payment[%s] failed: %v", pay.ID, ferr)
		}
		return pay, SessionResult{}, err
	}

	if !res.Success {
		reason := res.Err
		if reason == "" {
			reason = "provider refused to open a session"
		}
		if ferr := MarkFailed(ctx, db, pay.ID, reason); ferr != nil {
			log.Errorf("marking payment[%s] failed: %v", pay.ID, ferr)
		}
		return pay, res, fmt.Errorf("opening %s session: %s", prov.Method(), reason)
	}

	if err := SetSession(ctx, db, pay.ID, res.ProviderPaymentID, ProviderData{
		Token:      res.Token,
		PaymentURL: res.PaymentURL,
	}); err != nil {
		return pay, res, err
	}

	return pay, res, nil
}

// SessionStarter adapts session opening to the order engine's hook, so a
// freshly created order immediately gets a redirect URL.
func SessionStarter(db *sqlx.DB, log logrus.FieldLogger, providers map[order.PaymentMethod]Provider) order.SessionFunc {
	return func(ctx context.Context, ord order.Order) (string, error) {
		prov, ok := providers[ord.PaymentMethod]
		if !ok {
			return "", fmt.Errorf("no provider registered for method %s", ord.PaymentMethod)
		}

		_, res, err := openSession(ctx, db, log, prov, ord)
		if err != nil {
			return "", err
		}

		return res.PaymentURL, nil
	}
}

// HandleCreateSession opens a new payment session for a PENDING order owned
// by the caller. Each call is a fresh attempt with its own payment row.
func HandleCreateSession(rec *Reconciler, method order.PaymentMethod) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if _, err := claims.Get(ctx); err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		var in struct {
			OrderID string `json:"orderId" validate:"required,uuid"`
		}
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(err)
		}
		if err := validate.Check(in); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		ord, err := order.Fetch(ctx, rec.DB, in.OrderID)
		if err != nil {
			if errors.Is(err, order.ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		if !claims.IsUser(ctx, ord.UserID) && !claims.IsAdmin(ctx) {
			return weberr.NotFound(order.ErrNotFound)
		}

		if ord.Status != order.Pending {
			return weberr.Conflict(
				fmt.Errorf("order[%s] is %s", ord.ID, ord.Status),
				"the order is no longer payable",
			)
		}

		if ord.PaymentMethod != method {
			return weberr.NewError(
				fmt.Errorf("order[%s] expects method %s", ord.ID, ord.PaymentMethod),
				"the order was created for a different payment method",
				http.StatusBadRequest,
			)
		}

		prov, ok := rec.Providers[method]
		if !ok {
			return weberr.NewError(
				fmt.Errorf("no provider registered for method %s", method),
				"payment provider is not configured",
				http.StatusBadRequest,
			)
		}

		// At most one attempt per order is live. A retry supersedes whatever
		// attempt the caller abandoned.
		if err := CancelPending(ctx, rec.DB, ord.ID, "superseded by a newer payment attempt"); err != nil {
			return err
		}

		pay, res, err := openSession(ctx, rec.DB, rec.Log, prov, ord)
		if err != nil {
			if errors.Is(err, ErrNotConfigured) {
				return weberr.NewError(err, "payment provider is not configured", http.StatusBadRequest)
			}
			return weberr.NewError(err, "failed to open the payment session, please try again", http.StatusBadGateway)
		}

		out := struct {
			Success           bool   `json:"success"`
			PaymentID         string `json:"paymentId"`
			PaymentURL        string `json:"paymentUrl"`
			ProviderPaymentID string `json:"providerPaymentId"`
		}{true, pay.ID, res.PaymentURL, res.ProviderPaymentID}

		return web.Respond(ctx, w, out, http.StatusCreated)
	}
}

// HandleListByOrder returns the payment attempts of an order the caller owns.
func HandleListByOrder(rec *Reconciler) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if _, err := claims.Get(ctx); err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		ord, err := order.Fetch(ctx, rec.DB, id)
		if err != nil {
			if errors.Is(err, order.ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		if !claims.IsUser(ctx, ord.UserID) && !claims.IsAdmin(ctx) {
			return weberr.NotFound(order.ErrNotFound)
		}

		pays, err := FetchByOrder(ctx, rec.DB, id)
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, pays, http.StatusOK)
	}
}

type callbackResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId,omitempty"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HandleCallback is the provider return endpoint. It accepts every callback
// shape the integrations produce, confirms the outcome with the provider,
// and answers browsers with a redirect and servers with JSON.
func HandleCallback(rec *Reconciler) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		browser := IsBrowser(r.UserAgent())

		var method order.PaymentMethod
		switch web.Param(r, "provider") {
		case "paypal":
			method = order.MethodPaypal
		case "stripe":
			method = order.MethodStripe
		default:
			return callbackError(ctx, w, r, rec, browser, "configuration", http.StatusNotFound,
				"unknown payment provider")
		}

		prov, ok := rec.Providers[method]
		if !ok {
			return callbackError(ctx, w, r, rec, browser, "configuration", http.StatusBadRequest,
				"payment provider is not configured")
		}

		token := ExtractToken(r)
		if token == "" {
			return callbackError(ctx, w, r, rec, browser, "missing_token", http.StatusBadRequest,
				"Missing payment token")
		}

		pay, err := FetchByToken(ctx, rec.DB, method, token)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return callbackError(ctx, w, r, rec, browser, "payment_not_found", http.StatusNotFound,
					"no payment matches the callback token")
			}
			rec.Log.Errorf("resolving callback token: %v", err)
			return callbackError(ctx, w, r, rec, browser, "database_error", http.StatusInternalServerError,
				"failed to resolve the payment")
		}

		caller := "server"
		if browser {
			caller = "browser"
		}
		metrics.CallbacksReceived.WithLabelValues(caller).Inc()

		out, err := prov.Confirm(ctx, token)
		if err != nil {
			if errors.Is(err, ErrNotConfigured) {
				return callbackError(ctx, w, r, rec, browser, "configuration", http.StatusBadRequest,
					"payment provider is not configured")
			}
			// Confirmation did not succeed, so the payment did not succeed.
			out = Outcome{Status: Failed, Reason: err.Error()}
		}

		ord, _, err := rec.Apply(ctx, pay, out)
		if err != nil {
			rec.Log.Errorf("applying callback: %v", err)
			return callbackError(ctx, w, r, rec, browser, "server_error", http.StatusInternalServerError,
				"failed to finalize the payment")
		}

		if browser {
			dest, _ := url.Parse(rec.OrderListURL)
			q := dest.Query()
			q.Set("order", ord.Number)
			q.Set("status", string(ord.Status))
			if ord.Status != order.Completed {
				q.Set("error", "payment_failed")
			}
			dest.RawQuery = q.Encode()
			return web.Redirect(ctx, w, r, dest.String())
		}

		resp := callbackResponse{
			Success: ord.Status == order.Completed,
			OrderID: ord.ID,
			Status:  string(ord.Status),
		}
		return web.Respond(ctx, w, resp, http.StatusOK)
	}
}

// callbackError answers a failed callback in the caller's dialect: browsers
// get redirected to the storefront with an error code, servers get JSON.
func callbackError(ctx context.Context, w http.ResponseWriter, r *http.Request, rec *Reconciler, browser bool, code string, status int, msg string) error {
	if browser {
		dest, _ := url.Parse(rec.OrderListURL)
		q := dest.Query()
		q.Set("error", code)
		dest.RawQuery = q.Encode()
		return web.Redirect(ctx, w, r, dest.String())
	}

	return web.Respond(ctx, w, callbackResponse{Success: false, Error: msg}, status)
}
