package api

import (
	"context"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"
	stripecl "github.com/stripe/stripe-go/v74/client"
	"github.com/velmora/subshop/api/background"
	"github.com/velmora/subshop/api/middleware"
	"github.com/velmora/subshop/api/web"
	"github.com/velmora/subshop/config"
	"github.com/velmora/subshop/core/auth"
	"github.com/velmora/subshop/core/cart"
	"github.com/velmora/subshop/core/delivery"
	"github.com/velmora/subshop/core/order"
	"github.com/velmora/subshop/core/payment"
	"github.com/velmora/subshop/core/plan"
	"github.com/velmora/subshop/core/product"
	"github.com/velmora/subshop/core/stock"
	"github.com/velmora/subshop/core/subscription"
	"github.com/velmora/subshop/core/ticket"
	"github.com/velmora/subshop/core/user"
	"github.com/velmora/subshop/database"
	"github.com/velmora/subshop/metrics"
	"github.com/velmora/subshop/rate"
)

type APIConfig struct {
	CorsOrigin   string
	Log          logrus.FieldLogger
	DB           *sqlx.DB
	Session      *scs.SessionManager
	Background   *background.Background
	Paypal       *paypal.Client
	Stripe       *stripecl.API
	PaypalCfg    config.Paypal
	StripeCfg    config.Stripe
	OrderListURL string
	TaxRate      int
	CallbackRate *rate.Limiter
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, auth.LoadAndSave(cfg.Session))
	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	providers := map[order.PaymentMethod]payment.Provider{
		order.MethodPaypal: payment.NewPaypal(cfg.Paypal, cfg.PaypalCfg),
		order.MethodStripe: payment.NewStripe(cfg.Stripe, cfg.StripeCfg),
	}

	engine := &order.Engine{
		DB:             cfg.DB,
		Log:            cfg.Log,
		BG:             cfg.Background,
		Dispatcher:     delivery.New(cfg.DB, cfg.Log),
		StartSession:   payment.SessionStarter(cfg.DB, cfg.Log, providers),
		CancelPayments: payment.CancelPending,
		TaxRate:        cfg.TaxRate,
	}

	reconciler := &payment.Reconciler{
		DB:           cfg.DB,
		Log:          cfg.Log,
		Engine:       engine,
		Providers:    providers,
		OrderListURL: cfg.OrderListURL,
	}

	authen := auth.Authenticate(cfg.Session)
	admin := auth.Admin(cfg.Session)

	a.Handle(http.MethodGet, "/health", handleHealth(cfg.DB))
	a.Router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	a.Handle(http.MethodPost, "/auth/signup", auth.HandleSignup(cfg.DB, cfg.Session))
	a.Handle(http.MethodPost, "/auth/login", auth.HandleLogin(cfg.DB, cfg.Session))
	a.Handle(http.MethodPost, "/auth/logout", auth.HandleLogout(cfg.Session))

	a.Handle(http.MethodGet, "/users/current", user.HandleShowCurrent(cfg.DB), authen)

	a.Handle(http.MethodGet, "/products/{product_id}/plans", plan.HandleListByProduct(cfg.DB))
	a.Handle(http.MethodGet, "/products/{id}", product.HandleShow(cfg.DB))
	a.Handle(http.MethodGet, "/products", product.HandleList(cfg.DB))
	a.Handle(http.MethodPost, "/products", product.HandleCreate(cfg.DB), admin)
	a.Handle(http.MethodPut, "/products/{id}", product.HandleUpdate(cfg.DB), admin)

	a.Handle(http.MethodPost, "/plans", plan.HandleCreate(cfg.DB), admin)
	a.Handle(http.MethodPut, "/plans/{id}", plan.HandleUpdate(cfg.DB), admin)

	a.Handle(http.MethodPost, "/stock", stock.HandleCreate(cfg.DB), admin)
	a.Handle(http.MethodGet, "/plans/{plan_id}/stock", stock.HandleListByPlan(cfg.DB), admin)

	a.Handle(http.MethodGet, "/cart", cart.HandleShow(cfg.DB), authen)
	a.Handle(http.MethodDelete, "/cart", cart.HandleDelete(cfg.DB), authen)
	a.Handle(http.MethodPut, "/cart/items", cart.HandleUpsertItem(cfg.DB), authen)
	a.Handle(http.MethodDelete, "/cart/items/{plan_id}", cart.HandleDeleteItem(cfg.DB), authen)

	a.Handle(http.MethodPost, "/orders", order.HandleCreate(engine), authen)
	a.Handle(http.MethodGet, "/orders", order.HandleList(engine), authen)
	a.Handle(http.MethodGet, "/orders/{id}/validate", order.HandleValidate(engine), authen)
	a.Handle(http.MethodGet, "/orders/{id}/payments", payment.HandleListByOrder(reconciler), authen)
	a.Handle(http.MethodGet, "/orders/{id}", order.HandleShow(engine), authen)

	a.Handle(http.MethodPost, "/payments/paypal", payment.HandleCreateSession(reconciler, order.MethodPaypal), authen)
	a.Handle(http.MethodPost, "/payments/stripe", payment.HandleCreateSession(reconciler, order.MethodStripe), authen)

	// Providers call back without a session, from the browser or from their
	// own servers, so these routes are unauthenticated and rate limited.
	limited := middleware.RateLimit(cfg.CallbackRate)
	a.Handle(http.MethodGet, "/payments/callback/{provider}", payment.HandleCallback(reconciler), limited)
	a.Handle(http.MethodPost, "/payments/callback/{provider}", payment.HandleCallback(reconciler), limited)

	a.Handle(http.MethodGet, "/subscriptions", subscription.HandleList(cfg.DB), authen)
	a.Handle(http.MethodGet, "/tickets", ticket.HandleList(cfg.DB), authen)

	return a.Router
}

func handleHealth(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		status := "ok"
		code := http.StatusOK
		if err := database.StatusCheck(ctx, db); err != nil {
			status = "db not ready"
			code = http.StatusInternalServerError
		}

		out := struct {
			Status string `json:"status"`
		}{status}

		return web.Respond(ctx, w, out, code)
	}
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}
