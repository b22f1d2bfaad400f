package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	mockparam "github.com/stripe/stripe-mock/param"
	"github.com/velmora/subshop/api"
	"github.com/velmora/subshop/api/background"
	"github.com/velmora/subshop/api/web"
	"github.com/velmora/subshop/config"
	"github.com/velmora/subshop/core/claims"
	"github.com/velmora/subshop/core/plan"
	"github.com/velmora/subshop/core/product"
	"github.com/velmora/subshop/core/stock"
	"github.com/velmora/subshop/core/user"
	"github.com/velmora/subshop/database"
	"github.com/velmora/subshop/rate"
	"github.com/velmora/subshop/validate"
	"golang.org/x/crypto/bcrypt"
)

// mockPaypal fakes the three provider endpoints the flow touches: the oauth
// token, session creation, and capture. captureStatus steers the outcome a
// test wants to observe.
type mockPaypal struct {
	captureStatus string
}

func (m *mockPaypal) handle() http.Handler {
	token := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		web.Respond(context.Background(), w, out, http.StatusOK)
	})

	checkout := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Units []paypal.PurchaseUnitRequest `json:"purchase_units"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			web.Respond(context.Background(), w, nil, http.StatusBadRequest)
			return
		}

		if len(in.Units) != 1 || in.Units[0].InvoiceID == "" {
			web.Respond(context.Background(), w, nil, http.StatusBadRequest)
			return
		}

		id := fmt.Sprintf("PP-%d", rand.Intn(1_000_000))
		out := map[string]any{
			"id":     id,
			"status": "CREATED",
			"links": []map[string]any{
				{"href": "https://paypal.test/approve/" + id, "rel": "approve", "method": "GET"},
			},
		}
		web.Respond(context.Background(), w, out, http.StatusCreated)
	})

	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{
			"id":     mux.Vars(r)["id"],
			"status": m.captureStatus,
		}
		web.Respond(context.Background(), w, out, http.StatusCreated)
	})

	r := mux.NewRouter()
	r.Handle("/v1/oauth2/token", token).Methods("POST")
	r.Handle("/v2/checkout/orders", checkout).Methods("POST")
	r.Handle("/v2/checkout/orders/{id}/capture", capture).Methods("POST")
	return r
}

// mockStripe fakes checkout session creation and retrieval. paymentStatus is
// what a later confirmation reports back.
type mockStripe struct {
	paymentStatus string
}

func (m *mockStripe) handle() http.Handler {
	create := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, _ := mockparam.ParseParams(r)
		if params["client_reference_id"] == nil {
			web.Respond(context.Background(), w, nil, http.StatusBadRequest)
			return
		}

		id := fmt.Sprintf("cs_test_%d", rand.Intn(1_000_000))
		out := map[string]any{
			"id":             id,
			"url":            "https://checkout.stripe.test/pay/" + id,
			"payment_status": "unpaid",
		}
		web.Respond(context.Background(), w, out, http.StatusOK)
	})

	get := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{
			"id":             mux.Vars(r)["id"],
			"payment_status": m.paymentStatus,
		}
		web.Respond(context.Background(), w, out, http.StatusOK)
	})

	r := mux.NewRouter()
	r.Handle("/v1/checkout/sessions", create).Methods("POST")
	r.Handle("/v1/checkout/sessions/{id}", get).Methods("GET")
	return r
}

type TestEnv struct {
	DB     *sqlx.DB
	URL    string
	Paypal *mockPaypal
	Stripe *mockStripe

	AdminEmail string
	AdminPass  string
	AdminID    string
	UserEmail  string
	UserPass   string
	UserID     string

	client *http.Client
}

// NewTestEnv provisions an isolated database, fake providers, and a running
// API server. Everything is torn down with the test.
func NewTestEnv(t *testing.T, name string) (*TestEnv, error) {
	if _, err := adminDB.Exec("CREATE DATABASE " + name); err != nil {
		return nil, fmt.Errorf("creating database %s: %w", name, err)
	}

	db, err := database.Open(config.DB{
		User:       "postgres",
		Password:   "postgres",
		Host:       dbHost,
		Name:       name,
		DisableTLS: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", name, err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.StatusCheck(ctx, db); err != nil {
		return nil, fmt.Errorf("database %s not ready: %w", name, err)
	}

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrating database %s: %w", name, err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	mpp := &mockPaypal{captureStatus: "COMPLETED"}
	ppSrv := httptest.NewServer(mpp.handle())
	t.Cleanup(ppSrv.Close)

	mst := &mockStripe{paymentStatus: "paid"}
	stSrv := httptest.NewServer(mst.handle())
	t.Cleanup(stSrv.Close)

	pp, err := paypal.NewClient("test-client", "test-secret", ppSrv.URL)
	if err != nil {
		return nil, fmt.Errorf("building paypal client: %w", err)
	}
	if _, err := pp.GetAccessToken(ctx); err != nil {
		return nil, fmt.Errorf("fetching paypal token: %w", err)
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL: stripe.String(stSrv.URL + "/v1"),
	})
	strp := &stripecl.API{}
	strp.Init("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	session := scs.New()
	session.Lifetime = time.Hour

	bg := background.New(logger)

	handler := api.APIMux(api.APIConfig{
		Log:        logger,
		DB:         db,
		Session:    session,
		Background: bg,
		Paypal:     pp,
		Stripe:     strp,
		PaypalCfg: config.Paypal{
			ClientID:  "test-client",
			Secret:    "test-secret",
			URL:       ppSrv.URL,
			ReturnURL: "http://storefront.test/callback/paypal",
			CancelURL: "http://storefront.test/cart",
		},
		StripeCfg: config.Stripe{
			APISecret:  "sk_test_123",
			SuccessURL: "http://storefront.test/callback/stripe",
			CancelURL:  "http://storefront.test/cart",
		},
		OrderListURL: "http://storefront.test/orders",
		TaxRate:      0,
		CallbackRate: rate.NewLimiter(1000, 60, 1000),
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("building cookie jar: %w", err)
	}

	env := &TestEnv{
		DB:     db,
		URL:    srv.URL,
		Paypal: mpp,
		Stripe: mst,

		AdminEmail: "admin@test.local",
		AdminPass:  "admin-password",
		UserEmail:  "user@test.local",
		UserPass:   "user-password",

		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Callback redirects are assertions, not navigation.
				return http.ErrUseLastResponse
			},
		},
	}

	env.AdminID, err = env.seedUser(ctx, "Admin", env.AdminEmail, env.AdminPass, claims.RoleAdmin)
	if err != nil {
		return nil, err
	}
	env.UserID, err = env.seedUser(ctx, "User", env.UserEmail, env.UserPass, claims.RoleUser)
	if err != nil {
		return nil, err
	}

	return env, nil
}

func (env *TestEnv) seedUser(ctx context.Context, name, email, pass, role string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.MinCost)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	usr := user.User{
		ID:           validate.GenerateID(),
		Name:         name,
		Email:        email,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := user.Create(ctx, env.DB, usr); err != nil {
		return "", fmt.Errorf("seeding user %s: %w", email, err)
	}
	return usr.ID, nil
}

func (env *TestEnv) Client() *http.Client {
	return env.client
}

func (env *TestEnv) Login(t *testing.T, email, pass string) {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"email": email, "password": pass})
	w, err := env.client.Post(env.URL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer w.Body.Close()

	if w.StatusCode != http.StatusOK {
		t.Fatalf("login as %s: status %s", email, w.Status)
	}
}

func (env *TestEnv) Logout(t *testing.T) {
	t.Helper()

	w, err := env.client.Post(env.URL+"/auth/logout", "application/json", nil)
	if err != nil {
		t.Fatalf("logout request: %v", err)
	}
	defer w.Body.Close()

	if w.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: status %s", w.Status)
	}
}

// PostJSON sends body as JSON and decodes the response into out when out is
// non-nil. The status code is always returned.
func (env *TestEnv) PostJSON(t *testing.T, path string, body any, out any) int {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encoding request body: %v", err)
	}

	w, err := env.client.Post(env.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer w.Body.Close()

	if out != nil {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decoding response of POST %s: %v", path, err)
		}
	}
	return w.StatusCode
}

func (env *TestEnv) GetJSON(t *testing.T, path string, out any) int {
	t.Helper()

	w, err := env.client.Get(env.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer w.Body.Close()

	if out != nil {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decoding response of GET %s: %v", path, err)
		}
	}
	return w.StatusCode
}

// SeedPlan creates a product with one plan directly in the database.
func (env *TestEnv) SeedPlan(t *testing.T, name string, price int, delivery plan.DeliveryType) plan.Plan {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	prd := product.Product{
		ID:          validate.GenerateID(),
		Name:        name,
		Description: name + " subscription",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := product.Create(ctx, env.DB, prd); err != nil {
		t.Fatalf("seeding product %s: %v", name, err)
	}

	pln := plan.Plan{
		ID:           validate.GenerateID(),
		ProductID:    prd.ID,
		PlanType:     "PREMIUM",
		Price:        price,
		Currency:     "USD",
		DurationDays: 30,
		DeliveryType: delivery,
		IsAvailable:  true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := plan.Create(ctx, env.DB, pln); err != nil {
		t.Fatalf("seeding plan for %s: %v", name, err)
	}

	return pln
}

// SeedStock inserts n unused stock units for the plan.
func (env *TestEnv) SeedStock(t *testing.T, planID string, n int) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < n; i++ {
		now := time.Now().UTC()
		it := stock.Item{
			ID:        validate.GenerateID(),
			PlanID:    planID,
			Content:   fmt.Sprintf("account-%d:secret", rand.Intn(1_000_000)),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := stock.Create(ctx, env.DB, it); err != nil {
			t.Fatalf("seeding stock for plan %s: %v", planID, err)
		}
	}
}

// WaitFor polls cond until it holds or the deadline passes. Used for effects
// that run on background workers, like delivery.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("condition not reached before the deadline")
}
