package config

import "time"

type Config struct {
	Web    Web
	DB     DB
	Cors   Cors
	Auth   Auth
	Paypal Paypal
	Stripe Stripe
	Order  Order
	Rate   Rate
}

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`

	// OrderListURL is where browser-originated payment callbacks are
	// redirected once the callback has been applied.
	OrderListURL string `conf:"default:http://localhost:3000/orders"`
}

type DB struct {
	User       string `conf:"default:postgres"`
	Password   string `conf:"default:postgres,mask"`
	Host       string `conf:"default:localhost"`
	Name       string `conf:"default:subshop"`
	DisableTLS bool   `conf:"default:true"`
}

type Cors struct {
	Origin string
}

type Auth struct {
	SessionLifetime time.Duration `conf:"default:24h"`
}

type Paypal struct {
	ClientID  string
	Secret    string `conf:",mask"`
	URL       string `conf:"default:https://api.sandbox.paypal.com"`
	ReturnURL string `conf:"default:http://localhost:8000/payments/callback/paypal"`
	CancelURL string `conf:"default:http://localhost:3000/cart"`
}

type Stripe struct {
	APISecret  string `conf:",mask"`
	SuccessURL string `conf:"default:http://localhost:8000/payments/callback/stripe"`
	CancelURL  string `conf:"default:http://localhost:3000/cart"`
}

type Order struct {
	// TaxRate is expressed in basis points (100 = 1%). The storefront
	// currently sells at zero tax, but nothing downstream assumes that.
	TaxRate int `conf:"default:0"`
}

type Rate struct {
	CallbackBurst  int     `conf:"default:20"`
	CallbackExpiry int     `conf:"default:60"`
	CallbackRPS    float64 `conf:"default:5"`
}
