package payment

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		target      string
		contentType string
		body        string
		want        string
	}{
		{
			name:   "query",
			method: "GET",
			target: "/payments/callback/paypal?token=TOK-1&PayerID=XYZ",
			want:   "TOK-1",
		},
		{
			name:        "json body",
			method:      "POST",
			target:      "/payments/callback/paypal",
			contentType: "application/json",
			body:        `{"token":"TOK-2","other":"x"}`,
			want:        "TOK-2",
		},
		{
			name:        "form body",
			method:      "POST",
			target:      "/payments/callback/paypal",
			contentType: "application/x-www-form-urlencoded",
			body:        "token=TOK-3&PayerID=XYZ",
			want:        "TOK-3",
		},
		{
			name:   "raw bare token",
			method: "POST",
			target: "/payments/callback/paypal",
			body:   "TOK-4\n",
			want:   "TOK-4",
		},
		{
			name:   "raw json without content type",
			method: "POST",
			target: "/payments/callback/paypal",
			body:   `{"token":"TOK-5"}`,
			want:   "TOK-5",
		},
		{
			name:   "raw query string without content type",
			method: "POST",
			target: "/payments/callback/paypal",
			body:   "PayerID=XYZ&token=TOK-6",
			want:   "TOK-6",
		},
		{
			name:        "malformed json",
			method:      "POST",
			target:      "/payments/callback/paypal",
			contentType: "application/json",
			body:        `{"token":`,
			want:        "",
		},
		{
			name:   "empty",
			method: "POST",
			target: "/payments/callback/paypal",
			body:   "",
			want:   "",
		},
		{
			name:        "query wins over body",
			method:      "POST",
			target:      "/payments/callback/paypal?token=TOK-7",
			contentType: "application/json",
			body:        `{"token":"other"}`,
			want:        "TOK-7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}

			if got := ExtractToken(r); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsBrowser(t *testing.T) {
	browsers := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_2) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.3 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/111.0",
	}
	for _, ua := range browsers {
		if !IsBrowser(ua) {
			t.Errorf("expected browser: %s", ua)
		}
	}

	servers := []string{
		"PayPal/AUHD-214.0-55610625",
		"Stripe/1.0 (+https://stripe.com/docs/webhooks)",
		"Go-http-client/2.0",
		"curl/7.88.1",

		// Unknown callers default to the machine dialect.
		"",
		"something-custom",
	}
	for _, ua := range servers {
		if IsBrowser(ua) {
			t.Errorf("expected server: %q", ua)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for st, want := range map[Status]bool{
		Pending:   false,
		Completed: true,
		Failed:    true,
		Cancelled: true,
	} {
		if got := st.Terminal(); got != want {
			t.Errorf("%s: Terminal() = %v, want %v", st, got, want)
		}
	}
}
