package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/velmora/subshop/api/web"
	"github.com/velmora/subshop/api/weberr"
	"github.com/velmora/subshop/rate"
)

// RateLimit throttles per remote host. It fronts the public payment
// callback endpoint, which is reachable without authentication.
func RateLimit(lim *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			if !lim.Check(host) {
				err := errors.New("rate limit exceeded")
				return weberr.NewError(err, "too many requests", http.StatusTooManyRequests)
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
