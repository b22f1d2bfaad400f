package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/velmora/subshop/api/web"
	"github.com/velmora/subshop/api/weberr"
	"github.com/velmora/subshop/core/claims"
)

const (
	sessionUserID = "user_id"
	sessionRole   = "role"
)

// LoadAndSave adapts the scs session middleware to the handler signature.
func LoadAndSave(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			var err error

			sh := session.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				err = handler(r.Context(), w, r)
			}))
			sh.ServeHTTP(w, r.WithContext(ctx))

			return err
		}
		return h
	}
	return m
}

func Authenticate(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			userID := session.GetString(ctx, sessionUserID)
			if userID == "" {
				return weberr.NotAuthorized(errors.New("user not authenticated"))
			}

			clm := claims.Claims{
				UserID: userID,
				Role:   session.GetString(ctx, sessionRole),
			}

			return handler(claims.Set(ctx, clm), w, r)
		}
		return h
	}
	return m
}

func Admin(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			userID := session.GetString(ctx, sessionUserID)
			if userID == "" {
				return weberr.NotAuthorized(errors.New("user not authenticated"))
			}

			role := session.GetString(ctx, sessionRole)
			if role != claims.RoleAdmin {
				return weberr.Forbidden(errors.New("admin role required"))
			}

			clm := claims.Claims{UserID: userID, Role: role}
			return handler(claims.Set(ctx, clm), w, r)
		}
		return h
	}
	return m
}
