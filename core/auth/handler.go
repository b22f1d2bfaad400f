package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/jmoiron/sqlx"
	"github.com/velmora/subshop/api/web"
	"github.com/velmora/subshop/api/weberr"
	"github.com/velmora/subshop/core/claims"
	"github.com/velmora/subshop/core/user"
	"github.com/velmora/subshop/validate"
	"golang.org/x/crypto/bcrypt"
)

type credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func HandleSignup(db *sqlx.DB, session *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var un user.UserNew
		if err := web.Decode(w, r, &un); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(un); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(un.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		usr := user.User{
			ID:           validate.GenerateID(),
			Name:         un.Name,
			Email:        un.Email,
			Role:         claims.RoleUser,
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if err := user.Create(ctx, db, usr); err != nil {
			return err
		}

		if err := session.RenewToken(ctx); err != nil {
			return err
		}
		session.Put(ctx, sessionUserID, usr.ID)
		session.Put(ctx, sessionRole, usr.Role)

		return web.Respond(ctx, w, usr, http.StatusCreated)
	}
}

func HandleLogin(db *sqlx.DB, session *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var creds credentials
		if err := web.Decode(w, r, &creds); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(creds); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		usr, err := user.FetchByEmail(ctx, db, creds.Email)
		if err != nil {
			return weberr.NotAuthorized(errors.New("invalid credentials"))
		}

		if err := bcrypt.CompareHashAndPassword(usr.PasswordHash, []byte(creds.Password)); err != nil {
			return weberr.NotAuthorized(errors.New("invalid credentials"))
		}

		if err := session.RenewToken(ctx); err != nil {
			return err
		}
		session.Put(ctx, sessionUserID, usr.ID)
		session.Put(ctx, sessionRole, usr.Role)

		return web.Respond(ctx, w, usr, http.StatusOK)
	}
}

func HandleLogout(session *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if err := session.Destroy(ctx); err != nil {
			return err
		}
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
