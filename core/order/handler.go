package order

import (
	"context"
	"errors"
	"net/http"

	"github.com/velmora/subshop/api/web"
	"github.com/velmora/subshop/api/weberr"
	"github.com/velmora/subshop/core/claims"
	"github.com/velmora/subshop/validate"
)

func HandleCreate(eng *Engine) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		var no New
		if err := web.Decode(w, r, &no); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(no); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		cr, err := eng.Create(ctx, clm.UserID, claims.IsAdmin(ctx), no)
		if err != nil {
			var perr *PlanError
			var serr *StockError
			switch {
			case errors.Is(err, ErrBypassForbidden):
				return weberr.Forbidden(err)
			case errors.As(err, &perr), errors.As(err, &serr):
				return weberr.NewError(err, err.Error(), http.StatusBadRequest)
			}
			return weberr.NewError(err, "failed to create the order, please try again", http.StatusInternalServerError)
		}

		return web.Respond(ctx, w, cr, http.StatusCreated)
	}
}

func HandleList(eng *Engine) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		ords, err := FetchByUser(ctx, eng.DB, clm.UserID)
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, ords, http.StatusOK)
	}
}

func HandleShow(eng *Engine) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if _, err := claims.Get(ctx); err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		ord, err := Fetch(ctx, eng.DB, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		if !claims.IsUser(ctx, ord.UserID) && !claims.IsAdmin(ctx) {
			return weberr.NotFound(ErrNotFound)
		}

		items, err := FetchItems(ctx, eng.DB, id)
		if err != nil {
			return err
		}

		out := struct {
			Order
			Items []Item `json:"items"`
		}{ord, items}

		return web.Respond(ctx, w, out, http.StatusOK)
	}
}

func HandleValidate(eng *Engine) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		v, err := eng.ValidateForPayment(ctx, clm.UserID, claims.IsAdmin(ctx), id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		return web.Respond(ctx, w, v, http.StatusOK)
	}
}
