package cart

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/velmora/subshop/api/web"
	"github.com/velmora/subshop/api/weberr"
	"github.com/velmora/subshop/core/claims"
	"github.com/velmora/subshop/validate"
)

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		items, err := FetchItems(ctx, db, clm.UserID)
		if err != nil {
			return err
		}

		crt := Cart{UserID: clm.UserID, Items: items}
		return web.Respond(ctx, w, crt, http.StatusOK)
	}
}

func HandleUpsertItem(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		var in ItemNew
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(in); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		now := time.Now().UTC()
		it := Item{
			UserID:    clm.UserID,
			PlanID:    in.PlanID,
			Quantity:  in.Quantity,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := Upsert(ctx, db, it); err != nil {
			return err
		}

		return web.Respond(ctx, w, it, http.StatusOK)
	}
}

func HandleDelete(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		if err := Delete(ctx, db, clm.UserID); err != nil {
			return err
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

func HandleDeleteItem(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		planID := web.Param(r, "plan_id")
		if err := validate.CheckID(planID); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		if err := DeleteItem(ctx, db, clm.UserID, planID); err != nil {
			return err
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
