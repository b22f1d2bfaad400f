package plan

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/velmora/subshop/api/web"
	"github.com/velmora/subshop/api/weberr"
	"github.com/velmora/subshop/validate"
)

func HandleListByProduct(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		productID := web.Param(r, "product_id")
		if err := validate.CheckID(productID); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		plns, err := FetchByProduct(ctx, db, productID)
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, plns, http.StatusOK)
	}
}

func HandleCreate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var pn PlanNew
		if err := web.Decode(w, r, &pn); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(pn); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		now := time.Now().UTC()
		pln := Plan{
			ID:           validate.GenerateID(),
			ProductID:    pn.ProductID,
			PlanType:     pn.PlanType,
			Price:        pn.Price,
			Currency:     pn.Currency,
			DurationDays: pn.DurationDays,
			DeliveryType: DeliveryType(pn.DeliveryType),
			IsAvailable:  true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if err := Create(ctx, db, pln); err != nil {
			return err
		}

		return web.Respond(ctx, w, pln, http.StatusCreated)
	}
}

func HandleUpdate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		var up PlanUp
		if err := web.Decode(w, r, &up); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(up); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		pln, err := Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		if up.PlanType != nil {
			pln.PlanType = *up.PlanType
		}
		if up.Price != nil {
			pln.Price = *up.Price
		}
		if up.DurationDays != nil {
			pln.DurationDays = *up.DurationDays
		}
		if up.IsAvailable != nil {
			pln.IsAvailable = *up.IsAvailable
		}
		pln.UpdatedAt = time.Now().UTC()

		if err := Update(ctx, db, pln); err != nil {
			return err
		}

		return web.Respond(ctx, w, pln, http.StatusOK)
	}
}
