package stock

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/velmora/subshop/api/web"
	"github.com/velmora/subshop/api/weberr"
	"github.com/velmora/subshop/validate"
)

func HandleCreate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var in ItemNew
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(in); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		now := time.Now().UTC()
		it := Item{
			ID:        validate.GenerateID(),
			PlanID:    in.PlanID,
			Content:   in.Content,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := Create(ctx, db, it); err != nil {
			return err
		}

		return web.Respond(ctx, w, it, http.StatusCreated)
	}
}

func HandleListByPlan(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		planID := web.Param(r, "plan_id")
		if err := validate.CheckID(planID); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		items, err := FetchByPlan(ctx, db, planID)
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, items, http.StatusOK)
	}
}
