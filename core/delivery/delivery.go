// Package delivery fulfils completed order items: automatic plans hand over
// the stock unit claimed at completion time, manual plans open a support
// ticket for an operator. The caller treats any error here as retryable
// out-of-band; nothing in this package touches order or payment state.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/velmora/subshop/core/order"
	"github.com/velmora/subshop/core/plan"
	"github.com/velmora/subshop/core/stock"
	"github.com/velmora/subshop/core/ticket"
	"github.com/velmora/subshop/validate"
)

type Dispatcher struct {
	db  *sqlx.DB
	log logrus.FieldLogger
}

func New(db *sqlx.DB, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{db: db, log: log}
}

func (d *Dispatcher) Deliver(ctx context.Context, ord order.Order, it order.Item) error {
	if it.DeliveryType == plan.DeliveryAutomatic {
		return d.deliverStock(ctx, ord, it)
	}
	return d.openTicket(ctx, ord, it)
}

func (d *Dispatcher) deliverStock(ctx context.Context, ord order.Order, it order.Item) error {
	st, err := stock.FetchByOrderItem(ctx, d.db, it.ID)
	if err != nil {
		return fmt.Errorf("no claimed stock for order item[%s]: %w", it.ID, err)
	}

	// Content handover is a notification concern; the claimed unit is
	// already bound to the item, so this is where an email would go out.
	d.log.Infof("delivered stock item[%s] for order[%s]", st.ID, ord.ID)
	return nil
}

func (d *Dispatcher) openTicket(ctx context.Context, ord order.Order, it order.Item) error {
	now := time.Now().UTC()
	tck := ticket.Ticket{
		ID:          validate.GenerateID(),
		UserID:      ord.UserID,
		OrderItemID: it.ID,
		Subject:     fmt.Sprintf("Manual delivery for order %s", ord.Number),
		Status:      ticket.Open,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := ticket.Create(ctx, d.db, tck); err != nil {
		return fmt.Errorf("opening delivery ticket: %w", err)
	}

	if err := order.SetItemTicket(ctx, d.db, it.ID, tck.ID); err != nil {
		return fmt.Errorf("attaching delivery ticket: %w", err)
	}

	d.log.Infof("opened delivery ticket[%s] for order[%s]", tck.ID, ord.ID)
	return nil
}
