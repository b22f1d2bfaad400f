package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	"github.com/velmora/subshop/config"
	"github.com/velmora/subshop/core/order"
)

type Stripe struct {
	api *stripecl.API
	cfg config.Stripe
}

func NewStripe(api *stripecl.API, cfg config.Stripe) *Stripe {
	return &Stripe{api: api, cfg: cfg}
}

func (s *Stripe) Method() order.PaymentMethod {
	return order.MethodStripe
}

func (s *Stripe) CreateSession(ctx context.Context, req SessionRequest) (SessionResult, error) {
	if s.api == nil || s.cfg.APISecret == "" {
		return SessionResult{}, ErrNotConfigured
	}

	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},

		// The session id comes back as the callback token.
		SuccessURL: stripe.String(s.cfg.SuccessURL + "?token={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.cfg.CancelURL),

		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.PaymentID),

		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),

			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(int64(req.Amount)),

				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + req.OrderNumber),
				},
			},
		}},
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return SessionResult{}, fmt.Errorf("creating stripe session: %w", err)
	}

	return SessionResult{
		Success:           true,
		ProviderPaymentID: sess.ID,
		PaymentURL:        sess.URL,
		Token:             sess.ID,
	}, nil
}

func (s *Stripe) Confirm(ctx context.Context, token string) (Outcome, error) {
	if s.api == nil || s.cfg.APISecret == "" {
		return Outcome{}, ErrNotConfigured
	}

	sess, err := s.api.CheckoutSessions.Get(token, &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("fetching stripe session[%s]: %w", token, err)
	}

	raw, _ := json.Marshal(sess)

	out := Outcome{
		ProviderPaymentID: sess.ID,
		Raw:               raw,
	}

	if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		out.Status = Completed
		return out, nil
	}

	out.Status = Failed
	out.Reason = fmt.Sprintf("stripe session payment status %q", sess.PaymentStatus)
	return out, nil
}
