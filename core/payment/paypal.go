package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/plutov/paypal/v4"
	"github.com/velmora/subshop/config"
	"github.com/velmora/subshop/core/order"
)

type Paypal struct {
	client *paypal.Client
	cfg    config.Paypal
}

func NewPaypal(client *paypal.Client, cfg config.Paypal) *Paypal {
	return &Paypal{client: client, cfg: cfg}
}

func (p *Paypal) Method() order.PaymentMethod {
	return order.MethodPaypal
}

func (p *Paypal) CreateSession(ctx context.Context, req SessionRequest) (SessionResult, error) {
	if p.client == nil {
		return SessionResult{}, ErrNotConfigured
	}

	units := []paypal.PurchaseUnitRequest{{
		ReferenceID: req.PaymentID,
		InvoiceID:   req.PaymentID,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: req.Currency,
			Value:    centsToDecimal(req.Amount),
		},
	}}

	app := &paypal.ApplicationContext{
		ReturnURL: p.cfg.ReturnURL,
		CancelURL: p.cfg.CancelURL,
	}

	ord, err := p.client.CreateOrder(ctx, paypal.OrderIntentCapture, units, nil, app)
	if err != nil {
		return SessionResult{}, fmt.Errorf("creating paypal order: %w", err)
	}

	var approval string
	for _, l := range ord.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			approval = l.Href
			break
		}
	}

	if approval == "" {
		return SessionResult{Err: "paypal order has no approval link"}, nil
	}

	// PayPal returns the browser with ?token=<paypal order id>, so the
	// paypal order id is both the provider payment id and the token.
	return SessionResult{
		Success:           true,
		ProviderPaymentID: ord.ID,
		PaymentURL:        approval,
		Token:             ord.ID,
	}, nil
}

func (p *Paypal) Confirm(ctx context.Context, token string) (Outcome, error) {
	if p.client == nil {
		return Outcome{}, ErrNotConfigured
	}

	resp, err := p.client.CaptureOrder(ctx, token, paypal.CaptureOrderRequest{})
	if err != nil {
		return Outcome{}, fmt.Errorf("capturing paypal order[%s]: %w", token, err)
	}

	raw, _ := json.Marshal(resp)

	out := Outcome{
		ProviderPaymentID: resp.ID,
		Raw:               raw,
	}

	if resp.Status == "COMPLETED" {
		out.Status = Completed
		return out, nil
	}

	out.Status = Failed
	out.Reason = fmt.Sprintf("paypal capture ended with status %q", resp.Status)
	return out, nil
}

func centsToDecimal(cents int) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
