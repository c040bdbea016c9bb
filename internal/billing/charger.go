package billing

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Charger takes a payment from a resolved customer's first eligible mandate.
type Charger struct {
	provider Provider
	currency string
	newKey   func() string
}

func NewCharger(p Provider, currency string) *Charger {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Charger{
		provider: p,
		currency: currency,
		newKey:   uuid.NewString,
	}
}

// Charge creates a single payment of amountMinor against the customer. It never retries:
// a failed create may still have reached the provider.
func (c *Charger) Charge(ctx context.Context, customer Customer, amountMinor int64) (ChargeResult, error) {
	if amountMinor <= 0 {
		return ChargeResult{}, ErrInvalidAmount
	}

	mandate, err := c.mandateFor(ctx, customer)
	if err != nil {
		return ChargeResult{}, err
	}

	res, err := c.provider.CreatePayment(ctx, PaymentRequest{
		Amount:         amountMinor,
		Currency:       c.currency,
		MandateID:      mandate.ID,
		IdempotencyKey: c.newKey(),
	})
	if err != nil {
		return ChargeResult{}, &ChargeError{Kind: KindProviderFailure, Op: "create payment", Err: err}
	}
	if res.MandateID == "" {
		res.MandateID = mandate.ID
	}
	return res, nil
}

func (c *Charger) mandateFor(ctx context.Context, customer Customer) (Mandate, error) {
	mandates, err := c.provider.ListMandates(ctx, MandateFilter{
		CustomerID: customer.ID,
		Statuses:   EligibleMandateStatuses,
	})
	if err != nil {
		return Mandate{}, &ChargeError{Kind: KindProviderFailure, Op: "list mandates", Err: err}
	}
	for _, m := range mandates {
		if m.Status.Eligible() {
			return m, nil
		}
	}
	return Mandate{}, &ChargeError{Kind: KindNoEligibleMandate, Op: "customer " + customer.ID, Err: ErrNoEligibleMandate}
}
