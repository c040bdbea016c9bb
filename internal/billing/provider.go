package billing

import "context"

// CustomerFilter narrows a customer listing.
type CustomerFilter struct {
	// ActiveMandates asks the provider for customers holding at least one mandate that
	// can still be charged (see MandateStatus.Eligible).
	ActiveMandates bool
}

// MandateFilter narrows a mandate listing.
type MandateFilter struct {
	CustomerID string
	Statuses   []MandateStatus
}

// PaymentRequest is a single payment against a mandate.
type PaymentRequest struct {
	Amount         int64 // minor units
	Currency       string
	MandateID      string
	IdempotencyKey string
}

// Provider is the subset of the payments API the charge flow needs. Implementations are
// bound to a single access token.
type Provider interface {
	// ListCustomers returns every matching customer, following pagination.
	ListCustomers(ctx context.Context, f CustomerFilter) ([]Customer, error)
	// ListMandates returns mandates in provider order.
	ListMandates(ctx context.Context, f MandateFilter) ([]Mandate, error)
	CreatePayment(ctx context.Context, req PaymentRequest) (ChargeResult, error)
}

// ProviderFactory builds a Provider scoped to an access token.
type ProviderFactory func(accessToken string) Provider
