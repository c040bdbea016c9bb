// Package gocardless adapts the GoCardless Pro API client to billing.Provider.
package gocardless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gc "github.com/gocardless/gocardless-pro-go/v4"

	"voicecharge.org/internal/billing"
)

const (
	LiveURL    = "https://api.gocardless.com"
	SandboxURL = "https://api-sandbox.gocardless.com"

	pageLimit = 500
)

// BaseURL maps an environment name to its API endpoint.
func BaseURL(environment string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "live":
		return LiveURL, nil
	case "", "sandbox":
		return SandboxURL, nil
	default:
		return "", fmt.Errorf("unknown gocardless environment %q", environment)
	}
}

// NewHTTPClient returns the transport shared by every per-token Client. It carries no
// credentials.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Client wraps an API service bound to a single access token.
type Client struct {
	svc *gc.Service
	err error
}

var _ billing.Provider = (*Client)(nil)

// New creates a client for token. A nil httpClient uses NewHTTPClient defaults. A client
// that could not be configured fails every call with the configuration error.
func New(token, baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	if baseURL == "" {
		baseURL = SandboxURL
	}

	cfg, err := gc.NewConfig(token,
		gc.WithEndpoint(strings.TrimRight(baseURL, "/")),
		gc.WithClient(withConflictCapture(httpClient)),
	)
	if err != nil {
		return &Client{err: fmt.Errorf("configure gocardless: %w", err)}
	}
	svc, err := gc.New(cfg)
	if err != nil {
		return &Client{err: fmt.Errorf("configure gocardless: %w", err)}
	}
	return &Client{svc: svc}
}

// Factory builds a fresh Client per access token over a shared transport.
func Factory(baseURL string, httpClient *http.Client) billing.ProviderFactory {
	return func(token string) billing.Provider {
		return New(token, baseURL, httpClient)
	}
}

// ListCustomers walks every customer page. The customers listing has no mandate filter, so
// ActiveMandates is applied here against a listing of chargeable mandates.
func (c *Client) ListCustomers(ctx context.Context, f billing.CustomerFilter) ([]billing.Customer, error) {
	if c.err != nil {
		return nil, c.err
	}

	var holders map[string]bool
	if f.ActiveMandates {
		mandates, err := c.ListMandates(ctx, billing.MandateFilter{Statuses: billing.EligibleMandateStatuses})
		if err != nil {
			return nil, err
		}
		holders = make(map[string]bool, len(mandates))
		for _, m := range mandates {
			holders[m.CustomerID] = true
		}
	}

	var out []billing.Customer
	it := c.svc.Customers.All(ctx, gc.CustomerListParams{Limit: pageLimit})
	for it.Next() {
		page, err := it.Value(ctx)
		if err != nil {
			return nil, fmt.Errorf("list customers: %w", err)
		}
		if len(page.Customers) == 0 {
			break
		}
		for _, cu := range page.Customers {
			if holders != nil && !holders[cu.Id] {
				continue
			}
			out = append(out, billing.Customer{
				ID:         cu.Id,
				GivenName:  cu.GivenName,
				FamilyName: cu.FamilyName,
				Email:      cu.Email,
			})
		}
	}
	return out, nil
}

func (c *Client) ListMandates(ctx context.Context, f billing.MandateFilter) ([]billing.Mandate, error) {
	if c.err != nil {
		return nil, c.err
	}

	params := gc.MandateListParams{Customer: f.CustomerID, Limit: pageLimit}
	for _, s := range f.Statuses {
		params.Status = append(params.Status, string(s))
	}

	var out []billing.Mandate
	it := c.svc.Mandates.All(ctx, params)
	for it.Next() {
		page, err := it.Value(ctx)
		if err != nil {
			return nil, fmt.Errorf("list mandates: %w", err)
		}
		if len(page.Mandates) == 0 {
			break
		}
		for _, m := range page.Mandates {
			mandate := billing.Mandate{ID: m.Id, Status: billing.MandateStatus(m.Status)}
			if m.Links != nil {
				mandate.CustomerID = m.Links.Customer
			}
			out = append(out, mandate)
		}
	}
	return out, nil
}

// CreatePayment posts a payment. When the idempotency key was already used the original
// payment is fetched and returned instead of creating a second one.
func (c *Client) CreatePayment(ctx context.Context, req billing.PaymentRequest) (billing.ChargeResult, error) {
	if c.err != nil {
		return billing.ChargeResult{}, c.err
	}

	params := gc.PaymentCreateParams{
		Amount:   int(req.Amount),
		Currency: req.Currency,
		Links:    gc.PaymentCreateParamsLinks{Mandate: req.MandateID},
	}
	var opts []gc.RequestOption
	if req.IdempotencyKey != "" {
		opts = append(opts, gc.WithIdempotencyKey(req.IdempotencyKey))
	}

	ctx, conflict := watchConflicts(ctx)
	p, err := c.svc.Payments.Create(ctx, params, opts...)
	if err != nil {
		if id := conflict.resourceID(); id != "" {
			return c.getPayment(ctx, id)
		}
		return billing.ChargeResult{}, fmt.Errorf("create payment: %w", err)
	}
	return toChargeResult(p), nil
}

func (c *Client) getPayment(ctx context.Context, id string) (billing.ChargeResult, error) {
	p, err := c.svc.Payments.Get(ctx, id)
	if err != nil {
		return billing.ChargeResult{}, fmt.Errorf("get payment %s: %w", id, err)
	}
	return toChargeResult(p), nil
}

func toChargeResult(p *gc.Payment) billing.ChargeResult {
	res := billing.ChargeResult{
		PaymentID:  p.Id,
		ChargeDate: p.ChargeDate,
		Amount:     int64(p.Amount),
		Currency:   p.Currency,
	}
	if p.Links != nil {
		res.MandateID = p.Links.Mandate
	}
	return res
}
