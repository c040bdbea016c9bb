package billing

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemory implements Provider for local runs and tests.
type InMemory struct {
	mu        sync.RWMutex
	customers []Customer
	mandates  []Mandate
	payments  []ChargeResult
	idem      map[string]ChargeResult
	seq       int
	now       func() time.Time
}

// NewInMemory creates an empty provider.
func NewInMemory() *InMemory {
	return &InMemory{
		idem: make(map[string]ChargeResult),
		now:  time.Now,
	}
}

// SetClock replaces the clock used to derive charge dates.
func (s *InMemory) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddCustomer registers a customer along with its mandates.
func (s *InMemory) AddCustomer(c Customer, mandates ...Mandate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers = append(s.customers, c)
	for _, m := range mandates {
		m.CustomerID = c.ID
		s.mandates = append(s.mandates, m)
	}
}

func (s *InMemory) ListCustomers(ctx context.Context, f CustomerFilter) ([]Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if f.ActiveMandates && !s.hasMandateLocked(c.ID) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *InMemory) hasMandateLocked(customerID string) bool {
	for _, m := range s.mandates {
		if m.CustomerID == customerID && m.Status.Eligible() {
			return true
		}
	}
	return false
}

func (s *InMemory) ListMandates(ctx context.Context, f MandateFilter) ([]Mandate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Mandate
	for _, m := range s.mandates {
		if f.CustomerID != "" && m.CustomerID != f.CustomerID {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, m.Status) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func containsStatus(list []MandateStatus, s MandateStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *InMemory) CreatePayment(ctx context.Context, req PaymentRequest) (ChargeResult, error) {
	if req.Amount <= 0 {
		return ChargeResult{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IdempotencyKey != "" {
		if res, ok := s.idem[req.IdempotencyKey]; ok {
			return res, nil
		}
	}
	found := false
	for _, m := range s.mandates {
		if m.ID == req.MandateID {
			found = true
			break
		}
	}
	if !found {
		return ChargeResult{}, fmt.Errorf("mandate %q not found", req.MandateID)
	}

	s.seq++
	res := ChargeResult{
		PaymentID:  fmt.Sprintf("PM%06d", s.seq),
		ChargeDate: s.now().UTC().AddDate(0, 0, 3).Format("2006-01-02"),
		Amount:     req.Amount,
		Currency:   req.Currency,
		MandateID:  req.MandateID,
	}
	s.payments = append(s.payments, res)
	if req.IdempotencyKey != "" {
		s.idem[req.IdempotencyKey] = res
	}
	return res, nil
}

// Payments returns a copy of every payment created so far.
func (s *InMemory) Payments() []ChargeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChargeResult, len(s.payments))
	copy(out, s.payments)
	return out
}
