package billing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider lets tests control each provider call.
type stubProvider struct {
	listCustomers func(ctx context.Context, f CustomerFilter) ([]Customer, error)
	listMandates  func(ctx context.Context, f MandateFilter) ([]Mandate, error)
	createPayment func(ctx context.Context, req PaymentRequest) (ChargeResult, error)

	customerCalls atomic.Int32
	paymentCalls  atomic.Int32
}

func (s *stubProvider) ListCustomers(ctx context.Context, f CustomerFilter) ([]Customer, error) {
	s.customerCalls.Add(1)
	return s.listCustomers(ctx, f)
}

func (s *stubProvider) ListMandates(ctx context.Context, f MandateFilter) ([]Mandate, error) {
	return s.listMandates(ctx, f)
}

func (s *stubProvider) CreatePayment(ctx context.Context, req PaymentRequest) (ChargeResult, error) {
	s.paymentCalls.Add(1)
	return s.createPayment(ctx, req)
}

func seeded() *InMemory {
	p := NewInMemory()
	p.AddCustomer(Customer{ID: "CU1", GivenName: "Konnaire"}, Mandate{ID: "MD1", Status: MandateActive})
	p.AddCustomer(Customer{ID: "CU2", GivenName: "Emma"}, Mandate{ID: "MD2", Status: MandateActive})
	p.AddCustomer(Customer{ID: "CU3", GivenName: "emma"}, Mandate{ID: "MD3", Status: MandateActive})
	p.AddCustomer(Customer{ID: "CU4", GivenName: "Dormant"}, Mandate{ID: "MD4", Status: "cancelled"})
	p.AddCustomer(Customer{ID: "CU5", GivenName: "Pat"}, Mandate{ID: "MD5", Status: MandatePendingSubmission})
	p.AddCustomer(Customer{ID: "CU6", GivenName: "Sam"}, Mandate{ID: "MD6", Status: MandateSubmitted})
	return p
}

func TestFindByGivenName(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		outcome Outcome
		id      string
		matches int
	}{
		{name: "exact", input: "Konnaire", outcome: Resolved, id: "CU1", matches: 1},
		{name: "case insensitive", input: "KONNAIRE", outcome: Resolved, id: "CU1", matches: 1},
		{name: "surrounding space", input: "  konnaire ", outcome: Resolved, id: "CU1", matches: 1},
		{name: "ambiguous across case", input: "Emma", outcome: Ambiguous, matches: 2},
		{name: "unknown", input: "Bob", outcome: NotFound},
		{name: "prefix is not a match", input: "Konn", outcome: NotFound},
		{name: "no active mandate", input: "Dormant", outcome: NotFound},
		{name: "pending submission mandate", input: "Pat", outcome: Resolved, id: "CU5", matches: 1},
		{name: "submitted mandate", input: "Sam", outcome: Resolved, id: "CU6", matches: 1},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(seeded(), time.Second)
			res, err := r.FindByGivenName(context.Background(), tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.outcome, res.Outcome)
			assert.Equal(t, tc.id, res.Customer.ID)
			assert.Equal(t, tc.matches, res.Matches)
		})
	}
}

func TestFindByGivenNameIsRepeatable(t *testing.T) {
	r := NewResolver(seeded(), time.Second)
	first, err := r.FindByGivenName(context.Background(), "Konnaire")
	require.NoError(t, err)
	second, err := r.FindByGivenName(context.Background(), "Konnaire")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFindByGivenNameRequestsActiveMandates(t *testing.T) {
	var got CustomerFilter
	p := &stubProvider{listCustomers: func(ctx context.Context, f CustomerFilter) ([]Customer, error) {
		got = f
		return nil, nil
	}}
	_, err := NewResolver(p, time.Second).FindByGivenName(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, got.ActiveMandates)
}

func TestFindByGivenNameTimesOutWhenProviderIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := &stubProvider{listCustomers: func(ctx context.Context, f CustomerFilter) ([]Customer, error) {
		<-release
		return []Customer{{ID: "CU1", GivenName: "Konnaire"}}, nil
	}}

	start := time.Now()
	res, err := NewResolver(p, 20*time.Millisecond).FindByGivenName(context.Background(), "Konnaire")
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.Outcome)
	assert.Empty(t, res.Customer.ID)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFindByGivenNameTimesOutWhenProviderReturnsDeadline(t *testing.T) {
	p := &stubProvider{listCustomers: func(ctx context.Context, f CustomerFilter) ([]Customer, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	res, err := NewResolver(p, 10*time.Millisecond).FindByGivenName(context.Background(), "Konnaire")
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.Outcome)
	assert.Equal(t, KindTimedOut, res.Outcome.Kind())
}

func TestFindByGivenNameCallerCancelledIsAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &stubProvider{listCustomers: func(ctx context.Context, f CustomerFilter) ([]Customer, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	_, err := NewResolver(p, time.Second).FindByGivenName(ctx, "Konnaire")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLookupFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFindByGivenNameProviderError(t *testing.T) {
	boom := errors.New("boom")
	p := &stubProvider{listCustomers: func(ctx context.Context, f CustomerFilter) ([]Customer, error) {
		return nil, boom
	}}
	_, err := NewResolver(p, time.Second).FindByGivenName(context.Background(), "Konnaire")
	assert.ErrorIs(t, err, ErrLookupFailed)
	assert.ErrorIs(t, err, boom)
}

func TestTimeoutResolution(t *testing.T) {
	res, err := timeoutResolution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.Outcome)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = timeoutResolution(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFindByGivenNameProviderPanicIsAnError(t *testing.T) {
	p := &stubProvider{listCustomers: func(ctx context.Context, f CustomerFilter) ([]Customer, error) {
		panic("nil page")
	}}
	res, err := NewResolver(p, time.Second).FindByGivenName(context.Background(), "Konnaire")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLookupFailed)
	assert.Contains(t, err.Error(), "nil page")
	assert.Equal(t, Resolution{}, res)
}
