package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChargeUsesFirstEligibleMandate(t *testing.T) {
	var got PaymentRequest
	var filter MandateFilter
	p := &stubProvider{
		listMandates: func(ctx context.Context, f MandateFilter) ([]Mandate, error) {
			filter = f
			return []Mandate{
				{ID: "MD0", Status: "cancelled"},
				{ID: "MD1", Status: MandateSubmitted},
				{ID: "MD2", Status: MandateActive},
			}, nil
		},
		createPayment: func(ctx context.Context, req PaymentRequest) (ChargeResult, error) {
			got = req
			return ChargeResult{PaymentID: "PM1", ChargeDate: "2016-11-22", Amount: req.Amount, Currency: req.Currency}, nil
		},
	}

	res, err := NewCharger(p, "").Charge(context.Background(), Customer{ID: "CU1"}, MinorUnits(5))
	require.NoError(t, err)

	assert.Equal(t, "CU1", filter.CustomerID)
	assert.Equal(t, EligibleMandateStatuses, filter.Statuses)
	assert.Equal(t, "MD1", got.MandateID)
	assert.Equal(t, int64(500), got.Amount)
	assert.Equal(t, "GBP", got.Currency)
	assert.NotEmpty(t, got.IdempotencyKey)
	assert.Equal(t, "2016-11-22", res.ChargeDate)
	assert.Equal(t, "MD1", res.MandateID)
}

func TestChargeNoEligibleMandate(t *testing.T) {
	p := &stubProvider{
		listMandates: func(ctx context.Context, f MandateFilter) ([]Mandate, error) {
			return []Mandate{{ID: "MD0", Status: "cancelled"}}, nil
		},
		createPayment: func(ctx context.Context, req PaymentRequest) (ChargeResult, error) {
			t.Fatal("payment must not be created")
			return ChargeResult{}, nil
		},
	}

	_, err := NewCharger(p, "GBP").Charge(context.Background(), Customer{ID: "CU1"}, 500)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoEligibleMandate)
	assert.Equal(t, KindNoEligibleMandate, KindOf(err))
}

func TestChargeProviderFailureIsNotRetried(t *testing.T) {
	rejected := errors.New("validation failed")
	p := &stubProvider{
		listMandates: func(ctx context.Context, f MandateFilter) ([]Mandate, error) {
			return []Mandate{{ID: "MD1", Status: MandateActive}}, nil
		},
		createPayment: func(ctx context.Context, req PaymentRequest) (ChargeResult, error) {
			return ChargeResult{}, rejected
		},
	}

	_, err := NewCharger(p, "GBP").Charge(context.Background(), Customer{ID: "CU1"}, 500)
	require.Error(t, err)
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, KindProviderFailure, KindOf(err))
	assert.Equal(t, int32(1), p.paymentCalls.Load())
}

func TestChargeMandateListFailure(t *testing.T) {
	p := &stubProvider{
		listMandates: func(ctx context.Context, f MandateFilter) ([]Mandate, error) {
			return nil, errors.New("network down")
		},
	}
	_, err := NewCharger(p, "GBP").Charge(context.Background(), Customer{ID: "CU1"}, 500)
	assert.Equal(t, KindProviderFailure, KindOf(err))
}

func TestChargeRejectsNonPositiveAmount(t *testing.T) {
	p := &stubProvider{}
	for _, amt := range []int64{0, -100} {
		_, err := NewCharger(p, "GBP").Charge(context.Background(), Customer{ID: "CU1"}, amt)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
	assert.Equal(t, int32(0), p.paymentCalls.Load())
}

func TestChargeAgainstInMemory(t *testing.T) {
	p := seeded()
	p.SetClock(func() time.Time { return time.Date(2016, 11, 19, 10, 0, 0, 0, time.UTC) })

	res, err := NewCharger(p, "gbp").Charge(context.Background(), Customer{ID: "CU1"}, 500)
	require.NoError(t, err)
	assert.Equal(t, "2016-11-22", res.ChargeDate)
	assert.Equal(t, "GBP", res.Currency)
	require.Len(t, p.Payments(), 1)

	_, err = NewCharger(p, "GBP").Charge(context.Background(), Customer{ID: "CU4"}, 500)
	assert.ErrorIs(t, err, ErrNoEligibleMandate)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("x")))
	assert.Equal(t, KindNoEligibleMandate, KindOf(ErrNoEligibleMandate))
	assert.Equal(t, "provider_failure", KindProviderFailure.String())
}
