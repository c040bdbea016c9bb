package billing

import (
	"errors"
	"fmt"
)

// DefaultCurrency is the only currency the charger submits unless configured otherwise.
const DefaultCurrency = "GBP"

// MinorUnitsPerMajor converts spoken pounds into pence. No fractional pennies.
const MinorUnitsPerMajor = 100

// Customer is a read-only view of a provider customer.
type Customer struct {
	ID         string `json:"id" yaml:"id"`
	GivenName  string `json:"given_name" yaml:"given_name"`
	FamilyName string `json:"family_name,omitempty" yaml:"family_name"`
	Email      string `json:"email,omitempty" yaml:"email"`
}

// MandateStatus is the provider lifecycle status of a mandate.
type MandateStatus string

const (
	MandateActive            MandateStatus = "active"
	MandateSubmitted         MandateStatus = "submitted"
	MandatePendingSubmission MandateStatus = "pending_submission"
)

// EligibleMandateStatuses lists the statuses a mandate may be charged in, in the order
// they are sent to the provider.
var EligibleMandateStatuses = []MandateStatus{
	MandateActive,
	MandateSubmitted,
	MandatePendingSubmission,
}

// Eligible reports whether a payment can be created against a mandate in this status.
func (s MandateStatus) Eligible() bool {
	for _, e := range EligibleMandateStatuses {
		if s == e {
			return true
		}
	}
	return false
}

// Mandate authorises the merchant to debit a customer.
type Mandate struct {
	ID         string        `json:"id" yaml:"id"`
	Status     MandateStatus `json:"status" yaml:"status"`
	CustomerID string        `json:"customer_id,omitempty" yaml:"customer_id"`
}

// ChargeResult is what the provider hands back once a payment is created.
type ChargeResult struct {
	PaymentID string `json:"payment_id"`
	// ChargeDate is the provider's literal date (YYYY-MM-DD); it is spoken back verbatim.
	ChargeDate string `json:"charge_date"`
	Amount     int64  `json:"amount"` // minor units
	Currency   string `json:"currency"`
	MandateID  string `json:"mandate_id"`
}

// MinorUnits converts a spoken amount in major units to the provider's minor units.
func MinorUnits(major int64) int64 {
	return major * MinorUnitsPerMajor
}

var (
	ErrNoEligibleMandate = errors.New("no eligible mandate")
	ErrInvalidAmount     = errors.New("invalid amount (must be > 0)")
	ErrLookupFailed      = errors.New("customer lookup failed")
)

// Kind classifies every way a charge invocation can end short of success.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindAmbiguous
	KindTimedOut
	KindNoEligibleMandate
	KindProviderFailure
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindAmbiguous:
		return "ambiguous"
	case KindTimedOut:
		return "timed_out"
	case KindNoEligibleMandate:
		return "no_eligible_mandate"
	case KindProviderFailure:
		return "provider_failure"
	default:
		return "unknown"
	}
}

// ChargeError is returned by the charger when the provider rejects or fails a request.
type ChargeError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *ChargeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ChargeError) Unwrap() error { return e.Err }

// KindOf maps an error returned by this package to its taxonomy kind.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var ce *ChargeError
	switch {
	case errors.Is(err, ErrNoEligibleMandate):
		return KindNoEligibleMandate
	case errors.As(err, &ce):
		return ce.Kind
	default:
		return KindUnknown
	}
}
