package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// DefaultLookupTimeout bounds the whole customer lookup.
const DefaultLookupTimeout = 5 * time.Second

// Outcome is the result tag of a customer lookup.
type Outcome int

const (
	Resolved Outcome = iota
	NotFound
	Ambiguous
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case NotFound:
		return "not_found"
	case Ambiguous:
		return "ambiguous"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Kind maps the outcome onto the error taxonomy.
func (o Outcome) Kind() Kind {
	switch o {
	case Resolved:
		return KindNone
	case NotFound:
		return KindNotFound
	case Ambiguous:
		return KindAmbiguous
	case TimedOut:
		return KindTimedOut
	default:
		return KindUnknown
	}
}

// Resolution is the tagged result of FindByGivenName. Customer is only set when
// Outcome is Resolved.
type Resolution struct {
	Outcome  Outcome
	Customer Customer
	Matches  int
}

// Resolver finds exactly one customer by given name.
type Resolver struct {
	provider Provider
	timeout  time.Duration
}

func NewResolver(p Provider, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &Resolver{
		provider: p,
		timeout:  timeout,
	}
}

type lookupResult struct {
	customers []Customer
	err       error
}

// FindByGivenName lists every customer with an active mandate and keeps the ones whose
// given name equals name, ignoring case. A lookup that outlives the resolver timeout
// yields TimedOut and never a customer.
func (r *Resolver) FindByGivenName(ctx context.Context, name string) (Resolution, error) {
	name = strings.TrimSpace(name)

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// buffered so an abandoned lookup can still finish and exit
	done := make(chan lookupResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- lookupResult{err: fmt.Errorf("provider panicked: %v", rec)}
			}
		}()
		customers, err := r.provider.ListCustomers(lookupCtx, CustomerFilter{ActiveMandates: true})
		done <- lookupResult{customers: customers, err: err}
	}()

	var res lookupResult
	select {
	case res = <-done:
	case <-lookupCtx.Done():
		return timeoutResolution(ctx)
	}
	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) && lookupCtx.Err() != nil {
			return timeoutResolution(ctx)
		}
		return Resolution{}, fmt.Errorf("%w: %w", ErrLookupFailed, res.err)
	}

	// a Caser is stateful, so each lookup gets its own
	fold := cases.Fold()
	want := fold.String(name)
	var matches []Customer
	for _, c := range res.customers {
		if fold.String(strings.TrimSpace(c.GivenName)) == want {
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 0:
		return Resolution{Outcome: NotFound}, nil
	case 1:
		return Resolution{Outcome: Resolved, Customer: matches[0], Matches: 1}, nil
	default:
		return Resolution{Outcome: Ambiguous, Matches: len(matches)}, nil
	}
}

// timeoutResolution turns an expired lookup bound into the TimedOut outcome. A lookup
// aborted because the caller went away is reported as an error instead.
func timeoutResolution(parent context.Context) (Resolution, error) {
	if err := parent.Err(); err != nil {
		return Resolution{}, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	return Resolution{Outcome: TimedOut}, nil
}
