// Package charge turns a ChargeCustomer intent into exactly one spoken reply.
package charge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"voicecharge.org/internal/audit"
	"voicecharge.org/internal/billing"
	"voicecharge.org/internal/obs"
)

const tracerName = "voicecharge.org/internal/charge"

var errInvalidAmount = errors.New("amount must be a positive whole number")

// Request carries the raw intent slots and the session credential, if any.
type Request struct {
	GivenName    string
	Amount       string
	SessionToken string
}

// Reply is the single terminal result of an invocation.
type Reply struct {
	Speech string
	Kind   billing.Kind
	Charge billing.ChargeResult
}

// Outcome is the metric/audit label for the reply.
func (r Reply) Outcome() string {
	if r.Kind == billing.KindNone {
		return "charged"
	}
	return r.Kind.String()
}

// Options configures an Orchestrator.
type Options struct {
	Providers     billing.ProviderFactory
	DefaultToken  string
	LookupTimeout time.Duration
	Currency      string
	Logger        *slog.Logger

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Orchestrator handles ChargeCustomer intents. It holds no per-request state and is safe
// for concurrent use.
type Orchestrator struct {
	providers     billing.ProviderFactory
	defaultToken  string
	lookupTimeout time.Duration
	currency      string
	logger        *slog.Logger
	tracer        trace.Tracer
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = obs.Logger()
	}
	timeout := opts.LookupTimeout
	if timeout <= 0 {
		timeout = billing.DefaultLookupTimeout
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Orchestrator{
		providers:     opts.Providers,
		defaultToken:  opts.DefaultToken,
		lookupTimeout: timeout,
		currency:      opts.Currency,
		logger:        logger.With(slog.String("component", "charge")),
		tracer:        tp.Tracer(tracerName),
	}
}

// ResolveScope picks the access token for an invocation: the session's own token when it
// has one, the process default otherwise.
func ResolveScope(sessionToken, defaultToken string) string {
	if t := strings.TrimSpace(sessionToken); t != "" {
		return t
	}
	return defaultToken
}

func scopeSource(sessionToken string) string {
	if strings.TrimSpace(sessionToken) != "" {
		return "session"
	}
	return "default"
}

// Handle runs one invocation to completion. It always returns exactly one reply; failures
// are logged and spoken back as one of the fixed messages, never returned.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (reply Reply) {
	name := strings.TrimSpace(req.GivenName)

	ctx, span := o.tracer.Start(ctx, "charge.handle")
	defer span.End()

	logger := o.logger.With(
		slog.String("given_name", name),
		slog.String("scope", scopeSource(req.SessionToken)),
	)

	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorContext(ctx, "charge handler panicked", slog.Any("panic", rec))
			span.SetStatus(codes.Error, "panic")
			reply = Reply{Speech: genericErrorMessage(name), Kind: billing.KindUnknown}
		}
		outcome := reply.Outcome()
		span.SetAttributes(attribute.String("charge.outcome", outcome))
		obs.ObserveCharge(outcome)
		fields := map[string]any{
			"given_name": name,
			"outcome":    outcome,
		}
		if reply.Kind == billing.KindNone {
			fields["payment_id"] = reply.Charge.PaymentID
			fields["amount"] = reply.Charge.Amount
			fields["currency"] = reply.Charge.Currency
			fields["charge_date"] = reply.Charge.ChargeDate
		}
		if err := audit.LogEvent(ctx, "charge.outcome", fields); err != nil {
			logger.WarnContext(ctx, "audit log failed", slog.Any("err", err))
		}
	}()

	amount, err := parseAmount(req.Amount)
	if err != nil || name == "" {
		if err == nil {
			err = errors.New("given name is required")
		}
		logger.WarnContext(ctx, "invalid charge request", slog.String("amount", req.Amount), slog.Any("err", err))
		return o.fail(span, name, billing.KindUnknown, err)
	}

	// One client per invocation, shared by the lookup and the charge.
	provider := o.providers(ResolveScope(req.SessionToken, o.defaultToken))

	res, err := o.resolve(ctx, provider, name)
	if err != nil {
		logger.ErrorContext(ctx, "customer lookup failed", slog.Any("err", err))
		return o.fail(span, name, billing.KindUnknown, err)
	}

	switch res.Outcome {
	case billing.Resolved:
	case billing.NotFound:
		logger.InfoContext(ctx, "no customer matched")
		return Reply{Speech: notFoundMessage(name), Kind: billing.KindNotFound}
	case billing.Ambiguous:
		logger.InfoContext(ctx, "several customers matched", slog.Int("matches", res.Matches))
		return Reply{Speech: moreThanOneMatchMessage(name), Kind: billing.KindAmbiguous}
	case billing.TimedOut:
		logger.WarnContext(ctx, "customer lookup timed out", slog.Duration("timeout", o.lookupTimeout))
		return Reply{Speech: tooManyCustomersMessage(name), Kind: billing.KindTimedOut}
	default:
		return o.fail(span, name, billing.KindUnknown, fmt.Errorf("unexpected lookup outcome %v", res.Outcome))
	}

	if err := audit.LogEvent(ctx, "charge.attempt", map[string]any{
		"customer_id": res.Customer.ID,
		"amount":      billing.MinorUnits(amount),
	}); err != nil {
		logger.WarnContext(ctx, "audit log failed", slog.Any("err", err))
	}

	result, err := o.charge(ctx, provider, res.Customer, billing.MinorUnits(amount))
	if err != nil {
		kind := billing.KindOf(err)
		logger.ErrorContext(ctx, "charge failed",
			slog.String("customer_id", res.Customer.ID),
			slog.String("kind", kind.String()),
			slog.Any("err", err),
		)
		return o.fail(span, name, kind, err)
	}

	logger.InfoContext(ctx, "customer charged",
		slog.String("customer_id", res.Customer.ID),
		slog.String("payment_id", result.PaymentID),
		slog.String("charge_date", result.ChargeDate),
	)
	return Reply{
		Speech: chargedMessage(name, amount, result.ChargeDate),
		Kind:   billing.KindNone,
		Charge: result,
	}
}

func (o *Orchestrator) resolve(ctx context.Context, p billing.Provider, name string) (billing.Resolution, error) {
	ctx, span := o.tracer.Start(ctx, "charge.resolve")
	defer span.End()

	start := time.Now()
	res, err := billing.NewResolver(p, o.lookupTimeout).FindByGivenName(ctx, name)
	outcome := res.Outcome.String()
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
	}
	obs.ObserveLookup(outcome, time.Since(start))
	span.SetAttributes(
		attribute.String("lookup.outcome", outcome),
		attribute.Int("lookup.matches", res.Matches),
	)
	return res, err
}

func (o *Orchestrator) charge(ctx context.Context, p billing.Provider, c billing.Customer, amountMinor int64) (billing.ChargeResult, error) {
	ctx, span := o.tracer.Start(ctx, "charge.create",
		trace.WithAttributes(attribute.Int64("charge.amount_minor", amountMinor)))
	defer span.End()

	res, err := billing.NewCharger(p, o.currency).Charge(ctx, c, amountMinor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, billing.KindOf(err).String())
		return billing.ChargeResult{}, err
	}
	span.SetAttributes(attribute.String("charge.payment_id", res.PaymentID))
	return res, nil
}

func (o *Orchestrator) fail(span trace.Span, name string, kind billing.Kind, err error) Reply {
	span.RecordError(err)
	span.SetStatus(codes.Error, kind.String())
	return Reply{Speech: genericErrorMessage(name), Kind: kind}
}

// parseAmount reads the spoken amount in whole pounds.
func parseAmount(raw string) (int64, error) {
	amount, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errInvalidAmount, raw)
	}
	if amount <= 0 || amount > math.MaxInt64/billing.MinorUnitsPerMajor {
		return 0, fmt.Errorf("%w: %d", errInvalidAmount, amount)
	}
	return amount, nil
}
