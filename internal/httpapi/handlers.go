package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"voicecharge.org/internal/alexa"
	"voicecharge.org/internal/audit"
	"voicecharge.org/internal/charge"
	"voicecharge.org/internal/obs"
)

const (
	ChargeCustomerIntent = "ChargeCustomer"

	GivenNameSlot = "GivenName"
	AmountSlot    = "Amount"

	serviceName = "voicecharge"
)

// ChargeHandler answers one ChargeCustomer intent.
type ChargeHandler interface {
	Handle(ctx context.Context, req charge.Request) charge.Reply
}

// ReadyProbe reports whether the service can take traffic. A nil probe is always ready.
type ReadyProbe func(ctx context.Context) error

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp == nil {
		return nil
	}
	return rp(ctx)
}

// Options configures the HTTP layer.
type Options struct {
	Charges       ChargeHandler
	ApplicationID string
	Version       string
	Ready         ReadyProbe
	RateBurst     int
	RatePerSec    int
	MaxBodyBytes  int64

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// API is the HTTP layer.
type API struct {
	mux           *http.ServeMux
	charges       ChargeHandler
	applicationID string
	readyProbe    ReadyProbe
	version       string
	maxBodyBytes  int64
	traceOpts     []otelhttp.Option
	draining      atomic.Bool
}

func New(opts Options) *API {
	a := &API{
		mux:           http.NewServeMux(),
		charges:       opts.Charges,
		applicationID: opts.ApplicationID,
		readyProbe:    opts.Ready,
		version:       opts.Version,
		maxBodyBytes:  opts.MaxBodyBytes,
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	if opts.TracerProvider != nil {
		a.traceOpts = append(a.traceOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	burst, perSec := opts.RateBurst, opts.RatePerSec
	if burst <= 0 {
		burst = 20
	}
	if perSec <= 0 {
		perSec = 10
	}

	// skill endpoint
	a.mux.Handle("/service", RateLimit(MaxBodyBytes(http.HandlerFunc(a.Service), a.maxBodyBytes), burst, perSec))

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := obs.Instrument(RequestID(LoggingJSON(SecurityHeaders(a.mux))))
	return otelhttp.NewHandler(h, serviceName, a.traceOpts...)
}

// SetDraining flips /readyz to 503 so load balancers stop routing before shutdown.
func (a *API) SetDraining(v bool) {
	a.draining.Store(v)
}

// --- Handlers ---

// Service is the Alexa skill endpoint. Only ChargeCustomer intents do any work; every
// other request type gets an empty response that ends the session.
func (a *API) Service(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "could not read request body")
		return
	}

	env, err := alexa.Parse(body, a.applicationID)
	switch {
	case errors.Is(err, alexa.ErrInvalidApplicationID):
		obs.Logger().WarnContext(r.Context(), "rejected skill request",
			"request_id", audit.RequestIDFromContext(r.Context()),
			"error", err.Error(),
		)
		writeError(w, r, http.StatusForbidden, "invalid application id")
		return
	case err != nil:
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	resp := alexa.NewResponse()
	if env.IsIntent(ChargeCustomerIntent) {
		reply := a.charges.Handle(r.Context(), charge.Request{
			GivenName:    env.SlotValue(GivenNameSlot),
			Amount:       env.SlotValue(AmountSlot),
			SessionToken: env.AccessToken(),
		})
		resp.SetOutputSpeechText(reply.Speech)
	} else {
		obs.Logger().DebugContext(r.Context(), "ignoring skill request",
			"request_id", audit.RequestIDFromContext(r.Context()),
			"type", env.Request.Type,
			"intent", env.Request.Intent.Name,
		)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "draining",
		})
		return
	}
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
