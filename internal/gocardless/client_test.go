package gocardless

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicecharge.org/internal/billing"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statuses flattens the status filter whether it is sent repeated or comma separated.
func statuses(r *http.Request) string {
	return strings.Join(r.URL.Query()["status"], ",")
}

func TestListCustomersFollowsCursor(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/customers", r.URL.Path)
		assert.Equal(t, "Bearer token_a", r.Header.Get("Authorization"))
		assert.Equal(t, "500", r.URL.Query().Get("limit"))

		switch r.URL.Query().Get("after") {
		case "":
			writeJSON(w, http.StatusOK, map[string]any{
				"customers": []map[string]any{{"id": "CU1", "given_name": "Konnaire", "family_name": "Smith"}},
				"meta":      map[string]any{"cursors": map[string]any{"before": nil, "after": "CU1"}, "limit": 500},
			})
		case "CU1":
			writeJSON(w, http.StatusOK, map[string]any{
				"customers": []map[string]any{{"id": "CU2", "given_name": "Emma"}},
				"meta":      map[string]any{"cursors": map[string]any{"before": "CU2", "after": nil}, "limit": 500},
			})
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("after"))
		}
	})

	c := New("token_a", srv.URL, srv.Client())
	got, err := c.ListCustomers(context.Background(), billing.CustomerFilter{})
	require.NoError(t, err)
	assert.Equal(t, []billing.Customer{
		{ID: "CU1", GivenName: "Konnaire", FamilyName: "Smith"},
		{ID: "CU2", GivenName: "Emma"},
	}, got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestListCustomersKeepsMandateHolders(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mandates":
			assert.Empty(t, r.URL.Query().Get("customer"))
			for _, s := range billing.EligibleMandateStatuses {
				assert.Contains(t, statuses(r), string(s))
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"mandates": []map[string]any{
					{"id": "MD1", "status": "active", "links": map[string]any{"customer": "CU1"}},
					{"id": "MD3", "status": "pending_submission", "links": map[string]any{"customer": "CU3"}},
				},
				"meta": map[string]any{"cursors": map[string]any{"after": nil}},
			})
		case "/customers":
			writeJSON(w, http.StatusOK, map[string]any{
				"customers": []map[string]any{
					{"id": "CU1", "given_name": "Konnaire"},
					{"id": "CU2", "given_name": "Dormant"},
					{"id": "CU3", "given_name": "Pat"},
				},
				"meta": map[string]any{"cursors": map[string]any{"after": nil}},
			})
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	got, err := New("t", srv.URL, srv.Client()).ListCustomers(context.Background(), billing.CustomerFilter{ActiveMandates: true})
	require.NoError(t, err)
	assert.Equal(t, []billing.Customer{
		{ID: "CU1", GivenName: "Konnaire"},
		{ID: "CU3", GivenName: "Pat"},
	}, got)
}

func TestListMandatesFilters(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mandates", r.URL.Path)
		assert.Equal(t, "CU1", r.URL.Query().Get("customer"))
		for _, s := range billing.EligibleMandateStatuses {
			assert.Contains(t, statuses(r), string(s))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"mandates": []map[string]any{
				{"id": "MD2", "status": "submitted", "links": map[string]any{"customer": "CU1"}},
				{"id": "MD1", "status": "active", "links": map[string]any{"customer": "CU1"}},
			},
			"meta": map[string]any{"cursors": map[string]any{"after": nil}},
		})
	})

	c := New("t", srv.URL, srv.Client())
	got, err := c.ListMandates(context.Background(), billing.MandateFilter{
		CustomerID: "CU1",
		Statuses:   billing.EligibleMandateStatuses,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "MD2", got[0].ID)
	assert.Equal(t, billing.MandateSubmitted, got[0].Status)
	assert.Equal(t, "CU1", got[0].CustomerID)
}

func TestCreatePayment(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))

		var body map[string]map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(500), body["payments"]["amount"])
		assert.Equal(t, "GBP", body["payments"]["currency"])
		assert.Equal(t, map[string]any{"mandate": "MD1"}, body["payments"]["links"])

		writeJSON(w, http.StatusCreated, map[string]any{"payments": map[string]any{
			"id": "PM1", "amount": 500, "currency": "GBP", "charge_date": "2016-11-22",
			"status": "pending_submission", "links": map[string]any{"mandate": "MD1"},
		}})
	})

	c := New("t", srv.URL, srv.Client())
	got, err := c.CreatePayment(context.Background(), billing.PaymentRequest{
		Amount: 500, Currency: "GBP", MandateID: "MD1", IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, billing.ChargeResult{
		PaymentID: "PM1", ChargeDate: "2016-11-22", Amount: 500, Currency: "GBP", MandateID: "MD1",
	}, got)
}

func TestCreatePaymentIdempotentConflictReturnsOriginal(t *testing.T) {
	var posts atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/payments":
			posts.Add(1)
			writeJSON(w, http.StatusConflict, map[string]any{"error": map[string]any{
				"type": "invalid_state", "code": 409, "message": "A resource has already been created with this idempotency key",
				"errors": []map[string]any{{
					"reason":  "idempotent_creation_conflict",
					"message": "A resource has already been created with this idempotency key",
					"links":   map[string]string{"conflicting_resource_id": "PM9"},
				}},
			}})
		case r.Method == http.MethodGet && r.URL.Path == "/payments/PM9":
			writeJSON(w, http.StatusOK, map[string]any{"payments": map[string]any{
				"id": "PM9", "amount": 500, "currency": "GBP", "charge_date": "2016-11-22",
				"links": map[string]any{"mandate": "MD1"},
			}})
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	c := New("t", srv.URL, srv.Client())
	got, err := c.CreatePayment(context.Background(), billing.PaymentRequest{Amount: 500, Currency: "GBP", MandateID: "MD1", IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "PM9", got.PaymentID)
	assert.Equal(t, "MD1", got.MandateID)
	assert.Equal(t, int32(1), posts.Load())
}

func TestAPIErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{
			name:   "validation",
			status: http.StatusUnprocessableEntity,
			body:   `{"error":{"type":"validation_failed","code":422,"message":"Validation failed","request_id":"RQ1","errors":[{"field":"amount","message":"must be greater than 0"}]}}`,
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"error":{"type":"invalid_api_usage","code":401,"message":"Access token not found","request_id":"RQ2","errors":[]}}`,
		},
		{
			name:   "conflict without resource",
			status: http.StatusConflict,
			body:   `{"error":{"type":"invalid_state","code":409,"message":"Mandate is cancelled","request_id":"RQ3","errors":[{"reason":"mandate_is_inactive","message":"Mandate is cancelled"}]}}`,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var gets atomic.Int32
			srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodGet {
					gets.Add(1)
				}
				_, _ = io.Copy(io.Discard, r.Body)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			c := New("t", srv.URL, srv.Client())
			_, err := c.CreatePayment(context.Background(), billing.PaymentRequest{Amount: 1, Currency: "GBP", MandateID: "MD1"})
			require.Error(t, err)
			assert.ErrorContains(t, err, "create payment")
			assert.Zero(t, gets.Load(), "no fetch without a conflicting resource")
		})
	}
}

func TestConflictingResourceID(t *testing.T) {
	assert.Equal(t, "PM9", conflictingResourceID([]byte(`{"error":{"errors":[{"reason":"idempotent_creation_conflict","links":{"conflicting_resource_id":"PM9"}}]}}`)))
	assert.Empty(t, conflictingResourceID([]byte(`{"error":{"errors":[{"reason":"mandate_is_inactive"}]}}`)))
	assert.Empty(t, conflictingResourceID([]byte(`<html>conflict</html>`)))
}

func TestListCustomersHonoursContext(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		_, err := New("t", srv.URL, srv.Client()).ListCustomers(ctx, billing.CustomerFilter{})
		done <- err
	}()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listing ignored a cancelled context")
	}
}

func TestFactoryBindsToken(t *testing.T) {
	var seen []string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{"mandates": []any{}, "meta": map[string]any{"cursors": map[string]any{"after": nil}}})
	})
	f := Factory(srv.URL, srv.Client())
	_, err := f("tok_one").ListMandates(context.Background(), billing.MandateFilter{})
	require.NoError(t, err)
	_, err = f("tok_two").ListMandates(context.Background(), billing.MandateFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer tok_one", "Bearer tok_two"}, seen)
}

func TestBaseURL(t *testing.T) {
	u, err := BaseURL("live")
	require.NoError(t, err)
	assert.Equal(t, LiveURL, u)

	u, err = BaseURL("")
	require.NoError(t, err)
	assert.Equal(t, SandboxURL, u)

	_, err = BaseURL("staging")
	assert.Error(t, err)
}
