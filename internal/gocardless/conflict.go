package gocardless

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
)

const maxErrorBody = 1 << 20

// conflictWatch collects the resource an idempotent creation conflict points at.
type conflictWatch struct {
	mu sync.Mutex
	id string
}

func (w *conflictWatch) resourceID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

type conflictWatchKey struct{}

func watchConflicts(ctx context.Context) (context.Context, *conflictWatch) {
	w := &conflictWatch{}
	return context.WithValue(ctx, conflictWatchKey{}, w), w
}

// conflictTransport peeks at 409 bodies for requests carrying a conflictWatch and leaves
// the body intact for the API client to decode.
type conflictTransport struct {
	next http.RoundTripper
}

func withConflictCapture(c *http.Client) *http.Client {
	next := c.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	wrapped := *c
	wrapped.Transport = conflictTransport{next: next}
	return &wrapped
}

func (t conflictTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusConflict {
		return resp, err
	}
	w, ok := req.Context().Value(conflictWatchKey{}).(*conflictWatch)
	if !ok {
		return resp, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))

	if id := conflictingResourceID(data); id != "" {
		w.mu.Lock()
		w.id = id
		w.mu.Unlock()
	}
	return resp, nil
}

type errorEnvelope struct {
	Error struct {
		Errors []struct {
			Reason string            `json:"reason"`
			Links  map[string]string `json:"links"`
		} `json:"errors"`
	} `json:"error"`
}

// conflictingResourceID extracts the already-created resource from an idempotent creation
// conflict body, or "".
func conflictingResourceID(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	for _, fe := range env.Error.Errors {
		if fe.Reason == "idempotent_creation_conflict" {
			return fe.Links["conflicting_resource_id"]
		}
	}
	return ""
}
