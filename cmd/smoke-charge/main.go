package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"voicecharge.org/internal/alexa"
	"voicecharge.org/internal/httpapi"
	"voicecharge.org/internal/ids"
)

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()

	url := env("VOICECHARGE_URL", "http://localhost:8080") + "/service"
	appID := os.Getenv("ALEXA_APPLICATION_ID")
	if appID == "" {
		log.Fatal("ALEXA_APPLICATION_ID is required")
	}
	name := env("SMOKE_GIVEN_NAME", "Konnaire")
	amount := env("SMOKE_AMOUNT", "5")

	req := alexa.RequestEnvelope{
		Version: "1.0",
		Session: alexa.Session{
			New:         true,
			SessionID:   "smoke." + ids.New(),
			Application: alexa.Application{ApplicationID: appID},
			User:        alexa.User{UserID: "smoke", AccessToken: os.Getenv("SMOKE_ACCESS_TOKEN")},
		},
		Request: alexa.Request{
			Type:      alexa.RequestTypeIntent,
			RequestID: "smoke." + ids.New(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Locale:    "en-GB",
			Intent: alexa.Intent{
				Name: httpapi.ChargeCustomerIntent,
				Slots: map[string]alexa.Slot{
					httpapi.GivenNameSlot: {Name: httpapi.GivenNameSlot, Value: name},
					httpapi.AmountSlot:    {Name: httpapi.AmountSlot, Value: amount},
				},
			},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		log.Fatalf("encode request: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(httpapi.RequestIDHeader, ids.New())

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		log.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("unexpected status %d (request id %s)", resp.StatusCode, resp.Header.Get(httpapi.RequestIDHeader))
	}

	var out alexa.ResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("decode response: %v", err)
	}
	if out.Response.OutputSpeech == nil {
		log.Fatal("response carried no speech")
	}

	fmt.Printf("charge smoke test (request id %s): %s\n", resp.Header.Get(httpapi.RequestIDHeader), out.Response.OutputSpeech.Text)
}
