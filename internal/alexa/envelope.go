// Package alexa parses Alexa skill request envelopes and builds responses.
package alexa

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	RequestTypeLaunch       = "LaunchRequest"
	RequestTypeIntent       = "IntentRequest"
	RequestTypeSessionEnded = "SessionEndedRequest"

	// AccessTokenAttribute is the session attribute carrying a per-session provider token.
	AccessTokenAttribute = "access_token"
)

var (
	ErrInvalidApplicationID = errors.New("invalid application id")
	ErrMalformedRequest     = errors.New("malformed request envelope")
)

type Application struct {
	ApplicationID string `json:"applicationId"`
}

type User struct {
	UserID      string `json:"userId"`
	AccessToken string `json:"accessToken,omitempty"`
}

type Session struct {
	New         bool           `json:"new"`
	SessionID   string         `json:"sessionId"`
	Application Application    `json:"application"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	User        User           `json:"user"`
}

type Slot struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Intent struct {
	Name  string          `json:"name"`
	Slots map[string]Slot `json:"slots"`
}

type Request struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
	Locale    string `json:"locale,omitempty"`
	Intent    Intent `json:"intent"`
	Reason    string `json:"reason,omitempty"`
}

type systemContext struct {
	System struct {
		Application Application `json:"application"`
		User        User        `json:"user"`
	} `json:"System"`
}

// RequestEnvelope is the body Alexa posts to the skill endpoint.
type RequestEnvelope struct {
	Version string        `json:"version"`
	Session Session       `json:"session"`
	Context systemContext `json:"context"`
	Request Request       `json:"request"`
}

// ApplicationID returns the calling skill's id from the session, or from the system
// context for sessionless requests.
func (e *RequestEnvelope) ApplicationID() string {
	if id := e.Session.Application.ApplicationID; id != "" {
		return id
	}
	return e.Context.System.Application.ApplicationID
}

// AccessToken returns the session's provider token: the access_token session attribute
// first, then the account-linking token.
func (e *RequestEnvelope) AccessToken() string {
	if v, ok := e.Session.Attributes[AccessTokenAttribute].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	if e.Session.User.AccessToken != "" {
		return e.Session.User.AccessToken
	}
	return e.Context.System.User.AccessToken
}

// SlotValue returns the spoken value of a slot, or "".
func (e *RequestEnvelope) SlotValue(name string) string {
	return e.Request.Intent.Slots[name].Value
}

// IsIntent reports whether this is an IntentRequest for the named intent.
func (e *RequestEnvelope) IsIntent(name string) bool {
	return e.Request.Type == RequestTypeIntent && e.Request.Intent.Name == name
}

// Parse decodes body and checks it was sent for applicationID.
func Parse(body []byte, applicationID string) (*RequestEnvelope, error) {
	var env RequestEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if env.Request.Type == "" {
		return nil, fmt.Errorf("%w: request.type is required", ErrMalformedRequest)
	}
	if err := VerifyApplicationID(&env, applicationID); err != nil {
		return nil, err
	}
	return &env, nil
}

// VerifyApplicationID rejects envelopes addressed to any other skill.
func VerifyApplicationID(env *RequestEnvelope, applicationID string) error {
	got := env.ApplicationID()
	if applicationID == "" || subtle.ConstantTimeCompare([]byte(got), []byte(applicationID)) != 1 {
		return fmt.Errorf("%w: %q", ErrInvalidApplicationID, got)
	}
	return nil
}

type OutputSpeech struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Response struct {
	OutputSpeech     *OutputSpeech `json:"outputSpeech,omitempty"`
	ShouldEndSession bool          `json:"shouldEndSession"`
}

// ResponseEnvelope is the body returned to Alexa.
type ResponseEnvelope struct {
	Version           string         `json:"version"`
	SessionAttributes map[string]any `json:"sessionAttributes,omitempty"`
	Response          Response       `json:"response"`
}

// NewResponse starts an empty response that ends the session. Session attributes are
// never echoed back.
func NewResponse() *ResponseEnvelope {
	return &ResponseEnvelope{
		Version:  "1.0",
		Response: Response{ShouldEndSession: true},
	}
}

// SetOutputSpeechText sets plain-text speech.
func (r *ResponseEnvelope) SetOutputSpeechText(text string) {
	r.Response.OutputSpeech = &OutputSpeech{Type: "PlainText", Text: text}
}
