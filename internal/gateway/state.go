package gateway

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// StateTTL is how long an authorization attempt may take from /authorize to the
// upstream callback.
const StateTTL = 5 * time.Minute

var (
	errStateMalformed = errors.New("malformed authorization state")
	errStateExpired   = errors.New("authorization state expired")
)

// authState is what the gateway needs back at the callback. It travels through the
// upstream provider as the OAuth state parameter.
type authState struct {
	RedirectURI string `json:"redirect_uri"`
	State       string `json:"state,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	// UserKey is set instead of RedirectURI for browser logins started from /login.
	UserKey string `json:"user_key,omitempty"`
	// Timestamp is the issue time in unix milliseconds.
	Timestamp int64 `json:"ts"`
	// Nonce makes every blob unique so it can be consumed once.
	Nonce string `json:"n"`
}

func encodeState(s authState) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}
	s.Nonce = base64.RawURLEncoding.EncodeToString(nonce)

	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// decodeState parses a state blob and checks its age against now.
func decodeState(raw string, now time.Time) (authState, error) {
	var s authState

	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return s, errStateMalformed
	}
	if err := json.Unmarshal(data, &s); err != nil || (s.RedirectURI == "" && s.UserKey == "") || s.Timestamp == 0 {
		return s, errStateMalformed
	}

	if now.Sub(time.UnixMilli(s.Timestamp)) > StateTTL {
		return s, errStateExpired
	}
	return s, nil
}
