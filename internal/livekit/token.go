package livekit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultAdminTokenTTL bounds the lifetime of control-plane tokens.
	DefaultAdminTokenTTL = 5 * time.Minute
	// DefaultParticipantTokenTTL bounds the lifetime of join tokens handed to browsers.
	DefaultParticipantTokenTTL = 15 * time.Minute

	tokenAudience = "livekit"
)

// timeNow is swapped out in tests to produce deterministic tokens.
var timeNow = time.Now

// VideoGrant mirrors the capability object LiveKit expects inside a token.
// Publish/subscribe capabilities are pointers so "unset" and "false" stay
// distinguishable on the wire.
type VideoGrant struct {
	Room           string `json:"room,omitempty"`
	RoomAdmin      bool   `json:"roomAdmin,omitempty"`
	RoomJoin       bool   `json:"roomJoin,omitempty"`
	CanPublish     *bool  `json:"canPublish,omitempty"`
	CanSubscribe   *bool  `json:"canSubscribe,omitempty"`
	CanPublishData *bool  `json:"canPublishData,omitempty"`
}

// ParticipantGrants selects the publish/subscribe capabilities for a join token.
type ParticipantGrants struct {
	CanPublish     bool
	CanSubscribe   bool
	CanPublishData bool
}

// DefaultParticipantGrants allows publishing, subscribing and data channels.
func DefaultParticipantGrants() ParticipantGrants {
	return ParticipantGrants{CanPublish: true, CanSubscribe: true, CanPublishData: true}
}

type tokenClaims struct {
	Iss   string     `json:"iss"`
	Sub   string     `json:"sub"`
	Aud   string     `json:"aud"`
	Iat   int64      `json:"iat"`
	Exp   int64      `json:"exp"`
	Video VideoGrant `json:"video"`
}

// AdminToken mints a short-lived room-admin token for control-plane calls.
// The subject is the API key itself; the grant is scoped to one room.
func AdminToken(apiKey, apiSecret, room string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultAdminTokenTTL
	}
	now := timeNow()
	claims := tokenClaims{
		Iss: apiKey,
		Sub: apiKey,
		Aud: tokenAudience,
		Iat: now.Unix(),
		Exp: now.Add(ttl).Unix(),
		Video: VideoGrant{
			Room:      room,
			RoomAdmin: true,
		},
	}
	return signToken(apiSecret, claims)
}

// ParticipantToken mints a join token for a specific identity.
func ParticipantToken(apiKey, apiSecret, room, identity string, ttl time.Duration, grants ParticipantGrants) (string, error) {
	if ttl <= 0 {
		ttl = DefaultParticipantTokenTTL
	}
	now := timeNow()
	claims := tokenClaims{
		Iss: apiKey,
		Sub: identity,
		Aud: tokenAudience,
		Iat: now.Unix(),
		Exp: now.Add(ttl).Unix(),
		Video: VideoGrant{
			Room:           room,
			RoomJoin:       true,
			CanPublish:     &grants.CanPublish,
			CanSubscribe:   &grants.CanSubscribe,
			CanPublishData: &grants.CanPublishData,
		},
	}
	return signToken(apiSecret, claims)
}

// signToken produces the compact credential: three base64url segments joined
// by dots, HMAC-SHA256 signed with the API secret.
func signToken(apiSecret string, claims tokenClaims) (string, error) {
	if apiSecret == "" {
		return "", fmt.Errorf("api secret is required to sign tokens")
	}

	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("marshal token header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal token claims: %w", err)
	}

	encode := base64.RawURLEncoding.EncodeToString
	signingInput := encode(headerJSON) + "." + encode(claimsJSON)

	mac := hmac.New(sha256.New, []byte(apiSecret))
	mac.Write([]byte(signingInput))
	signature := encode(mac.Sum(nil))

	return signingInput + "." + signature, nil
}

// HTTPURL rewrites a websocket-scheme LiveKit URL to its HTTP equivalent for
// control-plane calls. Non-websocket URLs pass through untouched.
func HTTPURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "wss://"):
		return "https://" + strings.TrimPrefix(serverURL, "wss://")
	case strings.HasPrefix(serverURL, "ws://"):
		return "http://" + strings.TrimPrefix(serverURL, "ws://")
	default:
		return serverURL
	}
}
