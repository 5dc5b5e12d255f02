// Package redirect implements self-contained, signed return links. A link carries its
// own payload, so resuming work after a provider-hosted page needs no session state.
package redirect

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rajasatyajit/stripemirror/config"
	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
)

var encoding = base64.RawURLEncoding

// Payload is the authenticated content of a return link. Exp is in unix milliseconds.
type Payload struct {
	Origin     string          `json:"origin"`
	Data       json.RawMessage `json:"data,omitempty"`
	Exp        int64           `json:"exp"`
	TargetURL  string          `json:"targetUrl"`
	FailureURL string          `json:"failureUrl,omitempty"`
}

// Expired reports whether the link is no longer valid at now.
func (p Payload) Expired(now time.Time) bool {
	return now.UnixMilli() > p.Exp
}

// Signer computes and checks HMAC-SHA256 signatures over encoded payloads.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) Signer {
	return Signer{secret: []byte(secret)}
}

// Sign returns the base64url signature of encoded.
func (s Signer) Sign(encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encoded))
	return encoding.EncodeToString(mac.Sum(nil))
}

// Verify compares sig against the expected signature in constant time.
func (s Signer) Verify(encoded, sig string) bool {
	expected := s.Sign(encoded)
	if len(sig) != len(expected) {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(expected))
}

// Encode serializes p as JSON and base64url-encodes it.
func Encode(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode redirect payload: %w", err)
	}
	return encoding.EncodeToString(raw), nil
}

// Decode reverses Encode.
func Decode(encoded string) (Payload, error) {
	raw, err := encoding.DecodeString(encoded)
	if err != nil {
		return Payload{}, fmt.Errorf("decode redirect payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("parse redirect payload: %w", err)
	}
	return p, nil
}

// Params describe a return link to build. Data must be JSON encodable. A zero TTL uses
// the configured default.
type Params struct {
	Origin     string
	Data       any
	TargetURL  string
	FailureURL string
	TTL        time.Duration
}

// BuildSignedReturnURL returns {base}{prefix}/{origin}?data=...&signature=....
func BuildSignedReturnURL(cfg config.Configuration, p Params) (string, error) {
	return buildAt(cfg, p, time.Now())
}

func buildAt(cfg config.Configuration, p Params, now time.Time) (string, error) {
	if cfg.Redirect.Secret == "" {
		return "", fmt.Errorf("redirect secret: %w", apperrors.ErrNotConfigured)
	}
	if cfg.App.BaseURL == "" {
		return "", fmt.Errorf("app base url: %w", apperrors.ErrNotConfigured)
	}
	if p.Origin == "" || url.PathEscape(p.Origin) != p.Origin || strings.Contains(p.Origin, "/") {
		return "", apperrors.ValidationError{Field: "origin", Message: "origin must be a single path segment"}
	}
	if p.TargetURL == "" {
		return "", apperrors.ValidationError{Field: "targetUrl", Message: "target url is required"}
	}

	ttl := p.TTL
	if ttl <= 0 {
		ttl = cfg.Redirect.TTL
	}
	payload := Payload{
		Origin:     p.Origin,
		Exp:        now.Add(ttl).UnixMilli(),
		TargetURL:  p.TargetURL,
		FailureURL: p.FailureURL,
	}
	if p.Data != nil {
		data, err := json.Marshal(p.Data)
		if err != nil {
			return "", fmt.Errorf("encode redirect data: %w", err)
		}
		payload.Data = data
	}

	encoded, err := Encode(payload)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("data", encoded)
	q.Set("signature", NewSigner(cfg.Redirect.Secret).Sign(encoded))
	return cfg.App.BaseURL + cfg.Redirect.PathPrefix + "/" + p.Origin + "?" + q.Encode(), nil
}
