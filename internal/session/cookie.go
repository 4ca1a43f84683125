package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/alexjbarnes/reddit-broker/internal/errors"
	"github.com/alexjbarnes/reddit-broker/internal/models"
)

// CookieName is the name of the session cookie.
const CookieName = "reddit_session"

// EncodeCookieValue serializes env for use as a cookie value. The JSON is
// base64url encoded because net/http strips quotes from cookie values.
func EncodeCookieValue(env models.Envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encoding session cookie: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCookieValue parses a cookie value produced by EncodeCookieValue.
// Anything unreadable is reported as a DecryptionError so callers treat it
// like any other broken session.
func DecodeCookieValue(value string) (*models.Envelope, error) {
	data, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, &apperrors.DecryptionError{Reason: "invalid encoding"}
	}

	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &apperrors.DecryptionError{Reason: "malformed envelope"}
	}

	return &env, nil
}

// SessionCookie builds the cookie that carries an encoded session.
func SessionCookie(value string, maxAge time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredSessionCookie builds a cookie that deletes the session.
func ExpiredSessionCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// EnvelopeFromRequest returns the session envelope carried by r, or nil
// when there is no session cookie. A cookie that cannot be decoded yields
// a DecryptionError.
func EnvelopeFromRequest(r *http.Request) (*models.Envelope, error) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil, nil
	}

	return DecodeCookieValue(c.Value)
}
