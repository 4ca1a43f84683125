package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/reddit-broker/internal/errors"
	"github.com/alexjbarnes/reddit-broker/internal/models"
	"github.com/alexjbarnes/reddit-broker/internal/reddit"
	"github.com/alexjbarnes/reddit-broker/internal/session"
	"github.com/alexjbarnes/reddit-broker/internal/state"
	"github.com/google/uuid"
)

// handleLogin records where to send the user afterwards and redirects
// to Reddit's consent page.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	nonce := uuid.NewString()
	now := h.now()

	ls := models.LoginState{
		ReturnTo:  sanitizeReturnTo(r.URL.Query().Get("return_to"), h.clientURL),
		CreatedAt: now,
		ExpiresAt: now.Add(h.loginTTL),
	}

	if err := h.states.SaveLoginState(nonce, ls); err != nil {
		h.logger.Error("saving login state", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "server_error", "could not start login")

		return
	}

	http.SetCookie(w, h.loginCookie(nonce, h.loginTTL))
	http.Redirect(w, r, h.authorizer.AuthCodeURL(nonce), http.StatusFound)
}

// handleCallback completes the authorization code flow.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nonce := q.Get("state")

	// The login cookie is single-use whatever the outcome.
	http.SetCookie(w, h.loginCookie("", -1))

	if !h.startedLogin(r, nonce) {
		h.logger.Warn("callback state does not match this browser's login")
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "login was not started by this browser")

		return
	}

	ls, err := h.states.ConsumeLoginState(nonce, h.now())
	if err != nil {
		if !errors.Is(err, state.ErrLoginStateNotFound) {
			h.logger.Error("consuming login state", slog.String("error", err.Error()))
			writeJSONError(w, http.StatusInternalServerError, "server_error", "could not complete login")

			return
		}

		writeJSONError(w, http.StatusBadRequest, "invalid_request", "unknown or expired login state")

		return
	}

	// The user declined on Reddit's consent page.
	if reason := q.Get("error"); reason != "" {
		h.logger.Info("authorization not granted", slog.String("reason", reason))
		http.Redirect(w, r, ls.ReturnTo, http.StatusFound)

		return
	}

	code := q.Get("code")
	if code == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	res, err := h.broker.CompleteLogin(r.Context(), code)
	if err != nil {
		h.writeAcquireError(w, err)
		return
	}

	if err := h.setSession(w, res.Envelope); err != nil {
		h.logger.Error("writing session cookie", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "server_error", "could not store session")

		return
	}

	h.logger.Info("user logged in", slog.String("scope", res.Token.Scope))
	http.Redirect(w, r, ls.ReturnTo, http.StatusFound)
}

// handleToken returns a bearer token for the caller's session, replacing
// the session cookie when the token changed.
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	env, err := session.EnvelopeFromRequest(r)
	if err != nil {
		// Let the broker see an unreadable session so it is counted and
		// replaced like any other.
		env = &models.Envelope{}
	}

	res, err := h.broker.GetBearerToken(r.Context(), env)
	if err != nil {
		var ae *apperrors.AuthExchangeError
		// Only an actual refusal from Reddit ends the session; timeouts
		// and cancellations leave the cookie alone.
		if errors.As(err, &ae) && ae.Grant == reddit.GrantRefreshToken && ae.StatusCode != 0 && !ae.Retryable {
			http.SetCookie(w, session.ExpiredSessionCookie(h.secure))
			writeJSONError(w, http.StatusUnauthorized, "login_required", "session expired, log in again")

			return
		}

		h.writeAcquireError(w, err)

		return
	}

	if res.Envelope != nil {
		if err := h.setSession(w, res.Envelope); err != nil {
			h.logger.Error("writing session cookie", slog.String("error", err.Error()))
			writeJSONError(w, http.StatusInternalServerError, "server_error", "could not store session")

			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(res.Bearer)
}

// handleLogout clears the session and revokes its refresh token on a
// best-effort basis.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if env, err := session.EnvelopeFromRequest(r); err == nil && env != nil {
		if tok, err := h.broker.Decode(*env); err == nil && tok.Auth && tok.RefreshToken != "" {
			if err := h.authorizer.Revoke(r.Context(), tok.RefreshToken, "refresh_token"); err != nil {
				h.logger.Warn("revoking refresh token", slog.String("error", err.Error()))
			}
		}
	}

	http.SetCookie(w, session.ExpiredSessionCookie(h.secure))

	if r.Method == http.MethodPost {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	http.Redirect(w, r, h.clientURL, http.StatusFound)
}

// loginCookie binds a pending login to the browser. A negative maxAge
// deletes it.
func (h *Handler) loginCookie(nonce string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     loginCookieName,
		Value:    nonce,
		Path:     callbackPath,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	}

	if maxAge < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(maxAge / time.Second)
	}

	return c
}

// startedLogin reports whether r carries the login cookie for nonce.
func (h *Handler) startedLogin(r *http.Request, nonce string) bool {
	c, err := r.Cookie(loginCookieName)
	if err != nil || c.Value == "" || nonce == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(nonce)) == 1
}

func (h *Handler) setSession(w http.ResponseWriter, env *models.Envelope) error {
	value, err := session.EncodeCookieValue(*env)
	if err != nil {
		return err
	}

	http.SetCookie(w, session.SessionCookie(value, h.sessionLength, h.secure))

	return nil
}

// writeAcquireError maps a token acquisition failure to a response.
// Upstream details stay in the log.
func (h *Handler) writeAcquireError(w http.ResponseWriter, err error) {
	var ae *apperrors.AuthExchangeError

	switch {
	case errors.Is(err, apperrors.ErrMalformedTokenResponse):
		writeJSONError(w, http.StatusBadGateway, "bad_gateway", "authorization server returned an unusable response")
	case errors.As(err, &ae) && ae.Retryable:
		writeJSONError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "authorization server unavailable")
	case errors.As(err, &ae) && ae.Grant == reddit.GrantAuthorizationCode:
		writeJSONError(w, http.StatusBadRequest, "access_denied", "authorization code was rejected")
	case errors.As(err, &ae):
		writeJSONError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "could not obtain a token")
	default:
		h.logger.Error("token acquisition", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// sanitizeReturnTo accepts only same-origin absolute paths. Anything
// else, including protocol-relative URLs, falls back to fallback.
func sanitizeReturnTo(raw, fallback string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return fallback
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}

	return raw
}

func writeJSONError(w http.ResponseWriter, status int, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             errCode,
		"error_description": description,
	})
}
