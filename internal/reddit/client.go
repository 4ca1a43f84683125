// Package reddit talks to Reddit's OAuth2 endpoints: the authorize
// redirect, the token endpoint for all three grants the broker uses, and
// token revocation.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alexjbarnes/reddit-broker/internal/config"
	apperrors "github.com/alexjbarnes/reddit-broker/internal/errors"
	"github.com/alexjbarnes/reddit-broker/internal/models"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// Grant types sent to the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"

	// OperationRevoke labels errors from the revoke endpoint, which is not
	// a grant but fails the same way.
	OperationRevoke = "revoke"
)

const (
	tokenPath     = "/api/v1/access_token"
	authorizePath = "/api/v1/authorize"
	revokePath    = "/api/v1/revoke_token"

	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout bounds the default HTTP client. Callers are
	// still expected to put a shorter deadline on the context.
	httpClientTimeout = 30 * time.Second

	// maxTokenResponseBytes caps response body reads. Token responses
	// are a few hundred bytes.
	maxTokenResponseBytes = 1 << 20
)

// Options configures a Client.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	UserAgent    string
	BaseURL      string
	Scopes       []string
}

// OptionsFromConfig extracts the client options from the loaded config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.CallbackURI,
		UserAgent:    cfg.UserAgent,
		BaseURL:      cfg.OAuthBaseURL,
		Scopes:       cfg.Scopes(),
	}
}

// Client performs OAuth2 exchanges against Reddit. Each exchange is a
// single request; retrying is left to the caller (see Retrying).
type Client struct {
	httpClient *http.Client
	opts       Options
	tokenURL   string
	revokeURL  string
	oauth      *oauth2.Config
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so Basic credentials never leak to
// a third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates a client. If httpClient is nil, a client with a
// 30-second timeout and same-host redirect policy is created.
func NewClient(opts Options, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	base := strings.TrimRight(opts.BaseURL, "/")

	return &Client{
		httpClient: httpClient,
		opts:       opts,
		tokenURL:   base + tokenPath,
		revokeURL:  base + revokePath,
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURI,
			Scopes:       opts.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + authorizePath,
				TokenURL:  base + tokenPath,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
	}
}

// AuthCodeURL returns the Reddit authorize URL the browser is sent to.
// duration=permanent makes Reddit issue a refresh token.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("duration", "permanent"))
}

// ExchangeCode trades an authorization code from the OAuth redirect for a
// user-scoped token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*models.RawToken, error) {
	if code == "" {
		return nil, &apperrors.AuthExchangeError{Grant: GrantAuthorizationCode, Description: "authorization code is empty"}
	}

	return c.exchange(ctx, GrantAuthorizationCode, url.Values{
		"code":         {code},
		"redirect_uri": {c.opts.RedirectURI},
	})
}

// Refresh trades a refresh token for a new user-scoped token. Reddit does
// not always return a new refresh token; callers keep the old one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.RawToken, error) {
	if refreshToken == "" {
		return nil, &apperrors.AuthExchangeError{Grant: GrantRefreshToken, Description: "refresh token is empty"}
	}

	return c.exchange(ctx, GrantRefreshToken, url.Values{
		"refresh_token": {refreshToken},
	})
}

// Anonymous obtains an app-only token with no user context.
func (c *Client) Anonymous(ctx context.Context) (*models.RawToken, error) {
	return c.exchange(ctx, GrantClientCredentials, url.Values{})
}

// Revoke asks Reddit to invalidate token. hint is "access_token" or
// "refresh_token". Revoking a refresh token also revokes its access tokens.
func (c *Client) Revoke(ctx context.Context, token, hint string) error {
	form := url.Values{"token": {token}}
	if hint != "" {
		form.Set("token_type_hint", hint)
	}

	resp, body, err := c.post(ctx, c.revokeURL, form)
	if err != nil {
		return &apperrors.AuthExchangeError{
			Grant:     OperationRevoke,
			Err:       err,
			Retryable: !errors.Is(ctx.Err(), context.Canceled),
		}
	}

	if resp.StatusCode/100 != 2 {
		code, description := describeError(body)

		return &apperrors.AuthExchangeError{
			Grant:       OperationRevoke,
			StatusCode:  resp.StatusCode,
			Code:        code,
			Description: description,
			Retryable:   isTransientStatus(resp.StatusCode),
		}
	}

	return nil
}

// post sends a form-encoded POST with Basic client authentication and
// returns the response with its (size-capped) body already read.
func (c *Client) post(ctx context.Context, endpoint string, form url.Values) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	// RFC 6749 Section 2.3.1: credentials are form-urlencoded before
	// being placed in the Basic header.
	req.SetBasicAuth(url.QueryEscape(c.opts.ClientID), url.QueryEscape(c.opts.ClientSecret))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}

	return resp, body, nil
}

// exchange performs one grant against the token endpoint.
func (c *Client) exchange(ctx context.Context, grant string, form url.Values) (*models.RawToken, error) {
	form.Set("grant_type", grant)

	resp, body, err := c.post(ctx, c.tokenURL, form)
	if err != nil {
		return nil, &apperrors.AuthExchangeError{
			Grant:     grant,
			Err:       err,
			Retryable: !errors.Is(ctx.Err(), context.Canceled),
		}
	}

	if resp.StatusCode/100 != 2 {
		code, description := describeError(body)

		return nil, &apperrors.AuthExchangeError{
			Grant:       grant,
			StatusCode:  resp.StatusCode,
			Code:        code,
			Description: description,
			Retryable:   isTransientStatus(resp.StatusCode),
		}
	}

	return c.parseToken(grant, resp.StatusCode, body)
}

// parseToken validates a 2xx token endpoint body. Reddit reports some grant
// failures (for example a reused code) as 200 with an "error" field.
func (c *Client) parseToken(grant string, status int, body []byte) (*models.RawToken, error) {
	if !gjson.ValidBytes(body) {
		return nil, c.malformed(grant, "response is not valid JSON")
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return nil, c.malformed(grant, "response is not a JSON object")
	}

	if parsed.Get("access_token").String() == "" {
		if parsed.Get("error").Exists() {
			code, description := describeError(body)

			return nil, &apperrors.AuthExchangeError{
				Grant:       grant,
				StatusCode:  status,
				Code:        code,
				Description: description,
			}
		}

		return nil, c.malformed(grant, "missing access_token")
	}

	var raw models.RawToken
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, c.malformed(grant, "unexpected field types")
	}

	return &raw, nil
}

func (c *Client) malformed(grant, reason string) error {
	return &apperrors.MalformedTokenResponseError{
		Grant:    grant,
		Endpoint: c.tokenURL,
		Reason:   reason,
	}
}

// describeError pulls the OAuth error code and a human readable
// description out of an error body. Reddit uses both the RFC 6749 shape
// ({"error": "invalid_grant"}) and its own ({"message": "Unauthorized",
// "error": 401}).
func describeError(body []byte) (string, string) {
	if !gjson.ValidBytes(body) {
		return "", sanitizeResponseBody(body)
	}

	parsed := gjson.ParseBytes(body)
	code := parsed.Get("error").String()

	description := parsed.Get("error_description").String()
	if description == "" {
		description = parsed.Get("message").String()
	}

	if code == "" && description == "" {
		description = sanitizeResponseBody(body)
	}

	return code, sanitizeResponseBody([]byte(description))
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}
