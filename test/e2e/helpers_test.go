package e2e_test

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexjbarnes/reddit-broker/internal/config"
	"github.com/alexjbarnes/reddit-broker/internal/crypto"
	"github.com/alexjbarnes/reddit-broker/internal/metrics"
	"github.com/alexjbarnes/reddit-broker/internal/models"
	"github.com/alexjbarnes/reddit-broker/internal/reddit"
	"github.com/alexjbarnes/reddit-broker/internal/server"
	"github.com/alexjbarnes/reddit-broker/internal/session"
	"github.com/alexjbarnes/reddit-broker/internal/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "e2e-client"
	testSecret   = "e2e-secret-value"
	startTime    = 1_700_000_000
)

// fakeReddit implements the parts of Reddit's OAuth server the broker
// talks to. The authorize endpoint grants consent immediately.
type fakeReddit struct {
	t *testing.T

	mu            sync.Mutex
	codes         map[string]string // code -> redirect_uri
	refreshTokens map[string]bool
	issued        int
	grants        []string
	revoked       []string

	// failAnonymous makes client_credentials grants return 503.
	failAnonymous atomic.Bool
}

func newFakeReddit(t *testing.T) (*fakeReddit, *httptest.Server) {
	t.Helper()

	f := &fakeReddit{
		t:             t,
		codes:         map[string]string{},
		refreshTokens: map[string]bool{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/authorize", f.authorize)
	mux.HandleFunc("POST /api/v1/access_token", f.token)
	mux.HandleFunc("POST /api/v1/revoke_token", f.revoke)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return f, ts
}

func (f *fakeReddit) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	assert.Equal(f.t, testClientID, q.Get("client_id"))
	assert.Equal(f.t, "code", q.Get("response_type"))
	assert.Equal(f.t, "permanent", q.Get("duration"))

	f.mu.Lock()
	f.issued++
	code := fmt.Sprintf("code-%d", f.issued)
	f.codes[code] = q.Get("redirect_uri")
	f.mu.Unlock()

	target := q.Get("redirect_uri") + "?" + url.Values{
		"state": {q.Get("state")},
		"code":  {code},
	}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

func (f *fakeReddit) token(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != testClientID || pass != testSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized", "error": 401})
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}

	grant := r.PostForm.Get("grant_type")

	f.mu.Lock()
	defer f.mu.Unlock()

	f.grants = append(f.grants, grant)
	f.issued++

	switch grant {
	case reddit.GrantAuthorizationCode:
		redirect, ok := f.codes[r.PostForm.Get("code")]
		if !ok || redirect != r.PostForm.Get("redirect_uri") {
			writeJSON(w, http.StatusOK, map[string]any{"error": "invalid_grant"})
			return
		}

		delete(f.codes, r.PostForm.Get("code"))

		refresh := fmt.Sprintf("refresh-%d", f.issued)
		f.refreshTokens[refresh] = true
		writeJSON(w, http.StatusOK, tokenBody(fmt.Sprintf("user-%d", f.issued), refresh))
	case reddit.GrantRefreshToken:
		if !f.refreshTokens[r.PostForm.Get("refresh_token")] {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
			return
		}

		writeJSON(w, http.StatusOK, tokenBody(fmt.Sprintf("user-%d", f.issued), ""))
	case reddit.GrantClientCredentials:
		if f.failAnonymous.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"message": "Service Unavailable"})
			return
		}

		writeJSON(w, http.StatusOK, tokenBody(fmt.Sprintf("anon-%d", f.issued), ""))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
	}
}

func (f *fakeReddit) revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	token := r.PostForm.Get("token")
	f.revoked = append(f.revoked, token)
	delete(f.refreshTokens, token)

	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeReddit) grantLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.grants...)
}

func (f *fakeReddit) revokedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.revoked...)
}

func tokenBody(access, refresh string) map[string]any {
	body := map[string]any{
		"access_token": access,
		"token_type":   "bearer",
		"expires_in":   3600,
		"scope":        "identity read",
	}
	if refresh != "" {
		body["refresh_token"] = refresh
	}

	return body
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// harness holds the full e2e test stack: the broker's HTTP server wired
// exactly as in main, a fake Reddit, and a browser-like client with a
// cookie jar.
type harness struct {
	URL    string
	Reddit *fakeReddit
	Client *http.Client

	clock atomic.Int64
}

// newHarness builds the broker from a test configuration pointed at a
// fake Reddit and starts it on an httptest server.
func newHarness(t *testing.T) *harness {
	t.Helper()

	fake, upstream := newFakeReddit(t)
	logger := slog.New(slog.DiscardHandler)

	// Use NewUnstartedServer so the callback URI can name the listener
	// address before the handler is built.
	ts := httptest.NewUnstartedServer(nil)
	serverURL := "http://" + ts.Listener.Addr().String()

	cfg := config.TestDefaults()
	cfg.ClientID = testClientID
	cfg.ClientSecret = testSecret
	cfg.OAuthBaseURL = upstream.URL
	cfg.CallbackURI = serverURL + "/authorize_callback"
	cfg.StateDBPath = filepath.Join(t.TempDir(), "state.db")
	cfg.AcquireRetries = 1

	h := &harness{URL: serverURL, Reddit: fake}
	h.clock.Store(startTime)
	now := func() time.Time { return time.Unix(h.clock.Load(), 0) }

	codec, err := crypto.NewCodec(cfg.Algorithm, cfg.Key(), cfg.IVLength)
	require.NoError(t, err)

	states, err := state.Open(cfg.StateDBPath)
	require.NoError(t, err)
	t.Cleanup(func() { states.Close() })

	client := reddit.NewClient(reddit.OptionsFromConfig(cfg), upstream.Client())
	acquirer := reddit.NewRetrying(client, reddit.RetryOptions{
		MaxRetries:      uint(cfg.AcquireRetries),
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}, logger)

	registry := prometheus.NewRegistry()
	broker := session.NewBroker(session.BrokerOptions{
		Acquirer:       acquirer,
		Codec:          codec,
		Padding:        cfg.ExpiryPadding(),
		AcquireTimeout: cfg.AcquireTimeout,
		Now:            now,
		Logger:         logger,
		Metrics:        metrics.New(registry),
	})

	ts.Config.Handler = server.New(server.Options{
		Broker:        broker,
		Authorizer:    client,
		States:        states,
		Gatherer:      registry,
		ClientURL:     "/",
		SessionLength: cfg.SessionLength(),
		Now:           now,
		Logger:        logger,
	}).Routes()
	ts.Start()
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	h.Client = &http.Client{Jar: jar, Timeout: 10 * time.Second}

	return h
}

// advance moves the broker's clock forward.
func (h *harness) advance(d time.Duration) {
	h.clock.Add(int64(d / time.Second))
}

func (h *harness) now() int64 {
	return h.clock.Load()
}

// login runs the full authorization code flow in the browser client and
// returns the final response after all redirects.
func (h *harness) login(t *testing.T, returnTo string) *http.Response {
	t.Helper()

	resp, err := h.Client.Get(h.URL + "/login?return_to=" + url.QueryEscape(returnTo))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

// bearer calls /api/token and decodes the response.
func (h *harness) bearer(t *testing.T) (int, models.BearerToken) {
	t.Helper()

	resp, err := h.Client.Get(h.URL + "/api/token")
	require.NoError(t, err)
	defer resp.Body.Close()

	var bt models.BearerToken
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&bt))
	}

	return resp.StatusCode, bt
}

func (h *harness) logout(t *testing.T) int {
	t.Helper()

	resp, err := h.Client.Post(h.URL+"/logout", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	return resp.StatusCode
}

func (h *harness) sessionCookie() *http.Cookie {
	u, _ := url.Parse(h.URL)
	for _, c := range h.Client.Jar.Cookies(u) {
		if c.Name == session.CookieName {
			return c
		}
	}

	return nil
}
