// Package token turns raw token endpoint responses into session tokens and
// decides when a session token must be replaced.
package token

import (
	"time"

	"github.com/alexjbarnes/reddit-broker/internal/models"
)

// Skew is subtracted from every token's lifetime when it is enriched. It
// absorbs clock drift and the latency of the exchange itself, and is
// independent of the padding applied by IsExpired.
const Skew = 2 * time.Minute

// Enrich stamps raw with an absolute expiry relative to now and records
// whether it came from a user authorization flow.
func Enrich(raw models.RawToken, authenticated bool, now time.Time) models.Token {
	return models.Token{
		RawToken: raw,
		Expires:  now.Unix() + raw.ExpiresIn - int64(Skew/time.Second),
		Auth:     authenticated,
	}
}

// IsExpired reports whether t should be treated as expired at now. A nil
// token is always expired. padding moves the cut-off earlier so callers
// refresh before Reddit starts rejecting the token.
func IsExpired(t *models.Token, padding time.Duration, now time.Time) bool {
	if t == nil {
		return true
	}

	return t.Expires-int64(padding/time.Second) <= now.Unix()
}
