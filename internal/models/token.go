// Package models defines types shared across internal packages.
package models

// RawToken is the literal response of Reddit's token endpoint.
type RawToken struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Token is a RawToken with an absolute expiry and the authentication
// class it was obtained under. It is the only token form that is ever
// encrypted into a session.
type Token struct {
	RawToken

	// Expires is a Unix timestamp in seconds.
	Expires int64 `json:"expires"`

	// Auth is true for tokens obtained through a user authorization
	// flow and false for anonymous (client credentials) tokens.
	Auth bool `json:"auth"`
}

// Envelope is the encrypted form of a Token as stored client side.
// Both fields are hex encoded.
type Envelope struct {
	IV    string `json:"iv"`
	Token string `json:"token"`
}

// BearerType records how a bearer token was produced for a request.
type BearerType string

const (
	BearerNew     BearerType = "new"
	BearerCached  BearerType = "cached"
	BearerRefresh BearerType = "refresh"
	BearerNewAnon BearerType = "newanon"
)

// BearerToken is what the browser receives from /api/token.
type BearerToken struct {
	AccessToken string     `json:"accessToken"`
	Expires     int64      `json:"expires"`
	Auth        bool       `json:"auth"`
	Type        BearerType `json:"type"`
}

// Bearer builds the client-facing view of t.
func (t *Token) Bearer(kind BearerType) BearerToken {
	return BearerToken{
		AccessToken: t.AccessToken,
		Expires:     t.Expires,
		Auth:        t.Auth,
		Type:        kind,
	}
}
