package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by the typed errors below via errors.Is.
var (
	ErrConfiguration          = errors.New("invalid configuration")
	ErrDecryption             = errors.New("session decryption failed")
	ErrAuthExchange           = errors.New("token exchange failed")
	ErrMalformedTokenResponse = errors.New("malformed token response")
)

// ConfigurationError lists every configuration rule that failed at startup.
// It is fatal: the process prints Problems and exits.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return ErrConfiguration.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// DecryptionError reports that a session envelope could not be turned back
// into a token. Reason is deliberately coarse and never includes key material,
// ciphertext or plaintext.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	if e.Reason == "" {
		return ErrDecryption.Error()
	}

	return ErrDecryption.Error() + ": " + e.Reason
}

func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

// AuthExchangeError is returned when the token endpoint refused a grant or
// could not be reached. Code and Description come from the upstream OAuth
// error body when one was present.
type AuthExchangeError struct {
	Grant       string
	StatusCode  int
	Code        string
	Description string
	Retryable   bool
	Err         error
}

func (e *AuthExchangeError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s (%s)", ErrAuthExchange.Error(), e.Grant)

	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}

	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}

	if e.Description != "" {
		fmt.Fprintf(&b, ": %s", e.Description)
	}

	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}

	return b.String()
}

func (e *AuthExchangeError) Is(target error) bool { return target == ErrAuthExchange }
func (e *AuthExchangeError) Unwrap() error        { return e.Err }

// MalformedTokenResponseError is an upstream contract violation: the token
// endpoint answered 2xx but the body was not a usable token response.
type MalformedTokenResponseError struct {
	Grant    string
	Endpoint string
	Reason   string
}

func (e *MalformedTokenResponseError) Error() string {
	return fmt.Sprintf("%s from %s (%s): %s", ErrMalformedTokenResponse.Error(), e.Endpoint, e.Grant, e.Reason)
}

func (e *MalformedTokenResponseError) Is(target error) bool {
	return target == ErrMalformedTokenResponse
}

// IsRetryable reports whether err is an AuthExchangeError that a wrapping
// policy may retry after a backoff.
func IsRetryable(err error) bool {
	var ae *AuthExchangeError
	return errors.As(err, &ae) && ae.Retryable
}
