package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	apperrors "github.com/alexjbarnes/reddit-broker/internal/errors"
	"github.com/alexjbarnes/reddit-broker/internal/models"
)

// Reasons reported by DecryptionError. Cipher and payload failures share
// one reason so a caller cannot distinguish padding from decoding errors.
const (
	reasonMalformedEnvelope  = "malformed envelope"
	reasonInvalidEncoding    = "invalid encoding"
	reasonCiphertextRejected = "ciphertext rejected"
)

// Codec serializes payloads to JSON and encrypts them under a fixed key.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	alg    Algorithm
	sealer sealer
	rand   io.Reader
}

// NewCodec builds a codec for the named algorithm. The key and IV length
// must match the algorithm exactly.
func NewCodec(algorithm string, key []byte, ivLen int) (*Codec, error) {
	alg, ok := Lookup(algorithm)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}

	if len(key) != alg.KeySize {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidKeyLength, alg.Name, alg.KeySize, len(key))
	}

	if ivLen != alg.IVSize {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidIVLength, alg.Name, alg.IVSize, ivLen)
	}

	s, err := alg.newSealer(key)
	if err != nil {
		return nil, err
	}

	return &Codec{alg: alg, sealer: s, rand: rand.Reader}, nil
}

// Algorithm returns the name of the codec's cipher.
func (c *Codec) Algorithm() string {
	return c.alg.Name
}

// Encrypt serializes payload and encrypts it under a fresh random IV.
// An error means payload cannot be serialized (a programming error) or
// the system random source failed; no partial envelope is returned.
func (c *Codec) Encrypt(payload any) (models.Envelope, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return models.Envelope{}, fmt.Errorf("serializing payload: %w", err)
	}

	iv := make([]byte, c.alg.IVSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return models.Envelope{}, fmt.Errorf("generating IV: %w", err)
	}

	ciphertext := c.sealer.seal(iv, plaintext)
	clear(plaintext)

	return models.Envelope{
		IV:    hex.EncodeToString(iv),
		Token: hex.EncodeToString(ciphertext),
	}, nil
}

// Decrypt reverses Encrypt, decoding the plaintext into out. Every
// failure is a *errors.DecryptionError.
func (c *Codec) Decrypt(env models.Envelope, out any) error {
	if env.IV == "" || env.Token == "" {
		return &apperrors.DecryptionError{Reason: reasonMalformedEnvelope}
	}

	iv, err := hex.DecodeString(env.IV)
	if err != nil {
		return &apperrors.DecryptionError{Reason: reasonInvalidEncoding}
	}

	ciphertext, err := hex.DecodeString(env.Token)
	if err != nil {
		return &apperrors.DecryptionError{Reason: reasonInvalidEncoding}
	}

	if len(iv) != c.alg.IVSize {
		return &apperrors.DecryptionError{Reason: reasonMalformedEnvelope}
	}

	plaintext, err := c.sealer.open(iv, ciphertext)
	if err != nil {
		return &apperrors.DecryptionError{Reason: reasonCiphertextRejected}
	}
	defer clear(plaintext)

	if err := json.Unmarshal(plaintext, out); err != nil {
		return &apperrors.DecryptionError{Reason: reasonCiphertextRejected}
	}

	return nil
}
