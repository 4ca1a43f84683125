// Package crypto encrypts session tokens into hex envelopes that are safe
// to hand to the browser, and decrypts them again on the way back in.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported encryption algorithm")
	ErrInvalidKeyLength     = errors.New("invalid key length")
	ErrInvalidIVLength      = errors.New("invalid IV length")
)

// Algorithm describes a supported cipher and the exact key and IV sizes
// it requires.
type Algorithm struct {
	Name    string
	KeySize int
	IVSize  int

	newSealer func(key []byte) (sealer, error)
}

// sealer is the mode-specific part of the codec. iv always has the
// algorithm's IVSize.
type sealer interface {
	seal(iv, plaintext []byte) []byte
	open(iv, ciphertext []byte) ([]byte, error)
}

var algorithms = map[string]Algorithm{
	"aes-128-cbc":        {Name: "aes-128-cbc", KeySize: 16, IVSize: aes.BlockSize, newSealer: newCBC},
	"aes-192-cbc":        {Name: "aes-192-cbc", KeySize: 24, IVSize: aes.BlockSize, newSealer: newCBC},
	"aes-256-cbc":        {Name: "aes-256-cbc", KeySize: 32, IVSize: aes.BlockSize, newSealer: newCBC},
	"aes-128-gcm":        {Name: "aes-128-gcm", KeySize: 16, IVSize: 12, newSealer: newGCM},
	"aes-256-gcm":        {Name: "aes-256-gcm", KeySize: 32, IVSize: 12, newSealer: newGCM},
	"chacha20-poly1305":  {Name: "chacha20-poly1305", KeySize: chacha20poly1305.KeySize, IVSize: chacha20poly1305.NonceSize, newSealer: newChaCha},
	"xchacha20-poly1305": {Name: "xchacha20-poly1305", KeySize: chacha20poly1305.KeySize, IVSize: chacha20poly1305.NonceSizeX, newSealer: newXChaCha},
}

// Lookup returns the algorithm registered under name.
func Lookup(name string) (Algorithm, bool) {
	alg, ok := algorithms[name]
	return alg, ok
}

// Algorithms returns the names of all supported algorithms, sorted.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// cbcSealer is AES-CBC with PKCS#7 padding. It has no authentication tag;
// tampering surfaces as a padding or decoding failure.
type cbcSealer struct {
	block cipher.Block
}

func newCBC(key []byte) (sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	return &cbcSealer{block: block}, nil
}

func (s *cbcSealer) seal(iv, plaintext []byte) []byte {
	padded := pkcs7Pad(plaintext, s.block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(s.block, iv).CryptBlocks(out, padded)

	return out
}

func (s *cbcSealer) open(iv, ciphertext []byte) ([]byte, error) {
	bs := s.block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("ciphertext is not a whole number of blocks")
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(s.block, iv).CryptBlocks(out, ciphertext)

	return pkcs7Unpad(out, bs)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}

	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}

	return data[:len(data)-n], nil
}

// aeadSealer covers every AEAD mode. The tag is appended to the ciphertext.
type aeadSealer struct {
	aead cipher.AEAD
}

func (s *aeadSealer) seal(iv, plaintext []byte) []byte {
	return s.aead.Seal(nil, iv, plaintext, nil)
}

func (s *aeadSealer) open(iv, ciphertext []byte) ([]byte, error) {
	return s.aead.Open(nil, iv, ciphertext, nil)
}

func newGCM(key []byte) (sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &aeadSealer{aead: gcm}, nil
}

func newChaCha(key []byte) (sealer, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("creating ChaCha20-Poly1305: %w", err)
	}

	return &aeadSealer{aead: aead}, nil
}

func newXChaCha(key []byte) (sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305: %w", err)
	}

	return &aeadSealer{aead: aead}, nil
}
