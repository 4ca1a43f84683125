package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexjbarnes/reddit-broker/internal/config"
	"github.com/alexjbarnes/reddit-broker/internal/crypto"
	"github.com/alexjbarnes/reddit-broker/internal/models"
	"github.com/alexjbarnes/reddit-broker/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenSalt_MatchesKeySize(t *testing.T) {
	for _, name := range crypto.Algorithms() {
		alg, ok := crypto.Lookup(name)
		require.True(t, ok)

		var out bytes.Buffer
		require.NoError(t, genSalt(&out, strings.NewReader(strings.Repeat("\xff", 64)), name))

		salt := strings.TrimSpace(out.String())
		assert.Len(t, salt, alg.KeySize, name)
	}
}

func TestGenSalt_UsableAsConfigKey(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, genSalt(&out, strings.NewReader(strings.Repeat("k", 64)), "aes-256-cbc"))

	cfg := config.TestDefaults()
	cfg.Salt = strings.TrimSpace(out.String())

	_, err := crypto.NewCodec(cfg.Algorithm, cfg.Key(), cfg.IVLength)
	require.NoError(t, err)
}

func TestGenSalt_URLSafeAlphabet(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, genSalt(&out, strings.NewReader(strings.Repeat("\xfb\xef\xbe", 22)), "xchacha20-poly1305"))

	salt := strings.TrimSpace(out.String())
	assert.Len(t, salt, 32)
	assert.Regexp(t, `^[A-Za-z0-9_-]+$`, salt)
}

func TestGenSalt_UnknownAlgorithm(t *testing.T) {
	err := genSalt(io.Discard, strings.NewReader(""), "rot13")
	require.ErrorIs(t, err, crypto.ErrUnsupportedAlgorithm)
}

func TestGenSalt_ShortRandom(t *testing.T) {
	err := genSalt(io.Discard, strings.NewReader("abc"), "aes-128-cbc")
	require.Error(t, err)
}

func TestPruneLoginStates_StopsOnCancel(t *testing.T) {
	states, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer states.Close()

	require.NoError(t, states.SaveLoginState("n", models.LoginState{ExpiresAt: time.Now().Add(time.Hour)}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		pruneLoginStates(ctx, states, slog.New(slog.DiscardHandler))
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop")
	}

	n, err := states.CountLoginStates()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
