package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/reddit-broker/internal/config"
	"github.com/alexjbarnes/reddit-broker/internal/crypto"
	apperrors "github.com/alexjbarnes/reddit-broker/internal/errors"
	"github.com/alexjbarnes/reddit-broker/internal/logging"
	"github.com/alexjbarnes/reddit-broker/internal/metrics"
	"github.com/alexjbarnes/reddit-broker/internal/reddit"
	"github.com/alexjbarnes/reddit-broker/internal/server"
	"github.com/alexjbarnes/reddit-broker/internal/session"
	"github.com/alexjbarnes/reddit-broker/internal/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

// pruneInterval is how often expired login states are swept.
const pruneInterval = time.Minute

func main() {
	// Handle gen-salt subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "gen-salt" {
		algorithm := "aes-256-cbc"
		if len(os.Args) > 2 {
			algorithm = os.Args[2]
		}

		if err := genSalt(os.Stdout, rand.Reader, algorithm); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		return
	}

	if err := run(); err != nil {
		var ce *apperrors.ConfigurationError
		if errors.As(err, &ce) {
			fmt.Fprintln(os.Stderr, "invalid configuration:")

			for _, p := range ce.Problems {
				fmt.Fprintf(os.Stderr, "  - %s\n", p)
			}

			os.Exit(1)
		}

		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// genSalt prints a random key of exactly the algorithm's key size, using
// only URL-safe characters so it can be pasted into an env file.
func genSalt(w io.Writer, random io.Reader, algorithm string) error {
	alg, ok := crypto.Lookup(algorithm)
	if !ok {
		return fmt.Errorf("%w: %q", crypto.ErrUnsupportedAlgorithm, algorithm)
	}

	buf := make([]byte, alg.KeySize)
	if _, err := io.ReadFull(random, buf); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}

	// Truncating to URL-safe characters leaves 6 bits per byte: a 32-byte
	// key holds 192 bits of entropy, the price of a printable salt.
	salt := base64.RawURLEncoding.EncodeToString(buf)[:alg.KeySize]
	_, err := fmt.Fprintln(w, salt)

	return err
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("reddit-broker starting",
		slog.String("version", Version),
		slog.String("environment", cfg.Environment),
		slog.String("algorithm", cfg.Algorithm),
	)

	codec, err := crypto.NewCodec(cfg.Algorithm, cfg.Key(), cfg.IVLength)
	if err != nil {
		return fmt.Errorf("creating session codec: %w", err)
	}

	states, err := state.Open(cfg.StateDBPath)
	if err != nil {
		return err
	}
	defer states.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	client := reddit.NewClient(reddit.OptionsFromConfig(cfg), nil)
	acquirer := reddit.NewRetrying(client, reddit.DefaultRetryOptions(cfg.AcquireRetries),
		logger.With(slog.String("component", "reddit")))

	broker := session.NewBroker(session.BrokerOptions{
		Acquirer:       acquirer,
		Codec:          codec,
		Padding:        cfg.ExpiryPadding(),
		AcquireTimeout: cfg.AcquireTimeout,
		Logger:         logger.With(slog.String("component", "session")),
		Metrics:        metrics.New(registry),
	})

	handler := server.New(server.Options{
		Broker:        broker,
		Authorizer:    client,
		States:        states,
		Gatherer:      registry,
		ClientURL:     cfg.ClientURL,
		SessionLength: cfg.SessionLength(),
		SecureCookies: cfg.IsProduction(),
		Logger:        logger.With(slog.String("component", "http")),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server", slog.String("listen", cfg.ListenAddr))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	// Shutdown when context is cancelled.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		pruneLoginStates(gctx, states, logger)
		return nil
	})

	return g.Wait()
}

// pruneLoginStates removes abandoned login redirects until ctx is done.
func pruneLoginStates(ctx context.Context, states *state.State, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := states.PruneExpired(now)
			if err != nil {
				logger.Warn("pruning login states", slog.String("error", err.Error()))
				continue
			}

			if removed > 0 {
				logger.Debug("pruned login states", slog.Int("removed", removed))
			}
		}
	}
}
