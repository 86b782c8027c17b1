package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docketsync/docketsync/internal/credfile"
	"github.com/docketsync/docketsync/internal/docket"
	"github.com/docketsync/docketsync/internal/jobqueue"
	"github.com/docketsync/docketsync/internal/reconcile"
	"github.com/docketsync/docketsync/internal/upstream"
	"github.com/docketsync/docketsync/internal/webhook"
)

func main() {
	addr := os.Getenv("DOCKETSYNC_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	store, err := docket.BuildStoreFromDSN(os.Getenv("DOCKETSYNC_STORE_DSN"))
	if err != nil {
		log.Fatalf("failed to initialize store: %v", err)
	}
	defer store.Close()

	tokenProvider, secretProvider, credWatcher, err := buildCredentialsFromEnv()
	if err != nil {
		log.Fatalf("failed to load credentials: %v", err)
	}

	limiter, err := buildLimiterFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize rate limiter: %v", err)
	}

	client := upstream.NewClient(upstream.ClientOptions{
		BaseURL:       os.Getenv("DOCKETSYNC_UPSTREAM_URL"),
		TokenProvider: tokenProvider,
		UserAgent:     os.Getenv("DOCKETSYNC_USER_AGENT"),
		MaxRetries:    intEnv("DOCKETSYNC_MAX_RETRIES", 0),
		Backoff: upstream.NewBackoffPolicy(
			durationEnv("DOCKETSYNC_BACKOFF_BASE", 0),
			durationEnv("DOCKETSYNC_BACKOFF_MAX", 0),
		),
		Limiter: limiter,
		Breaker: upstream.NewCircuitBreaker(upstream.CircuitBreakerOptions{
			Service:          "docket-api",
			FailureThreshold: intEnv("DOCKETSYNC_CIRCUIT_THRESHOLD", 0),
			Cooldown:         durationEnv("DOCKETSYNC_CIRCUIT_COOLDOWN", 0),
			Logger:           log.Default(),
		}),
		MinInterval:       durationEnv("DOCKETSYNC_MIN_INTERVAL", 0),
		MaxLimiterWait:    durationEnv("DOCKETSYNC_MAX_LIMITER_WAIT", 0),
		LowQuotaThreshold: intEnv("DOCKETSYNC_LOW_QUOTA_THRESHOLD", 0),
		Logger:            log.Default(),
	})

	queue, err := jobqueue.NewQueue(jobqueue.QueueOptions{
		Store:  store,
		Logger: log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize queue: %v", err)
	}

	pool, err := jobqueue.NewPool(jobqueue.PoolOptions{
		Store:        store,
		Runners:      buildRunners(store, client),
		Workers:      intEnv("DOCKETSYNC_WORKERS", 0),
		PollInterval: durationEnv("DOCKETSYNC_POLL_INTERVAL", 0),
		JobTimeout:   durationEnv("DOCKETSYNC_JOB_TIMEOUT", 0),
		Retention:    durationEnv("DOCKETSYNC_RETENTION", 0),
		SweepEvery:   durationEnv("DOCKETSYNC_SWEEP_EVERY", 0),
		Logger:       log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize worker pool: %v", err)
	}
	queue.SetRunningCanceller(pool)

	scheme := webhook.NewSignatureScheme(secretProvider)
	if header := os.Getenv("DOCKETSYNC_SIGNATURE_HEADER"); header != "" {
		scheme.SignatureHeader = header
	}
	if header := os.Getenv("DOCKETSYNC_TIMESTAMP_HEADER"); header != "" {
		scheme.TimestampHeader = header
	}
	scheme.MaxSkew = durationEnv("DOCKETSYNC_WEBHOOK_MAX_SKEW", 5*time.Minute)

	receiver, err := webhook.NewReceiver(webhook.ReceiverOptions{
		Store:        store,
		Queue:        queue,
		Scheme:       scheme,
		AdminSecret:  os.Getenv("DOCKETSYNC_ADMIN_JWT_SECRET"),
		MaxBodyBytes: int64Env("DOCKETSYNC_MAX_BODY_BYTES", 0),
		Logger:       log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize webhook receiver: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{Addr: addr, Handler: receiver.Handler()}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return pool.Run(groupCtx)
	})
	if credWatcher != nil {
		group.Go(func() error {
			return credWatcher.Watch(groupCtx)
		})
	}
	group.Go(func() error {
		log.Printf("docketsync listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("docketsync failed: %v", err)
	}
}

func buildRunners(store docket.Store, client *upstream.Client) map[string]jobqueue.Runner {
	maxPages := intEnv("DOCKETSYNC_MAX_PAGES", 0)
	sources := []reconcile.Source{
		reconcile.NewJudgeSource(store, log.Default()),
		reconcile.NewCourtSource(store),
		reconcile.NewDecisionSource(store, client, log.Default()),
	}
	runners := make(map[string]jobqueue.Runner, len(sources))
	for _, source := range sources {
		source := source
		manager, err := reconcile.NewManager(reconcile.ManagerOptions{
			Client:   client,
			Source:   source,
			Logger:   log.Default(),
			MaxPages: maxPages,
		})
		if err != nil {
			log.Fatalf("failed to initialize %s manager: %v", source.EntityType(), err)
		}
		runners[source.EntityType()] = func(ctx context.Context, job docket.SyncJob) error {
			_, err := manager.Run(ctx, job.Options)
			return err
		}
	}
	return runners
}

// buildCredentialsFromEnv prefers a watched credentials file so rotation
// takes effect live; plain env vars remain the simple path.
func buildCredentialsFromEnv() (upstream.TokenProvider, webhook.SecretProvider, *credfile.Watcher, error) {
	if path := strings.TrimSpace(os.Getenv("DOCKETSYNC_CREDENTIALS_FILE")); path != "" {
		watcher, err := credfile.New(path, log.Default())
		if err != nil {
			return nil, nil, nil, err
		}
		tokens := func(context.Context) (string, error) { return watcher.APIToken(), nil }
		return tokens, watcher.WebhookSecret, watcher, nil
	}
	token := os.Getenv("DOCKETSYNC_API_TOKEN")
	secret := os.Getenv("DOCKETSYNC_WEBHOOK_SECRET")
	return upstream.StaticToken(token), webhook.StaticSecret(secret), nil, nil
}

func buildLimiterFromEnv() (upstream.RateLimiter, error) {
	limit := intEnv("DOCKETSYNC_RATE_LIMIT_MAX", 0)
	window := durationEnv("DOCKETSYNC_RATE_LIMIT_WINDOW", 0)
	dsn := strings.TrimSpace(os.Getenv("DOCKETSYNC_RATE_LIMIT_DSN"))
	if dsn != "" && !strings.HasPrefix(dsn, "memory://") {
		return upstream.NewPostgresRateLimiter(dsn, limit, window)
	}
	return upstream.NewSlidingWindowLimiter(limit, window), nil
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
