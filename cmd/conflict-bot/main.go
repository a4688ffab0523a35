package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"

	"github.com/translate-dev/observatory/internal/bot"
	"github.com/translate-dev/observatory/internal/ghapp"
)

type envConfig struct {
	Port        int `env:"PORT, default=8080"`
	MetricsPort int `env:"METRICS_PORT, default=2112"`

	AppID          int64  `env:"GITHUB_APP_ID, required"`
	PrivateKey     string `env:"GITHUB_PRIVATE_KEY"`
	PrivateKeyPath string `env:"GITHUB_PRIVATE_KEY_PATH"`

	// Comma-separated; multiple secrets allow webhook secret rotation.
	WebhookSecrets []string `env:"GITHUB_WEBHOOK_SECRET, required"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log := clog.FromContext(ctx)

	var env envConfig
	envconfig.MustProcess(ctx, &env)

	signer, err := loadSigner(env)
	if err != nil {
		log.Fatalf("failed to load signing key: %v", err)
	}

	transport := ghapp.NewTransport(nil, ghapp.DefaultUserAgent)
	store := ghapp.NewCredentialStore(env.AppID, signer, ghapp.Exchanger(transport, ""))
	registry := ghapp.NewInstallationRegistry(store)
	client := ghapp.NewClient(store, registry, ghapp.WithBaseTransport(transport))

	var secrets [][]byte
	for _, s := range env.WebhookSecrets {
		secrets = append(secrets, []byte(s))
	}
	server := bot.NewServer(client, registry, bot.ServerOptions{Secrets: secrets})

	// Populate the registry up front; webhook events keep it current.
	if err := server.DiscoverInstallations(ctx); err != nil {
		log.Fatalf("failed to discover installations: %v", err)
	}

	go serveMetrics(ctx, env.MetricsPort)

	mux := http.NewServeMux()
	mux.Handle("/webhook", server)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", env.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("failed to shut down server: %v", err)
		}
	}()

	log.Infof("listening on :%d", env.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
}

func loadSigner(env envConfig) (ghinstallation.Signer, error) {
	switch {
	case env.PrivateKey != "":
		return ghapp.NewSignerFromPEM([]byte(env.PrivateKey))
	case env.PrivateKeyPath != "":
		return ghapp.NewSignerFromFile(env.PrivateKeyPath)
	default:
		return nil, errors.New("one of GITHUB_PRIVATE_KEY or GITHUB_PRIVATE_KEY_PATH must be set")
	}
}

func serveMetrics(ctx context.Context, port int) {
	log := clog.FromContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("metrics server failed: %v", err)
	}
}
