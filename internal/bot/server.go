// Package bot serves the webhook endpoint and turns pull request activity
// into conflict notifications.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"

	"github.com/translate-dev/observatory/internal/conflict"
	"github.com/translate-dev/observatory/internal/diff"
	"github.com/translate-dev/observatory/internal/ghapp"
)

// GitHub is the remote surface the bot drives. *ghapp.Client implements it.
type GitHub interface {
	Installations(ctx context.Context) ([]ghapp.Installation, error)
	InstallationRepos(ctx context.Context, installationID int64) ([]ghapp.Repository, error)
	ListOpenPulls(ctx context.Context, fullRepoName string) ([]conflict.PullRequest, error)
	PullDiff(ctx context.Context, fullRepoName string, number int) ([]diff.FileChange, error)
	PostComment(ctx context.Context, fullRepoName string, number int, marker, body string) error
}

// Server handles GitHub webhook deliveries.
type Server struct {
	gh       GitHub
	registry *ghapp.InstallationRegistry
	secrets  [][]byte
}

// ServerOptions configures a Server.
type ServerOptions struct {
	// Secrets are the accepted webhook HMAC secrets. Multiple secrets
	// allow zero-downtime rotation.
	Secrets [][]byte
}

func NewServer(gh GitHub, registry *ghapp.InstallationRegistry, opts ServerOptions) *Server {
	return &Server{
		gh:       gh,
		registry: registry,
		secrets:  opts.Secrets,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := clog.FromContext(ctx)

	// https://docs.github.com/en/webhooks/using-webhooks/validating-webhook-deliveries
	payload, err := validatePayload(r, s.secrets)
	if err != nil {
		log.Errorf("failed to verify webhook: %v", err)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprintf(w, "failed to verify webhook: %v", err)
		return
	}

	t := github.WebHookType(r)
	if t == "" {
		log.Errorf("missing X-GitHub-Event header")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	log = log.With("event-type", t, "delivery", github.DeliveryID(r))
	ctx = clog.WithLogger(ctx, log)

	switch t {
	case "pull_request":
		s.handlePullRequest(ctx, w, payload)
	case "installation", "installation_repositories":
		s.handleInstallation(ctx, w, payload)
	case "ping":
		webhookEvents.WithLabelValues(t, "").Inc()
		w.WriteHeader(http.StatusOK)
	default:
		log.Debugf("ignoring event")
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handlePullRequest(ctx context.Context, w http.ResponseWriter, payload []byte) {
	log := clog.FromContext(ctx)

	var ev pullRequestEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Errorf("failed to unmarshal pull request event: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	webhookEvents.WithLabelValues("pull_request", ev.Action).Inc()

	switch ev.Action {
	case "opened", "reopened", "synchronize", "ready_for_review":
	default:
		log.Debugf("ignoring pull_request action %q", ev.Action)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	repo := ev.Repository.FullName
	log = log.With("repo", repo, "pull", ev.Number)

	// A delivery can precede installation discovery, e.g. right after a
	// restart. Register the event's installation on the fly.
	if _, ok := s.registry.ResolveTenant(repo); !ok && ev.Installation.ID != 0 {
		if repos, err := s.gh.InstallationRepos(ctx, ev.Installation.ID); err != nil {
			log.Errorf("failed to register installation %d: %v", ev.Installation.ID, err)
		} else {
			s.registry.Register(ghapp.Installation{ID: ev.Installation.ID}, repos)
		}
	}

	if err := s.ScanPull(ctx, repo, ev.Number); err != nil {
		log.Errorf("conflict scan failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInstallation(ctx context.Context, w http.ResponseWriter, payload []byte) {
	log := clog.FromContext(ctx)

	var ev installationEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Errorf("failed to unmarshal installation event: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	webhookEvents.WithLabelValues("installation", ev.Action).Inc()
	log = log.With("installation", ev.Installation.ID, "action", ev.Action)

	switch ev.Action {
	case "deleted", "suspend":
		s.registry.Remove(ev.Installation.ID)
		log.Infof("removed installation")

	default:
		inst := ghapp.Installation{
			ID:      ev.Installation.ID,
			AppID:   ev.Installation.AppID,
			Account: ev.Installation.Account.Login,
		}
		repos := make([]ghapp.Repository, 0, len(ev.Repositories))
		for _, r := range ev.Repositories {
			repos = append(repos, ghapp.Repository{ID: r.ID, Name: r.Name, FullName: r.FullName})
		}
		// The event's repository list can be partial; the API view is
		// authoritative when reachable.
		if fetched, err := s.gh.InstallationRepos(ctx, inst.ID); err != nil {
			log.Warnf("failed to list repositories, registering %d from the event: %v", len(repos), err)
		} else {
			repos = fetched
		}
		s.registry.Register(inst, repos)
		log.Infof("registered installation with %d repositories", len(repos))
	}
	w.WriteHeader(http.StatusOK)
}

// DiscoverInstallations registers every current installation of the app and
// its repositories. Called at startup; webhook events keep the registry
// current afterwards.
func (s *Server) DiscoverInstallations(ctx context.Context) error {
	log := clog.FromContext(ctx)

	insts, err := s.gh.Installations(ctx)
	if err != nil {
		return fmt.Errorf("discovering installations: %w", err)
	}
	for _, inst := range insts {
		repos, err := s.gh.InstallationRepos(ctx, inst.ID)
		if err != nil {
			log.Errorf("failed to list repositories for installation %d: %v", inst.ID, err)
			continue
		}
		s.registry.Register(inst, repos)
		log.Infof("registered installation %d (%s) with %d repositories", inst.ID, inst.Account, len(repos))
	}
	return nil
}

// validatePayload checks the delivery HMAC against each accepted secret.
func validatePayload(r *http.Request, secrets [][]byte) ([]byte, error) {
	signature := r.Header.Get(github.SHA256SignatureHeader)
	if signature == "" {
		signature = r.Header.Get(github.SHA1SignatureHeader)
	}
	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	for _, secret := range secrets {
		payload, err := github.ValidatePayloadFromBody(contentType, bytes.NewBuffer(body), signature, secret)
		if err == nil {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("failed to validate payload")
}
