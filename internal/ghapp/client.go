package ghapp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"

	"github.com/translate-dev/observatory/internal/conflict"
	"github.com/translate-dev/observatory/internal/diff"
)

const (
	// DefaultUserAgent identifies the bot on every outbound call.
	DefaultUserAgent = "observatory"

	// Diff links are served by github.com, not the API subdomain.
	defaultDiffBase = "https://github.com"

	// Safety cap on pagination; listing stops earlier at the first empty
	// page.
	maxPages = 100
)

// Client performs the bot's GitHub calls, selecting a bearer token per
// repository through the installation registry and credential store.
type Client struct {
	store     *CredentialStore
	registry  *InstallationRegistry
	transport http.RoundTripper
	apiBase   string
	diffBase  string

	app  *github.Client
	http *http.Client

	mu      sync.RWMutex
	clients map[int64]*github.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIBase points the client at a different API origin, for tests.
func WithAPIBase(base string) ClientOption {
	return func(c *Client) { c.apiBase = strings.TrimSuffix(base, "/") + "/" }
}

// WithDiffBase points the client at a different diff origin, for tests.
func WithDiffBase(base string) ClientOption {
	return func(c *Client) { c.diffBase = strings.TrimSuffix(base, "/") }
}

// WithBaseTransport replaces the underlying HTTP transport.
func WithBaseTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) { c.transport = rt }
}

// NewClient creates a client authenticating via store and resolving
// repositories to installations via registry.
func NewClient(store *CredentialStore, registry *InstallationRegistry, opts ...ClientOption) *Client {
	c := &Client{
		store:    store,
		registry: registry,
		diffBase: defaultDiffBase,
		clients:  map[int64]*github.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = NewTransport(nil, DefaultUserAgent)
	}

	c.http = &http.Client{Transport: c.transport}
	c.app = c.newGitHub(&http.Client{Transport: &appJWTTransport{base: c.transport, store: store}})
	return c
}

func (c *Client) newGitHub(hc *http.Client) *github.Client {
	gh := github.NewClient(hc)
	if c.apiBase != "" {
		if u, err := url.Parse(c.apiBase); err == nil {
			gh.BaseURL = u
		}
	}
	return gh
}

// Exchanger returns the ExchangeFunc backing a CredentialStore with the
// real token issuance endpoint.
func Exchanger(transport http.RoundTripper, apiBase string) ExchangeFunc {
	return func(ctx context.Context, installationID int64, appJWT string) (Token, error) {
		gh := github.NewClient(&http.Client{Transport: &bearerTransport{base: transport, token: appJWT}})
		if apiBase != "" {
			if u, err := url.Parse(strings.TrimSuffix(apiBase, "/") + "/"); err == nil {
				gh.BaseURL = u
			}
		}
		tok, _, err := gh.Apps.CreateInstallationToken(ctx, installationID, nil)
		if err != nil {
			return Token{}, fmt.Errorf("creating installation token: %w", err)
		}
		return Token{Value: tok.GetToken(), ExpiresAt: tok.GetExpiresAt().Time}, nil
	}
}

// installationClient returns a cached GitHub client authenticating as the
// given installation, creating one on first use.
func (c *Client) installationClient(installationID int64) *github.Client {
	c.mu.RLock()
	gh, ok := c.clients[installationID]
	c.mu.RUnlock()
	if ok {
		return gh
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gh, ok := c.clients[installationID]; ok {
		return gh
	}

	gh = c.newGitHub(&http.Client{Transport: &oauth2.Transport{
		Source: c.store.TokenSource(installationID),
		Base:   c.transport,
	}})
	c.clients[installationID] = gh
	return gh
}

// clientForRepo resolves which installation owns the repository and returns
// a client authenticating as it.
func (c *Client) clientForRepo(fullRepoName string) (*github.Client, int64, error) {
	id, ok := c.registry.ResolveTenant(fullRepoName)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNoCredentials, fullRepoName)
	}
	return c.installationClient(id), id, nil
}

// Installations lists the app's installations using the self-signed JWT.
func (c *Client) Installations(ctx context.Context) ([]Installation, error) {
	var out []Installation
	opts := &github.ListOptions{PerPage: 100}
	for page := 1; page < maxPages; page++ {
		opts.Page = page
		insts, _, err := c.app.Apps.ListInstallations(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("listing installations: %w", err)
		}
		if len(insts) == 0 {
			break
		}
		for _, inst := range insts {
			out = append(out, Installation{
				ID:      inst.GetID(),
				AppID:   inst.GetAppID(),
				Account: inst.GetAccount().GetLogin(),
			})
		}
	}
	return out, nil
}

// InstallationRepos lists the repositories visible to an installation's
// token.
func (c *Client) InstallationRepos(ctx context.Context, installationID int64) ([]Repository, error) {
	gh := c.installationClient(installationID)

	var out []Repository
	opts := &github.ListOptions{PerPage: 100}
	for page := 1; page < maxPages; page++ {
		opts.Page = page
		repos, _, err := gh.Apps.ListRepos(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("listing repositories for installation %d: %w", installationID, err)
		}
		if len(repos.Repositories) == 0 {
			break
		}
		for _, r := range repos.Repositories {
			out = append(out, Repository{
				ID:       r.GetID(),
				Name:     r.GetName(),
				FullName: r.GetFullName(),
			})
		}
	}
	return out, nil
}

// ListOpenPulls pages through a repository's open pull requests, oldest
// first, stopping at the first empty page.
func (c *Client) ListOpenPulls(ctx context.Context, fullRepoName string) ([]conflict.PullRequest, error) {
	gh, _, err := c.clientForRepo(fullRepoName)
	if err != nil {
		return nil, err
	}
	owner, repo, err := splitFullName(fullRepoName)
	if err != nil {
		return nil, err
	}

	var out []conflict.PullRequest
	opts := &github.PullRequestListOptions{
		State:       "open",
		Sort:        "created",
		Direction:   "asc",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for page := 1; page < maxPages; page++ {
		opts.Page = page
		pulls, _, err := gh.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing pulls for %s: %w", fullRepoName, err)
		}
		if len(pulls) == 0 {
			break
		}
		for _, pr := range pulls {
			out = append(out, conflict.PullRequest{
				Number:    pr.GetNumber(),
				State:     pr.GetState(),
				Title:     pr.GetTitle(),
				Author:    pr.GetUser().GetLogin(),
				HTMLURL:   pr.GetHTMLURL(),
				CreatedAt: pr.GetCreatedAt().Time,
				UpdatedAt: pr.GetUpdatedAt().Time,
			})
		}
	}
	return out, nil
}

// PullDiff fetches and parses a pull request's unified diff from the
// non-API origin.
func (c *Client) PullDiff(ctx context.Context, fullRepoName string, number int) ([]diff.FileChange, error) {
	id, ok := c.registry.ResolveTenant(fullRepoName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCredentials, fullRepoName)
	}
	tok, err := c.store.InstallationToken(ctx, id)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/%s/pull/%d.diff", c.diffBase, fullRepoName, number)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching diff for %s#%d: %w", fullRepoName, number, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteError{StatusCode: resp.StatusCode, URL: u}
	}

	changes, err := diff.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing diff for %s#%d: %w", fullRepoName, number, err)
	}
	return changes, nil
}

// PostComment posts a notification on a pull request, skipping the post when
// a comment carrying the same marker already exists. Webhook redeliveries
// therefore cannot double-post.
func (c *Client) PostComment(ctx context.Context, fullRepoName string, number int, marker, body string) error {
	gh, _, err := c.clientForRepo(fullRepoName)
	if err != nil {
		return err
	}
	owner, repo, err := splitFullName(fullRepoName)
	if err != nil {
		return err
	}

	tag := fmt.Sprintf("<!-- observatory: %s -->", marker)
	comments, _, err := gh.Issues.ListComments(ctx, owner, repo, number, &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return fmt.Errorf("listing comments on %s#%d: %w", fullRepoName, number, err)
	}
	for _, com := range comments {
		if strings.Contains(com.GetBody(), tag) {
			clog.FromContext(ctx).Debugf("comment %s already present on %s#%d, skipping", marker, fullRepoName, number)
			return nil
		}
	}

	content := tag + "\n\n" + body
	if _, _, err := gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: &content,
	}); err != nil {
		return fmt.Errorf("creating comment on %s#%d: %w", fullRepoName, number, err)
	}
	return nil
}

func splitFullName(fullRepoName string) (string, string, error) {
	owner, repo, ok := strings.Cut(fullRepoName, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("invalid repository name %q", fullRepoName)
	}
	return owner, repo, nil
}

// appJWTTransport authenticates requests with a fresh app JWT from the
// credential store.
type appJWTTransport struct {
	base  http.RoundTripper
	store *CredentialStore
}

func (t *appJWTTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.store.AppJWT()
	if err != nil {
		return nil, err
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	return t.base.RoundTrip(req)
}

// bearerTransport authenticates requests with a fixed token.
type bearerTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	if t.base == nil {
		return http.DefaultTransport.RoundTrip(req)
	}
	return t.base.RoundTrip(req)
}
