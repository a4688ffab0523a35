package ghapp

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/chainguard-dev/clog"
	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
)

const (
	// App JWTs are issued a minute in the past to tolerate clock skew
	// between us and GitHub, and live for a few minutes only.
	jwtBackdate = time.Minute
	jwtLifetime = 7 * time.Minute

	// Installation tokens are treated as expired this long before GitHub
	// says so, to avoid using a token that dies mid-request.
	installationExpiryMargin = 5 * time.Minute

	exchangeTimeout = time.Minute
)

// ExchangeFunc swaps an app JWT for an installation-scoped token at
// POST /app/installations/{id}/access_tokens.
type ExchangeFunc func(ctx context.Context, installationID int64, appJWT string) (Token, error)

// CredentialStore owns the app's signing key and the cache of short-lived
// bearer tokens: one self-signed JWT plus one token per installation. It is
// the only writer of the cache and is safe for concurrent use.
type CredentialStore struct {
	appID    int64
	signer   ghinstallation.Signer
	exchange ExchangeFunc
	clock    clockwork.Clock

	mu     sync.RWMutex
	tokens map[Kind]Token
}

// StoreOption configures a CredentialStore.
type StoreOption func(*CredentialStore)

// WithClock replaces the wall clock, for tests.
func WithClock(c clockwork.Clock) StoreOption {
	return func(s *CredentialStore) { s.clock = c }
}

// NewCredentialStore creates a store signing JWTs as the given app and
// exchanging them for installation tokens via exchange.
func NewCredentialStore(appID int64, signer ghinstallation.Signer, exchange ExchangeFunc, opts ...StoreOption) *CredentialStore {
	s := &CredentialStore{
		appID:    appID,
		signer:   signer,
		exchange: exchange,
		clock:    clockwork.NewRealClock(),
		tokens:   map[Kind]Token{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppJWT returns a valid self-signed app JWT, minting a fresh one when the
// cached token has expired. Signing failures are configuration errors and
// wrap ErrSigning.
func (s *CredentialStore) AppJWT() (Token, error) {
	s.mu.RLock()
	tok, ok := s.tokens[KindJWT]
	s.mu.RUnlock()
	if ok && tok.Valid(s.clock.Now()) {
		return tok, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A concurrent miss may have minted while we waited for the lock.
	if tok, ok := s.tokens[KindJWT]; ok && tok.Valid(s.clock.Now()) {
		return tok, nil
	}

	now := s.clock.Now()
	createdAt := now.Add(-jwtBackdate)
	expiresAt := now.Add(jwtLifetime)
	signed, err := s.signer.Sign(jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(createdAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    strconv.FormatInt(s.appID, 10),
	})
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	tok = Token{Value: signed, CreatedAt: createdAt, ExpiresAt: expiresAt}
	s.tokens[KindJWT] = tok
	return tok, nil
}

// InstallationToken returns a valid token scoped to the given installation,
// exchanging a fresh app JWT for one when the cached token has expired.
// Exchange failures are transient and surface as *AuthError.
func (s *CredentialStore) InstallationToken(ctx context.Context, installationID int64) (Token, error) {
	kind := KindInstallation(installationID)

	s.mu.RLock()
	tok, ok := s.tokens[kind]
	s.mu.RUnlock()
	if ok && tok.Valid(s.clock.Now()) {
		return tok, nil
	}

	appJWT, err := s.AppJWT()
	if err != nil {
		return Token{}, err
	}

	// The exchange is a network round trip; keep it outside the lock so
	// one slow installation does not serialize the others.
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	minted, err := s.exchange(ctx, installationID, appJWT.Value)
	if err != nil {
		return Token{}, &AuthError{InstallationID: installationID, Err: err}
	}
	minted.ExpiresAt = minted.ExpiresAt.Add(-installationExpiryMargin)
	if minted.CreatedAt.IsZero() {
		minted.CreatedAt = s.clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A concurrent mint may have inserted a fresher token; keep whichever
	// expires later.
	if cur, ok := s.tokens[kind]; ok && cur.Valid(s.clock.Now()) && cur.ExpiresAt.After(minted.ExpiresAt) {
		return cur, nil
	}
	s.tokens[kind] = minted
	return minted, nil
}

// Evict drops an installation's cached token. Called when an installation is
// removed so a revoked tenant cannot reuse a stale token.
func (s *CredentialStore) Evict(installationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, KindInstallation(installationID))
}

// TokenSource adapts the store to oauth2.TokenSource for one installation.
// The background context keeps cached sources usable across requests.
func (s *CredentialStore) TokenSource(installationID int64) oauth2.TokenSource {
	return &installationTokenSource{store: s, installationID: installationID}
}

type installationTokenSource struct {
	store          *CredentialStore
	installationID int64
}

func (ts *installationTokenSource) Token() (*oauth2.Token, error) {
	ctx := context.Background()
	tok, err := ts.store.InstallationToken(ctx, ts.installationID)
	if err != nil {
		clog.FromContext(ctx).Errorf("failed to obtain installation token for %d: %v", ts.installationID, err)
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: tok.Value,
		TokenType:   "Bearer",
		Expiry:      tok.ExpiresAt,
	}, nil
}
