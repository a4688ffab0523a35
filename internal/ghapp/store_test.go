package ghapp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"
)

func testSigner(t *testing.T) ghinstallation.Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return ghinstallation.NewRSASigner(jwt.SigningMethodRS256, key)
}

// countingExchange mints tokens valid for an hour and counts calls.
func countingExchange(clock clockwork.Clock, calls *int) ExchangeFunc {
	return func(_ context.Context, _ int64, _ string) (Token, error) {
		*calls++
		return Token{
			Value:     fmt.Sprintf("token-%d", *calls),
			ExpiresAt: clock.Now().Add(time.Hour),
		}, nil
	}
}

func TestAppJWTCached(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewCredentialStore(1234, testSigner(t), nil, WithClock(clock))

	first, err := s.AppJWT()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := s.AppJWT()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Value != second.Value {
		t.Errorf("cached JWT: got a different token within the validity window")
	}

	// The window is [now-1m, now+7m); past expiry a new token is minted.
	clock.Advance(7*time.Minute + time.Second)
	third, err := s.AppJWT()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.Value == first.Value {
		t.Errorf("expired JWT was reused")
	}
}

func TestAppJWTSigningError(t *testing.T) {
	s := NewCredentialStore(1234, failingSigner{}, nil)

	if _, err := s.AppJWT(); !errors.Is(err, ErrSigning) {
		t.Errorf("error: got = %v, wanted ErrSigning", err)
	}
}

type failingSigner struct{}

func (failingSigner) Sign(jwt.Claims) (string, error) {
	return "", errors.New("bad key material")
}

func TestInstallationTokenCached(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	calls := 0
	s := NewCredentialStore(1234, testSigner(t), countingExchange(clock, &calls), WithClock(clock))

	first, err := s.InstallationToken(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := s.InstallationToken(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Value != second.Value {
		t.Errorf("token: got = %q, wanted = %q (cached)", second.Value, first.Value)
	}
	if calls != 1 {
		t.Errorf("exchange calls: got = %d, wanted = 1", calls)
	}

	// A different installation gets its own token.
	other, err := s.InstallationToken(ctx, 43)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other.Value == first.Value {
		t.Errorf("installations share a token: %q", other.Value)
	}
	if calls != 2 {
		t.Errorf("exchange calls: got = %d, wanted = 2", calls)
	}
}

func TestInstallationTokenExpiryMargin(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	calls := 0
	s := NewCredentialStore(1234, testSigner(t), countingExchange(clock, &calls), WithClock(clock))

	if _, err := s.InstallationToken(ctx, 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The exchange issues an hour-long token; the store treats it as
	// expired five minutes early.
	clock.Advance(55*time.Minute - time.Second)
	if _, err := s.InstallationToken(ctx, 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("exchange calls before margin: got = %d, wanted = 1", calls)
	}

	clock.Advance(2 * time.Second)
	if _, err := s.InstallationToken(ctx, 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("exchange calls after margin: got = %d, wanted = 2", calls)
	}
}

func TestInstallationTokenEvicted(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	calls := 0
	s := NewCredentialStore(1234, testSigner(t), countingExchange(clock, &calls), WithClock(clock))

	first, err := s.InstallationToken(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Evict(42)

	second, err := s.InstallationToken(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Value == first.Value {
		t.Errorf("evicted token was reused: %q", second.Value)
	}
	if calls != 2 {
		t.Errorf("exchange calls: got = %d, wanted = 2", calls)
	}
}

func TestInstallationTokenExchangeError(t *testing.T) {
	ctx := context.Background()
	wantErr := errors.New("boom")
	s := NewCredentialStore(1234, testSigner(t), func(context.Context, int64, string) (Token, error) {
		return Token{}, wantErr
	})

	_, err := s.InstallationToken(ctx, 42)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error: got = %v, wanted *AuthError", err)
	}
	if authErr.InstallationID != 42 {
		t.Errorf("InstallationID: got = %d, wanted = 42", authErr.InstallationID)
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("cause: got = %v, wanted = %v", err, wantErr)
	}
}

func TestTokenValidityWindow(t *testing.T) {
	now := time.Now()
	tok := Token{Value: "t", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}

	if !tok.Valid(now) {
		t.Error("Valid(createdAt): got = false, wanted = true")
	}
	if tok.Valid(now.Add(time.Minute)) {
		t.Error("Valid(expiresAt): got = true, wanted = false (window is half-open)")
	}
	if (Token{}).Valid(now) {
		t.Error("Valid(zero token): got = true, wanted = false")
	}
}
