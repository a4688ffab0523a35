package ghapp

import "time"

// Kind keys the token cache. The zero value is the app's self-signed JWT;
// any other value is the installation-scoped token for that installation.
type Kind struct {
	InstallationID int64
}

// KindJWT is the cache key for the app's self-signed JWT.
var KindJWT = Kind{}

// KindInstallation returns the cache key for an installation token.
func KindInstallation(id int64) Kind {
	return Kind{InstallationID: id}
}

// Token is a cached bearer token. The validity window is
// [CreatedAt, ExpiresAt): a token is usable only strictly before expiry.
type Token struct {
	Value     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Valid reports whether the token is usable at the given instant.
func (t Token) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}
