package ghapp

import (
	"fmt"
	"os"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/golang-jwt/jwt/v4"
)

// NewSignerFromPEM creates an RS256 signer from a PEM encoded RSA private
// key, as issued by GitHub for the app.
func NewSignerFromPEM(pem []byte) (ghinstallation.Signer, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("could not parse private key: %w", err)
	}
	return ghinstallation.NewRSASigner(jwt.SigningMethodRS256, key), nil
}

// NewSignerFromFile creates an RS256 signer from a PEM key file on disk.
func NewSignerFromFile(path string) (ghinstallation.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open key file: %w", err)
	}
	return NewSignerFromPEM(pem)
}
