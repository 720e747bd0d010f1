// Package oauth provides OAuth2 token sources and encrypted token storage for
// chat adapters.
package oauth

import (
	"context"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
	"golang.org/x/oauth2"
)

// TokenSource is a source of OAuth2 access tokens. Its methods are safe to
// call concurrently.
type TokenSource interface {
	// Token retrieves a token value. This may trigger OAuth2 flows including
	// token refresh or device code flow.
	// The result is always non-nil if the error is nil.
	Token(ctx context.Context) (*oauth2.Token, error)
	// Refresh forces a refresh of the token if its current value is identical
	// to old in the sense of [Equal]. This may trigger OAuth2 flows.
	// The result is the refreshed token.
	// The requirement to provide the old token allows Refresh to be called
	// concurrently without flooding refresh requests.
	Refresh(ctx context.Context, old *oauth2.Token) (*oauth2.Token, error)
}

// Equal compares two OAuth2 tokens by access token, refresh token, token type,
// and expiry.
func Equal(a, b *oauth2.Token) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return a.AccessToken == b.AccessToken &&
		a.TokenType == b.TokenType &&
		a.RefreshToken == b.RefreshToken &&
		a.Expiry.Equal(b.Expiry)
}

type static struct {
	tok *oauth2.Token
}

// Static creates a TokenSource which always returns the same access token.
// Refreshing it has no effect.
func Static(access string) TokenSource {
	return static{tok: &oauth2.Token{AccessToken: access, TokenType: "bearer"}}
}

func (s static) Token(ctx context.Context) (*oauth2.Token, error) {
	return s.tok, nil
}

func (s static) Refresh(ctx context.Context, old *oauth2.Token) (*oauth2.Token, error) {
	return s.tok, nil
}

// DeriveKey derives a token file key from a secret for a given domain, e.g.
// the name of the adapter using it.
func DeriveKey(secret []byte, domain string) [KeySize]byte {
	var k [KeySize]byte
	kr := hkdf.Expand(sha3.New224, secret, []byte("oauth2."+domain))
	if _, err := io.ReadFull(kr, k[:]); err != nil {
		panic(err)
	}
	return k
}
