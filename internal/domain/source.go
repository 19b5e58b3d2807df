package domain

import (
	"context"
	"time"
)

// Credential is the authenticated state for one source. Which fields are set
// depends on the source's scheme: Kalshi uses a bearer Token (or an RSA key
// id when signing), Polymarket uses CLOB L2 API credentials bound to a
// wallet Address. A zero Credential means the source needs no auth.
type Credential struct {
	Market     Market
	Token      string
	APIKey     string
	Secret     string
	Passphrase string
	Address    string
	IssuedAt   time.Time
}

// IsZero reports whether the credential carries no auth material.
func (c Credential) IsZero() bool {
	return c.Token == "" && c.APIKey == "" && c.Secret == ""
}

// String redacts secrets so credentials can be logged safely.
func (c Credential) String() string {
	if c.IsZero() {
		return "Credential{" + string(c.Market) + ", none}"
	}
	return "Credential{" + string(c.Market) + ", ***}"
}

// SourceAdapter wraps one external market API.
//
// Authenticate returns the cached credential or obtains a new one; it fails
// with ErrUnauthorized. Invalidate drops the cached credential so the next
// Authenticate logs in again. Discover returns every active contract the
// source lists, skipping malformed entries. FetchPrice returns nil with a nil
// error when the id cannot be resolved.
type SourceAdapter interface {
	Market() Market
	RequiresAuth() bool
	Authenticate(ctx context.Context) (Credential, error)
	Invalidate()
	Discover(ctx context.Context, cred Credential) ([]RawContract, error)
	FetchPrice(ctx context.Context, cred Credential, externalID string) (*float64, error)
}
