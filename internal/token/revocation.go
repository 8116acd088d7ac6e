package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RevocationStore is the denylist of tokens invalidated before their natural
// expiry. Entries self-expire with the token they block, so the list never
// outgrows the set of live tokens. Nothing removes an entry early.
//
// Revocation checks always hit the store directly, never a cache: a revoked
// token must be rejected immediately, not after a cache round trip.
type RevocationStore interface {
	Revoke(ctx context.Context, rawToken string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, rawToken string) (bool, error)
}

// hashToken derives the denylist key. Storing a digest keeps raw credentials
// out of the store.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
