package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Credential is one account key for the external reputation vendor. The secret
// value itself identifies the credential; Digest is the SHA-256 of Value and is
// used as the storage key so the plaintext never indexes a table.
type Credential struct {
	Digest    string
	Value     string
	Owner     string
	CreatedAt time.Time
}

// CredentialDigest returns the hex-encoded SHA-256 digest of a credential's
// secret value.
func CredentialDigest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
