package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/repscreen/repscreen/internal/domain/model"
	"github.com/repscreen/repscreen/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.UsageStore = (*UsageRepo)(nil)

// subscription wraps a callback so an unsubscribe handle from a replaced
// subscription cannot remove its successor.
type subscription struct {
	fn func(count int)
}

// UsageRepo is the SQLite implementation of the UsageStore port. Credential
// values are encrypted with AES-256-GCM before write and decrypted after
// read; rows are addressed by the SHA-256 digest of the plaintext so the
// secret never indexes a table. Daily call counters are keyed by
// (digest, UTC day) and mutated only through a single atomic upsert, never a
// read-modify-write.
type UsageRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil disables credential registration.

	mu   sync.Mutex
	subs map[string]map[string]*subscription // digest -> subscriberID
}

// NewUsageRepo creates a UsageRepo. key must be 32 bytes for AES-256-GCM, or
// nil to disable credential storage (registration and listing will return
// ErrEncryptionKeyNotSet).
func NewUsageRepo(db *DB, key []byte) *UsageRepo {
	return &UsageRepo{
		db:   db,
		key:  key,
		subs: make(map[string]map[string]*subscription),
	}
}

// AddCredential registers a credential under its digest. Registering the same
// secret twice is a no-op; this subsystem never deletes credentials.
func (r *UsageRepo) AddCredential(ctx context.Context, cred model.Credential) error {
	encrypted, err := r.encrypt(cred.Value)
	if err != nil {
		return err
	}

	digest := model.CredentialDigest(cred.Value)
	const query = `INSERT OR IGNORE INTO credentials (digest, value, owner) VALUES (?, ?, ?)`
	if _, err := r.db.Writer.ExecContext(ctx, query, digest, encrypted, cred.Owner); err != nil {
		return fmt.Errorf("add credential %s: %w", shortDigest(digest), err)
	}
	return nil
}

// ListForOwner returns the owner's credential pool with decrypted values.
func (r *UsageRepo) ListForOwner(ctx context.Context, owner string) ([]model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	const query = `SELECT digest, value, owner, created_at FROM credentials WHERE owner = ? ORDER BY created_at, digest`
	rows, err := r.db.Reader.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		var cred model.Credential
		var encrypted, createdAt string
		if err := rows.Scan(&cred.Digest, &encrypted, &cred.Owner, &createdAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}

		cred.Value, err = r.decrypt(encrypted)
		if err != nil {
			return nil, fmt.Errorf("decrypt credential %s: %w", shortDigest(cred.Digest), err)
		}

		cred.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for credential %s: %w", shortDigest(cred.Digest), err)
		}

		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

// Usage returns the credential's call count for the current UTC day. A
// credential with no counter row yet has used nothing today.
func (r *UsageRepo) Usage(ctx context.Context, credential string) (int, error) {
	digest := model.CredentialDigest(credential)

	const query = `SELECT count FROM credential_usage WHERE credential_digest = ? AND day = ?`
	var count int
	err := r.db.Reader.QueryRowContext(ctx, query, digest, today()).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get usage for %s: %v", driven.ErrStoreUnavailable, shortDigest(digest), err)
	}

	return count, nil
}

// IncrementUsage adds one to the credential's counter for today in a single
// atomic upsert. Concurrent jobs (and processes) racing on the same
// credential cannot lose updates. Subscribers are notified with the new count
// after the write commits.
func (r *UsageRepo) IncrementUsage(ctx context.Context, credential string) error {
	digest := model.CredentialDigest(credential)

	const query = `INSERT INTO credential_usage (credential_digest, day, count) VALUES (?, ?, 1)
		ON CONFLICT (credential_digest, day) DO UPDATE SET count = count + 1
		RETURNING count`
	var count int
	if err := r.db.Writer.QueryRowContext(ctx, query, digest, today()).Scan(&count); err != nil {
		return fmt.Errorf("%w: increment usage for %s: %v", driven.ErrStoreUnavailable, shortDigest(digest), err)
	}

	r.notify(digest, count)
	return nil
}

// SubscribeUsage registers fn for the credential's counter changes. A second
// subscription under the same subscriberID replaces the first, so a logical
// subscriber never receives duplicate callbacks. The returned func removes
// the subscription; a stale handle from a replaced subscription is a no-op.
func (r *UsageRepo) SubscribeUsage(credential, subscriberID string, fn func(count int)) (func(), error) {
	digest := model.CredentialDigest(credential)
	sub := &subscription{fn: fn}

	r.mu.Lock()
	if r.subs[digest] == nil {
		r.subs[digest] = make(map[string]*subscription)
	}
	r.subs[digest][subscriberID] = sub
	r.mu.Unlock()

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.subs[digest][subscriberID] == sub {
			delete(r.subs[digest], subscriberID)
		}
	}
	return unsubscribe, nil
}

// notify invokes the credential's subscribers outside the registry lock.
func (r *UsageRepo) notify(digest string, count int) {
	r.mu.Lock()
	fns := make([]func(int), 0, len(r.subs[digest]))
	for _, sub := range r.subs[digest] {
		fns = append(fns, sub.fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(count)
	}
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded
// string containing the nonce (12 bytes) prepended to the ciphertext.
func (r *UsageRepo) encrypt(plaintext string) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *UsageRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}

// today returns the current UTC calendar day. Counters are keyed by day so
// "today's usage" is zero at each boundary; the vendor owns the true reset.
func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// shortDigest truncates a digest for log and error messages.
func shortDigest(digest string) string {
	if len(digest) > 8 {
		return digest[:8]
	}
	return digest
}

// parseTime handles both SQLite's CURRENT_TIMESTAMP format and RFC 3339.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
