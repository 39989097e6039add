// Package driven defines the driven ports: interfaces the application core
// requires from infrastructure adapters.
package driven

import (
	"context"
	"errors"

	"github.com/repscreen/repscreen/internal/domain/model"
)

// ErrStoreUnavailable is returned when the usage backend cannot be reached.
// Callers must fail closed: treat the credential as exhausted rather than
// guess at remaining quota.
var ErrStoreUnavailable = errors.New("credential usage store unavailable")

// ErrEncryptionKeyNotSet is returned by credential operations when
// REPSCREEN_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set REPSCREEN_SECRET_KEY")

// UsageStore is the driven port for credential persistence and the shared
// per-credential daily call counters. The counters are shared mutable state
// across concurrent jobs (and other processes holding the same credential),
// so all mutation goes through IncrementUsage, which the adapter must make
// atomic at the storage layer. Application code never reads-then-writes a
// counter.
type UsageStore interface {
	// AddCredential registers a credential. Registering the same secret twice
	// is a no-op; credentials are never deleted by this subsystem.
	AddCredential(ctx context.Context, cred model.Credential) error

	// ListForOwner returns the credential pool for an owner, secret values
	// decrypted.
	ListForOwner(ctx context.Context, owner string) ([]model.Credential, error)

	// Usage returns the number of lookups the credential has performed today
	// (UTC). Errors wrap ErrStoreUnavailable.
	Usage(ctx context.Context, credential string) (int, error)

	// IncrementUsage atomically adds one to the credential's counter for
	// today. Safe to call from concurrent jobs without lost updates.
	IncrementUsage(ctx context.Context, credential string) error

	// SubscribeUsage registers fn to be invoked with the new count whenever
	// the credential's counter changes. Subscribing again under the same
	// subscriberID replaces the previous subscription, so a logical
	// subscriber never receives duplicate callbacks. The returned func
	// removes the subscription.
	SubscribeUsage(credential, subscriberID string, fn func(count int)) (func(), error)
}
