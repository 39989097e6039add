package application

import (
	"context"
	"log/slog"

	"github.com/repscreen/repscreen/internal/domain/model"
	"github.com/repscreen/repscreen/internal/domain/port/driven"
)

// rotatorSubscriberID keys the rotator's usage subscription so re-subscribing
// after a swap tears down the previous watch instead of stacking callbacks.
const rotatorSubscriberID = "rotator"

// Rotator watches the active credential's usage and swaps a fresher
// credential from the owner's pool into the provider when usage nears the
// daily cap. Swaps never touch jobs already in flight.
type Rotator struct {
	usage    driven.UsageStore
	provider *CredentialProvider
	owner    string

	changeCh chan int
	rearmCh  chan string
	unsub    func()
}

// NewRotator creates a Rotator for the given owner's credential pool.
func NewRotator(usage driven.UsageStore, provider *CredentialProvider, owner string) *Rotator {
	return &Rotator{
		usage:    usage,
		provider: provider,
		owner:    owner,
		changeCh: make(chan int, 1),
		rearmCh:  make(chan string, 1),
	}
}

// Rearm points the usage watch at credential. Called when something other
// than the rotator swaps the provider, such as the first credential
// registered through the API after an empty-pool start; without it the
// rotator would have nothing to watch until a restart.
func (r *Rotator) Rearm(credential string) {
	select {
	case r.rearmCh <- credential:
	default:
		select {
		case <-r.rearmCh:
		default:
		}
		select {
		case r.rearmCh <- credential:
		default:
		}
	}
}

// Start subscribes to the active credential's usage and blocks until the
// context is canceled, rotating whenever the count crosses the rotation
// threshold. Rotation failures are surfaced to the operator through the log
// and retried on the next usage change.
func (r *Rotator) Start(ctx context.Context) {
	if r.provider.HasCredential() {
		if err := r.watch(r.provider.Active()); err != nil {
			slog.Error("usage subscription failed", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if r.unsub != nil {
				r.unsub()
			}
			slog.Info("credential rotator stopped")
			return
		case credential := <-r.rearmCh:
			if err := r.watch(credential); err != nil {
				slog.Error("usage subscription failed", "error", err)
			}
		case count := <-r.changeCh:
			if !NeedsRotation(count) {
				continue
			}
			if err := r.rotate(ctx); err != nil {
				slog.Error("credential rotation failed", "error", err)
			}
		}
	}
}

// watch replaces the current subscription with one on the given credential.
func (r *Rotator) watch(credential string) error {
	if r.unsub != nil {
		r.unsub()
	}

	unsub, err := r.usage.SubscribeUsage(credential, rotatorSubscriberID, func(count int) {
		// Latest-wins: a burst of increments collapses to one evaluation.
		select {
		case r.changeCh <- count:
		default:
			select {
			case <-r.changeCh:
			default:
			}
			select {
			case r.changeCh <- count:
			default:
			}
		}
	})
	if err != nil {
		return err
	}

	r.unsub = unsub
	return nil
}

// rotate re-evaluates the pool and swaps the provider's active credential. A
// credential whose usage cannot be read is treated as exhausted.
func (r *Rotator) rotate(ctx context.Context) error {
	pool, err := r.usage.ListForOwner(ctx, r.owner)
	if err != nil {
		return err
	}

	usage := make(map[string]int, len(pool))
	for _, cred := range pool {
		count, err := r.usage.Usage(ctx, cred.Value)
		if err != nil {
			count = HardDailyCap
		}
		usage[cred.Value] = count
	}

	current := r.provider.Active()
	next, err := SelectCredential(pool, usage)
	if err != nil {
		return err
	}

	if next != current {
		r.provider.Replace(next)
		slog.Info("active credential rotated",
			"from", model.CredentialDigest(current)[:8],
			"to", model.CredentialDigest(next)[:8],
			"usage", usage[next],
		)
	}

	return r.watch(next)
}
