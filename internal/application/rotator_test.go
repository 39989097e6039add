package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repscreen/repscreen/internal/application"
	"github.com/repscreen/repscreen/internal/domain/model"
)

// notify invokes the most recently registered usage subscription, the way the
// store does after an increment.
func (s *stubUsageStore) notify(count int) {
	s.mu.Lock()
	fn := s.lastFn
	s.mu.Unlock()
	if fn != nil {
		fn(count)
	}
}

func (s *stubUsageStore) subscribedCredentials() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.subscribed))
	copy(out, s.subscribed)
	return out
}

func testCred(value string) model.Credential {
	return model.Credential{
		Digest:    model.CredentialDigest(value),
		Value:     value,
		Owner:     "default",
		CreatedAt: time.Now(),
	}
}

func startRotator(t *testing.T, usage *stubUsageStore, provider *application.CredentialProvider) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rotator := application.NewRotator(usage, provider, "default")
	go rotator.Start(ctx)

	require.Eventually(t, func() bool {
		return len(usage.subscribedCredentials()) > 0
	}, time.Second, time.Millisecond, "rotator never subscribed")
}

func TestRotator_SwapsToFresherCredentialAtThreshold(t *testing.T) {
	usage := newStubUsageStore()
	usage.pool = []model.Credential{testCred("vt-key-old"), testCred("vt-key-fresh")}
	usage.base["vt-key-old"] = application.RotateThreshold
	usage.base["vt-key-fresh"] = 120

	provider := application.NewCredentialProvider("vt-key-old")
	startRotator(t, usage, provider)

	usage.notify(application.RotateThreshold)

	require.Eventually(t, func() bool {
		return provider.Active() == "vt-key-fresh"
	}, time.Second, time.Millisecond, "provider was not swapped")

	// The watch follows the swap so the next rotation sees the new credential.
	assert.Eventually(t, func() bool {
		subs := usage.subscribedCredentials()
		return subs[len(subs)-1] == "vt-key-fresh"
	}, time.Second, time.Millisecond)
}

func TestRotator_RearmWatchesFirstRegisteredCredential(t *testing.T) {
	// A process that starts with an empty pool has no usage watch. When the
	// first credential arrives later, Rearm must point the rotator at it so
	// rotation works without a restart.
	usage := newStubUsageStore()
	usage.pool = []model.Credential{testCred("vt-key-old"), testCred("vt-key-fresh")}
	usage.base["vt-key-old"] = application.RotateThreshold
	usage.base["vt-key-fresh"] = 120

	provider := application.NewCredentialProvider("")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rotator := application.NewRotator(usage, provider, "default")
	go rotator.Start(ctx)

	provider.Replace("vt-key-old")
	rotator.Rearm("vt-key-old")

	require.Eventually(t, func() bool {
		subs := usage.subscribedCredentials()
		return len(subs) > 0 && subs[len(subs)-1] == "vt-key-old"
	}, time.Second, time.Millisecond, "rotator never armed on the registered credential")

	usage.notify(application.RotateThreshold)

	require.Eventually(t, func() bool {
		return provider.Active() == "vt-key-fresh"
	}, time.Second, time.Millisecond, "provider was not swapped")
}

func TestRotator_IgnoresUsageBelowThreshold(t *testing.T) {
	usage := newStubUsageStore()
	usage.pool = []model.Credential{testCred("vt-key-old"), testCred("vt-key-fresh")}
	usage.base["vt-key-old"] = 100
	usage.base["vt-key-fresh"] = 0

	provider := application.NewCredentialProvider("vt-key-old")
	startRotator(t, usage, provider)

	usage.notify(100)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "vt-key-old", provider.Active())
}

func TestRotator_KeepsCurrentWhenPoolIsExhausted(t *testing.T) {
	usage := newStubUsageStore()
	usage.pool = []model.Credential{testCred("vt-key-old"), testCred("vt-key-tired")}
	usage.base["vt-key-old"] = application.RotateThreshold
	usage.base["vt-key-tired"] = application.RotateThreshold + 5

	provider := application.NewCredentialProvider("vt-key-old")
	startRotator(t, usage, provider)

	usage.notify(application.RotateThreshold)

	// No candidate below the threshold; the current credential stays active
	// until the operator provisions a new one.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "vt-key-old", provider.Active())
}
