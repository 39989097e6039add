package sqlite

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repscreen/repscreen/internal/domain/model"
	"github.com/repscreen/repscreen/internal/domain/port/driven"
)

func addCredential(t *testing.T, repo *UsageRepo, value, owner string) {
	t.Helper()
	err := repo.AddCredential(context.Background(), model.Credential{Value: value, Owner: owner})
	require.NoError(t, err)
}

func TestUsageRepo_AddAndList(t *testing.T) {
	repo := NewUsageRepo(setupTestDB(t), testKey())
	ctx := context.Background()

	addCredential(t, repo, "key-alpha", "ops")
	addCredential(t, repo, "key-beta", "ops")
	addCredential(t, repo, "key-other", "someone-else")

	creds, err := repo.ListForOwner(ctx, "ops")
	require.NoError(t, err)
	require.Len(t, creds, 2)

	values := []string{creds[0].Value, creds[1].Value}
	assert.ElementsMatch(t, []string{"key-alpha", "key-beta"}, values)
	for _, cred := range creds {
		assert.Equal(t, model.CredentialDigest(cred.Value), cred.Digest)
		assert.Equal(t, "ops", cred.Owner)
		assert.False(t, cred.CreatedAt.IsZero())
	}
}

func TestUsageRepo_AddTwiceIsNoop(t *testing.T) {
	repo := NewUsageRepo(setupTestDB(t), testKey())
	ctx := context.Background()

	addCredential(t, repo, "key-alpha", "ops")
	addCredential(t, repo, "key-alpha", "ops")

	creds, err := repo.ListForOwner(ctx, "ops")
	require.NoError(t, err)
	assert.Len(t, creds, 1)
}

func TestUsageRepo_ValueEncryptedAtRest(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUsageRepo(db, testKey())

	addCredential(t, repo, "key-alpha", "ops")

	var stored string
	err := db.Reader.QueryRow(`SELECT value FROM credentials`).Scan(&stored)
	require.NoError(t, err)
	assert.NotContains(t, stored, "key-alpha")
}

func TestUsageRepo_NoEncryptionKey(t *testing.T) {
	repo := NewUsageRepo(setupTestDB(t), nil)
	ctx := context.Background()

	err := repo.AddCredential(ctx, model.Credential{Value: "key-alpha", Owner: "ops"})
	assert.ErrorIs(t, err, driven.ErrEncryptionKeyNotSet)

	_, err = repo.ListForOwner(ctx, "ops")
	assert.ErrorIs(t, err, driven.ErrEncryptionKeyNotSet)
}

func TestUsageRepo_UsageStartsAtZero(t *testing.T) {
	repo := NewUsageRepo(setupTestDB(t), testKey())
	ctx := context.Background()

	addCredential(t, repo, "key-alpha", "ops")

	count, err := repo.Usage(ctx, "key-alpha")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestUsageRepo_IncrementUsage(t *testing.T) {
	repo := NewUsageRepo(setupTestDB(t), testKey())
	ctx := context.Background()

	addCredential(t, repo, "key-alpha", "ops")

	for range 3 {
		require.NoError(t, repo.IncrementUsage(ctx, "key-alpha"))
	}

	count, err := repo.Usage(ctx, "key-alpha")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestUsageRepo_IncrementIsolatedPerCredential(t *testing.T) {
	repo := NewUsageRepo(setupTestDB(t), testKey())
	ctx := context.Background()

	addCredential(t, repo, "key-alpha", "ops")
	addCredential(t, repo, "key-beta", "ops")

	require.NoError(t, repo.IncrementUsage(ctx, "key-alpha"))

	count, err := repo.Usage(ctx, "key-beta")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

// Concurrent increments must never lose an update: the final count equals the
// sum of all increments. This holds because the mutation is a single upsert
// statement, not a read-modify-write.
func TestUsageRepo_ConcurrentIncrementsLoseNothing(t *testing.T) {
	repo := NewUsageRepo(setupTestDB(t), testKey())
	ctx := context.Background()

	addCredential(t, repo, "key-alpha", "ops")

	const workers = 10
	const perWorker = 25

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				if err := repo.IncrementUsage(ctx, "key-alpha"); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	count, err := repo.Usage(ctx, "key-alpha")
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, count)
}

func TestUsageRepo_SubscribeNotifiesOnIncrement(t *testing.T) {
	repo := NewUsageRepo(setupTestDB(t), testKey())
	ctx := context.Background()

	addCredential(t, repo, "key-alpha", "ops")

	var got []int
	unsub, err := repo.SubscribeUsage("key-alpha", "test", func(count int) {
		got = append(got, count)
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, repo.IncrementUsage(ctx, "key-alpha"))
	require.NoError(t, repo.IncrementUsage(ctx, "key-alpha"))

	assert.Equal(t, []int{1, 2}, got)
}

func TestUsageRepo_ResubscribeReplacesPrior(t *testing.T) {
	repo := NewUsageRepo(setupTestDB(t), testKey())
	ctx := context.Background()

	addCredential(t, repo, "key-alpha", "ops")

	var first, second int
	_, err := repo.SubscribeUsage("key-alpha", "watcher", func(int) { first++ })
	require.NoError(t, err)
	_, err = repo.SubscribeUsage("key-alpha", "watcher", func(int) { second++ })
	require.NoError(t, err)

	require.NoError(t, repo.IncrementUsage(ctx, "key-alpha"))

	assert.Equal(t, 0, first, "replaced subscription must not fire")
	assert.Equal(t, 1, second)
}

func TestUsageRepo_UnsubscribeStopsCallbacks(t *testing.T) {
	repo := NewUsageRepo(setupTestDB(t), testKey())
	ctx := context.Background()

	addCredential(t, repo, "key-alpha", "ops")

	var calls int
	unsub, err := repo.SubscribeUsage("key-alpha", "watcher", func(int) { calls++ })
	require.NoError(t, err)

	require.NoError(t, repo.IncrementUsage(ctx, "key-alpha"))
	unsub()
	require.NoError(t, repo.IncrementUsage(ctx, "key-alpha"))

	assert.Equal(t, 1, calls)
}

func TestUsageRepo_StaleUnsubscribeHandleIsNoop(t *testing.T) {
	repo := NewUsageRepo(setupTestDB(t), testKey())
	ctx := context.Background()

	addCredential(t, repo, "key-alpha", "ops")

	staleUnsub, err := repo.SubscribeUsage("key-alpha", "watcher", func(int) {})
	require.NoError(t, err)

	var calls int
	_, err = repo.SubscribeUsage("key-alpha", "watcher", func(int) { calls++ })
	require.NoError(t, err)

	// Unsubscribing the replaced registration must not tear down its successor.
	staleUnsub()

	require.NoError(t, repo.IncrementUsage(ctx, "key-alpha"))
	assert.Equal(t, 1, calls)
}

func TestUsageRepo_UsageSurvivesRepoInstance(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	repo := NewUsageRepo(db, testKey())
	addCredential(t, repo, "key-alpha", "ops")
	require.NoError(t, repo.IncrementUsage(ctx, "key-alpha"))

	// A second instance over the same database sees the shared counter.
	other := NewUsageRepo(db, testKey())
	count, err := other.Usage(ctx, "key-alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
