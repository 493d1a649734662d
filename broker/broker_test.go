package broker

import (
	"context"
	"sync"
	"testing"

	"github.com/playonchain/arena/logger"
	"github.com/playonchain/arena/models"
	"github.com/playonchain/arena/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	m.Run()
}

func newBroker(t *testing.T) (*OutcomeBroker, *persistence.JSONFileStore) {
	t.Helper()
	store, err := persistence.NewJSONFileStore("")
	require.NoError(t, err)
	return NewOutcomeBroker(store), store
}

func TestGetOrCreateOutcome_ValueInRange(t *testing.T) {
	b, _ := newBroker(t)

	value, shared, err := b.GetOrCreateOutcome(context.Background(), "g1", 1)
	require.NoError(t, err)
	assert.True(t, shared)
	assert.GreaterOrEqual(t, value, models.MinGuess)
	assert.LessOrEqual(t, value, models.MaxGuess)
}

func TestGetOrCreateOutcome_Idempotent(t *testing.T) {
	b, _ := newBroker(t)
	ctx := context.Background()

	first, shared, err := b.GetOrCreateOutcome(ctx, "g1", 1)
	require.NoError(t, err)
	require.True(t, shared)

	for i := 0; i < 10; i++ {
		again, shared, err := b.GetOrCreateOutcome(ctx, "g1", 1)
		require.NoError(t, err)
		assert.True(t, shared)
		assert.Equal(t, first, again, "every caller must observe the first value")
	}
}

func TestGetOrCreateOutcome_RoundsAreIndependent(t *testing.T) {
	b, store := newBroker(t)
	ctx := context.Background()

	_, _, err := b.GetOrCreateOutcome(ctx, "g1", 1)
	require.NoError(t, err)

	// A second round for the same game gets its own record.
	_, _, err = b.GetOrCreateOutcome(ctx, "g1", 2)
	require.NoError(t, err)

	v1, err := store.GetOutcome(ctx, "g1", 1)
	require.NoError(t, err)
	v2, err := store.GetOutcome(ctx, "g1", 2)
	require.NoError(t, err)
	assert.True(t, models.ValidGuess(v1))
	assert.True(t, models.ValidGuess(v2))
}

func TestGetOrCreateOutcome_ConcurrentCallersAgree(t *testing.T) {
	b, _ := newBroker(t)
	ctx := context.Background()

	const callers = 24
	values := make([]int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, shared, err := b.GetOrCreateOutcome(ctx, "g1", 1)
			assert.NoError(t, err)
			assert.True(t, shared)
			values[i] = value
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, values[0], values[i], "caller %d diverged", i)
	}
}

// failingStore reports every operation as unavailable.
type failingStore struct {
	persistence.Store
}

func (f *failingStore) GetOutcome(ctx context.Context, gameID string, round int) (int, error) {
	return 0, persistence.ErrStorageUnavailable
}

func (f *failingStore) CreateOutcomeIfAbsent(ctx context.Context, gameID string, round, value int) (int, bool, error) {
	return 0, false, persistence.ErrStorageUnavailable
}

func TestGetOrCreateOutcome_DegradedModeIsSurfaced(t *testing.T) {
	b := NewOutcomeBroker(&failingStore{})

	value, shared, err := b.GetOrCreateOutcome(context.Background(), "g1", 1)
	require.NoError(t, err)
	assert.False(t, shared, "degraded mode must be visible to the caller")
	assert.True(t, models.ValidGuess(value))
}
