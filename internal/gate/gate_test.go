package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beaconaudit/beacon/internal/audit"
)

type fakeStateStore struct {
	mu      sync.Mutex
	table   audit.EventStateTable
	loadErr error
	saveErr error
	saves   int
}

func (s *fakeStateStore) LoadTable(_ context.Context) (audit.EventStateTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	copied := make(audit.EventStateTable, len(s.table))
	for k, v := range s.table {
		copied[k] = v
	}
	return copied, nil
}

func (s *fakeStateStore) SaveTable(_ context.Context, table audit.EventStateTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.table = table
	return nil
}

func TestGate_FirstCheckAdmitsAndPersists(t *testing.T) {
	t.Parallel()

	store := &fakeStateStore{}
	g := New(store, time.Hour, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)

	res, err := g.Check(context.Background(), "home", now)
	require.NoError(t, err)
	require.False(t, res.Active)

	require.Equal(t, 1, store.saves)
	require.Equal(t, now.UnixMilli(), store.table["home"].CreatedAtMillis)
}

func TestGate_SecondCheckWithinCooldownRejects(t *testing.T) {
	t.Parallel()

	store := &fakeStateStore{}
	g := New(store, time.Hour, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)

	_, err := g.Check(context.Background(), "home", now)
	require.NoError(t, err)

	res, err := g.Check(context.Background(), "home", now.Add(90*time.Second))
	require.NoError(t, err)
	require.True(t, res.Active)
	require.Equal(t, 90*time.Second, res.Delta)

	// The rejected check must not refresh the stored timestamp.
	require.Equal(t, now.UnixMilli(), store.table["home"].CreatedAtMillis)
}

func TestGate_ExpiredEntryIsOverwritten(t *testing.T) {
	t.Parallel()

	store := &fakeStateStore{}
	g := New(store, time.Hour, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)

	_, err := g.Check(context.Background(), "home", now)
	require.NoError(t, err)

	later := now.Add(2 * time.Hour)
	res, err := g.Check(context.Background(), "home", later)
	require.NoError(t, err)
	require.False(t, res.Active)
	require.Equal(t, later.UnixMilli(), store.table["home"].CreatedAtMillis)
}

func TestGate_LoadFailureFailsOpen(t *testing.T) {
	t.Parallel()

	store := &fakeStateStore{loadErr: errors.New("object not found")}
	g := New(store, time.Hour, zap.NewNop())

	res, err := g.Check(context.Background(), "home", time.Now())
	require.NoError(t, err)
	require.False(t, res.Active)
	require.Equal(t, 1, store.saves)
}

func TestGate_SaveFailureIsFatal(t *testing.T) {
	t.Parallel()

	store := &fakeStateStore{saveErr: errors.New("bucket unreachable")}
	g := New(store, time.Hour, zap.NewNop())

	_, err := g.Check(context.Background(), "home", time.Now())
	require.Error(t, err)
}

func TestGate_ConcurrentChecksAdmitOnce(t *testing.T) {
	t.Parallel()

	store := &fakeStateStore{}
	g := New(store, time.Hour, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)

	const callers = 16
	var wg sync.WaitGroup
	admitted := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := g.Check(context.Background(), "home", now.Add(time.Second))
			require.NoError(t, err)
			if !res.Active {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	var count int
	for range admitted {
		count++
	}
	require.Equal(t, 1, count)
}

func TestGate_DistinctIdentitiesDoNotLoseEntries(t *testing.T) {
	t.Parallel()

	store := &fakeStateStore{}
	g := New(store, time.Hour, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)

	identities := []string{"home", "pricing", "docs", "blog"}
	var wg sync.WaitGroup
	for _, id := range identities {
		wg.Add(1)
		go func(identity string) {
			defer wg.Done()
			_, err := g.Check(context.Background(), identity, now)
			require.NoError(t, err)
		}(id)
	}
	wg.Wait()

	for _, id := range identities {
		require.Contains(t, store.table, id)
	}
}
