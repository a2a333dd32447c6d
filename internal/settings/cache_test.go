package settings

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiobook-maker/engine-core/internal/database"
)

type fakeRepo struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{values: make(map[string]string)}
}

func (f *fakeRepo) GetSetting(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return "", database.ErrNotFound
	}
	return v, nil
}

func (f *fakeRepo) SetSetting(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeRepo) ListSettings(_ context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out, nil
}

func TestGetFallsBackToDefaultAndPersistsLazily(t *testing.T) {
	repo := newFakeRepo()
	cache := New(repo, map[string]any{
		KeyEnginesInactivityTimeoutMinutes: 5,
	})

	n, err := cache.GetInt(context.Background(), KeyEnginesInactivityTimeoutMinutes)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	persisted, err := repo.GetSetting(context.Background(), KeyEnginesInactivityTimeoutMinutes)
	require.NoError(t, err)
	assert.Equal(t, "5", persisted)
}

func TestGetMissingKeyWithNoDefaultErrors(t *testing.T) {
	repo := newFakeRepo()
	cache := New(repo, map[string]any{})

	_, err := cache.Get(context.Background(), "unknown.key")
	assert.Error(t, err)
}

func TestSetNotifiesCategorySubscribers(t *testing.T) {
	repo := newFakeRepo()
	cache := New(repo, map[string]any{})

	sub := cache.Subscribe("engines")
	require.NoError(t, cache.Set(context.Background(), KeyEnginesInactivityTimeoutMinutes, 10))

	select {
	case <-sub:
	default:
		t.Fatal("expected a notification on the engines category subscription")
	}

	n, err := cache.GetInt(context.Background(), KeyEnginesInactivityTimeoutMinutes)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestWarmPreloadsCacheFromRepository(t *testing.T) {
	repo := newFakeRepo()
	require.NoError(t, repo.SetSetting(context.Background(), KeyAutochainAutoAnalyzeChapter, "true"))

	cache := New(repo, map[string]any{})
	require.NoError(t, cache.Warm(context.Background()))

	v, err := cache.GetBool(context.Background(), KeyAutochainAutoAnalyzeChapter)
	require.NoError(t, err)
	assert.True(t, v)
}
