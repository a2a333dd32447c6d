package enginemanager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiobook-maker/engine-core/internal/config"
	"github.com/audiobook-maker/engine-core/internal/database"
	"github.com/audiobook-maker/engine-core/internal/httpclient"
	"github.com/audiobook-maker/engine-core/internal/models"
	"github.com/audiobook-maker/engine-core/internal/runner"
	"github.com/audiobook-maker/engine-core/internal/runner/portregistry"
	"github.com/audiobook-maker/engine-core/internal/settings"
)

// fakeStore is an in-memory VariantStore used by tests instead of
// *database.DB.
type fakeStore struct {
	mu       sync.Mutex
	variants map[string]*models.EngineVariant
	models   map[string][]models.EngineModel
}

func newFakeStore(variants ...*models.EngineVariant) *fakeStore {
	s := &fakeStore{variants: make(map[string]*models.EngineVariant), models: make(map[string][]models.EngineModel)}
	for _, v := range variants {
		s.variants[v.VariantID] = v
	}
	return s
}

func (s *fakeStore) GetEngineVariant(_ context.Context, variantID string) (*models.EngineVariant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[variantID]
	if !ok {
		return nil, ErrUnknownVariant
	}
	cp := *v
	return &cp, nil
}

func (s *fakeStore) ListEngineVariants(_ context.Context) ([]*models.EngineVariant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.EngineVariant, 0, len(s.variants))
	for _, v := range s.variants {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) UpsertEngineVariant(_ context.Context, v *models.EngineVariant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.variants[v.VariantID] = &cp
	return nil
}

func (s *fakeStore) UpsertEngineModels(_ context.Context, variantID string, discovered []models.EngineModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[variantID] = discovered
	return nil
}

func (s *fakeStore) ListEngineModels(_ context.Context, variantID string) ([]models.EngineModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.models[variantID], nil
}

// fakeRunner launches nothing; it hands back whatever endpoint the test
// configured, pointed at an httptest server standing in for the engine.
type fakeRunner struct {
	endpoint runner.Endpoint
	stopped  []string
}

func (r *fakeRunner) Start(_ context.Context, _ runner.LaunchSpec) (runner.Endpoint, error) {
	return r.endpoint, nil
}

func (r *fakeRunner) Stop(_ context.Context, endpoint runner.Endpoint, _ time.Duration) error {
	r.stopped = append(r.stopped, endpoint.Handle)
	return nil
}

func fakeEngineServer(t *testing.T, model string) *httptest.Server {
	t.Helper()
	loaded := model
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewEncoder(w).Encode(httpclient.HealthStatus{Status: "ready", CurrentEngineModel: loaded})
	})
	mux.HandleFunc("/load", func(w http.ResponseWriter, r *http.Request) {
		var req httpclient.LoadRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		loaded = req.EngineModelName
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(httpclient.LoadResponse{Status: "loaded"})
	})
	mux.HandleFunc("/models", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(httpclient.ModelsResponse{Models: []httpclient.EngineModelInfo{{Name: "v1", DisplayName: "v1"}}})
	})
	mux.HandleFunc("/shutdown", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testEnginesConfig() config.EnginesConfig {
	return config.EnginesConfig{
		PortRangeStart:           20000,
		PortRangeEnd:             20100,
		HealthCheckTimeout:       2 * time.Second,
		StartTimeout:             2 * time.Second,
		LoadTimeout:              2 * time.Second,
		ShutdownGraceWindow:      time.Second,
		AutoStopTickInterval:     50 * time.Millisecond,
		InactivityTimeoutMinutes: 5,
		DiscoveryModeTimeout:     30 * time.Second,
		SingleActivePerKind:      true,
	}
}

func testHTTPClientConfig() config.HTTPClientConfig {
	return config.HTTPClientConfig{RequestTimeout: 5 * time.Second}
}

type stubRepo struct {
	values map[string]string
}

func (r *stubRepo) GetSetting(_ context.Context, key string) (string, error) {
	v, ok := r.values[key]
	if !ok {
		return "", database.ErrNotFound
	}
	return v, nil
}
func (r *stubRepo) SetSetting(_ context.Context, key, value string) error {
	r.values[key] = value
	return nil
}
func (r *stubRepo) ListSettings(_ context.Context) (map[string]string, error) {
	return r.values, nil
}

func newTestManager(t *testing.T, srv *httptest.Server, v *models.EngineVariant) (*Manager, *fakeRunner) {
	t.Helper()
	store := newFakeStore(v)
	cache := settings.New(&stubRepo{values: map[string]string{}}, map[string]any{
		settings.KeyEnginesSingleActivePerKind:    true,
		settings.KeyEnginesInactivityTimeoutMinutes: 5,
	})
	fr := &fakeRunner{endpoint: runner.Endpoint{BaseURL: srv.URL, Handle: v.VariantID}}
	resolver := func(models.EngineVariant) (runner.Runner, error) { return fr, nil }
	mgr := New(v.Kind, store, cache, nil, portregistry.New(), resolver, testEnginesConfig(), testHTTPClientConfig())
	return mgr, fr
}

func TestEnsureReadyStartsAndLoadsModel(t *testing.T) {
	srv := fakeEngineServer(t, "")
	v := &models.EngineVariant{VariantID: "xtts:local", BaseName: "xtts", Kind: models.EngineKindSynthesis, Enabled: true}
	mgr, _ := newTestManager(t, srv, v)

	ctx := context.Background()
	require.NoError(t, mgr.EnsureReady(ctx, "xtts:local", "v2.0.3"))

	ep, ok := mgr.endpointFor("xtts:local")
	require.True(t, ok)
	assert.Equal(t, srv.URL, ep.BaseURL)

	// Re-running with the same model should be a no-op health check, not a
	// second /load (the fake server doesn't care, but Start must not be
	// re-invoked since the variant is already running).
	require.NoError(t, mgr.EnsureReady(ctx, "xtts:local", "v2.0.3"))
}

func TestStopReleasesPortAndClearsRuntime(t *testing.T) {
	srv := fakeEngineServer(t, "")
	v := &models.EngineVariant{VariantID: "xtts:local", BaseName: "xtts", Kind: models.EngineKindSynthesis, Enabled: true}
	mgr, fr := newTestManager(t, srv, v)

	ctx := context.Background()
	require.NoError(t, mgr.EnsureReady(ctx, "xtts:local", "v2.0.3"))
	require.NoError(t, mgr.Stop(ctx, "xtts:local", "manual"))

	_, ok := mgr.endpointFor("xtts:local")
	assert.False(t, ok)
	assert.Contains(t, fr.stopped, "xtts:local")
}

func TestSetEnabledForbidsDisablingSynthesisDefault(t *testing.T) {
	srv := fakeEngineServer(t, "")
	v := &models.EngineVariant{VariantID: "xtts:local", BaseName: "xtts", Kind: models.EngineKindSynthesis, Enabled: true, Default: true}
	mgr, _ := newTestManager(t, srv, v)

	err := mgr.SetEnabled(context.Background(), "xtts:local", false)
	assert.ErrorIs(t, err, ErrCannotDisableDefault)
}

func TestSetEnabledAutoPromotesFirstDefault(t *testing.T) {
	srv := fakeEngineServer(t, "")
	v := &models.EngineVariant{VariantID: "whisper:local", BaseName: "whisper", Kind: models.EngineKindTranscription, Enabled: false}
	mgr, _ := newTestManager(t, srv, v)

	require.NoError(t, mgr.SetEnabled(context.Background(), "whisper:local", true))

	got, err := mgr.variant(context.Background(), "whisper:local")
	require.NoError(t, err)
	assert.True(t, got.Default)
}
