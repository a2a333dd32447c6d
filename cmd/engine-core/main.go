// Package main is the entry point for the engine-core daemon.
//
// engine-core owns the job queue and engine fleet for text-to-speech
// synthesis, speech-to-text transcription, and audio quality analysis: a
// durable work queue (internal/jobstore), a read-model database
// (internal/database), per-kind engine lifecycle managers
// (internal/enginemanager), job worker loops (internal/worker), and an
// illustrative HTTP/SSE control surface (internal/api).
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: Koanf v2, layered defaults -> config file -> env vars
//  2. Database: DuckDB read model and settings repository
//  3. Job store: BadgerDB-backed durable queue
//  4. Settings cache: read-through cache over the database, warmed at boot
//  5. Engine managers: one per engine kind, sharing a port registry
//  6. Discovery: scan configured catalog roots and merge into the database
//  7. Workers: synthesis and analysis poll loops, chained by auto-chain policy
//  8. Supervisor tree: store/engines/bus layers, for failure isolation
//  9. HTTP server: the illustrative control-plane/SSE edge
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger a graceful shutdown: the HTTP server stops
// accepting new connections, the supervisor tree drains every service, and
// the database and job store are closed last.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	dockerclient "github.com/docker/docker/client"

	"github.com/audiobook-maker/engine-core/internal/api"
	"github.com/audiobook-maker/engine-core/internal/audiostore"
	"github.com/audiobook-maker/engine-core/internal/autochain"
	"github.com/audiobook-maker/engine-core/internal/config"
	"github.com/audiobook-maker/engine-core/internal/database"
	"github.com/audiobook-maker/engine-core/internal/discovery"
	"github.com/audiobook-maker/engine-core/internal/enginemanager"
	"github.com/audiobook-maker/engine-core/internal/eventbus"
	"github.com/audiobook-maker/engine-core/internal/httpclient"
	"github.com/audiobook-maker/engine-core/internal/jobstore"
	"github.com/audiobook-maker/engine-core/internal/logging"
	"github.com/audiobook-maker/engine-core/internal/models"
	"github.com/audiobook-maker/engine-core/internal/runner"
	"github.com/audiobook-maker/engine-core/internal/runner/portregistry"
	"github.com/audiobook-maker/engine-core/internal/settings"
	"github.com/audiobook-maker/engine-core/internal/supervisor"
	"github.com/audiobook-maker/engine-core/internal/worker"
)

// engineKinds are every kind that gets its own lifecycle manager. Text
// engines (e.g. LLM-backed defect classification) are managed the same way
// as the others even though no worker claims jobs against them directly.
var engineKinds = []models.EngineKind{
	models.EngineKindSynthesis,
	models.EngineKindTranscription,
	models.EngineKindAnalysis,
	models.EngineKindText,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("open database")
	}
	defer func() { _ = db.Close() }()

	jobStore, err := jobstore.Open(cfg.JobStore.Path, cfg.JobStore.LockRetryAttempts, cfg.JobStore.LockRetryBaseDelay)
	if err != nil {
		logging.Fatal().Err(err).Msg("open job store")
	}
	defer func() { _ = jobStore.Close() }()

	settingsCache := settings.New(db, settings.DefaultsFromConfig(cfg))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := settingsCache.Warm(ctx); err != nil {
		logging.Fatal().Err(err).Msg("warm settings cache")
	}

	stuck, err := jobStore.ResetStuck()
	if err != nil {
		logging.Fatal().Err(err).Msg("reset stuck jobs")
	}
	for _, job := range stuck {
		for _, wi := range job.PendingWorkItems() {
			seg, err := db.GetSegment(ctx, wi.SegmentID)
			if err == nil && (seg.Status == models.SegmentStatusQueued || seg.Status == models.SegmentStatusProcessing) {
				err = db.SetSegmentStatus(ctx, wi.SegmentID, models.SegmentStatusPending)
			}
			if err != nil {
				logging.Warn().Err(err).Str("segment_id", wi.SegmentID).Msg("reset interrupted segment")
			}
		}
	}

	bus := eventbus.NewBus(cfg.EventBus)
	defer func() { _ = bus.Close() }()

	ports := portregistry.New()
	resolveRunner := newRunnerResolver(cfg.Runner, bus)

	managers := make(map[models.EngineKind]*enginemanager.Manager, len(engineKinds))
	apiEngines := make(map[models.EngineKind]api.EngineManager, len(engineKinds))
	for _, kind := range engineKinds {
		mgr := enginemanager.New(kind, db, settingsCache, bus, ports, resolveRunner, cfg.Engines, cfg.HTTPClient)
		managers[kind] = mgr
		apiEngines[kind] = mgr
	}

	scanner := discovery.New(cfg.Engines.DiscoveryRoots)
	discovered, err := scanner.Scan(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("scan engine catalogs")
	} else if merged, err := scanner.Merge(ctx, db, discovered); err != nil {
		logging.Warn().Err(err).Msg("merge discovered variants")
	} else {
		logging.Info().Int("count", merged).Msg("merged discovered engine variants")
	}

	synthesisMgr := managers[models.EngineKindSynthesis]
	analysisMgr := managers[models.EngineKindAnalysis]

	synthesisRetry := httpclient.NewRetryPolicy(httpclient.DefaultPolicyConfig(), synthesisMgr.Restart)
	analysisRetry := httpclient.NewRetryPolicy(httpclient.DefaultPolicyConfig(), analysisMgr.Restart)

	chainPolicy := autochain.New(jobStore, db, analysisMgr, db, settingsCache, bus)

	audioStore := audiostore.New(cfg.Runner.SharedSamplesDir, db)
	synthesisWorker := worker.New(
		jobStore, db, synthesisMgr, synthesisRetry,
		worker.NewSynthesisProcessor(audioStore),
		chainPolicy, bus, cfg.HTTPClient, cfg.Worker,
	)
	analysisWorker := worker.New(
		jobStore, db, analysisMgr, analysisRetry,
		worker.NewAnalysisProcessor(db, nil),
		chainPolicy, bus, cfg.HTTPClient, cfg.Worker,
	)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("build supervisor tree")
	}

	tree.AddStoreService(synthesisWorker)
	tree.AddStoreService(analysisWorker)
	for _, mgr := range managers {
		tree.AddEngineService(enginemanager.NewAutoStopService(mgr))
		tree.AddEngineService(enginemanager.NewStatusBroadcaster(mgr))
	}

	router := api.New(jobStore, db, apiEngines, bus)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router.SetupChi(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("http server shutdown")
		}
		cancel()
	}()

	go func() {
		logging.Info().Str("addr", httpServer.Addr).Msg("starting http server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("http server failed")
		}
	}()

	logging.Info().Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for _, mgr := range managers {
		mgr.StopAll(context.Background())
	}

	if err := db.Checkpoint(context.Background()); err != nil {
		logging.Warn().Err(err).Msg("final checkpoint")
	}

	logging.Info().Msg("engine-core stopped gracefully")
}

// newRunnerResolver builds a RunnerResolver shared by every engine kind's
// manager. A single Docker client backs the local_docker backend for every
// kind; remote_docker is unsupported here because it depends on
// an externally-owned SSH tunnel (runner.TunnelMonitor) that this entry
// point does not provision (see DESIGN.md).
func newRunnerResolver(cfg config.RunnerConfig, bus *eventbus.Bus) enginemanager.RunnerResolver {
	subprocessRunner := runner.NewSubprocessRunner(cfg)

	var dockerRunner *runner.DockerRunner
	if cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation()); err != nil {
		logging.Warn().Err(err).Msg("docker client unavailable, local_docker launch kind disabled")
	} else {
		dockerRunner = runner.NewDockerRunner(cfg, cli, bus)
	}

	return func(v models.EngineVariant) (runner.Runner, error) {
		switch v.Launch.Kind {
		case models.LaunchKindSubprocess:
			return subprocessRunner, nil
		case models.LaunchKindLocalDocker:
			if dockerRunner == nil {
				return nil, fmt.Errorf("local_docker launch kind requested for %s but no docker client is available", v.VariantID)
			}
			return dockerRunner, nil
		case models.LaunchKindRemoteDocker:
			return nil, fmt.Errorf("remote_docker launch kind is not supported by this entry point for %s: no TunnelMonitor is wired", v.VariantID)
		default:
			return nil, fmt.Errorf("unknown launch kind %q for %s", v.Launch.Kind, v.VariantID)
		}
	}
}
