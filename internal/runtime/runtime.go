package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-digest/internal/bookmarks"
	"github.com/loqalabs/loqa-digest/internal/bus"
	"github.com/loqalabs/loqa-digest/internal/config"
	"github.com/loqalabs/loqa-digest/internal/digest"
	"github.com/loqalabs/loqa-digest/internal/feeds"
	"github.com/loqalabs/loqa-digest/internal/llm"
	"github.com/loqalabs/loqa-digest/internal/natsserver"
	"github.com/loqalabs/loqa-digest/internal/scraper"
	"github.com/loqalabs/loqa-digest/internal/store"
	"github.com/loqalabs/loqa-digest/internal/tts"
)

const pruneInterval = time.Hour

type healthChecker interface {
	Healthy() bool
}

// service is a bus-driven component.
type service interface {
	healthChecker
	Start() error
	Close()
}

type Runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	ready    atomic.Bool
	wg       sync.WaitGroup
	checks   []healthChecker
	closers  []func()
	services []service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component, serves HTTP and blocks until ctx is done.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := tel.shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}()
	defer r.closeAll()

	a, err := r.build(ctx)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	if tel.metrics != nil {
		mux.Handle("GET /metrics", tel.metrics)
	}
	a.register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	servers := []*http.Server{{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && tel.metrics != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", tel.metrics)
		servers = append(servers, &http.Server{Addr: bind, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second})
	}
	for _, srv := range servers {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.logger.Error("http server failed", slog.String("addr", srv.Addr), slogError(err))
				cancel()
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slogError(err))
		}
	}
	r.wg.Wait()
	return nil
}

// build opens the store, connects the bus and constructs every component.
// Resources are registered for release by closeAll.
func (r *Runtime) build(ctx context.Context) (*api, error) {
	st, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	r.closers = append(r.closers, func() { _ = st.Close() })

	busClient, err := r.connectBus(ctx)
	if err != nil {
		return nil, err
	}

	synth, err := tts.New(ctx, r.cfg.TTS, r.logger)
	if err != nil {
		// Narration stays unavailable; the pipeline reports it per request.
		r.logger.Warn("speech provider unavailable", slogError(err))
		synth = nil
	}
	pipeline := tts.NewPipeline(synth, tts.PipelineConfigFrom(r.cfg.TTS), r.logger)

	gen, err := llm.New(r.cfg.LLM, r.logger)
	if err != nil {
		return nil, fmt.Errorf("init language model: %w", err)
	}
	summarizer := llm.NewSummarizer(gen, r.cfg.LLM, r.logger)

	feedManager := feeds.NewManager(r.cfg.Feeds, st, busClient, r.logger)
	bm := bookmarks.NewManager(st, r.logger)
	orch := digest.NewOrchestrator(r.cfg.Digest, st, bm, scraper.New(r.cfg.Scraper, r.logger), summarizer, pipeline, r.logger)

	if busClient != nil {
		r.services = []service{
			tts.NewService(ctx, r.cfg.TTS, busClient, pipeline, st, r.logger),
			llm.NewService(ctx, r.cfg.LLM, busClient, summarizer, r.logger),
			digest.NewService(ctx, r.cfg.Digest, busClient, orch, r.logger),
		}
		for _, svc := range r.services {
			if err := svc.Start(); err != nil {
				return nil, fmt.Errorf("start bus service: %w", err)
			}
			r.checks = append(r.checks, svc)
		}
	}

	r.goRun(func() { feedManager.Run(ctx) })
	r.goRun(func() { r.pruneLoop(ctx, st) })

	return &api{store: st, feeds: feedManager, bookmarks: bm, digests: orch, logger: r.logger}, nil
}

// connectBus starts the embedded server when configured and dials it. It
// returns nil when the bus is disabled.
func (r *Runtime) connectBus(ctx context.Context) (*bus.Client, error) {
	cfg := r.cfg.Bus
	if !cfg.Enabled {
		return nil, nil
	}
	embedded, err := natsserver.Start(cfg, r.logger)
	if err != nil {
		return nil, err
	}
	if embedded != nil {
		r.closers = append(r.closers, embedded.Shutdown)
		cfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, cfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, client.Close)
	r.checks = append(r.checks, client)
	return client, nil
}

func (r *Runtime) pruneLoop(ctx context.Context, st *store.Store) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := st.Prune(ctx); err != nil {
				r.logger.Warn("store prune failed", slogError(err))
			}
		}
	}
}

func (r *Runtime) goRun(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// closeAll stops services first, then releases resources in reverse order.
func (r *Runtime) closeAll() {
	for _, svc := range r.services {
		svc.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (r *Runtime) healthy() bool {
	for _, c := range r.checks {
		if !c.Healthy() {
			return false
		}
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
