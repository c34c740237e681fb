// Package app wires all Mnemora subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in reverse order.
//
// For testing, inject mock implementations via functional options
// (WithEmbeddings, WithVectorStore, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mnemora-ai/mnemora/internal/config"
	"github.com/mnemora-ai/mnemora/internal/credential"
	"github.com/mnemora-ai/mnemora/internal/embed"
	"github.com/mnemora-ai/mnemora/internal/health"
	"github.com/mnemora-ai/mnemora/internal/index"
	"github.com/mnemora-ai/mnemora/internal/observe"
	"github.com/mnemora-ai/mnemora/internal/prompt"
	"github.com/mnemora-ai/mnemora/internal/recall"
	"github.com/mnemora-ai/mnemora/internal/resilience"
	"github.com/mnemora-ai/mnemora/internal/tools/memorytool"
	"github.com/mnemora-ai/mnemora/pkg/provider/embeddings"
	"github.com/mnemora-ai/mnemora/pkg/provider/llm"
	"github.com/mnemora-ai/mnemora/pkg/vector"
	"github.com/mnemora-ai/mnemora/pkg/vector/pinecone"
	"github.com/mnemora-ai/mnemora/pkg/vector/postgres"
)

// App owns all subsystem lifetimes and orchestrates the memory engine.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	levelVar *slog.LevelVar

	// Subsystems — initialised in New, torn down in Shutdown.
	pool      *credential.Pool
	embedder  embeddings.Provider
	store     vector.Store
	control   vector.ControlPlane
	index     *index.Manager
	engine    *recall.Engine
	assembler *prompt.Assembler
	tools     *memorytool.Server
	handler   http.Handler

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry injects a provider registry instead of the default one.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithEmbeddings injects an embeddings provider instead of creating one from
// config.
func WithEmbeddings(p embeddings.Provider) Option {
	return func(a *App) { a.embedder = p }
}

// WithVectorStore injects a vector store and control plane instead of
// connecting to the configured backend.
func WithVectorStore(s vector.Store, cp vector.ControlPlane) Option {
	return func(a *App) {
		a.store = s
		a.control = cp
	}
}

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevelVar hands the app the level var driving the slog handler so
// config reloads can adjust verbosity at runtime.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously, including vector index
// provisioning: when the index cannot be brought to ready state, New fails
// and the process should not serve traffic.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.DefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Credential pool ───────────────────────────────────────────────
	if err := a.initCredentials(); err != nil {
		return nil, fmt.Errorf("app: init credentials: %w", err)
	}

	// ── 2. Embeddings provider ───────────────────────────────────────────
	if err := a.initEmbeddings(); err != nil {
		return nil, fmt.Errorf("app: init embeddings: %w", err)
	}

	// ── 3. Vector store ──────────────────────────────────────────────────
	if err := a.initVectorStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init vector store: %w", err)
	}

	// ── 4. Index lifecycle ───────────────────────────────────────────────
	if err := a.initIndex(ctx); err != nil {
		return nil, fmt.Errorf("app: init index: %w", err)
	}

	// ── 5. Retrieval engine + prompt assembler ───────────────────────────
	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}

	// ── 6. MCP tools + HTTP surface ──────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCredentials builds the rotation pool from the configured API keys.
// Keyless providers (ollama) rotate a single placeholder credential so the
// synthesizer still has something to hand out.
func (a *App) initCredentials() error {
	secrets := a.cfg.LLM.APIKeys
	if len(secrets) == 0 {
		secrets = []string{"local"}
	}

	var opts []credential.Option
	if d := a.cfg.Memory.CredentialCooldown; d > 0 {
		opts = append(opts, credential.WithCooldown(d))
	}

	pool, err := credential.NewPool(secrets, opts...)
	if err != nil {
		return err
	}
	a.pool = pool
	a.metrics.UsableCredentials.Add(context.Background(), int64(pool.Usable()))
	return nil
}

// initEmbeddings creates the embeddings provider for the configured backend:
// a native embeddings API, chat-model synthesis, or the native API with
// synthesis as a circuit-broken fallback ("auto").
func (a *App) initEmbeddings() error {
	if a.embedder != nil {
		return nil // injected
	}

	switch a.cfg.Embeddings.Backend {
	case config.EmbeddingsOpenAI:
		p, err := a.registry.CreateEmbeddings("openai", a.cfg.Embeddings)
		if err != nil {
			return err
		}
		a.embedder = p

	case config.EmbeddingsSynthetic:
		synth, err := a.newSynthesizer()
		if err != nil {
			return err
		}
		a.embedder = synth

	case config.EmbeddingsAuto:
		primary, err := a.registry.CreateEmbeddings("openai", a.cfg.Embeddings)
		if err != nil {
			return err
		}
		fb := resilience.NewEmbeddingFallback(primary, "openai", resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Name: "embeddings"},
		})
		synth, err := a.newSynthesizer()
		if err != nil {
			return err
		}
		fb.AddFallback("synthetic", synth)
		a.embedder = fb

	default:
		return fmt.Errorf("unknown embeddings backend %q", a.cfg.Embeddings.Backend)
	}

	slog.Info("embeddings provider ready",
		"backend", a.cfg.Embeddings.Backend,
		"model", a.embedder.ModelID(),
		"dimensions", a.embedder.Dimensions())
	return nil
}

// newSynthesizer builds the chat-model embedding synthesizer on top of the
// credential pool.
func (a *App) newSynthesizer() (*embed.Synthesizer, error) {
	llmCfg := a.cfg.LLM
	factory := func(secret string) (llm.Provider, error) {
		if secret == "local" {
			secret = ""
		}
		return a.registry.CreateLLM(llmCfg, secret)
	}

	var opts []embed.Option
	if d := a.cfg.Embeddings.Dimensions; d > 0 {
		opts = append(opts, embed.WithDimensions(d))
	}
	if n := a.cfg.Embeddings.SynthesisAttempts; n > 0 {
		opts = append(opts, embed.WithAttempts(n))
	}
	return embed.New(a.pool, factory, opts...)
}

// initVectorStore connects to the configured vector backend.
func (a *App) initVectorStore(ctx context.Context) error {
	if a.store != nil && a.control != nil {
		return nil // injected
	}

	dims := a.cfg.Embeddings.Dimensions

	switch a.cfg.Vector.Backend {
	case config.VectorPinecone:
		pc := a.cfg.Vector.Pinecone
		var opts []pinecone.Option
		if pc.ControlURL != "" {
			opts = append(opts, pinecone.WithControlURL(pc.ControlURL))
		}
		client, err := pinecone.New(pc.APIKey, a.cfg.Vector.Index, opts...)
		if err != nil {
			return err
		}
		a.store = client
		a.control = client

	case config.VectorPostgres:
		store, err := postgres.New(ctx, a.cfg.Vector.Postgres.DSN, dims)
		if err != nil {
			return err
		}
		a.store = store
		a.control = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})

	default:
		return fmt.Errorf("unknown vector backend %q", a.cfg.Vector.Backend)
	}

	slog.Info("vector store connected", "backend", a.cfg.Vector.Backend, "index", a.cfg.Vector.Index)
	return nil
}

// initIndex provisions the vector index and blocks until it is ready. A
// provisioning failure is fatal: the engine never serves against an index in
// an unknown state.
func (a *App) initIndex(ctx context.Context) error {
	spec := vector.IndexSpec{
		Name:      a.cfg.Vector.Index,
		Dimension: a.cfg.Embeddings.Dimensions,
		Metric:    a.cfg.Vector.Metric,
		Cloud:     a.cfg.Vector.Pinecone.Cloud,
		Region:    a.cfg.Vector.Pinecone.Region,
	}

	mgr, err := index.NewManager(a.control, spec)
	if err != nil {
		return err
	}
	a.index = mgr

	start := time.Now()
	if err := mgr.EnsureReady(ctx); err != nil {
		return fmt.Errorf("index %q not ready: %w", spec.Name, err)
	}
	a.metrics.IndexProvisionDuration.Record(ctx, time.Since(start).Seconds())
	return nil
}

// initEngine builds the retrieval engine and the prompt assembler on top of it.
func (a *App) initEngine() error {
	var engOpts []recall.Option
	if k := a.cfg.Memory.TopK; k > 0 {
		engOpts = append(engOpts, recall.WithTopK(k))
	}

	eng, err := recall.NewEngine(a.embedder, a.store, a.index, engOpts...)
	if err != nil {
		return err
	}
	a.engine = eng

	var asmOpts []prompt.Option
	if k := a.cfg.Memory.TopK; k > 0 {
		asmOpts = append(asmOpts, prompt.WithMaxExcerpts(k))
	}
	if n := a.cfg.Memory.ExcerptChars; n > 0 {
		asmOpts = append(asmOpts, prompt.WithExcerptChars(n))
	}
	a.assembler = prompt.NewAssembler(eng, asmOpts...)
	return nil
}

// initHTTP assembles the serving mux: health probes, Prometheus metrics, and
// the MCP tool endpoint when enabled.
func (a *App) initHTTP() error {
	mux := http.NewServeMux()

	checkers := []health.Checker{
		health.IndexChecker(a.index),
		health.CredentialChecker(a.pool),
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	if a.cfg.MCP.Enabled {
		tools, err := memorytool.NewServer(a.engine, memorytool.WithMetrics(a.metrics))
		if err != nil {
			return err
		}
		a.tools = tools
		mux.Handle("/mcp", tools.HTTPHandler())
		slog.Info("MCP tool endpoint enabled", "path", "/mcp")
	}

	a.handler = observe.Middleware(a.metrics)(mux)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the retrieval engine.
func (a *App) Engine() *recall.Engine {
	return a.engine
}

// Assembler returns the prompt context assembler.
func (a *App) Assembler() *prompt.Assembler {
	return a.assembler
}

// Handler returns the root HTTP handler, including middleware.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Pool returns the credential rotation pool.
func (a *App) Pool() *credential.Pool {
	return a.pool
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured listen address and blocks until ctx is
// cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	return ctx.Err()
}

// ─── Config reload ───────────────────────────────────────────────────────────

// HandleConfigChange applies hot-reloadable changes between two configs. It
// is intended as the config watcher's onChange callback. Changes outside the
// tracked set require a restart and are ignored with a log line.
func (a *App) HandleConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		slog.Info("config changed but no hot-reloadable field differs; restart to apply")
		return
	}

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.APIKeysChanged {
		if err := a.pool.Replace(new.LLM.APIKeys); err != nil {
			slog.Error("credential pool not replaced, keeping previous keys", "err", err)
		}
	}

	if d.MemoryChanged {
		// TopK and excerpt caps are bound at construction time.
		slog.Info("memory tuning changed; restart to apply", "top_k", new.Memory.TopK)
	}
}

// slogLevel maps a config log level to its slog equivalent.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
