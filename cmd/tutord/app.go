package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/budget"
	"github.com/fyrsmithlabs/tutord/internal/config"
	"github.com/fyrsmithlabs/tutord/internal/conversation"
	"github.com/fyrsmithlabs/tutord/internal/courseproxy"
	"github.com/fyrsmithlabs/tutord/internal/embeddings"
	"github.com/fyrsmithlabs/tutord/internal/interactions"
	"github.com/fyrsmithlabs/tutord/internal/logging"
	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
	"github.com/fyrsmithlabs/tutord/internal/prompt"
	"github.com/fyrsmithlabs/tutord/internal/provider"
	"github.com/fyrsmithlabs/tutord/internal/quality"
	"github.com/fyrsmithlabs/tutord/internal/retrieval"
	"github.com/fyrsmithlabs/tutord/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/tutord"

// logToStderr is set by commands that speak a protocol on stdout.
var logToStderr bool

// app holds the process-wide dependencies shared by every command.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry

	closers []io.Closer
}

// newApp loads configuration and starts logging and telemetry.
func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging, cfg.Telemetry.Enabled)
	if err != nil {
		return nil, err
	}
	logCfg.Fields = map[string]string{"service": cfg.Telemetry.ServiceName, "version": version}
	logCfg.Output.Stderr = logToStderr
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &app{cfg: cfg, logger: logger, tel: tel}, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *app) track(c io.Closer) {
	a.closers = append(a.closers, c)
}

// budgetStore opens the health point ledger named by storage.driver.
func (a *app) budgetStore() (budget.Store, error) {
	switch a.cfg.Storage.Driver {
	case "sqlite":
		s, err := budget.OpenSQLiteStore(a.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.track(s)
		return s, nil
	default:
		return budget.NewMemoryStore(), nil
	}
}

// tracker builds the health point tracker. Unlimited users are honored only
// in development mode.
func (a *app) tracker() (*budget.Tracker, error) {
	store, err := a.budgetStore()
	if err != nil {
		return nil, err
	}
	opts := []budget.Option{
		budget.WithMaxPoints(a.cfg.Budget.MaxPoints),
		budget.WithRegenInterval(a.cfg.Budget.RegenInterval.Duration()),
		budget.WithLogger(a.logger),
	}
	if a.cfg.Server.DevelopmentMode && len(a.cfg.Budget.UnlimitedUsers) > 0 {
		a.logger.Warn(context.Background(), "development mode: unlimited users enabled",
			zap.Int("count", len(a.cfg.Budget.UnlimitedUsers)))
		opts = append(opts, budget.WithUnlimitedUsers(a.cfg.Budget.UnlimitedUsers...))
	}
	return budget.NewTracker(store, opts...)
}

// courseProxy returns a proxy client when either the backend or retrieval
// goes through the course proxy.
func (a *app) courseProxy() (*courseproxy.Client, error) {
	if a.cfg.Provider.Backend != "proxy" && a.cfg.Retrieval.Backend != "proxy" {
		return nil, nil
	}
	return courseproxy.New(courseproxy.Config{
		Endpoint:  a.cfg.Provider.BaseURL,
		APIKey:    a.cfg.Provider.APIKey.Value(),
		RateLimit: a.cfg.Provider.RateLimit,
		Timeout:   a.cfg.Provider.Timeout.Duration(),
	})
}

// searcher builds the course content backend. It returns nil for "none".
func (a *app) searcher(proxy *courseproxy.Client) (retrieval.Searcher, error) {
	rc := a.cfg.Retrieval
	switch rc.Backend {
	case "chromem", "qdrant":
		return a.store()
	case "proxy":
		return retrieval.NewProxySearcher(proxy, rc.Threshold, rc.MaxHits)
	default:
		return nil, nil
	}
}

// indexStore is a local vector collection that can be searched and written.
type indexStore interface {
	retrieval.Searcher
	retrieval.Writer
}

// store opens the chromem or qdrant collection for search and ingest.
func (a *app) store() (indexStore, error) {
	rc := a.cfg.Retrieval
	embedder, err := a.embedder()
	if err != nil {
		return nil, err
	}
	switch rc.Backend {
	case "chromem":
		return retrieval.NewChromemSearcher(retrieval.ChromemConfig{
			Path:       rc.Chromem.Path,
			Compress:   rc.Chromem.Compress,
			Collection: rc.Chromem.Collection,
			MaxHits:    rc.MaxHits,
		}, embedder)
	case "qdrant":
		s, err := retrieval.NewQdrantSearcher(retrieval.QdrantConfig{
			Host:       rc.Qdrant.Host,
			Port:       rc.Qdrant.Port,
			APIKey:     rc.Qdrant.APIKey.Value(),
			UseTLS:     rc.Qdrant.UseTLS,
			Collection: rc.Qdrant.Collection,
			MaxHits:    rc.MaxHits,
		}, embedder)
		if err != nil {
			return nil, err
		}
		a.track(s)
		return s, nil
	}
	return nil, fmt.Errorf("retrieval.backend %q has no local index", rc.Backend)
}

// embedder builds the embedder named by retrieval.embedder, instrumented
// with the embedding metrics.
func (a *app) embedder() (retrieval.Embedder, error) {
	var (
		e     embeddings.Embedder
		model string
	)
	switch a.cfg.Retrieval.Embedder {
	case "local":
		lc := a.cfg.Retrieval.Local
		local, err := embeddings.NewLocal(embeddings.LocalConfig{
			Model:     lc.Model,
			CacheDir:  lc.CacheDir,
			MaxLength: lc.MaxLength,
		})
		if err != nil {
			return nil, err
		}
		a.track(local)
		e, model = local, lc.Model
	default:
		pe, err := provider.NewEmbedder(a.cfg.Provider)
		if err != nil {
			return nil, err
		}
		e, model = pe, a.cfg.Provider.EmbeddingModel
	}
	a.logger.Debug(context.Background(), "embedder ready",
		zap.String("embedder", a.cfg.Retrieval.Embedder),
		zap.String("model", model),
	)
	metrics := embeddings.NewMetrics(a.tel.Meter(instrumentationName), a.logger.Underlying())
	return embeddings.Instrument(e, model, metrics), nil
}

// pipeline holds the wired request pipeline and its long-lived parts.
type pipeline struct {
	orch     *orchestrator.Orchestrator
	tracker  *budget.Tracker
	prompt   *prompt.File
	recorder *interactions.AsyncRecorder
}

// pipeline wires every collaborator of the orchestrator from configuration.
func (a *app) pipeline() (*pipeline, error) {
	cfg := a.cfg
	tracer := a.tel.Tracer(instrumentationName)
	meter := a.tel.Meter(instrumentationName)

	tracker, err := a.tracker()
	if err != nil {
		return nil, fmt.Errorf("budget: %w", err)
	}

	proxy, err := a.courseProxy()
	if err != nil {
		return nil, fmt.Errorf("course proxy: %w", err)
	}

	var retriever *retrieval.Retriever
	searcher, err := a.searcher(proxy)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	if searcher != nil {
		retriever, err = retrieval.NewRetriever(searcher,
			retrieval.WithTimeout(cfg.Retrieval.Timeout.Duration()),
			retrieval.WithLogger(a.logger),
			retrieval.WithTracer(tracer),
		)
		if err != nil {
			return nil, fmt.Errorf("retrieval: %w", err)
		}
	}

	backend, err := provider.NewBackend(cfg.Provider, proxy)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	gwOpts := []provider.Option{
		provider.WithLogger(a.logger),
		provider.WithTracer(tracer),
		provider.WithMetrics(provider.NewMetrics(meter, a.logger.Underlying())),
	}
	gateway, err := provider.New(cfg.Provider, backend, retriever, gwOpts...)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	var judge quality.Judge = quality.Skip{}
	if !cfg.Quality.Disabled {
		judgeGateway, err := provider.NewPlain(backend,
			append(gwOpts, provider.WithTimeout(cfg.Provider.Timeout.Duration()))...)
		if err != nil {
			return nil, fmt.Errorf("quality: %w", err)
		}
		judge, err = quality.NewValidator(judgeGateway,
			quality.WithThreshold(cfg.Quality.Threshold),
			quality.WithTemperature(cfg.Quality.Temperature),
			quality.WithLogger(a.logger),
			quality.WithTracer(tracer),
		)
		if err != nil {
			return nil, fmt.Errorf("quality: %w", err)
		}
	}

	sysPrompt, err := prompt.Load(cfg.Prompt.Path, a.logger)
	if err != nil {
		return nil, fmt.Errorf("prompt: %w", err)
	}

	sessions, err := conversation.NewStore(cfg.Conversation.MaxSessions, cfg.Conversation.MaxTurns)
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}

	recorder, err := interactions.Open(cfg.Interactions, a.logger)
	if err != nil {
		return nil, fmt.Errorf("interactions: %w", err)
	}

	degrade, err := orchestrator.ParseDegradePolicy(cfg.Orchestrator.DegradePolicy)
	if err != nil {
		return nil, err
	}
	orch, err := orchestrator.New(orchestrator.Deps{
		Budget:   tracker,
		Gateway:  gateway,
		Judge:    judge,
		Prompt:   sysPrompt,
		Sessions: sessions,
		Recorder: recorder,
	},
		orchestrator.WithDegradePolicy(degrade),
		orchestrator.WithCaveat(cfg.Orchestrator.Caveat),
		orchestrator.WithRetrieval(cfg.Retrieval.Threshold, cfg.Retrieval.TopK),
		orchestrator.WithGeneration(cfg.Provider.Temperature, cfg.Provider.MaxTokens),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithTracer(tracer),
		orchestrator.WithMetrics(orchestrator.NewMetrics(meter, a.logger.Underlying())),
	)
	if err != nil {
		_ = recorder.Close(context.Background())
		return nil, err
	}

	a.logger.Info(context.Background(), "pipeline ready",
		zap.String("provider_kind", cfg.Provider.Kind),
		zap.String("provider_backend", cfg.Provider.Backend),
		zap.String("retrieval_backend", cfg.Retrieval.Backend),
		zap.Bool("quality_enabled", !cfg.Quality.Disabled),
		zap.String("degrade_policy", string(degrade)),
		zap.String("interactions_sink", cfg.Interactions.Sink),
	)
	return &pipeline{orch: orch, tracker: tracker, prompt: sysPrompt, recorder: recorder}, nil
}
