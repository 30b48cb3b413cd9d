package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ChamsBouzaiene/rexec/internal/config"
	"github.com/ChamsBouzaiene/rexec/internal/engine"
	"github.com/ChamsBouzaiene/rexec/internal/generator"
	"github.com/ChamsBouzaiene/rexec/internal/providers"
	"github.com/ChamsBouzaiene/rexec/internal/sandbox"
	"github.com/ChamsBouzaiene/rexec/internal/store"
)

var log = slog.Default()

func setDefaultLogger(l *slog.Logger) {
	log = l
	slog.SetDefault(l)
}

// history bundles run persistence and search.
type history struct {
	DB     *store.DB
	Search *store.SearchIndex
}

func (h *history) Close() {
	if h == nil {
		return
	}
	if h.Search != nil {
		h.Search.Close()
	}
	if h.DB != nil {
		h.DB.Close()
	}
}

// Record stores a finished run. Failures are logged, never returned, so a
// broken history never hides a run result.
func (h *history) Record(ctx context.Context, st *engine.RunState) {
	if h == nil || st == nil {
		return
	}
	// The run context may be cancelled; persistence must still happen.
	ctx = context.WithoutCancel(ctx)
	if err := h.DB.SaveRun(ctx, st); err != nil {
		log.Warn("failed to save run", "run", st.ID, "error", err)
	}
	if h.Search != nil {
		if err := h.Search.Index(st); err != nil {
			log.Warn("failed to index run", "run", st.ID, "error", err)
		}
	}
}

func openHistory(ctx context.Context, cfgManager *config.Manager) (*history, error) {
	dir := dataDir
	if dir == "" {
		dir = cfgManager.Dir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := store.NewDB(ctx, filepath.Join(dir, "history.db"))
	if err != nil {
		return nil, err
	}
	search, err := store.NewSearchIndex(filepath.Join(dir, "search.bleve"))
	if err != nil {
		log.Warn("history search unavailable", "error", err)
		search = nil
	}
	return &history{DB: db, Search: search}, nil
}

type runtimeEnv struct {
	Config    *config.Config
	Manager   *config.Manager
	Provider  string
	Model     string
	Generator *generator.LLMGenerator
	Executor  *sandbox.Executor
	History   *history
	runner    sandbox.Runner
}

func (r *runtimeEnv) Close() {
	r.History.Close()
	if c, ok := r.runner.(interface{ Close() error }); ok {
		c.Close()
	}
}

// Defaults returns the run options from the user config.
func (r *runtimeEnv) Defaults() engine.RunOptions {
	return r.Config.RunOptions()
}

// Deps wires the generator and sandbox with the logger hook and any extra hooks.
func (r *runtimeEnv) Deps(extra ...engine.Hook) engine.Deps {
	hooks := engine.Hooks{engine.LoggerHook{L: log}}
	hooks = append(hooks, extra...)
	return engine.Deps{Generator: r.Generator, Sandbox: r.Executor, Hooks: hooks}
}

// loadUserConfig loads the persisted config and exports it to the environment
// so the provider factory and sandbox pick it up.
func loadUserConfig() (*config.Manager, *config.Config, error) {
	cfgManager, err := config.NewManager()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := cfgManager.Load()
	if err != nil {
		log.Warn("failed to load user config", "error", err)
		cfg = &config.Config{}
	} else if cfgManager.Exists() {
		log.Debug("user config loaded", "path", cfgManager.GetConfigPath())
	}
	cfg.ApplyEnv()
	return cfgManager, cfg, nil
}

func prepareRuntimeEnv(ctx context.Context) (*runtimeEnv, error) {
	cfgManager, cfg, err := loadUserConfig()
	if err != nil {
		return nil, err
	}

	sbxCfg := sandbox.DefaultConfig()
	if sandboxMode != "" {
		mode, err := sandbox.ParseMode(sandboxMode)
		if err != nil {
			return nil, err
		}
		sbxCfg.Mode = mode
	}
	runner, err := sandbox.NewDefaultRunner(ctx, sbxCfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	executor := sandbox.NewExecutor(runner, sbxCfg.Screen)

	client, model, err := providers.NewLLMClientFromEnv(ctx)
	if err != nil {
		if c, ok := runner.(interface{ Close() error }); ok {
			c.Close()
		}
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = "openai"
	}
	gen := generator.New(client, model, generator.Language(executor.Language()), generator.WithLogger(log))
	log.Info("runtime ready", "provider", provider, "model", model, "sandbox", sbxCfg.Mode, "language", executor.Language())

	env := &runtimeEnv{
		Config:    cfg,
		Manager:   cfgManager,
		Provider:  provider,
		Model:     model,
		Generator: gen,
		Executor:  executor,
		runner:    runner,
	}

	if !noHistory {
		h, err := openHistory(ctx, cfgManager)
		if err != nil {
			log.Warn("run history disabled", "error", err)
		} else {
			env.History = h
		}
	}
	return env, nil
}

// runOptions resolves flag values against the config defaults and reports
// values outside the recommended ranges.
func runOptions(defaults engine.RunOptions, maxAttempts, timeoutSeconds int) engine.RunOptions {
	opts := defaults
	if maxAttempts != 0 {
		opts.MaxAttempts = maxAttempts
	}
	if timeoutSeconds != 0 {
		opts = engine.OptionsFromSeconds(opts.MaxAttempts, timeoutSeconds)
	}
	for _, w := range config.CheckBounds(opts.MaxAttempts, int(opts.Timeout.Seconds())) {
		log.Warn(w)
	}
	return opts
}

// exitCode maps run errors to process exit codes.
func exitCode(err error) int {
	var failed *runFailedError
	switch {
	case engine.IsConfigurationError(err):
		return 2
	case engine.IsInfrastructure(err):
		return 3
	case errors.As(err, &failed) && failed.Status == engine.StatusCancelled:
		return 130
	default:
		return 1
	}
}

// runFailedError reports a run that ended without a successful attempt.
type runFailedError struct {
	Status engine.Status
}

func (e *runFailedError) Error() string {
	return fmt.Sprintf("run %s", e.Status)
}
