// Package app wires Ami's components into a runnable service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/thriveai/ami/common/crypto"
	"github.com/thriveai/ami/common/version"
	"github.com/thriveai/ami/internal/ami/config"
	"github.com/thriveai/ami/internal/ami/generator"
	"github.com/thriveai/ami/internal/ami/httpapi"
	"github.com/thriveai/ami/internal/ami/matrix"
	"github.com/thriveai/ami/internal/ami/persona"
	"github.com/thriveai/ami/internal/ami/responder"
	"github.com/thriveai/ami/internal/ami/session"
	"github.com/thriveai/ami/internal/ami/store"
	"github.com/thriveai/ami/internal/ami/transcript"
)

const shutdownTimeout = 10 * time.Second

// App is one Ami process: the session registry with every surface that
// feeds it. Build it with New, run it with Run or RunContext, and release
// it with Stop.
type App struct {
	cfg *config.Config
	log *slog.Logger

	store        *store.Store
	archive      transcript.Archive
	closeArchive func() error
	recorder     *transcript.Recorder
	registry     *session.Registry
	server       *httpapi.Server
	reaper       *session.Reaper
	matrix       *matrix.Client
	bridge       *matrix.Bridge

	stopOnce sync.Once
}

// New builds every component named by cfg without starting any of them.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, log: logger, closeArchive: func() error { return nil }}
	if err := a.build(); err != nil {
		a.Stop()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg

	p, err := LoadPersona(cfg.PersonaFile)
	if err != nil {
		return err
	}
	classifier := responder.New(p)

	if cfg.NeedsDatabase() {
		if a.store, err = store.New(cfg.DatabasePath); err != nil {
			return fmt.Errorf("open database: %w", err)
		}
	}

	gen, limiter := NewGenerator(cfg, p, classifier)

	var key []byte
	if cfg.Transcripts.Key != "" {
		if key, err = crypto.ParseKey(cfg.Transcripts.Key); err != nil {
			return fmt.Errorf("transcript key: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.archive, a.closeArchive, err = transcript.Open(ctx, transcript.Options{
		Backend:  cfg.Transcripts.Backend,
		Store:    a.store,
		RedisURL: cfg.Transcripts.RedisURL,
		RedisTTL: cfg.Transcripts.RedisTTL,
		Key:      key,
	})
	if err != nil {
		a.closeArchive = func() error { return nil }
		return fmt.Errorf("open transcripts: %w", err)
	}

	a.registry = session.NewRegistry(session.Options{
		Persona:   p,
		Generator: gen,
		Logger:    a.log,
		Timing:    cfg.Timing,
	})
	if limiter != nil {
		a.registry.OnClose(limiter.Forget)
	}
	if _, nop := a.archive.(transcript.Nop); !nop {
		a.recorder = transcript.NewRecorder(a.archive, a.log)
		a.registry.OnCreate(a.recorder.Attach)
		a.registry.OnClose(a.recorder.Detach)
	}

	a.server = httpapi.New(httpapi.Deps{
		Registry:      a.registry,
		Hub:           httpapi.NewHub(a.log),
		Archive:       a.archive,
		Recorder:      a.recorder,
		Limiter:       limiter,
		Logger:        a.log,
		GeneratorMode: cfg.Generator,
		Backend:       cfg.Transcripts.Backend,
	})

	if cfg.Matrix.Enabled() {
		a.matrix, err = matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			Rooms:       cfg.Matrix.Rooms,
			DB:          a.store.DB(),
			Logger:      a.log,
		})
		if err != nil {
			return err
		}
		a.bridge = matrix.NewBridge(matrix.BridgeConfig{
			Registry:   a.registry,
			Sender:     a.matrix,
			Logger:     a.log,
			Engagement: cfg.Matrix.Engagement,
		})
	}

	a.reaper = session.NewReaper(a.registry, cfg.SessionIdleTTL, cfg.ReapInterval, time.Now, a.log)
	return nil
}

// NewGenerator builds the reply generator cfg selects. The rate limiter is
// nil for the local generator.
func NewGenerator(cfg *config.Config, p *persona.Persona, classifier *responder.Responder) (generator.Generator, *generator.RateLimiter) {
	if cfg.Generator != config.GeneratorRemote {
		return generator.NewLocal(classifier), nil
	}
	limiter := generator.NewRateLimiter(cfg.Remote.RateLimit, cfg.Remote.RateWindow, nil)
	return generator.NewRemote(generator.RemoteConfig{
		APIKey:       cfg.Remote.APIKey,
		BaseURL:      cfg.Remote.BaseURL,
		Model:        cfg.Remote.Model,
		Timeout:      cfg.Remote.Timeout,
		MaxTokens:    cfg.Remote.MaxTokens,
		HistoryTurns: cfg.Remote.HistoryTurns,
	}, classifier, p.Style, limiter), limiter
}

// LoadPersona reads path, or returns the built-in persona when path is
// empty.
func LoadPersona(path string) (*persona.Persona, error) {
	if path == "" {
		return persona.Default()
	}
	p, err := persona.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load persona %s: %w", path, err)
	}
	return p, nil
}

// Registry exposes the live sessions.
func (a *App) Registry() *session.Registry { return a.registry }

// Handler is the HTTP router.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Run starts the service and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts the service and blocks until ctx ends or the HTTP
// server fails.
func (a *App) RunContext(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.log.Info("starting ami", "version", version.String(), "config", a.cfg.Summary())

	go a.reaper.Run(ctx)

	if a.matrix != nil {
		if err := a.matrix.Start(ctx, a.bridge.OnEvent); err != nil {
			return fmt.Errorf("start matrix: %w", err)
		}
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.server.ListenAndServe(a.cfg.HTTPAddr) }()

	a.log.Info("ami is running")
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
		return nil
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// Stop releases everything New and Run acquired. It is safe to call more
// than once.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		if a.reaper != nil {
			a.reaper.Stop()
		}
		if a.matrix != nil {
			a.log.Info("stopping matrix client")
			a.matrix.Stop()
		}
		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.server.Shutdown(ctx); err != nil {
				a.log.Warn("http shutdown", "err", err)
			}
			cancel()
		}
		if a.registry != nil {
			a.registry.CloseAll()
		}
		if a.bridge != nil {
			a.bridge.Close()
		}
		if a.recorder != nil {
			a.recorder.Close()
		}
		if err := a.closeArchive(); err != nil {
			a.log.Warn("close transcripts", "err", err)
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				a.log.Warn("close database", "err", err)
			}
		}
	})
}
