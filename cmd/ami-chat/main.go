// Ami-chat runs one Ami conversation in the terminal, without the HTTP
// service. It reads the same environment as the ami binary; only the
// persona, generator and timing settings apply.
//
// Logs go to AMI_CHAT_LOG when set and are discarded otherwise.
package main

import (
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/thriveai/ami/common/environment"
	"github.com/thriveai/ami/internal/ami/app"
	"github.com/thriveai/ami/internal/ami/config"
	"github.com/thriveai/ami/internal/ami/observability"
	"github.com/thriveai/ami/internal/ami/responder"
	"github.com/thriveai/ami/internal/ami/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error:\n%w", err)
	}

	logger := observability.Discard()
	if path := environment.StringOr("AMI_CHAT_LOG", ""); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer f.Close()
		logger = observability.NewLogger(f, cfg.LogLevel, cfg.LogFormat)
	}
	slog.SetDefault(logger)

	p, err := app.LoadPersona(cfg.PersonaFile)
	if err != nil {
		return err
	}
	gen, _ := app.NewGenerator(cfg, p, responder.New(p))

	sh := newShell()
	ctrl, err := session.New(session.Options{
		Persona:   p,
		Generator: gen,
		Notifier:  sh,
		Navigator: sh,
		Logger:    logger,
		Timing:    cfg.Timing,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()
	unsubscribe := ctrl.Subscribe(sh.observe)
	defer unsubscribe()
	ctrl.Open(true)

	_, err = tea.NewProgram(newModel(ctrl, sh), tea.WithAltScreen()).Run()
	return err
}
