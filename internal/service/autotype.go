package service

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/joncrangle/win-autotype/internal/autotype"
	"github.com/joncrangle/win-autotype/internal/config"
)

// Autotype serializes autotype requests. Keyboard state is global to the
// desktop, so two typing sequences must never interleave.
type Autotype struct {
	mu        sync.Mutex
	platform  autotype.Platform
	logger    *slog.Logger
	injector  atomic.Pointer[autotype.Injector]
	inspector atomic.Pointer[autotype.Inspector]
}

func NewAutotype(p autotype.Platform, logger *slog.Logger, cfg *config.Config) *Autotype {
	a := &Autotype{platform: p, logger: logger}
	a.Reconfigure(cfg)
	return a
}

// Reconfigure applies the key delay and window walk limit of cfg. A typing
// sequence already running finishes with the old settings.
func (a *Autotype) Reconfigure(cfg *config.Config) {
	a.injector.Store(autotype.NewInjector(a.platform, a.logger, cfg.KeyDelay()))
	a.inspector.Store(autotype.NewInspector(a.platform, a.logger, cfg.MaxWindowWalk))
}

func (a *Autotype) SendText(text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Debug("Autotype text", slog.Int("chars", utf8.RuneCountInString(text)))
	return a.injector.Load().SendText(text)
}

func (a *Autotype) SendLogin(username, password string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Debug("Autotype login",
		slog.Int("username_chars", utf8.RuneCountInString(username)),
		slog.Int("password_chars", utf8.RuneCountInString(password)))
	return a.injector.Load().SendLogin(username, password)
}

func (a *Autotype) ReleaseModifiers() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.injector.Load().ReleaseModifiers()
}

func (a *Autotype) ActiveWindowURL() (string, error) {
	return a.inspector.Load().ActiveWindowURL()
}

func (a *Autotype) NextWindowURL() (string, error) {
	return a.inspector.Load().NextWindowURL()
}

func (a *Autotype) ActiveWindowTitle() (string, error) {
	return a.inspector.Load().ActiveWindowTitle()
}

func (a *Autotype) ActiveWindow() (autotype.WindowIdentity, error) {
	return a.inspector.Load().ActiveWindow()
}

func (a *Autotype) NextWindow() (autotype.WindowIdentity, error) {
	return a.inspector.Load().NextWindow()
}
