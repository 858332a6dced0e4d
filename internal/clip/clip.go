// Package clip moves Sync IDs between the terminal and the system clipboard.
//
// The system backend uses golang.design/x/clipboard. Where no display is
// available (headless servers, containers, CI) New falls back to a backend
// that reports ErrUnavailable, so callers can print the value instead.
package clip

import (
	"errors"
	"log/slog"
	"sync"

	"golang.design/x/clipboard"
)

// ErrUnavailable is returned by the headless backend.
var ErrUnavailable = errors.New("clip: no system clipboard")

// Backend reads and writes clipboard text.
type Backend interface {
	Name() string
	ReadText() (string, error)
	WriteText(s string) error
}

var (
	initOnce sync.Once
	initErr  error
)

// New returns the system clipboard, or a headless backend if it cannot be
// initialised. The first call runs clipboard.Init.
func New() Backend {
	initOnce.Do(func() { initErr = clipboard.Init() })
	if initErr != nil {
		slog.Debug("clipboard unavailable, running headless", "err", initErr)
		return headless{}
	}
	return system{}
}

type system struct{}

func (system) Name() string { return "system clipboard" }

func (system) ReadText() (string, error) {
	return string(clipboard.Read(clipboard.FmtText)), nil
}

func (system) WriteText(s string) error {
	clipboard.Write(clipboard.FmtText, []byte(s))
	return nil
}

type headless struct{}

func (headless) Name() string              { return "headless (no-op)" }
func (headless) ReadText() (string, error) { return "", ErrUnavailable }
func (headless) WriteText(string) error    { return ErrUnavailable }

// Memory is an in-process Backend.
type Memory struct {
	mu   sync.Mutex
	text string
}

func (*Memory) Name() string { return "memory" }

func (m *Memory) ReadText() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

func (m *Memory) WriteText(s string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = s
	return nil
}
