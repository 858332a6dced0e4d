// Package logging configures the global slog logger for ledgersync commands.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pwntr/tinter"
)

// Format selects the log output format.
type Format string

const (
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat converts a string to a Format, returning FormatAuto for unknown values.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "text", "tint", "human":
		return FormatText
	case "json":
		return FormatJSON
	default:
		return FormatAuto
	}
}

// ParseLevel converts a string to a slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// secretKeys are attribute keys whose values never reach the log.
var secretKeys = map[string]bool{
	"secret":         true,
	"sync_id":        true,
	"syncId":         true,
	"passphrase":     true,
	"tls_passphrase": true,
}

// redactSecrets replaces the value of any attribute named in secretKeys.
func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[a.Key] {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

// NewHandler returns the handler Setup would install, writing to w.
func NewHandler(w io.Writer, format Format, level slog.Level) slog.Handler {
	if format == FormatText || (format == FormatAuto && IsTTY(w)) {
		return tinter.NewHandler(w, &tinter.Options{
			Level:       level,
			TimeFormat:  "15:04:05.000",
			ReplaceAttr: redactSecrets,
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: redactSecrets})
}

// Setup configures the global slog logger on stderr. Call once after
// flag/viper parsing.
func Setup(format Format, level slog.Level) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, format, level)))
}
