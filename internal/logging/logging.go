package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// ParseLevel maps "debug", "info", "warn" and "error" (case-insensitive) to a
// slog level. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup creates the process logger on stderr, sets it as the default, and
// returns it. Colors are used only when stderr is a terminal.
func Setup(level string) *slog.Logger {
	noColor := !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd())
	logger := New(colorable.NewColorable(os.Stderr), ParseLevel(level), noColor)
	slog.SetDefault(logger)
	return logger
}

// New returns a tint logger writing to w. Empty string attributes are dropped.
func New(w io.Writer, level slog.Leveler, noColor bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString && a.Value.String() == "" && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	}))
}
