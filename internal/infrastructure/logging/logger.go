package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/warden-core/internal/infrastructure/config"
)

const (
	serviceName = "warden"
	redacted    = "[REDACTED]"
)

// sensitiveKeys are lower-cased attribute keys whose values never reach a sink.
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"password_hash": {},
	"salt":          {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"secret":        {},
	"passphrase":    {},
	"authorization": {},
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Logger is a slog.Logger carrying the service and version on every record
// and redacting credential-named attributes. It is safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from config. Output "stderr" selects stderr; anything
// else writes to stdout. Format "text" selects the text handler; anything
// else is JSON.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return newWithWriter(cfg, version, out)
}

func newWithWriter(cfg config.LoggingConfig, version string, out io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactSecrets,
	}

	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	}

	return &Logger{Logger: slog.New(h).With("service", serviceName, "version", version)}
}

// redactSecrets is a slog ReplaceAttr hook. Group nesting is ignored: a
// "token" attribute is redacted wherever it appears.
func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	return a
}

// parseLevel maps debug, info, warn(ing) and error. Unknown levels are info.
func parseLevel(level string) slog.Level {
	if l, ok := levels[strings.ToLower(level)]; ok {
		return l
	}
	return slog.LevelInfo
}

// With returns a child Logger with extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component tags every record of the child with component=name.
//
//	log.Component("audit").Warn("fan-out queue full")
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the logger used before config is loaded: JSON, info, stdout.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
