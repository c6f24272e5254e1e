// Package logging builds the structured logger and keeps credentials
// out of log output.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Masked replaces sensitive values in log output.
const Masked = "[REDACTED]"

// sensitiveKeys lists attribute names whose values never reach a log
// line. Matching is by substring on the lowercased key.
var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"session",
	"authorization",
	"bearer",
	"cookie",
	"api_key",
	"apikey",
	"credential",
	"private_key",
}

// IsSensitiveKey reports whether an attribute name must be masked.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// MaskValue masks a value when its attribute name is sensitive.
func MaskValue(key, value string) string {
	if value == "" {
		return value
	}
	if IsSensitiveKey(key) {
		return Masked
	}
	return value
}

// MaskToken shows the first four characters of a token for log
// correlation and hides the rest.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return Masked
	}
	return token[:4] + "****"
}

// redactAttr is the slog ReplaceAttr hook that masks sensitive values.
func redactAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		a.Value = slog.StringValue(MaskValue(a.Key, a.Value.String()))
		return a
	}
	if IsSensitiveKey(a.Key) {
		a.Value = slog.StringValue(Masked)
	}
	return a
}

// Config selects the log output format and verbosity.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns info-level JSON logging.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

// New builds the service logger. Attributes with sensitive names are
// masked regardless of call site.
func New(cfg Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}
