// internal/logger/styled.go
package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/cqlcore/driver/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting methods for
// the handful of cluster-operator-facing messages that benefit from
// consistent framing: host up/down, schema refresh, reconnection.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

func NewStyledLogger(logger *slog.Logger, t *theme.Theme) *StyledLogger {
	return &StyledLogger{logger: logger, theme: t}
}

func (sl *StyledLogger) Debug(msg string, args ...any) { sl.logger.Debug(msg, args...) }
func (sl *StyledLogger) Info(msg string, args ...any)  { sl.logger.Info(msg, args...) }
func (sl *StyledLogger) Warn(msg string, args ...any)  { sl.logger.Warn(msg, args...) }
func (sl *StyledLogger) Error(msg string, args ...any) { sl.logger.Error(msg, args...) }

// InfoWithHost logs an informational message with the endpoint
// highlighted, used for host up/ignore transitions.
func (sl *StyledLogger) InfoWithHost(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Highlight.Sprint(endpoint))
	sl.logger.Info(styledMsg, args...)
}

// WarnWithHost logs a warning with the endpoint highlighted, used for
// host-down and reconnection-scheduled messages.
func (sl *StyledLogger) WarnWithHost(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Warn.Sprint(endpoint))
	sl.logger.Warn(styledMsg, args...)
}

// InfoHostStatus logs a host's up/down/ignored transition with the
// status word coloured per the conventional good/danger/warning palette
// (any status other than "up" or "down" uses the warning colour).
func (sl *StyledLogger) InfoHostStatus(msg, endpoint, status string, args ...any) {
	var c pterm.Color
	switch status {
	case "up":
		c = sl.theme.Good
	case "down":
		c = sl.theme.Danger
	default:
		c = sl.theme.Warning
	}
	styledMsg := fmt.Sprintf("%s %s is %s", msg, sl.theme.Highlight.Sprint(endpoint), pterm.NewStyle(c).Sprint(status))
	sl.logger.Info(styledMsg, args...)
}

// InfoSchemaRefresh logs a coalesced schema-change flush, naming the
// keyspace/object pair and the terminal event that triggered it.
func (sl *StyledLogger) InfoSchemaRefresh(keyspace, object, event string, args ...any) {
	target := keyspace
	if object != "" {
		target = keyspace + "." + object
	}
	styledMsg := fmt.Sprintf("schema refresh: %s (%s)", sl.theme.Accent.Sprint(target), event)
	sl.logger.Info(styledMsg, args...)
}

// InfoWithCount logs a message with a parenthesised count highlighted,
// used for pool-size and cluster-topology summaries.
func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s (%s)", msg, sl.theme.Muted.Sprint(count))
	sl.logger.Info(styledMsg, args...)
}

// GetUnderlying returns the underlying slog.Logger for call sites that
// need direct access (e.g. passing into a stdlib API expecting *slog.Logger).
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs returns a derived StyledLogger carrying additional
// structured attributes.
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}
	return &StyledLogger{logger: sl.logger.With(args...), theme: sl.theme}
}

// With returns a derived StyledLogger carrying additional key-value pairs.
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{logger: sl.logger.With(args...), theme: sl.theme}
}

// NewWithTheme builds both the plain slog.Logger and its StyledLogger
// wrapper from one Config.
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	l, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	appTheme := theme.GetTheme(cfg.Theme)
	return l, NewStyledLogger(l, appTheme), cleanup, nil
}
