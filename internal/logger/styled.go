// internal/logger/styled.go
package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/harvestnet/harvestor/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting methods for the
// harvesting engine's CLI surface: sites, proxy forwards and listing counts.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger creates a new styled logger with the given theme.
func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		theme:  theme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Highlight.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

// InfoWithSite styles a site name, e.g. when starting or finishing a crawl.
func (sl *StyledLogger) InfoWithSite(msg string, site string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Secondary}.Sprint(site))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithSite(msg string, site string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Secondary}.Sprint(site))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorWithSite(msg string, site string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Secondary}.Sprint(site))
	sl.logger.Error(styledMsg, args...)
}

// InfoWithForward styles a proxy forward's key when logging rotation events.
func (sl *StyledLogger) InfoWithForward(msg string, forwardKey string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Primary}.Sprint(forwardKey))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithForward(msg string, forwardKey string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Warning}.Sprint(forwardKey))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorWithForward(msg string, forwardKey string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Danger}.Sprint(forwardKey))
	sl.logger.Error(styledMsg, args...)
}

// InfoBreakerState styles a per-domain circuit breaker transition.
func (sl *StyledLogger) InfoBreakerState(msg string, domainName string, state string, args ...any) {
	var color pterm.Color
	switch state {
	case "open":
		color = sl.theme.Danger
	case "half_open":
		color = sl.theme.Warning
	default:
		color = sl.theme.Good
	}
	styledMsg := fmt.Sprintf("%s %s is %s", msg, pterm.Style{sl.theme.Secondary}.Sprint(domainName), pterm.Style{color}.Sprint(state))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithPoolStats(msg string, healthy, total int, args ...any) {
	healthyStyled := pterm.Style{sl.theme.Good}.Sprint(healthy)
	totalStyled := sl.theme.Muted.Sprint(total)

	allArgs := make([]any, 0, len(args)+2)
	allArgs = append(allArgs, args...)
	allArgs = append(allArgs, "forwards_healthy", healthyStyled, "forwards_total", totalStyled)

	sl.logger.Info(msg, allArgs...)
}

// GetUnderlying returns the underlying slog.Logger for cases where direct access is needed.
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs creates a new StyledLogger with additional structured attributes.
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}

	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// With creates a new StyledLogger with additional key-value pairs.
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// NewWithTheme creates both a regular logger and a styled logger.
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styledLogger := NewStyledLogger(logger, appTheme)

	return logger, styledLogger, cleanup, nil
}
