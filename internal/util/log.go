// Package util provides logging and traffic accounting shared by every role.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Every role logs through these printf-style helpers. Session code uses
// Tagged so that concurrent sessions can be told apart.

func LogDebug(format string, args ...any) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogSuccess marks a completed milestone such as a clean shutdown. It logs
// at info level.
func LogSuccess(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug turns on the --debug output: per-command session traces and
// discovery packet logs.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Tagged prefixes every message with a short bracketed tag, e.g. a session ID.
type Tagged string

func (t Tagged) Debugf(format string, args ...any) {
	LogDebug("[%s] %s", string(t), fmt.Sprintf(format, args...))
}

func (t Tagged) Infof(format string, args ...any) {
	LogInfo("[%s] %s", string(t), fmt.Sprintf(format, args...))
}

func (t Tagged) Warnf(format string, args ...any) {
	LogWarning("[%s] %s", string(t), fmt.Sprintf(format, args...))
}

func (t Tagged) Errorf(format string, args ...any) {
	LogError("[%s] %s", string(t), fmt.Sprintf(format, args...))
}
