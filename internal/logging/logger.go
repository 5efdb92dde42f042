// Package logging is a thin, component-scoped facade over charmbracelet/log.
//
// It mirrors the enable/disable-per-component and per-component helper
// shape the rest of this codebase's lineage uses for subsystem logging,
// but never buffers or processes entries on a background goroutine: the
// audio callback path only ever logs already-exceptional conditions
// (buffer overflow, corrupt score data) at Warn/Error, so there is no
// real-time budget to protect here the way there is in the mixer loop
// itself.
package logging

import (
	"os"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// Logger fans out to one charmlog.Logger per Component, each carrying a
// "component" field so log lines are filterable downstream.
type Logger struct {
	mu      sync.RWMutex
	enabled map[Component]bool
	base    *charmlog.Logger
	scoped  map[Component]*charmlog.Logger
}

// New builds a Logger writing to os.Stderr at Info level. All components are
// enabled by default — unlike the debug-UI lineage this facade is adapted
// from, there is no opt-in-only default here because audio-engine warnings
// (dropped notes, malformed instruments) are operationally useful, not
// developer-debug noise.
func New() *Logger {
	base := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Level:           charmlog.InfoLevel,
	})
	return &Logger{
		enabled: map[Component]bool{
			ComponentMixer: true,
			ComponentMusic: true,
			ComponentSfx:   true,
			ComponentOPL:   true,
		},
		base:   base,
		scoped: make(map[Component]*charmlog.Logger),
	}
}

// SetEnabled toggles logging for a single component.
func (l *Logger) SetEnabled(c Component, enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled[c] = enabled
}

// SetLevel changes the minimum level for every component.
func (l *Logger) SetLevel(level charmlog.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.base.SetLevel(level)
}

func (l *Logger) scopedLogger(c Component) *charmlog.Logger {
	l.mu.RLock()
	sl, ok := l.scoped[c]
	l.mu.RUnlock()
	if ok {
		return sl
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if sl, ok := l.scoped[c]; ok {
		return sl
	}
	sl = l.base.With("component", string(c))
	l.scoped[c] = sl
	return sl
}

func (l *Logger) isEnabled(c Component) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled[c]
}

// Debugf/Infof/Warnf/Errorf log a formatted message for the given component,
// dropped entirely when the component is disabled.
func (l *Logger) Debugf(c Component, format string, args ...interface{}) {
	if !l.isEnabled(c) {
		return
	}
	l.scopedLogger(c).Debugf(format, args...)
}

func (l *Logger) Infof(c Component, format string, args ...interface{}) {
	if !l.isEnabled(c) {
		return
	}
	l.scopedLogger(c).Infof(format, args...)
}

func (l *Logger) Warnf(c Component, format string, args ...interface{}) {
	if !l.isEnabled(c) {
		return
	}
	l.scopedLogger(c).Warnf(format, args...)
}

func (l *Logger) Errorf(c Component, format string, args ...interface{}) {
	if !l.isEnabled(c) {
		return
	}
	l.scopedLogger(c).Errorf(format, args...)
}

// Nop returns a Logger with every component disabled, for tests that don't
// want log noise but still need a non-nil *Logger to pass around.
func Nop() *Logger {
	l := New()
	for c := range l.enabled {
		l.enabled[c] = false
	}
	return l
}
