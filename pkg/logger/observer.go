package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// Logs is the read side of an observed logger, used by tests that assert on log output.
type Logs interface {
	Len() int
	All() []observer.LoggedEntry
	FilterMessage(msg string) *observer.ObservedLogs
}

var _ Logs = (*observer.ObservedLogs)(nil)

// NewObserverLogger returns a logger whose entries at or above level are kept in memory.
// An unparsable level falls back to debug.
func NewObserverLogger(level string) (*ZapLogger, Logs) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	core, logs := observer.New(lvl)
	return &ZapLogger{zap.New(core)}, logs
}
