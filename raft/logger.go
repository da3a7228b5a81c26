package raft

import (
	"fmt"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

func sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}

// Logger is the logging seam used throughout the core. Every component
// (election, replication, snapshot, membership) logs through the Logger
// carried on Server rather than through a package-global, so multiple
// Server instances in one process can be told apart.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Panicf(format string, args ...interface{})
}

// zapLogger backs Logger with github.com/pingcap/log's global zap logger,
// tagging every line with the server id so multi-server scenario tests
// stay readable.
type zapLogger struct {
	id ServerID
}

// NewLogger returns the default Logger implementation, used whenever
// Config.Logger is left unset.
func NewLogger(id ServerID) Logger {
	return &zapLogger{id: id}
}

func (l *zapLogger) Debugf(format string, args ...interface{}) {
	log.Debug(sprintf(format, args...), zap.Uint64("server", uint64(l.id)))
}

func (l *zapLogger) Infof(format string, args ...interface{}) {
	log.Info(sprintf(format, args...), zap.Uint64("server", uint64(l.id)))
}

func (l *zapLogger) Warningf(format string, args ...interface{}) {
	log.Warn(sprintf(format, args...), zap.Uint64("server", uint64(l.id)))
}

func (l *zapLogger) Errorf(format string, args ...interface{}) {
	log.Error(sprintf(format, args...), zap.Uint64("server", uint64(l.id)))
}

func (l *zapLogger) Panicf(format string, args ...interface{}) {
	msg := sprintf(format, args...)
	log.Error(msg, zap.Uint64("server", uint64(l.id)))
	panic(msg)
}

// discardLogger drops everything; used by tests that don't want log noise.
type discardLogger struct{}

// NewDiscardLogger returns a Logger that silently drops every line.
func NewDiscardLogger() Logger { return discardLogger{} }

func (discardLogger) Debugf(string, ...interface{})   {}
func (discardLogger) Infof(string, ...interface{})    {}
func (discardLogger) Warningf(string, ...interface{}) {}
func (discardLogger) Errorf(string, ...interface{})   {}
func (discardLogger) Panicf(format string, args ...interface{}) {
	panic(sprintf(format, args...))
}
