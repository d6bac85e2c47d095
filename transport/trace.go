// File: transport/trace.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Structured transport events.

package transport

import (
	"go.uber.org/zap"
)

// Trace emits one log entry per transport event.
type Trace struct {
	log *zap.Logger
}

// NewTrace wraps log; nil means no logging.
func NewTrace(log *zap.Logger) *Trace {
	if log == nil {
		log = zap.NewNop()
	}
	return &Trace{log: log}
}

// Logger returns the underlying logger.
func (t *Trace) Logger() *zap.Logger { return t.log }

func (t *Trace) ConnectionStart(id string) {
	t.log.Debug("connection start", zap.String("connection_id", id))
}

func (t *Trace) ConnectionRead(id string, count int) {
	t.log.Debug("connection read", zap.String("connection_id", id), zap.Int("bytes", count))
}

func (t *Trace) ConnectionReadFin(id string) {
	t.log.Debug("connection received FIN", zap.String("connection_id", id))
}

func (t *Trace) ConnectionPause(id string) {
	t.log.Debug("connection pause", zap.String("connection_id", id))
}

func (t *Trace) ConnectionResume(id string) {
	t.log.Debug("connection resume", zap.String("connection_id", id))
}

func (t *Trace) ConnectionWrite(id string, count int) {
	t.log.Debug("connection write", zap.String("connection_id", id), zap.Int("bytes", count))
}

func (t *Trace) ConnectionWriteCallback(id string, status int) {
	t.log.Debug("connection write callback", zap.String("connection_id", id), zap.Int("status", status))
}

func (t *Trace) ConnectionWriteFin(id string) {
	t.log.Debug("connection sending FIN", zap.String("connection_id", id))
}

// ConnectionReset stays at debug level: resets are routine.
func (t *Trace) ConnectionReset(id string) {
	t.log.Debug("connection reset", zap.String("connection_id", id))
}

func (t *Trace) ConnectionError(id string, err error) {
	t.log.Error("connection error", zap.String("connection_id", id), zap.Error(err))
}

func (t *Trace) ConnectionTimeout(id string) {
	t.log.Info("connection timed out", zap.String("connection_id", id))
}

func (t *Trace) ConnectionStop(id string, err error) {
	t.log.Debug("connection stop failed", zap.String("connection_id", id), zap.Error(err))
}

func (t *Trace) ConnectionClosed(id string) {
	t.log.Debug("connection closed", zap.String("connection_id", id))
}

func (t *Trace) ApplicationError(id string, err error) {
	t.log.Error("application failed to start the connection", zap.String("connection_id", id), zap.Error(err))
}

func (t *Trace) ListenerError(endpoint string, err error) {
	t.log.Error("listener error", zap.String("endpoint", endpoint), zap.Error(err))
}

func (t *Trace) NotAllConnectionsClosedGracefully(thread string) {
	t.log.Warn("some connections failed to close gracefully during server shutdown", zap.String("thread", thread))
}

func (t *Trace) NotAllConnectionsAborted(thread string) {
	t.log.Warn("some connections failed to abort during server shutdown", zap.String("thread", thread))
}
