// File: adapters/middleware.go
// Package adapters
// Author: momentics <momentics@gmail.com>
//
// ApplicationFunc glue and middleware around api.Application.

package adapters

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/momentics/hioload-transport/api"
)

// ApplicationFunc converts a function into an api.Application.
type ApplicationFunc func(info api.ConnectionInfo) (api.ConnectionHandler, error)

// OnConnection calls the underlying function.
func (f ApplicationFunc) OnConnection(info api.ConnectionInfo) (api.ConnectionHandler, error) {
	return f(info)
}

// Middleware decorates an application.
type Middleware func(next api.Application) api.Application

// Chain wraps app so that the first middleware runs outermost.
func Chain(app api.Application, middleware ...Middleware) api.Application {
	for i := len(middleware) - 1; i >= 0; i-- {
		app = middleware[i](app)
	}
	return app
}

// LoggingMiddleware logs every accepted connection and its close.
func LoggingMiddleware(log *zap.Logger) Middleware {
	return func(next api.Application) api.Application {
		return ApplicationFunc(func(info api.ConnectionInfo) (api.ConnectionHandler, error) {
			fields := []zap.Field{
				zap.String("connection_id", info.ID),
				zap.Stringer("listen_type", info.ListenType),
			}
			if info.RemoteAddr != nil {
				fields = append(fields, zap.Stringer("remote", info.RemoteAddr))
			}
			h, err := next.OnConnection(info)
			if err != nil {
				log.Warn("connection rejected", append(fields, zap.Error(err))...)
				return nil, err
			}
			log.Info("connection accepted", fields...)
			return &loggedHandler{ConnectionHandler: h, log: log, id: info.ID}, nil
		})
	}
}

type loggedHandler struct {
	api.ConnectionHandler
	log *zap.Logger
	id  string
}

func (h *loggedHandler) OnConnectionClosed(err error) {
	if err != nil {
		h.log.Info("connection closed", zap.String("connection_id", h.id), zap.Error(err))
	} else {
		h.log.Info("connection closed", zap.String("connection_id", h.id))
	}
	h.ConnectionHandler.OnConnectionClosed(err)
}

// RecoveryMiddleware turns a panic in OnConnection into a startup error for
// that connection only.
func RecoveryMiddleware(log *zap.Logger) Middleware {
	return func(next api.Application) api.Application {
		return ApplicationFunc(func(info api.ConnectionInfo) (h api.ConnectionHandler, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("application panicked", zap.String("connection_id", info.ID),
						zap.Any("panic", r), zap.Stack("stack"))
					h, err = nil, api.NewConnectionAbortedError(fmt.Sprintf("application panicked: %v", r))
				}
			}()
			return next.OnConnection(info)
		})
	}
}

// MetricsMiddleware counts connections the application accepted or rejected.
func MetricsMiddleware(reg prometheus.Registerer) Middleware {
	handled := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: "hioload",
		Subsystem: "application",
		Name:      "connections_total",
		Help:      "Connections offered to the application by outcome.",
	}, []string{"outcome"})
	accepted := handled.WithLabelValues("accepted")
	rejected := handled.WithLabelValues("rejected")

	return func(next api.Application) api.Application {
		return ApplicationFunc(func(info api.ConnectionInfo) (api.ConnectionHandler, error) {
			h, err := next.OnConnection(info)
			if err != nil {
				rejected.Inc()
				return nil, err
			}
			accepted.Inc()
			return h, nil
		})
	}
}
