// File: transport/module.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/config"
	"github.com/momentics/hioload-transport/control"
	"github.com/momentics/hioload-transport/internal/logging"
)

// Module wires the transport into an fx application. The caller supplies
// *config.Config and an api.Application; Bind runs on start, Stop on stop.
func Module() fx.Option {
	return fx.Module("transport",
		fx.Provide(
			ProvideLogger,
			ProvideRegistry,
			ProvideMetrics,
			control.NewDebugProbes,
			ProvideContext,
			NewTransport,
		),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideLogger builds the process logger from the log section.
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log)
}

// ProvideRegistry creates the registry the transport metrics live in,
// with the Go runtime and process collectors.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics registers the transport collectors.
func ProvideMetrics(reg *prometheus.Registry) *control.Metrics {
	return control.NewMetrics(reg)
}

// ProvideContext assembles the shared transport context.
func ProvideContext(cfg *config.Config, app api.Application, log *zap.Logger, metrics *control.Metrics) *TransportContext {
	return NewTransportContext(cfg, app, log, metrics)
}

type lifecycleInput struct {
	fx.In
	LC        fx.Lifecycle
	Transport *Transport
	Log       *zap.Logger
}

func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return input.Transport.Bind()
		},
		OnStop: func(_ context.Context) error {
			err := input.Transport.Stop()
			_ = input.Log.Sync()
			return err
		},
	})
}
