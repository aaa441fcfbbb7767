package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/renova/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		provideRegistry,
		provideRegisterer,
		metrics.New,
	),
)

func provideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func provideRegisterer(reg *prometheus.Registry) prometheus.Registerer {
	return reg
}
