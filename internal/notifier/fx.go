package notifier

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("notifier",
	fx.Provide(NewDispatcher),
	fx.Invoke(run),
)

func run(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go d.Run()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Close()
			return nil
		},
	})
}
