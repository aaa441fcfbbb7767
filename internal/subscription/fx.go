package subscription

import (
	"github.com/smallbiznis/renova/internal/subscription/repository"
	"github.com/smallbiznis/renova/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
