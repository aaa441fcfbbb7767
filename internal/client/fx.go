package client

import (
	"github.com/smallbiznis/renova/internal/client/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("client",
	fx.Provide(repository.Provide),
)
