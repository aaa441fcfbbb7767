package providers

import (
	"github.com/smallbiznis/renova/internal/providers/email"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
)
