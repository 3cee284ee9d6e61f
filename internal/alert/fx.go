package alert

import (
	"github.com/smallbiznis/debtor/internal/alert/repository"
	"github.com/smallbiznis/debtor/internal/alert/service"
	"go.uber.org/fx"
)

var Module = fx.Module("alert.service",
	repository.Provide,
	fx.Provide(service.NewService),
)
