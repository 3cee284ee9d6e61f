package credit

import (
	"github.com/smallbiznis/debtor/internal/credit/repository"
	"github.com/smallbiznis/debtor/internal/credit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credit.service",
	repository.Provide,
	fx.Provide(service.NewService),
)
