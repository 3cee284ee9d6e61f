package ledger

import (
	"github.com/smallbiznis/debtor/internal/ledger/repository"
	"github.com/smallbiznis/debtor/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	repository.Provide,
	fx.Provide(service.NewService),
)
