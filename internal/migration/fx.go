package migration

import (
	alertdomain "github.com/smallbiznis/debtor/internal/alert/domain"
	auditdomain "github.com/smallbiznis/debtor/internal/audit/domain"
	"github.com/smallbiznis/debtor/internal/config"
	creditdomain "github.com/smallbiznis/debtor/internal/credit/domain"
	ledgerdomain "github.com/smallbiznis/debtor/internal/ledger/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// sqlite and mysql are local/dev targets; derive the schema from the
		// models instead of maintaining per-dialect migration files.
		return conn.AutoMigrate(
			&creditdomain.CustomerCredit{},
			&ledgerdomain.DebtTransaction{},
			&alertdomain.DebtAlert{},
			&auditdomain.AuditLog{},
		)
	}),
)
