package db

import (
	"smallbiznis-loyalty/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate runs gorm AutoMigrate over every model a service registered with
// AsModel. It only runs when DATABASE.AUTO_MIGRATE is set.
var Migrate = fx.Module("database.migrate",
	fx.Invoke(fx.Annotate(AutoMigrate, fx.ParamTags(``, ``, `group:"db.models"`))),
)

// AsModel registers a model for Migrate.
func AsModel(model any) fx.Annotated {
	return fx.Annotated{
		Group:  "db.models",
		Target: func() any { return model },
	}
}

func AutoMigrate(cfg *config.Config, db *gorm.DB, models []any) error {
	if !cfg.Database.AutoMigrate || len(models) == 0 {
		return nil
	}
	if err := db.AutoMigrate(models...); err != nil {
		zap.L().Error("[DB] auto migrate failed", zap.Error(err))
		return err
	}
	zap.L().Info("[DB] auto migrate complete", zap.Int("models", len(models)))
	return nil
}
