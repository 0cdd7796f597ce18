package db

import (
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func utcNow() time.Time {
	return time.Now().UTC()
}

// OpenMemory opens a named in-memory sqlite database and migrates models.
// The pool is pinned to one connection: sqlite in shared-cache mode does not
// serialise writers across connections.
func OpenMemory(name string, models ...any) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", url.PathEscape(name))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewZapGormLogger(zap.L(), logger.Silent, false),
		TranslateError: true,
		NowFunc:        utcNow,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if len(models) > 0 {
		if err := conn.AutoMigrate(models...); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return conn, nil
}
