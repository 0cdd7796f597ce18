package db

import (
	"testing"

	"smallbiznis-loyalty/pkg/config"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestDialect(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Host = "localhost"
	cfg.Database.Port = "5432"
	cfg.Database.DBNAME = "loyalty"
	cfg.Database.User = "app"

	_, ok := Dialect(cfg).(*postgres.Dialector)
	require.True(t, ok)

	cfg.Database.Type = "mysql"
	_, ok = Dialect(cfg).(*mysql.Dialector)
	require.True(t, ok)

	cfg.Database.Type = "SQLite"
	_, ok = Dialect(cfg).(*sqlite.Dialector)
	require.True(t, ok)
}

func TestExtractDBNameFromDSN(t *testing.T) {
	require.Equal(t, "loyalty", extractDBNameFromDSN("host=db port=5432 dbname=loyalty sslmode=disable"))
	require.Equal(t, "loyalty", extractDBNameFromDSN("app:secret@tcp(db:3306)/loyalty?parseTime=True"))
	require.Equal(t, "unknown", extractDBNameFromDSN("host=db"))
}

type migrated struct {
	ID   string `gorm:"primaryKey"`
	Name string
}

func TestAutoMigrate(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:TestAutoMigrate?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	cfg := &config.Config{}
	require.NoError(t, AutoMigrate(cfg, conn, []any{&migrated{}}))
	require.False(t, conn.Migrator().HasTable(&migrated{}))

	cfg.Database.AutoMigrate = true
	require.NoError(t, AutoMigrate(cfg, conn, []any{&migrated{}}))
	require.True(t, conn.Migrator().HasTable(&migrated{}))
}
