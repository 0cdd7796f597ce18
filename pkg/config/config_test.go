package config

import (
	"testing"

	"smallbiznis-loyalty/pkg/hashistack/secretmanager"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestApplySecretsKeepsUnsetValues(t *testing.T) {
	cfg := &Config{}
	cfg.Database.User = "from-env"
	cfg.Redis.Password = "redis-env"

	cfg.ApplySecrets(secretmanager.Secrets{
		"postgres_password": "pg-secret",
		"minio_secret_key":  "minio-secret",
	})

	require.Equal(t, "from-env", cfg.Database.User)
	require.Equal(t, "pg-secret", cfg.Database.Password)
	require.Equal(t, "redis-env", cfg.Redis.Password)
	require.Equal(t, "minio-secret", cfg.Minio.SecretKey)
}

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	require.Equal(t, "lowest-rule-id", cfg.Loyalty.TieBreak)
	require.Equal(t, "loyalty", cfg.Loyalty.ProcessQueue)
	require.Equal(t, 100, cfg.Outbox.BatchSize)
	require.EqualValues(t, 1, cfg.Snowflake.NodeID)
}
