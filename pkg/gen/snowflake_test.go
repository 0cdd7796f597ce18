package gen

import (
	"testing"

	"smallbiznis-loyalty/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestNewNode(t *testing.T) {
	cfg := &config.Config{}
	cfg.Snowflake.NodeID = 3

	node, err := NewNode(cfg)
	require.NoError(t, err)

	var gen IDGenerator = node
	a, b := gen.Generate(), gen.Generate()
	require.NotEqual(t, a, b)
	require.Equal(t, int64(3), a.Node())

	cfg.Snowflake.NodeID = 5000
	_, err = NewNode(cfg)
	require.Error(t, err)
}
