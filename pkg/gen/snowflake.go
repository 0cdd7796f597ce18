package gen

import (
	"smallbiznis-loyalty/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("snowflake",
	fx.Provide(NewNode),
)

// NewNode builds the process-wide id generator. SNOWFLAKE.NODE_ID must be unique per replica.
func NewNode(cfg *config.Config) (*snowflake.Node, error) {
	nodeID := cfg.Snowflake.NodeID
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		zap.L().Error("failed to init snowflake node", zap.Int64("node_id", nodeID), zap.Error(err))
		return nil, err
	}
	return node, nil
}

// IDGenerator is the narrow surface services depend on.
type IDGenerator interface {
	Generate() snowflake.ID
}
