package outbox

import (
	"context"

	"gorm.io/gorm"
)

// Write stores msgs through tx. Callers pass the transaction that carries the
// state change so both commit or neither does.
func Write(ctx context.Context, tx *gorm.DB, msgs ...*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if tx == nil {
		return gorm.ErrInvalidDB
	}
	return tx.WithContext(ctx).Create(&msgs).Error
}
