package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Message is a pending publication written in the same database transaction
// as the state change it announces.
type Message struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	Topic       string         `gorm:"column:topic" json:"topic"`
	Key         string         `gorm:"column:message_key" json:"key"`
	EventType   string         `gorm:"column:event_type" json:"eventType"`
	Payload     datatypes.JSON `gorm:"column:payload" json:"payload"`
	Attempts    int            `gorm:"column:attempts" json:"attempts"`
	LastError   string         `gorm:"column:last_error" json:"lastError,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at;index" json:"createdAt"`
	PublishedAt *time.Time     `gorm:"column:published_at;index" json:"publishedAt,omitempty"`
}

func (Message) TableName() string { return "outbox_messages" }

func NewMessage(topic, key, eventType string, payload any) (*Message, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Key:       key,
		EventType: eventType,
		Payload:   datatypes.JSON(b),
	}, nil
}
