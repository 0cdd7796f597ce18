package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type publisherMock struct {
	publishFn func(ctx context.Context, msg *Message) error
	sent      []string
}

func (m *publisherMock) Publish(ctx context.Context, msg *Message) error {
	if m.publishFn != nil {
		if err := m.publishFn(ctx, msg); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, msg.Key)
	return nil
}

func writeMessages(t *testing.T, r *Relay, keys ...string) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var msgs []*Message
	for i, k := range keys {
		m, err := NewMessage("loyalty.ledger.transactions", k, "EARNING", map[string]any{"key": k})
		require.NoError(t, err)
		m.CreatedAt = base.Add(time.Duration(i) * time.Second)
		msgs = append(msgs, m)
	}
	require.NoError(t, Write(context.Background(), r.db, msgs...))
}

func TestRelayPublishesInOrder(t *testing.T) {
	db := testutil.NewTestDB(t, &Message{})
	pub := &publisherMock{}
	r := NewRelay(RelayParams{DB: db, Publisher: pub, Config: &config.Config{}})

	writeMessages(t, r, "a", "b", "c")

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{"a", "b", "c"}, pub.sent)

	n, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRelayStopsAtFirstFailure(t *testing.T) {
	db := testutil.NewTestDB(t, &Message{})
	pub := &publisherMock{publishFn: func(ctx context.Context, msg *Message) error {
		if msg.Key == "b" {
			return errors.New("broker down")
		}
		return nil
	}}
	r := NewRelay(RelayParams{DB: db, Publisher: pub, Config: &config.Config{}})

	writeMessages(t, r, "a", "b", "c")

	n, err := r.RunOnce(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, n)

	var failed Message
	require.NoError(t, db.Where("message_key = ?", "b").Take(&failed).Error)
	require.Nil(t, failed.PublishedAt)
	require.Equal(t, 1, failed.Attempts)
	require.Equal(t, "broker down", failed.LastError)

	pub.publishFn = nil
	n, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"a", "b", "c"}, pub.sent)
}
