package minio

import (
	"context"
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type bucketMock struct {
	exists    bool
	existsErr error
	made      []string
}

func (m *bucketMock) BucketExists(ctx context.Context, name string) (bool, error) {
	return m.exists, m.existsErr
}

func (m *bucketMock) MakeBucket(ctx context.Context, name string, opts minio.MakeBucketOptions) error {
	m.made = append(m.made, name)
	return nil
}

func TestEnsureBucket(t *testing.T) {
	t.Run("creates missing bucket", func(t *testing.T) {
		m := &bucketMock{}
		require.NoError(t, EnsureBucket(context.Background(), m, "statements"))
		require.Equal(t, []string{"statements"}, m.made)
	})

	t.Run("keeps existing bucket", func(t *testing.T) {
		m := &bucketMock{exists: true}
		require.NoError(t, EnsureBucket(context.Background(), m, "statements"))
		require.Empty(t, m.made)
	})

	t.Run("lookup failure", func(t *testing.T) {
		m := &bucketMock{existsErr: errors.New("access denied")}
		require.Error(t, EnsureBucket(context.Background(), m, "statements"))
	})

	t.Run("empty name", func(t *testing.T) {
		require.Error(t, EnsureBucket(context.Background(), &bucketMock{}, ""))
	})
}
