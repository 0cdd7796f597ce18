package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"smallbiznis-loyalty/pkg/db/option"
	"smallbiznis-loyalty/pkg/db/pagination"
	"smallbiznis-loyalty/services/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type widget struct {
	ID        string `gorm:"primaryKey"`
	TenantID  string
	Name      string
	Qty       int
	CreatedAt time.Time
}

func TestStoreCRUD(t *testing.T) {
	db := testutil.NewTestDB(t, &widget{})
	repo := ProvideStore[widget](db)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.BatchCreate(ctx, []*widget{
		{ID: "a", TenantID: "t1", Name: "a", Qty: 1, CreatedAt: base},
		{ID: "b", TenantID: "t1", Name: "b", Qty: 5, CreatedAt: base.Add(time.Minute)},
		{ID: "c", TenantID: "t2", Name: "c", Qty: 9, CreatedAt: base.Add(2 * time.Minute)},
	}))

	got, err := repo.FindOne(ctx, &widget{ID: "missing"})
	require.NoError(t, err)
	require.Nil(t, got)

	list, err := repo.Find(ctx, &widget{TenantID: "t1"}, option.ApplyOperator(option.Condition{
		Field: "qty", Operator: option.GTE, Value: 2,
	}))
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "b", list[0].ID)

	count, err := repo.Count(ctx, &widget{TenantID: "t1"})
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	require.NoError(t, repo.Update(ctx, "a", map[string]any{"qty": 7}))
	got, err = repo.FindOne(ctx, &widget{ID: "a"})
	require.NoError(t, err)
	require.Equal(t, 7, got.Qty)

	err = repo.Update(ctx, "zzz", map[string]any{"qty": 1})
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestStorePagination(t *testing.T) {
	db := testutil.NewTestDB(t, &widget{})
	repo := ProvideStore[widget](db)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, &widget{ID: id, TenantID: "t1", CreatedAt: base.Add(time.Duration(i) * time.Second)}))
	}

	page, err := repo.Find(ctx, &widget{TenantID: "t1"},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at"}),
		option.ApplyPagination(pagination.Pagination{Limit: 2}),
	)
	require.NoError(t, err)
	require.Len(t, page, 3) // limit+1 signals another page

	cursor, err := pagination.EncodeCursor(pagination.Cursor{
		CreatedAt: page[1].CreatedAt.Format(time.RFC3339Nano),
		ID:        page[1].ID,
	})
	require.NoError(t, err)

	next, err := repo.Find(ctx, &widget{TenantID: "t1"},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at"}),
		option.ApplyPagination(pagination.Pagination{Limit: 2, Cursor: cursor}),
	)
	require.NoError(t, err)
	require.Len(t, next, 1)
	require.Equal(t, "c", next[0].ID)
}
