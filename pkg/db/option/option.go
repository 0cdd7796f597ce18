package option

import (
	"fmt"
	"strings"
	"time"

	"smallbiznis-loyalty/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a gorm query before it is executed by a repository.
type QueryOption func(db *gorm.DB) *gorm.DB

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func ApplyOperator(c Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		field := strings.TrimSpace(c.Field)
		if field == "" {
			return db
		}
		switch c.Operator {
		case EQ, NEQ, GT, GTE, LT, LTE:
			return db.Where(fmt.Sprintf("%s %s ?", field, c.Operator), c.Value)
		case IN:
			return db.Where(fmt.Sprintf("%s IN ?", field), c.Value)
		default:
			return db
		}
	}
}

func WithWhere(query string, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	}
}

// WithTimeRange limits field to the closed interval [start, end]. Zero bounds are ignored.
func WithTimeRange(field string, start, end time.Time) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if !start.IsZero() {
			db = db.Where(fmt.Sprintf("%s >= ?", field), start)
		}
		if !end.IsZero() {
			db = db.Where(fmt.Sprintf("%s <= ?", field), end)
		}
		return db
	}
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		sortBy := strings.TrimSpace(s.SortBy)
		if sortBy == "" {
			sortBy = "created_at"
		}
		if s.Allow != nil && !s.Allow[sortBy] {
			return db
		}

		orderBy := "ASC"
		if strings.EqualFold(s.OrderBy, "desc") {
			orderBy = "DESC"
		}

		return db.Order(fmt.Sprintf("%s %s", sortBy, orderBy)).Order(fmt.Sprintf("id %s", orderBy))
	}
}

func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// ApplyPagination applies keyset pagination over (created_at, id) in ascending order.
// One extra row is fetched so callers can detect whether another page exists.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if p.Cursor != "" {
			if cursor, err := pagination.DecodeCursor(p.Cursor); err == nil && cursor.CreatedAt != "" {
				if createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt); err == nil {
					db = db.Where("(created_at > ?) OR (created_at = ? AND id > ?)", createdAt, createdAt, cursor.ID)
				}
			}
		}

		return db.Limit(p.Size() + 1)
	}
}
