// Package idempotency derives the dedup key written on every EARNING row.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Strategy string

const (
	StrategyDefault   Strategy = "default"
	StrategyPerEvent  Strategy = "per-event"
	StrategyPerDay    Strategy = "per-day"
	StrategyPerPeriod Strategy = "per-period"
)

const hashDomain = "loyalty/idempotency/v1"

var (
	ErrMissingStrategy = errors.New("idempotency_strategy_required")
	ErrUnknownStrategy = errors.New("unknown_idempotency_strategy")
	ErrMissingTimezone = errors.New("bucket_timezone_required")
	ErrInvalidTimezone = errors.New("invalid_bucket_timezone")
	ErrInvalidPeriod   = errors.New("invalid_period_days")
)

type Scope struct {
	Strategy       Strategy `json:"strategy"`
	BucketTimezone string   `json:"bucketTimezone,omitempty"`
	PeriodDays     int      `json:"periodDays,omitempty"`
}

func (s Scope) Validate() error {
	switch s.Strategy {
	case "":
		return ErrMissingStrategy
	case StrategyDefault, StrategyPerEvent:
	case StrategyPerDay:
		if s.BucketTimezone == "" {
			return ErrMissingTimezone
		}
	case StrategyPerPeriod:
		if s.PeriodDays <= 0 {
			return ErrInvalidPeriod
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, s.Strategy)
	}

	if s.BucketTimezone != "" {
		if _, err := time.LoadLocation(s.BucketTimezone); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidTimezone, s.BucketTimezone)
		}
	}
	return nil
}

type Input struct {
	TenantID      string
	MembershipID  string
	ProgramID     string
	RuleID        string
	SourceEventID string
	OccurredAt    time.Time
}

// Derive returns "<strategy>:<sha256 hex>". The same input and scope always
// produce the same key. It fails only for scopes that would not pass Validate.
func Derive(in Input, s Scope) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}

	var parts []string
	switch s.Strategy {
	case StrategyDefault:
		parts = []string{in.TenantID, in.MembershipID, in.ProgramID, in.RuleID, in.SourceEventID}
	case StrategyPerEvent:
		parts = []string{in.TenantID, in.SourceEventID}
	case StrategyPerDay:
		loc, err := location(s.BucketTimezone)
		if err != nil {
			return "", err
		}
		parts = []string{in.TenantID, in.MembershipID, in.ProgramID, in.RuleID, in.OccurredAt.In(loc).Format("2006-01-02")}
	case StrategyPerPeriod:
		loc, err := location(s.BucketTimezone)
		if err != nil {
			return "", err
		}
		bucket := DayIndex(in.OccurredAt, loc) / int64(s.PeriodDays)
		parts = []string{in.TenantID, in.MembershipID, in.ProgramID, in.RuleID,
			strconv.Itoa(s.PeriodDays), strconv.FormatInt(bucket, 10)}
	}

	return string(s.Strategy) + ":" + hash(parts), nil
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// DayIndex counts calendar days since 1970-01-01 for t's local date in loc.
// It ignores the wall-clock offset, so DST changes never move a boundary.
func DayIndex(t time.Time, loc *time.Location) int64 {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// hash is SHA256(domain || 0x00 || part0 || 0x00 || part1 ...).
func hash(parts []string) string {
	h := sha256.New()
	h.Write([]byte(hashDomain))
	h.Write([]byte{0x00})
	h.Write([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}
