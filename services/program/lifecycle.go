package program

import (
	"errors"
	"time"
)

var ErrInvalidTransition = errors.New("invalid_status_transition")

// Activate moves a draft or inactive version to active. A future ActiveFrom
// set at authoring time is kept so the version goes live on schedule.
func (p *LoyaltyProgram) Activate(now time.Time) error {
	from, to, err := activate(p.Status, p.ActiveFrom, p.ActiveTo, now)
	if err != nil {
		return err
	}
	p.Status, p.ActiveFrom, p.ActiveTo = StatusActive, from, to
	return nil
}

func (p *LoyaltyProgram) Deactivate(now time.Time) error {
	if p.Status != StatusActive {
		return ErrInvalidTransition
	}
	p.Status = StatusInactive
	p.ActiveTo = &now
	return nil
}

// CreateNewVersion copies p into a new draft with version+1. The copy has no
// row id and no activation window.
func (p *LoyaltyProgram) CreateNewVersion() *LoyaltyProgram {
	next := *p
	next.ID = ""
	next.Version = p.Version + 1
	next.Status = StatusDraft
	next.ActiveFrom, next.ActiveTo = nil, nil
	next.CreatedAt, next.UpdatedAt = time.Time{}, time.Time{}
	next.EarningDomains = append(p.EarningDomains[:0:0], p.EarningDomains...)
	return &next
}

func (r *RewardRule) Activate(now time.Time) error {
	from, to, err := activate(r.Status, r.ActiveFrom, r.ActiveTo, now)
	if err != nil {
		return err
	}
	r.Status, r.ActiveFrom, r.ActiveTo = StatusActive, from, to
	return nil
}

func (r *RewardRule) Deactivate(now time.Time) error {
	if r.Status != StatusActive {
		return ErrInvalidTransition
	}
	r.Status = StatusInactive
	r.ActiveTo = &now
	return nil
}

func (r *RewardRule) CreateNewVersion() *RewardRule {
	next := *r
	next.ID = ""
	next.Version = r.Version + 1
	next.Status = StatusDraft
	next.ActiveFrom, next.ActiveTo = nil, nil
	next.CreatedAt, next.UpdatedAt = time.Time{}, time.Time{}
	return &next
}

func activate(status Status, from, to *time.Time, now time.Time) (*time.Time, *time.Time, error) {
	if status == StatusActive {
		return nil, nil, ErrInvalidTransition
	}
	if from == nil || from.Before(now) {
		from = &now
	}
	if to != nil && !to.After(*from) {
		to = nil
	}
	return from, to, nil
}
