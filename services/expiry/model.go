package expiry

import (
	"time"
)

type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Job is an execution record of one tenant's expiry sweep.
type Job struct {
	ID          string     `gorm:"column:id;primaryKey" json:"id"`
	TenantID    string     `gorm:"column:tenant_id;index;not null" json:"tenantId"`
	Status      JobStatus  `gorm:"column:status;type:varchar(20)" json:"status"`
	AsOf        time.Time  `gorm:"column:as_of" json:"asOf"`
	Expired     int        `gorm:"column:expired" json:"expired"`
	ErrorMsg    string     `gorm:"column:error_msg;type:text" json:"errorMsg,omitempty"`
	StartedAt   *time.Time `gorm:"column:started_at" json:"startedAt,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completedAt,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Job) TableName() string { return "expiry_jobs" }

type TenantPayload struct {
	TenantID string    `json:"tenant_id"`
	AsOf     time.Time `json:"as_of"`
}
