package models

import "time"

// Dispute can only be opened while the owning task is pending release.
// Resolution (released or refunded) is recorded by the admin surface.
type Dispute struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TaskID      string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"task_id"`
	RaisedBy    string     `gorm:"type:varchar(128);not null" json:"raised_by"`
	Reason      string     `gorm:"type:text;not null" json:"reason"`
	EvidenceRef *string    `gorm:"type:varchar(512)" json:"evidence_ref,omitempty"`
	Outcome     *string    `gorm:"type:varchar(16)" json:"outcome,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (Dispute) TableName() string {
	return "disputes"
}
