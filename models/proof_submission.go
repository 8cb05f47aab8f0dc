package models

import "time"

// ProofSubmission records one proof attempt. Rows are append-only: a
// superseding attempt gets a new row, a rejected one keeps its verdict.
type ProofSubmission struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	TaskID             string    `gorm:"type:varchar(64);not null;index" json:"task_id"`
	Worker             string    `gorm:"type:varchar(128);not null" json:"worker"`
	ProofType          string    `gorm:"type:varchar(16);not null" json:"proof_type"`
	PayloadRef         string    `gorm:"type:varchar(512);not null" json:"payload_ref"`
	ProofHash          *string   `gorm:"type:varchar(128)" json:"proof_hash,omitempty"`
	VerificationResult *string   `gorm:"type:varchar(32)" json:"verification_result,omitempty"`
	SubmittedAt        time.Time `json:"submitted_at"`
}

func (ProofSubmission) TableName() string {
	return "proof_submissions"
}
