package models

import "time"

// Task is the per-task read-model projection. Status and
// PendingReleaseExpiresAt are written only through the engine's transition
// function; the indexer upserts the remaining fields from ledger events.
// PendingLedgerCommand and LedgerCommandRef form the outbox for ledger
// submissions: set in the same transaction as the status change, cleared once
// the gateway accepts the command, retried by the sweep in between. The ref
// stays stable across retries so the gateway's dedup absorbs them.
type Task struct {
	ID                      string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	Payer                   string     `gorm:"type:varchar(128);not null;index" json:"payer"`
	Worker                  *string    `gorm:"type:varchar(128);index" json:"worker,omitempty"`
	Amount                  int64      `gorm:"not null" json:"amount"`
	Denom                   string     `gorm:"type:varchar(16);not null" json:"denom"`
	ProofType               string     `gorm:"type:varchar(16);not null" json:"proof_type"`
	Status                  string     `gorm:"type:varchar(24);not null;default:'pending';index" json:"status"`
	Description             string     `gorm:"type:text" json:"description"`
	ReviewWindowSeconds     int64      `gorm:"not null;default:0" json:"review_window_seconds,omitempty"`
	PendingReleaseExpiresAt *time.Time `gorm:"index" json:"pending_release_expires_at,omitempty"`
	EvidenceRef             *string    `gorm:"type:varchar(512)" json:"evidence_ref,omitempty"`
	ProofHash               *string    `gorm:"type:varchar(128)" json:"proof_hash,omitempty"`
	RejectionCount          int        `gorm:"not null;default:0" json:"rejection_count"`
	PendingLedgerCommand    *string    `gorm:"type:varchar(16);index" json:"-"`
	LedgerCommandRef        *string    `gorm:"type:varchar(64)" json:"-"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}
