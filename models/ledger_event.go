package models

import "time"

// ProcessedEvent is the append-only idempotency log for the reconciler.
// (transaction_id, event_index) identifies a ledger event; re-delivery of a
// recorded key is absorbed as a no-op.
type ProcessedEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TransactionID string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_event_identity,priority:1" json:"transaction_id"`
	EventIndex    int       `gorm:"not null;uniqueIndex:idx_event_identity,priority:2" json:"event_index"`
	EventType     string    `gorm:"type:varchar(32);not null" json:"event_type"`
	TaskID        string    `gorm:"type:varchar(64);index" json:"task_id"`
	ProcessedAt   time.Time `json:"processed_at"`
}

func (ProcessedEvent) TableName() string {
	return "processed_events"
}
