package models

import "time"

// UserStats holds per-user aggregate counters. Rebuilt exclusively from
// reconciled ledger events, never from user actions.
type UserStats struct {
	Address        string    `gorm:"type:varchar(128);primaryKey" json:"address"`
	TasksCreated   int64     `gorm:"not null;default:0" json:"tasks_created"`
	TasksCompleted int64     `gorm:"not null;default:0" json:"tasks_completed"`
	AmountEarned   int64     `gorm:"not null;default:0" json:"amount_earned"`
	AmountSpent    int64     `gorm:"not null;default:0" json:"amount_spent"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (UserStats) TableName() string {
	return "user_stats"
}
