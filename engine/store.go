package engine

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"proofpay/models"
)

// Store is the engine's view of the read-model tables. UpdateTask is the
// single serialization point: the mutate callback runs with the task row
// exclusively locked, so no two transitions for the same task id overlap.
type Store interface {
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, id string, mutate func(*models.Task) error) (*models.Task, error)

	CreateSubmission(ctx context.Context, s *models.ProofSubmission) error
	SetLatestSubmissionResult(ctx context.Context, taskID, result string) error

	CreateDispute(ctx context.Context, d *models.Dispute) error
	GetDispute(ctx context.Context, taskID string) (*models.Dispute, error)
	ResolveDispute(ctx context.Context, taskID, outcome string, at time.Time) error

	// DuePendingRelease returns ids of tasks whose review window has
	// elapsed, oldest first.
	DuePendingRelease(ctx context.Context, now time.Time, limit int) ([]string, error)

	// PendingLedgerSubmissions returns ids of tasks whose recorded ledger
	// command has not been accepted by the gateway yet.
	PendingLedgerSubmissions(ctx context.Context, limit int) ([]string, error)
}

// GormStore backs Store with the MySQL read model.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) CreateTask(ctx context.Context, t *models.Task) error {
	return s.DB.WithContext(ctx).Create(t).Error
}

func (s *GormStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *GormStore) UpdateTask(ctx context.Context, id string, mutate func(*models.Task) error) (*models.Task, error) {
	var out models.Task
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Task
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&t).Error; err != nil {
			return err
		}
		if err := mutate(&t); err != nil {
			return err
		}
		if err := tx.Save(&t).Error; err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *GormStore) CreateSubmission(ctx context.Context, sub *models.ProofSubmission) error {
	return s.DB.WithContext(ctx).Create(sub).Error
}

func (s *GormStore) SetLatestSubmissionResult(ctx context.Context, taskID, result string) error {
	var latest models.ProofSubmission
	db := s.DB.WithContext(ctx)
	if err := db.Where("task_id = ?", taskID).Order("id DESC").First(&latest).Error; err != nil {
		return err
	}
	return db.Model(&latest).Update("verification_result", result).Error
}

func (s *GormStore) CreateDispute(ctx context.Context, d *models.Dispute) error {
	return s.DB.WithContext(ctx).Create(d).Error
}

func (s *GormStore) GetDispute(ctx context.Context, taskID string) (*models.Dispute, error) {
	var d models.Dispute
	if err := s.DB.WithContext(ctx).Where("task_id = ?", taskID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *GormStore) ResolveDispute(ctx context.Context, taskID, outcome string, at time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.Dispute{}).
		Where("task_id = ? AND outcome IS NULL", taskID).
		Updates(map[string]interface{}{"outcome": outcome, "resolved_at": at}).Error
}

func (s *GormStore) DuePendingRelease(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	q := s.DB.WithContext(ctx).Model(&models.Task{}).
		Where("status = ? AND pending_release_expires_at IS NOT NULL AND pending_release_expires_at <= ?", StatusPendingRelease, now).
		Order("pending_release_expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *GormStore) PendingLedgerSubmissions(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	q := s.DB.WithContext(ctx).Model(&models.Task{}).
		Where("pending_ledger_command IS NOT NULL").
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
