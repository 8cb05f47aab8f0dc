package indexer

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"proofpay/engine"
	"proofpay/models"
)

// TaskPatch is a commutative task upsert: zero-valued fields are left alone
// and the status only advances, never regresses.
type TaskPatch struct {
	TaskID    string
	Status    string
	Payer     string
	Worker    string
	Amount    int64
	Denom     string
	ProofType string
	ProofHash string
	At        time.Time
}

// StatsDelta increments per-user aggregate counters.
type StatsDelta struct {
	Address        string
	TasksCreated   int64
	TasksCompleted int64
	AmountEarned   int64
	AmountSpent    int64
}

// Store is the reconciler's persistence contract.
type Store interface {
	// ProcessEvent records the event identity and runs apply in the same
	// transaction, so a failed apply rolls the identity back and the
	// relay's redelivery gets a fresh attempt. Returns false without
	// running apply when the identity was already recorded.
	ProcessEvent(ctx context.Context, ev Event, apply func(tx Store) error) (bool, error)

	// UpsertTask returns the task after the patch and whether this patch
	// was the one that bound the worker.
	UpsertTask(ctx context.Context, p TaskPatch) (*models.Task, bool, error)
	BumpStats(ctx context.Context, d StatsDelta) error
}

// GormStore is the MySQL-backed store.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) ProcessEvent(ctx context.Context, ev Event, apply func(tx Store) error) (bool, error) {
	fresh := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := models.ProcessedEvent{
			TransactionID: ev.TransactionID,
			EventIndex:    ev.EventIndex,
			EventType:     ev.Type,
			TaskID:        ev.TaskID,
			ProcessedAt:   time.Now(),
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		fresh = true
		return apply(&GormStore{DB: tx})
	})
	if err != nil {
		return false, err
	}
	return fresh, nil
}

func (s *GormStore) UpsertTask(ctx context.Context, p TaskPatch) (*models.Task, bool, error) {
	var out models.Task
	var bound bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Task
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", p.TaskID).First(&t).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Placeholder record: a later-authored event beat the
			// created event here. The created event fills the gaps
			// when it lands.
			t = models.Task{ID: p.TaskID, Status: p.Status, CreatedAt: p.At, UpdatedAt: p.At}
			bound = applyPatch(&t, p)
			out = t
			return tx.Create(&t).Error
		}
		if err != nil {
			return err
		}
		bound = applyPatch(&t, p)
		out = t
		return tx.Save(&t).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &out, bound, nil
}

// applyPatch reports whether this patch attached the worker.
func applyPatch(t *models.Task, p TaskPatch) bool {
	bound := false
	if p.Payer != "" && t.Payer == "" {
		t.Payer = p.Payer
	}
	if p.Worker != "" && t.Worker == nil {
		w := p.Worker
		t.Worker = &w
		bound = true
	}
	if p.Amount != 0 && t.Amount == 0 {
		t.Amount = p.Amount
	}
	if p.Denom != "" && t.Denom == "" {
		t.Denom = p.Denom
	}
	if p.ProofType != "" && t.ProofType == "" {
		t.ProofType = p.ProofType
	}
	if p.ProofHash != "" && t.ProofHash == nil {
		h := p.ProofHash
		t.ProofHash = &h
	}
	if statusRank(p.Status) > statusRank(t.Status) {
		t.Status = p.Status
		if t.Status != engine.StatusPendingRelease {
			t.PendingReleaseExpiresAt = nil
		}
	}
	if p.At.After(t.UpdatedAt) {
		t.UpdatedAt = p.At
	}
	return bound
}

func (s *GormStore) BumpStats(ctx context.Context, d StatsDelta) error {
	if d.Address == "" {
		return nil
	}
	now := time.Now()
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"tasks_created":   gorm.Expr("tasks_created + ?", d.TasksCreated),
			"tasks_completed": gorm.Expr("tasks_completed + ?", d.TasksCompleted),
			"amount_earned":   gorm.Expr("amount_earned + ?", d.AmountEarned),
			"amount_spent":    gorm.Expr("amount_spent + ?", d.AmountSpent),
			"updated_at":      now,
		}),
	}).Create(&models.UserStats{
		Address:        d.Address,
		TasksCreated:   d.TasksCreated,
		TasksCompleted: d.TasksCompleted,
		AmountEarned:   d.AmountEarned,
		AmountSpent:    d.AmountSpent,
		UpdatedAt:      now,
	}).Error
}
