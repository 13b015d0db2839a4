package repository

import (
	"context"
	"errors"
	"time"

	"search-market-agent/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTaskNotFound = errors.New("settlement task not found")
	ErrNotRetryable = errors.New("settlement task is not in a failed state")
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type SettlementRepository struct {
	db *gorm.DB
}

func NewSettlementRepository(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// CreateIfAbsent inserts task unless one already exists for the same
// (market, candidate index) pair. It reports whether the insert happened.
func (r *SettlementRepository) CreateIfAbsent(ctx context.Context, task *models.SettlementTask) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "market_address"}, {Name: "candidate_index"}},
			DoNothing: true,
		}).
		Create(task)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Save persists every field of task
func (r *SettlementRepository) Save(ctx context.Context, task *models.SettlementTask) error {
	return r.db.WithContext(ctx).Save(task).Error
}

// GetByID retrieves a task by ID
func (r *SettlementRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SettlementTask, error) {
	var task models.SettlementTask
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// GetByCandidate retrieves the task for one candidate of a market
func (r *SettlementRepository) GetByCandidate(ctx context.Context, market string, index int) (*models.SettlementTask, error) {
	var task models.SettlementTask
	err := r.db.WithContext(ctx).
		Where("market_address = ? AND candidate_index = ?", market, index).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// SettlementFilter narrows List results. Zero values match everything.
type SettlementFilter struct {
	MarketAddress string
	State         models.SettlementState
	Limit         int
}

// List returns tasks newest first
func (r *SettlementRepository) List(ctx context.Context, filter SettlementFilter) ([]models.SettlementTask, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := r.db.WithContext(ctx).Model(&models.SettlementTask{})
	if filter.MarketAddress != "" {
		query = query.Where("market_address = ?", filter.MarketAddress)
	}
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}

	var tasks []models.SettlementTask
	err := query.Order("created_at DESC").Order("candidate_index ASC").Limit(limit).Find(&tasks).Error
	return tasks, err
}

// ListResumable returns tasks that stopped between steps, oldest first
func (r *SettlementRepository) ListResumable(ctx context.Context) ([]models.SettlementTask, error) {
	var tasks []models.SettlementTask
	err := r.db.WithContext(ctx).
		Where("state NOT IN ?", []models.SettlementState{models.SettlementStateOrderPlaced, models.SettlementStateFailed}).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

// ReopenFailed moves a failed task back to its last confirmed state so it can
// be resumed. Only one caller wins when several race on the same task.
func (r *SettlementRepository) ReopenFailed(ctx context.Context, id uuid.UUID) (*models.SettlementTask, error) {
	var reopened *models.SettlementTask
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task models.SettlementTask
		if err := tx.Where("id = ?", id).First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskNotFound
			}
			return err
		}

		result := tx.Model(&models.SettlementTask{}).
			Where("id = ? AND state = ?", id, models.SettlementStateFailed).
			Updates(map[string]interface{}{
				"state":      task.LastConfirmedState,
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotRetryable
		}

		task.State = task.LastConfirmedState
		reopened = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reopened, nil
}

// CountByState returns the number of tasks in each state
func (r *SettlementRepository) CountByState(ctx context.Context) (map[models.SettlementState]int64, error) {
	var rows []struct {
		State models.SettlementState
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.SettlementTask{}).
		Select("state, COUNT(*) AS count").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.SettlementState]int64, len(rows))
	for _, row := range rows {
		counts[row.State] = row.Count
	}
	return counts, nil
}
