package store

import (
	"context"
	"errors"

	"msghub/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CallStore struct{ db *gorm.DB }

func (s *Store) Calls() *CallStore { return &CallStore{db: s.DB} }

func (c *CallStore) Create(ctx context.Context, call *domain.Call) error {
	return c.db.WithContext(ctx).Create(call).Error
}

// Save writes the full current state of an active call's durable record.
func (c *CallStore) Save(ctx context.Context, call *domain.Call) error {
	return c.db.WithContext(ctx).Save(call).Error
}

func (c *CallStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Call, error) {
	var call domain.Call
	if err := c.db.WithContext(ctx).First(&call, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &call, nil
}
