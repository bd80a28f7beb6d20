package store

import (
	"context"
	"errors"

	"msghub/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FileStore struct{ db *gorm.DB }

func (s *Store) Files() *FileStore { return &FileStore{db: s.DB} }

func (f *FileStore) Create(ctx context.Context, file *domain.File) error {
	return f.db.WithContext(ctx).Create(file).Error
}

func (f *FileStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.File, error) {
	var file domain.File
	if err := f.db.WithContext(ctx).First(&file, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &file, nil
}
