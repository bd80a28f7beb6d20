package store

import (
	"context"
	"errors"

	"msghub/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageStore struct{ db *gorm.DB }

func (s *Store) Messages() *MessageStore { return &MessageStore{db: s.DB} }

func (m *MessageStore) Create(ctx context.Context, msg *domain.Message) error {
	return m.db.WithContext(ctx).Create(msg).Error
}

func (m *MessageStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	var msg domain.Message
	if err := m.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// MarkRead flips is_read for a message addressed to readerID and reports
// whether this call performed the flip. The update is one-way: a message
// already read stays read and reports false.
func (m *MessageStore) MarkRead(ctx context.Context, id, readerID uuid.UUID) (bool, error) {
	tx := m.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND receiver_id = ? AND is_read = ?", id, readerID, false).
		Update("is_read", true)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// Between returns the conversation history of two accounts, oldest first.
func (m *MessageStore) Between(ctx context.Context, a, b uuid.UUID, limit int) ([]domain.Message, error) {
	var msgs []domain.Message
	tx := m.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a).
		Order("created_at asc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// CorrespondentsOf returns every account that has ever exchanged a message
// with the given account.
func (m *MessageStore) CorrespondentsOf(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error) {
	var senders, receivers []uuid.UUID
	if err := m.db.WithContext(ctx).
		Model(&domain.Message{}).
		Distinct("sender_id").
		Where("receiver_id = ?", accountID).
		Pluck("sender_id", &senders).Error; err != nil {
		return nil, err
	}
	if err := m.db.WithContext(ctx).
		Model(&domain.Message{}).
		Distinct("receiver_id").
		Where("sender_id = ?", accountID).
		Pluck("receiver_id", &receivers).Error; err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]struct{}, len(senders)+len(receivers))
	out := make([]uuid.UUID, 0, len(senders)+len(receivers))
	for _, id := range append(senders, receivers...) {
		if id == accountID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// ExistsForFile reports whether any persisted message referencing fileID has
// accountID as its sender or receiver.
func (m *MessageStore) ExistsForFile(ctx context.Context, fileID, accountID uuid.UUID) (bool, error) {
	var count int64
	err := m.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("file_id = ? AND (sender_id = ? OR receiver_id = ?)", fileID, accountID, accountID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
