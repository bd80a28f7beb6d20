package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"msghub/internal/domain"
	"msghub/internal/store"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username taken")
)

// Service implements the account credential boundary: it turns a
// username/password pair into a bearer token for the realtime channel.
type Service struct {
	store  *store.Store
	tokens *Tokens
}

func NewService(st *store.Store, tokens *Tokens) *Service {
	return &Service{store: st, tokens: tokens}
}

func (s *Service) Register(ctx context.Context, username, password, displayName string) (*domain.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < 8 {
		return nil, fmt.Errorf("%w: username and a password of at least 8 characters are required", domain.ErrInvalidRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = username
	}
	account := &domain.Account{
		ID:           uuid.New(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	// Uniqueness check and insert share one transaction so two concurrent
	// registrations of the same name cannot both pass the check.
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if _, err := tx.Accounts().GetByUsername(ctx, username); err == nil {
			return ErrUsernameTaken
		} else if !errors.Is(err, store.ErrRecordNotFound) {
			return fmt.Errorf("%w: account lookup: %v", domain.ErrStorageUnavailable, err)
		}
		if err := tx.Accounts().Create(ctx, account); err != nil {
			return fmt.Errorf("%w: persist account: %v", domain.ErrStorageUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (string, *domain.Account, error) {
	account, err := s.store.Accounts().GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("%w: account lookup: %v", domain.ErrStorageUnavailable, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.tokens.Issue(account.ID)
	if err != nil {
		return "", nil, err
	}
	return token, account, nil
}
