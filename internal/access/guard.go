// Package access authorizes file-byte retrieval. The guard is stateless and
// caches nothing: message/file associations can grow after upload, so every
// decision consults the latest persisted state.
package access

import (
	"context"
	"errors"
	"fmt"

	"msghub/internal/domain"
	"msghub/internal/store"

	"github.com/google/uuid"
)

type Guard struct {
	store *store.Store
}

func New(st *store.Store) *Guard {
	return &Guard{store: st}
}

// CanRead reports whether accountID may read the bytes of fileID: true for
// the uploader and for the sender or receiver of any persisted message
// referencing the file.
func (g *Guard) CanRead(ctx context.Context, fileID, accountID uuid.UUID) (bool, error) {
	file, err := g.store.Files().GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: load file: %v", domain.ErrStorageUnavailable, err)
	}
	if file.UploaderID == accountID {
		return true, nil
	}
	ok, err := g.store.Messages().ExistsForFile(ctx, fileID, accountID)
	if err != nil {
		return false, fmt.Errorf("%w: message lookup: %v", domain.ErrStorageUnavailable, err)
	}
	return ok, nil
}
