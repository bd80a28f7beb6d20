package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"msghub/internal/auth"
	"msghub/internal/domain"
	"msghub/internal/dto"
	"msghub/internal/store"

	obsmw "msghub/internal/observability/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const defaultHistoryLimit = 50

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type accountResponse struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string          `json:"token"`
	Account accountResponse `json:"account"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.log, fmt.Errorf("%w: malformed body", domain.ErrInvalidRequest))
		return
	}
	acc, err := h.authSvc.Register(r.Context(), req.Username, req.Password, req.DisplayName)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(acc))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.log, fmt.Errorf("%w: malformed body", domain.ErrInvalidRequest))
		return
	}
	token, acc, err := h.authSvc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Account: toAccountResponse(acc)})
}

// handleHistory returns the conversation between the caller and ?peer=,
// oldest first.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFrom(r.Context())
	if !ok {
		writeError(w, r, h.log, domain.ErrUnauthenticated)
		return
	}
	peerID, err := uuid.Parse(r.URL.Query().Get("peer"))
	if err != nil {
		writeError(w, r, h.log, fmt.Errorf("%w: peer must be a uuid", domain.ErrInvalidRequest))
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, h.log, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidRequest))
			return
		}
		limit = n
	}

	msgs, err := h.store.Messages().Between(r.Context(), accountID, peerID, limit)
	if err != nil {
		writeError(w, r, h.log, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err))
		return
	}
	views := make([]dto.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, dto.FromMessage(m))
	}
	writeJSON(w, http.StatusOK, views)
}

type uploadResponse struct {
	FileID  uuid.UUID       `json:"fileId"`
	Message dto.MessageView `json:"message"`
}

// handleUpload receives the relay payload for a transfer. The body is the
// raw file content; X-Transfer-Token identifies the negotiation and proves
// the caller was issued the relay slot.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFrom(r.Context())
	if !ok {
		writeError(w, r, h.log, domain.ErrUnauthenticated)
		return
	}
	token := r.Header.Get("X-Transfer-Token")
	if token == "" {
		writeError(w, r, h.log, fmt.Errorf("%w: missing X-Transfer-Token", domain.ErrInvalidRequest))
		return
	}
	t, err := h.transfers.TransferForToken(token)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if t.SenderID != accountID {
		writeError(w, r, h.log, domain.ErrAccessDenied)
		return
	}

	fileID := uuid.New()
	path := filepath.Join(h.uploadDir, fileID.String())
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		writeError(w, r, h.log, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err))
		return
	}
	dst, err := os.Create(path)
	if err != nil {
		writeError(w, r, h.log, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err))
		return
	}
	body := http.MaxBytesReader(w, r.Body, t.Metadata.Size)
	written, err := io.Copy(dst, body)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		writeError(w, r, h.log, fmt.Errorf("%w: reading upload: %v", domain.ErrInvalidRequest, err))
		return
	}

	file := &domain.File{
		ID:          fileID,
		UploaderID:  accountID,
		Name:        t.Metadata.Name,
		Size:        written,
		MimeType:    t.Metadata.MimeType,
		StoragePath: path,
	}
	if err := h.store.Files().Create(r.Context(), file); err != nil {
		_ = os.Remove(path)
		writeError(w, r, h.log, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err))
		return
	}

	msg, err := h.transfers.CompleteRelay(r.Context(), token, fileID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{FileID: fileID, Message: dto.FromMessage(msg)})
}

// handleDownload streams a relayed file back to a party of its transfer.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFrom(r.Context())
	if !ok {
		writeError(w, r, h.log, domain.ErrUnauthenticated)
		return
	}
	fileID, err := uuid.Parse(chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, r, h.log, fmt.Errorf("%w: fileID must be a uuid", domain.ErrInvalidRequest))
		return
	}
	allowed, err := h.guard.CanRead(r.Context(), fileID, accountID)
	if err != nil {
		writeError(w, r, h.log, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err))
		return
	}
	if !allowed {
		writeError(w, r, h.log, domain.ErrAccessDenied)
		return
	}
	file, err := h.store.Files().GetByID(r.Context(), fileID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if file.MimeType != "" {
		w.Header().Set("Content-Type", file.MimeType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	http.ServeFile(w, r, file.StoragePath)
}

func toAccountResponse(acc *domain.Account) accountResponse {
	return accountResponse{
		ID:          acc.ID,
		Username:    acc.Username,
		DisplayName: acc.DisplayName,
		CreatedAt:   acc.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrAccessDenied), errors.Is(err, domain.ErrNotParticipant):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrTransferNotFound), errors.Is(err, store.ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auth.ErrUsernameTaken):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", obsmw.RequestIDFromContext(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
