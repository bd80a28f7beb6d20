package domain

import "errors"

var (
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrInvalidCallTransition = errors.New("invalid call transition")
	ErrCallAlreadyTerminal   = errors.New("call already terminal")
	ErrCallNotActive         = errors.New("call not active")
	ErrCallNotFound          = errors.New("call not found")
	ErrNotParticipant        = errors.New("not a participant")
	ErrTransferNotFound      = errors.New("transfer not found")
	ErrTransferFailed        = errors.New("transfer negotiation failed")
	ErrStorageUnavailable    = errors.New("storage unavailable")
	ErrAccessDenied          = errors.New("access denied")
	ErrInvalidRequest        = errors.New("invalid request")
)
