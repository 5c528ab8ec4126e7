package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("link not found")
	ErrAliasCollision   = errors.New("alias already exists")
	ErrInactive         = errors.New("link is inactive")
	ErrPasswordRequired = errors.New("link password required")
	ErrPasswordMismatch = errors.New("link password mismatch")
	ErrForbidden        = errors.New("link owned by another user")
	ErrInvalidInput     = errors.New("invalid input")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")

	ErrCacheUnavailable = errors.New("cache unavailable")
	ErrStoreTimeout     = errors.New("store timeout")
)

// PartialWriteError reports that the authoritative projection was written
// but the secondary one could not be, and the follow-up could not be queued
// either. The operation itself took effect.
type PartialWriteError struct {
	Op    ReconcileOp
	Alias string
	Err   error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial %s of %s: %v", e.Op, e.Alias, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }
