package session

import (
	"context"
	"time"

	"tenant-auth/internal/apperr"
)

// Store maps a username to its single active session id.
type Store interface {
	Name() string
	// SetActive replaces the active session for username. Concurrent calls
	// for one username leave exactly one winner.
	SetActive(ctx context.Context, username, sessionID string) error
	// GetActive returns ok=false when there is no live session.
	GetActive(ctx context.Context, username string) (sessionID string, ok bool, err error)
	Clear(ctx context.Context, username string) error
	// ClearIf deletes the session only while it is still sessionID.
	ClearIf(ctx context.Context, username, sessionID string) (bool, error)
}

var ErrStore = apperr.New(apperr.KindInternal, "session store unavailable")

// DefaultTTL applies when a store is built with a zero TTL.
const DefaultTTL = 30 * 24 * time.Hour

const (
	BackendFast    = "fast"
	BackendDurable = "durable"
	BackendMemory  = "memory"
)
