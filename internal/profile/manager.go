package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Domain errors
var (
	ErrInvalidEmail = errors.New("invalid email")
	ErrInvalidID    = errors.New("invalid profile ID")
)

// Manager handles business logic for profiles.
type Manager struct {
	ds *Datastore
}

// NewManager creates a new profile manager.
func NewManager(ds *Datastore) *Manager {
	return &Manager{ds: ds}
}

// Find returns the profile for id, or nil with no error when none exists.
func (m *Manager) Find(ctx context.Context, id uuid.UUID) (*Profile, error) {
	p, err := m.ds.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// Upsert creates or updates the profile keyed by u.ID.
func (m *Manager) Upsert(ctx context.Context, u Upsert) (*Profile, error) {
	if u.ID == uuid.Nil {
		return nil, ErrInvalidID
	}

	u.Email = strings.TrimSpace(u.Email)
	if u.Email == "" {
		return nil, ErrInvalidEmail
	}

	p, err := m.ds.Upsert(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}
	return p, nil
}
