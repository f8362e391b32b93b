package session

import (
	"context"
	"time"

	"dermodel/internal/authclient"
	"dermodel/internal/metrics"
	"dermodel/internal/profile"

	"go.uber.org/zap"
)

// FallbackProfile builds a profile from session metadata alone. It is shown
// while the persisted profile loads and seeds the row on first sign-in.
func FallbackProfile(s *authclient.Session, now time.Time) *profile.Profile {
	u := &s.User
	return &profile.Profile{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.MetadataString("username", "full_name", "name"),
		AvatarURL: u.MetadataString("avatar_url", "picture"),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// resolve runs one resolution pass for s. Store failures are logged and
// leave the fallback published; nothing is returned to the caller.
func (m *Manager) resolve(ctx context.Context, s *authclient.Session) {
	seq := m.seq.Add(1)

	if s == nil {
		m.publish(seq, func() bool {
			m.profile = nil
			return true
		})
		metrics.ProfileResolved(metrics.OutcomeCleared)
		return
	}

	fallback := FallbackProfile(s, m.now())
	log := m.logger.With(zap.String("user_id", fallback.ID.String()))

	m.publish(seq, func() bool {
		if m.profile != nil && m.profile.Profile != nil && m.profile.Profile.ID == fallback.ID {
			return false
		}
		m.profile = &ProfileState{Phase: PhasePending, Profile: fallback}
		return true
	})

	row, err := m.store.Find(ctx, fallback.ID)
	if err != nil {
		log.Error("failed to load profile, using session metadata", zap.Error(err))
		m.publishDegraded(seq, fallback)
		return
	}
	if row != nil {
		m.publishResolved(seq, row)
		metrics.ProfileResolved(metrics.OutcomeResolved)
		return
	}

	row, err = m.store.Upsert(ctx, profile.Upsert{
		ID:        fallback.ID,
		Email:     fallback.Email,
		Username:  profile.Some(fallback.Username),
		AvatarURL: profile.Some(fallback.AvatarURL),
	})
	if err != nil {
		log.Error("failed to create profile, using session metadata", zap.Error(err))
		m.publishDegraded(seq, fallback)
		return
	}

	log.Info("created profile")
	m.publishResolved(seq, row)
	metrics.ProfileResolved(metrics.OutcomeCreated)
}

func (m *Manager) publishResolved(seq uint64, p *profile.Profile) bool {
	return m.publish(seq, func() bool {
		m.profile = &ProfileState{Phase: PhaseResolved, Profile: p}
		return true
	})
}

func (m *Manager) publishDegraded(seq uint64, fallback *profile.Profile) {
	m.publish(seq, func() bool {
		m.profile = &ProfileState{Phase: PhaseDegraded, Profile: fallback}
		return true
	})
	metrics.ProfileResolved(metrics.OutcomeDegraded)
}
