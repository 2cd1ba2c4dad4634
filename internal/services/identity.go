package services

import (
	"context"
	"errors"

	"github.com/campusdev/teamsync/internal/domain"
	"github.com/rs/zerolog"
)

type IdentityStore interface {
	UpdateMemberMapping(ctx context.Context, memberID int64, jiraAccountID, githubUsername *string) (*domain.TeamMember, error)
	ResolveMemberByAccountID(ctx context.Context, teamID int64, accountID string) (*domain.TeamMember, error)
	RelinkTasks(ctx context.Context, teamID int64, accountID string, memberID int64) (int64, error)
}

// Identity maintains the association between internal team members and their
// external account identifiers.
type Identity struct {
	store IdentityStore
	log   zerolog.Logger
}

func NewIdentity(store IdentityStore, log zerolog.Logger) *Identity {
	return &Identity{store: store, log: log}
}

// Resolve returns the member mapped to the external account id within the
// team, or nil when nobody is mapped to it.
func (s *Identity) Resolve(ctx context.Context, teamID int64, accountID string) (*domain.TeamMember, error) {
	m, err := s.store.ResolveMemberByAccountID(ctx, teamID, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// SetMapping updates a member's external identifiers. When the tracker
// account id changes, every already-ingested task carrying that account id in
// the member's team is re-linked to the member.
func (s *Identity) SetMapping(ctx context.Context, memberID int64, jiraAccountID, githubUsername *string) (*domain.TeamMember, error) {
	m, err := s.store.UpdateMemberMapping(ctx, memberID, jiraAccountID, githubUsername)
	if err != nil {
		return nil, err
	}
	if jiraAccountID != nil && *jiraAccountID != "" {
		n, err := s.store.RelinkTasks(ctx, m.TeamID, *jiraAccountID, m.ID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			s.log.Info().Int64("member", m.ID).Int64("relinked", n).Msg("identity mapping updated, tasks re-linked")
		}
	}
	return m, nil
}
