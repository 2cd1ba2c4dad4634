package services

import (
	"context"
	"testing"

	"github.com/campusdev/teamsync/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type memIdentityStore struct {
	members map[int64]domain.TeamMember
	tasks   []domain.Task
}

func (s *memIdentityStore) UpdateMemberMapping(ctx context.Context, memberID int64, jiraAccountID, githubUsername *string) (*domain.TeamMember, error) {
	m, ok := s.members[memberID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if jiraAccountID != nil {
		m.JiraAccountID = *jiraAccountID
	}
	if githubUsername != nil {
		m.GithubUsername = *githubUsername
	}
	s.members[memberID] = m
	return &m, nil
}

func (s *memIdentityStore) ResolveMemberByAccountID(ctx context.Context, teamID int64, accountID string) (*domain.TeamMember, error) {
	if accountID == "" {
		return nil, domain.ErrNotFound
	}
	for _, m := range s.members {
		if m.TeamID == teamID && m.JiraAccountID == accountID {
			mm := m
			return &mm, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memIdentityStore) RelinkTasks(ctx context.Context, teamID int64, accountID string, memberID int64) (int64, error) {
	var n int64
	for i := range s.tasks {
		if s.tasks[i].TeamID == teamID && s.tasks[i].AssigneeAccountID == accountID {
			id := memberID
			s.tasks[i].AssigneeMemberID = &id
			n++
		}
	}
	return n, nil
}

func TestSetMapping_RelinksIngestedTasks(t *testing.T) {
	staleID := int64(99)
	st := &memIdentityStore{
		members: map[int64]domain.TeamMember{
			7: {ID: 7, TeamID: 3, Name: "Alice"},
		},
		tasks: []domain.Task{
			{TeamID: 3, ExtID: "9001", AssigneeAccountID: "acc-7"},
			{TeamID: 3, ExtID: "9002", AssigneeAccountID: "acc-7", AssigneeMemberID: &staleID},
			{TeamID: 3, ExtID: "9003", AssigneeAccountID: "acc-other"},
			{TeamID: 4, ExtID: "9004", AssigneeAccountID: "acc-7"},
		},
	}
	svc := NewIdentity(st, zerolog.Nop())

	account := "acc-7"
	m, err := svc.SetMapping(context.Background(), 7, &account, nil)
	require.NoError(t, err)
	require.Equal(t, "acc-7", m.JiraAccountID)

	// both the unlinked and the stale-linked task in team 3 now point at Alice
	require.NotNil(t, st.tasks[0].AssigneeMemberID)
	require.Equal(t, int64(7), *st.tasks[0].AssigneeMemberID)
	require.NotNil(t, st.tasks[1].AssigneeMemberID)
	require.Equal(t, int64(7), *st.tasks[1].AssigneeMemberID)
	require.Nil(t, st.tasks[2].AssigneeMemberID)
	require.Nil(t, st.tasks[3].AssigneeMemberID)
}

func TestSetMapping_GithubOnlySkipsRelink(t *testing.T) {
	st := &memIdentityStore{
		members: map[int64]domain.TeamMember{
			7: {ID: 7, TeamID: 3, Name: "Alice", JiraAccountID: "acc-7"},
		},
		tasks: []domain.Task{{TeamID: 3, ExtID: "9001", AssigneeAccountID: "acc-7"}},
	}
	svc := NewIdentity(st, zerolog.Nop())

	username := "alice-gh"
	m, err := svc.SetMapping(context.Background(), 7, nil, &username)
	require.NoError(t, err)
	require.Equal(t, "alice-gh", m.GithubUsername)
	require.Nil(t, st.tasks[0].AssigneeMemberID)
}

func TestSetMapping_UnknownMember(t *testing.T) {
	svc := NewIdentity(&memIdentityStore{members: map[int64]domain.TeamMember{}}, zerolog.Nop())

	account := "acc-7"
	_, err := svc.SetMapping(context.Background(), 7, &account, nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolve_UnmappedAccountIsNil(t *testing.T) {
	st := &memIdentityStore{
		members: map[int64]domain.TeamMember{
			7: {ID: 7, TeamID: 3, JiraAccountID: "acc-7"},
		},
	}
	svc := NewIdentity(st, zerolog.Nop())

	m, err := svc.Resolve(context.Background(), 3, "acc-unknown")
	require.NoError(t, err)
	require.Nil(t, m)

	m, err = svc.Resolve(context.Background(), 3, "acc-7")
	require.NoError(t, err)
	require.Equal(t, int64(7), m.ID)
}
