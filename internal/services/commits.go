package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/campusdev/teamsync/internal/config"
	"github.com/campusdev/teamsync/internal/domain"
	"github.com/rs/zerolog"
)

type CommitFetcher interface {
	Commits(ctx context.Context, owner, repo, token string, perPage int) ([]domain.VCSCommit, error)
}

type CommitStore interface {
	UpsertCommit(ctx context.Context, c domain.Commit) error
	LastQualifiedCommit(ctx context.Context, teamID int64, authorEmail, excludeHash string, before time.Time) (*domain.Commit, error)
}

type CommitSyncResult struct {
	Fetched int      `json:"fetched"`
	Counted int      `json:"counted"`
	Errors  []string `json:"errors,omitempty"`
}

var mergeCommitRe = regexp.MustCompile(`^Merge (pull request|branch|remote-tracking branch)\b`)

// Commits ingests the team repository's recent commits and decides which of
// them count toward contribution metrics.
type Commits struct {
	fetcher    CommitFetcher
	store      CommitStore
	cooldown   time.Duration
	minMessage int
	pageSize   int
	log        zerolog.Logger
}

func NewCommits(cfg config.Config, log zerolog.Logger, fetcher CommitFetcher, store CommitStore) *Commits {
	return &Commits{
		fetcher:    fetcher,
		store:      store,
		cooldown:   cfg.CommitCooldown,
		minMessage: cfg.CommitMinMessage,
		pageSize:   cfg.GithubPageSize,
		log:        log,
	}
}

// Sync fetches one page of commits and upserts each with its qualification
// verdict. Commits are processed oldest-first so that the cooldown check for
// a commit always sees the author's earlier commits already persisted.
func (s *Commits) Sync(ctx context.Context, team domain.Team, token string) CommitSyncResult {
	var res CommitSyncResult
	list, err := s.fetcher.Commits(ctx, team.RepoOwner, team.RepoName, token, s.pageSize)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("fetch commits: %v", err))
		return res
	}
	res.Fetched = len(list)
	sort.Slice(list, func(i, j int) bool { return list[i].CommittedAt.Before(list[j].CommittedAt) })

	for _, c := range list {
		counted, reason, err := s.qualify(ctx, team.ID, c)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("qualify %s: %v", c.Hash, err))
			continue
		}
		rec := domain.Commit{
			TeamID:          team.ID,
			Hash:            c.Hash,
			AuthorEmail:     c.AuthorEmail,
			Message:         c.Message,
			CommittedAt:     c.CommittedAt,
			Counted:         counted,
			RejectionReason: reason,
		}
		if err := s.store.UpsertCommit(ctx, rec); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("store %s: %v", c.Hash, err))
			continue
		}
		if counted {
			res.Counted++
		}
	}
	return res
}

// qualify applies the eligibility rules in order. The cooldown is evaluated
// against the author's last counted commit in durable state, never against
// the in-memory batch, and only commits strictly older than the candidate
// are considered so that re-running over the same history keeps verdicts.
func (s *Commits) qualify(ctx context.Context, teamID int64, c domain.VCSCommit) (bool, string, error) {
	msg := strings.TrimSpace(c.Message)
	if len(msg) < s.minMessage {
		return false, "message too short", nil
	}
	if mergeCommitRe.MatchString(msg) {
		return false, "merge commit", nil
	}
	last, err := s.store.LastQualifiedCommit(ctx, teamID, c.AuthorEmail, c.Hash, c.CommittedAt)
	if err != nil {
		return false, "", err
	}
	if last != nil {
		delta := c.CommittedAt.Sub(last.CommittedAt)
		if delta < s.cooldown {
			return false, fmt.Sprintf("too soon: %d minutes since last counted commit", int(delta.Minutes())), nil
		}
	}
	return true, "", nil
}
