package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/campusdev/teamsync/internal/config"
	"github.com/campusdev/teamsync/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}
	return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
	db  *DB
	log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return &Repository{db: d, log: log} }

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
	return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
	if !ok && err == nil {
		return errors.New("advisory unlock returned false")
	}
	return err
}

// ---- teams ----

func (r *Repository) GetTeam(ctx context.Context, id int64) (*domain.Team, error) {
	const q = `SELECT id, name, COALESCE(repo_owner,''), COALESCE(repo_name,''),
		COALESCE(jira_board_id,0), COALESCE(jira_project_key,''), last_synced_at
		FROM teams WHERE id=$1`
	var t domain.Team
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.Name, &t.RepoOwner, &t.RepoName,
		&t.JiraBoardID, &t.JiraProjectKey, &t.LastSyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) ListTeams(ctx context.Context) ([]domain.Team, error) {
	const q = `SELECT id, name, COALESCE(repo_owner,''), COALESCE(repo_name,''),
		COALESCE(jira_board_id,0), COALESCE(jira_project_key,''), last_synced_at
		FROM teams ORDER BY id`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Team
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.RepoOwner, &t.RepoName,
			&t.JiraBoardID, &t.JiraProjectKey, &t.LastSyncedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// prependHistory puts entry at the head of the serialized history and trims
// everything beyond limit. Unreadable stored history is reset rather than
// propagated.
func prependHistory(raw []byte, entry domain.SyncHistoryEntry, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = 20
	}
	var history []domain.SyncHistoryEntry
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &history); err != nil {
			history = nil
		}
	}
	history = append([]domain.SyncHistoryEntry{entry}, history...)
	if len(history) > limit {
		history = history[:limit]
	}
	return json.Marshal(history)
}

// SetTeamSynced stamps last_synced_at and prepends one history entry to the
// bounded JSONB log. The row is locked for the read-modify-write so that
// concurrent runs (manual trigger racing the cron sweep) never lose entries.
func (r *Repository) SetTeamSynced(ctx context.Context, teamID int64, at time.Time, entry domain.SyncHistoryEntry, limit int) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, `SELECT COALESCE(sync_history,'[]'::jsonb) FROM teams WHERE id=$1 FOR UPDATE`, teamID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	buf, err := prependHistory(raw, entry, limit)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE teams SET last_synced_at=$2, sync_history=$3 WHERE id=$1`, teamID, at, buf); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetSyncHistory(ctx context.Context, teamID int64) ([]domain.SyncHistoryEntry, error) {
	var raw []byte
	err := r.db.Pool.QueryRow(ctx, `SELECT COALESCE(sync_history,'[]'::jsonb) FROM teams WHERE id=$1`, teamID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var history []domain.SyncHistoryEntry
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// ---- members / identity mapping ----

const memberCols = `id, team_id, project_id, name, COALESCE(email,''), role,
	COALESCE(jira_account_id,''), COALESCE(github_username,'')`

func scanMember(row pgx.Row) (*domain.TeamMember, error) {
	var m domain.TeamMember
	err := row.Scan(&m.ID, &m.TeamID, &m.ProjectID, &m.Name, &m.Email, &m.Role,
		&m.JiraAccountID, &m.GithubUsername)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repository) GetMember(ctx context.Context, id int64) (*domain.TeamMember, error) {
	return scanMember(r.db.Pool.QueryRow(ctx, `SELECT `+memberCols+` FROM members WHERE id=$1`, id))
}

func (r *Repository) ListMembers(ctx context.Context, teamID int64) ([]domain.TeamMember, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+memberCols+` FROM members WHERE team_id=$1 ORDER BY id`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TeamMember
	for rows.Next() {
		var m domain.TeamMember
		if err := rows.Scan(&m.ID, &m.TeamID, &m.ProjectID, &m.Name, &m.Email, &m.Role,
			&m.JiraAccountID, &m.GithubUsername); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) GetLeader(ctx context.Context, teamID int64) (*domain.TeamMember, error) {
	return scanMember(r.db.Pool.QueryRow(ctx,
		`SELECT `+memberCols+` FROM members WHERE team_id=$1 AND role='leader' ORDER BY id LIMIT 1`, teamID))
}

func (r *Repository) ResolveMemberByAccountID(ctx context.Context, teamID int64, accountID string) (*domain.TeamMember, error) {
	if accountID == "" {
		return nil, domain.ErrNotFound
	}
	return scanMember(r.db.Pool.QueryRow(ctx,
		`SELECT `+memberCols+` FROM members WHERE team_id=$1 AND jira_account_id=$2 ORDER BY id LIMIT 1`,
		teamID, accountID))
}

func (r *Repository) UpdateMemberMapping(ctx context.Context, memberID int64, jiraAccountID, githubUsername *string) (*domain.TeamMember, error) {
	const q = `UPDATE members SET
		jira_account_id = COALESCE($2, jira_account_id),
		github_username = COALESCE($3, github_username)
		WHERE id=$1
		RETURNING ` + memberCols
	return scanMember(r.db.Pool.QueryRow(ctx, q, memberID, jiraAccountID, githubUsername))
}

// SetLeader promotes one member and demotes the rest of the team.
func (r *Repository) SetLeader(ctx context.Context, teamID, memberID int64) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `UPDATE members SET role='member' WHERE team_id=$1 AND id<>$2`, teamID, memberID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE members SET role='leader' WHERE team_id=$1 AND id=$2`, teamID, memberID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return tx.Commit(ctx)
}

// FindTeamByProjectKey walks project key -> project -> any member on that
// project -> the member's team. Used for webhook team resolution.
func (r *Repository) FindTeamByProjectKey(ctx context.Context, projectKey string) (*domain.Team, error) {
	if projectKey == "" {
		return nil, domain.ErrNotFound
	}
	const q = `SELECT t.id, t.name, COALESCE(t.repo_owner,''), COALESCE(t.repo_name,''),
		COALESCE(t.jira_board_id,0), COALESCE(t.jira_project_key,''), t.last_synced_at
		FROM teams t
		JOIN members m ON m.team_id = t.id
		JOIN projects p ON p.id = m.project_id
		WHERE p.jira_project_key = $1
		ORDER BY t.id LIMIT 1`
	var t domain.Team
	err := r.db.Pool.QueryRow(ctx, q, projectKey).Scan(&t.ID, &t.Name, &t.RepoOwner, &t.RepoName,
		&t.JiraBoardID, &t.JiraProjectKey, &t.LastSyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ---- commits ----

func (r *Repository) UpsertCommit(ctx context.Context, c domain.Commit) error {
	const q = `INSERT INTO commits(team_id, hash, author_email, message, committed_at, counted, rejection_reason)
		VALUES($1,$2,$3,$4,$5,$6,NULLIF($7,''))
		ON CONFLICT(hash) DO UPDATE SET
			team_id=EXCLUDED.team_id,
			author_email=EXCLUDED.author_email,
			message=EXCLUDED.message,
			committed_at=EXCLUDED.committed_at,
			counted=EXCLUDED.counted,
			rejection_reason=EXCLUDED.rejection_reason`
	_, err := r.db.Pool.Exec(ctx, q, c.TeamID, c.Hash, c.AuthorEmail, c.Message, c.CommittedAt, c.Counted, c.RejectionReason)
	return err
}

// LastQualifiedCommit returns the most recent counted commit for the author
// within the team that is strictly older than the commit being qualified.
// Excluding the candidate's own hash and anything at or after its timestamp
// keeps re-ingestion from rejecting an already-counted commit against itself
// or against later commits that were counted on an earlier pass.
func (r *Repository) LastQualifiedCommit(ctx context.Context, teamID int64, authorEmail, excludeHash string, before time.Time) (*domain.Commit, error) {
	const q = `SELECT id, team_id, hash, author_email, message, committed_at, counted, COALESCE(rejection_reason,'')
		FROM commits
		WHERE team_id=$1 AND lower(author_email)=lower($2) AND counted AND hash<>$3 AND committed_at < $4
		ORDER BY committed_at DESC LIMIT 1`
	var c domain.Commit
	err := r.db.Pool.QueryRow(ctx, q, teamID, authorEmail, excludeHash, before).Scan(
		&c.ID, &c.TeamID, &c.Hash, &c.AuthorEmail, &c.Message, &c.CommittedAt, &c.Counted, &c.RejectionReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) ListCommits(ctx context.Context, teamID int64) ([]domain.Commit, error) {
	const q = `SELECT id, team_id, hash, author_email, message, committed_at, counted, COALESCE(rejection_reason,'')
		FROM commits WHERE team_id=$1 ORDER BY committed_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Commit
	for rows.Next() {
		var c domain.Commit
		if err := rows.Scan(&c.ID, &c.TeamID, &c.Hash, &c.AuthorEmail, &c.Message, &c.CommittedAt, &c.Counted, &c.RejectionReason); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- sprints ----

func (r *Repository) UpsertSprint(ctx context.Context, s domain.Sprint) (int64, error) {
	const q = `INSERT INTO sprints(team_id, ext_id, name, state, start_at, end_at)
		VALUES($1,$2,$3,$4,$5,$6)
		ON CONFLICT(team_id, ext_id) DO UPDATE SET
			name=EXCLUDED.name,
			state=EXCLUDED.state,
			start_at=EXCLUDED.start_at,
			end_at=EXCLUDED.end_at
		RETURNING id`
	var id int64
	err := r.db.Pool.QueryRow(ctx, q, s.TeamID, s.ExtID, s.Name, s.State, s.StartAt, s.EndAt).Scan(&id)
	return id, err
}

// EnsureFallbackSprint lazily creates the team's catch-all sprint (ext_id 0)
// used when a webhook event carries no sprint context.
func (r *Repository) EnsureFallbackSprint(ctx context.Context, teamID int64) (int64, error) {
	const q = `INSERT INTO sprints(team_id, ext_id, name, state)
		VALUES($1, 0, 'Backlog', 'active')
		ON CONFLICT(team_id, ext_id) DO UPDATE SET team_id=EXCLUDED.team_id
		RETURNING id`
	var id int64
	err := r.db.Pool.QueryRow(ctx, q, teamID).Scan(&id)
	return id, err
}

func (r *Repository) ListSprints(ctx context.Context, teamID int64) ([]domain.Sprint, error) {
	const q = `SELECT id, team_id, ext_id, name, state, start_at, end_at
		FROM sprints WHERE team_id=$1 ORDER BY ext_id`
	rows, err := r.db.Pool.Query(ctx, q, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Sprint
	for rows.Next() {
		var s domain.Sprint
		if err := rows.Scan(&s.ID, &s.TeamID, &s.ExtID, &s.Name, &s.State, &s.StartAt, &s.EndAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ---- tasks ----

// UpsertTask writes the task keyed by its globally unique issue id and
// reports whether the row was newly inserted.
func (r *Repository) UpsertTask(ctx context.Context, t domain.Task) (bool, error) {
	const q = `INSERT INTO tasks(team_id, sprint_id, ext_id, key, summary, status, status_category,
			assignee_account_id, assignee_member_id, estimate)
		VALUES($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9,$10)
		ON CONFLICT(ext_id) DO UPDATE SET
			team_id=EXCLUDED.team_id,
			sprint_id=EXCLUDED.sprint_id,
			key=EXCLUDED.key,
			summary=EXCLUDED.summary,
			status=EXCLUDED.status,
			status_category=EXCLUDED.status_category,
			assignee_account_id=EXCLUDED.assignee_account_id,
			assignee_member_id=EXCLUDED.assignee_member_id,
			estimate=EXCLUDED.estimate
		RETURNING (xmax = 0)`
	var inserted bool
	err := r.db.Pool.QueryRow(ctx, q, t.TeamID, t.SprintID, t.ExtID, t.Key, t.Summary, t.Status,
		t.StatusCategory, t.AssigneeAccountID, t.AssigneeMemberID, t.Estimate).Scan(&inserted)
	return inserted, err
}

func (r *Repository) DeleteTaskByExtID(ctx context.Context, extID string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM tasks WHERE ext_id=$1`, extID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) ListTasksByTeam(ctx context.Context, teamID int64) ([]domain.Task, error) {
	const q = `SELECT id, team_id, sprint_id, ext_id, COALESCE(key,''), COALESCE(summary,''),
		COALESCE(status,''), COALESCE(status_category,''), COALESCE(assignee_account_id,''),
		assignee_member_id, COALESCE(estimate,0)
		FROM tasks WHERE team_id=$1 ORDER BY id`
	rows, err := r.db.Pool.Query(ctx, q, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.TeamID, &t.SprintID, &t.ExtID, &t.Key, &t.Summary,
			&t.Status, &t.StatusCategory, &t.AssigneeAccountID, &t.AssigneeMemberID, &t.Estimate); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RelinkTasks points every task in the team that carries the given external
// account id at the member, stale links included.
func (r *Repository) RelinkTasks(ctx context.Context, teamID int64, accountID string, memberID int64) (int64, error) {
	if accountID == "" {
		return 0, nil
	}
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE tasks SET assignee_member_id=$3 WHERE team_id=$1 AND assignee_account_id=$2`,
		teamID, accountID, memberID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ---- credentials ----

func (r *Repository) GetCredential(ctx context.Context, memberID int64, provider domain.Provider) (*domain.StoredCredential, error) {
	const q = `SELECT member_id, provider, access_token, COALESCE(refresh_token,''),
		COALESCE(account_id,''), COALESCE(cloud_id,'')
		FROM credentials WHERE member_id=$1 AND provider=$2`
	var c domain.StoredCredential
	err := r.db.Pool.QueryRow(ctx, q, memberID, provider).Scan(&c.MemberID, &c.Provider,
		&c.AccessTokenEnc, &c.RefreshTokenEnc, &c.AccountID, &c.CloudID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) SaveCredential(ctx context.Context, c domain.StoredCredential) error {
	const q = `INSERT INTO credentials(member_id, provider, access_token, refresh_token, account_id, cloud_id)
		VALUES($1,$2,$3,NULLIF($4,''),NULLIF($5,''),NULLIF($6,''))
		ON CONFLICT(member_id, provider) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			account_id=EXCLUDED.account_id,
			cloud_id=EXCLUDED.cloud_id`
	_, err := r.db.Pool.Exec(ctx, q, c.MemberID, c.Provider, c.AccessTokenEnc, c.RefreshTokenEnc, c.AccountID, c.CloudID)
	return err
}

func (r *Repository) DeleteCredential(ctx context.Context, memberID int64, provider domain.Provider) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM credentials WHERE member_id=$1 AND provider=$2`, memberID, provider)
	return err
}
