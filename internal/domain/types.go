package domain

import "time"

type Provider string

const (
	ProviderGithub Provider = "github"
	ProviderJira   Provider = "jira"
)

type Role string

const (
	RoleLeader Role = "leader"
	RoleMember Role = "member"
)

type Team struct {
	ID             int64
	Name           string
	RepoOwner      string
	RepoName       string
	JiraBoardID    int64
	JiraProjectKey string
	LastSyncedAt   *time.Time
}

type Project struct {
	ID             int64
	Name           string
	JiraProjectKey string
}

type TeamMember struct {
	ID             int64
	TeamID         int64
	ProjectID      *int64
	Name           string
	Email          string
	Role           Role
	JiraAccountID  string
	GithubUsername string
}

type Commit struct {
	ID              int64
	TeamID          int64
	Hash            string
	AuthorEmail     string
	Message         string
	CommittedAt     time.Time
	Counted         bool
	RejectionReason string
}

// VCSCommit is a commit as fetched from the version-control host, before
// qualification.
type VCSCommit struct {
	Hash        string
	AuthorEmail string
	Message     string
	CommittedAt time.Time
}

type SprintState string

const (
	SprintActive SprintState = "active"
	SprintFuture SprintState = "future"
	SprintClosed SprintState = "closed"
)

type Sprint struct {
	ID      int64
	TeamID  int64
	ExtID   int64
	Name    string
	State   SprintState
	StartAt *time.Time
	EndAt   *time.Time
}

// StatusCategoryDone is the tracker's coarse "done" bucket used for
// completion metrics.
const StatusCategoryDone = "done"

type Task struct {
	ID                int64
	TeamID            int64
	SprintID          *int64
	ExtID             string
	Key               string
	Summary           string
	Status            string
	StatusCategory    string
	AssigneeAccountID string
	AssigneeMemberID  *int64
	Estimate          float64
}

type GithubCredential struct {
	AccessToken string
	Username    string
}

type JiraCredential struct {
	AccessToken  string
	RefreshToken string
	AccountID    string
	CloudID      string
}

// ProviderCredential is the decrypted, in-memory form of a stored credential.
// Exactly one variant is set, matching Provider.
type ProviderCredential struct {
	Provider Provider
	Github   *GithubCredential
	Jira     *JiraCredential
}

// StoredCredential is the at-rest form: token fields hold vault-sealed blobs.
type StoredCredential struct {
	MemberID        int64
	Provider        Provider
	AccessTokenEnc  string
	RefreshTokenEnc string
	AccountID       string
	CloudID         string
}

type SyncHistoryEntry struct {
	RunID          string    `json:"run_id"`
	At             time.Time `json:"at"`
	CommitsFetched int       `json:"commits_fetched"`
	CommitsCounted int       `json:"commits_counted"`
	SprintsSynced  int       `json:"sprints_synced"`
	TasksSynced    int       `json:"tasks_synced"`
	Errors         []string  `json:"errors,omitempty"`
}
