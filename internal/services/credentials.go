package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/campusdev/teamsync/internal/domain"
	"github.com/campusdev/teamsync/internal/vault"
	"github.com/rs/zerolog"
)

type CredentialStore interface {
	GetCredential(ctx context.Context, memberID int64, provider domain.Provider) (*domain.StoredCredential, error)
	SaveCredential(ctx context.Context, c domain.StoredCredential) error
	DeleteCredential(ctx context.Context, memberID int64, provider domain.Provider) error
}

type TokenExchanger interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (access, refresh string, err error)
}

// Credentials seals tokens on the way into the store, opens them on the way
// out, and owns the refresh-and-retry-once lifecycle for tracker calls.
type Credentials struct {
	vault *vault.Vault
	store CredentialStore
	oauth TokenExchanger
	log   zerolog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewCredentials(v *vault.Vault, store CredentialStore, oauth TokenExchanger, log zerolog.Logger) *Credentials {
	return &Credentials{vault: v, store: store, oauth: oauth, log: log, locks: map[int64]*sync.Mutex{}}
}

// Get loads and decrypts the member's credential for the provider. A missing
// record or an unopenable token both come back as ErrNotConnected: the user
// has to (re)connect either way.
func (c *Credentials) Get(ctx context.Context, memberID int64, provider domain.Provider) (*domain.ProviderCredential, error) {
	stored, err := c.store.GetCredential(ctx, memberID, provider)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotConnected
	}
	if err != nil {
		return nil, err
	}
	access, err := c.vault.Open(stored.AccessTokenEnc)
	if err != nil {
		c.log.Warn().Err(err).Int64("member", memberID).Str("provider", string(provider)).
			Msg("credential blob unreadable, reconnect required")
		return nil, domain.ErrNotConnected
	}
	refresh := ""
	if stored.RefreshTokenEnc != "" {
		if refresh, err = c.vault.Open(stored.RefreshTokenEnc); err != nil {
			c.log.Warn().Err(err).Int64("member", memberID).Msg("refresh token blob unreadable, dropping it")
			refresh = ""
		}
	}
	switch provider {
	case domain.ProviderGithub:
		return &domain.ProviderCredential{
			Provider: provider,
			Github:   &domain.GithubCredential{AccessToken: access, Username: stored.AccountID},
		}, nil
	case domain.ProviderJira:
		return &domain.ProviderCredential{
			Provider: provider,
			Jira: &domain.JiraCredential{
				AccessToken:  access,
				RefreshToken: refresh,
				AccountID:    stored.AccountID,
				CloudID:      stored.CloudID,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

// Connect seals and persists a credential obtained through the OAuth flow.
func (c *Credentials) Connect(ctx context.Context, memberID int64, cred domain.ProviderCredential) error {
	stored := domain.StoredCredential{MemberID: memberID, Provider: cred.Provider}
	var access, refresh string
	switch cred.Provider {
	case domain.ProviderGithub:
		if cred.Github == nil {
			return errors.New("github credential payload missing")
		}
		access = cred.Github.AccessToken
		stored.AccountID = cred.Github.Username
	case domain.ProviderJira:
		if cred.Jira == nil {
			return errors.New("jira credential payload missing")
		}
		access = cred.Jira.AccessToken
		refresh = cred.Jira.RefreshToken
		stored.AccountID = cred.Jira.AccountID
		stored.CloudID = cred.Jira.CloudID
	default:
		return fmt.Errorf("unknown provider %q", cred.Provider)
	}
	if access == "" {
		return errors.New("access token required")
	}
	enc, err := c.vault.Seal(access)
	if err != nil {
		return err
	}
	stored.AccessTokenEnc = enc
	if refresh != "" {
		if stored.RefreshTokenEnc, err = c.vault.Seal(refresh); err != nil {
			return err
		}
	}
	return c.store.SaveCredential(ctx, stored)
}

// Invalidate drops the stored credential after a hard authorization failure.
func (c *Credentials) Invalidate(ctx context.Context, memberID int64, provider domain.Provider) error {
	return c.store.DeleteCredential(ctx, memberID, provider)
}

func (c *Credentials) refreshLock(memberID int64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[memberID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[memberID] = l
	}
	return l
}

// WithFreshToken runs fn with the member's current Jira credential. When fn
// reports ErrUnauthorized the token is refreshed once (serialized per
// credential) and fn retried exactly once; a second authorization failure is
// terminal.
func (c *Credentials) WithFreshToken(ctx context.Context, memberID int64, fn func(cred *domain.JiraCredential) error) error {
	cred, err := c.Get(ctx, memberID, domain.ProviderJira)
	if err != nil {
		return err
	}
	if err := fn(cred.Jira); !errors.Is(err, domain.ErrUnauthorized) {
		return err
	}

	lock := c.refreshLock(memberID)
	lock.Lock()
	defer lock.Unlock()

	// another caller may have rotated the token while we waited on the lock
	fresh, err := c.Get(ctx, memberID, domain.ProviderJira)
	if err != nil {
		return err
	}
	if fresh.Jira.AccessToken != cred.Jira.AccessToken {
		err = fn(fresh.Jira)
		if errors.Is(err, domain.ErrUnauthorized) {
			return fmt.Errorf("retry after concurrent refresh failed: %w", domain.ErrReauthRequired)
		}
		return err
	}

	if fresh.Jira.RefreshToken == "" {
		_ = c.Invalidate(ctx, memberID, domain.ProviderJira)
		return domain.ErrRefreshTokenMissing
	}
	access, refresh, err := c.oauth.ExchangeRefreshToken(ctx, fresh.Jira.RefreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			_ = c.Invalidate(ctx, memberID, domain.ProviderJira)
			return fmt.Errorf("refresh token rejected: %w", domain.ErrReauthRequired)
		}
		return err
	}
	rotated := *fresh.Jira
	rotated.AccessToken = access
	if refresh != "" {
		rotated.RefreshToken = refresh
	}
	if err := c.Connect(ctx, memberID, domain.ProviderCredential{Provider: domain.ProviderJira, Jira: &rotated}); err != nil {
		return fmt.Errorf("persist rotated credential: %w", err)
	}
	c.log.Info().Int64("member", memberID).Msg("jira access token rotated")

	err = fn(&rotated)
	if errors.Is(err, domain.ErrUnauthorized) {
		return fmt.Errorf("retry after refresh failed: %w", domain.ErrReauthRequired)
	}
	return err
}
