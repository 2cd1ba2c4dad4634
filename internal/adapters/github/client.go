package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/campusdev/teamsync/internal/config"
	"github.com/campusdev/teamsync/internal/domain"
	"github.com/rs/zerolog"
)

type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.GithubBaseURL,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		log:     log,
	}
}

func (c *Client) apiURL(path string, q url.Values) string {
	base := strings.TrimRight(c.baseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := base + path
	if len(q) > 0 {
		u = u + "?" + q.Encode()
	}
	return u
}

type commitPage struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Email string    `json:"email"`
			Date  time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

// Commits fetches the most recent page of commits for the repository.
func (c *Client) Commits(ctx context.Context, owner, repo, token string, perPage int) ([]domain.VCSCommit, error) {
	if owner == "" || repo == "" {
		return nil, errors.New("github: empty owner or repo")
	}
	if perPage <= 0 || perPage > 100 {
		perPage = 50
	}
	q := url.Values{}
	q.Set("per_page", fmt.Sprint(perPage))
	u := c.apiURL("/repos/"+url.PathEscape(owner)+"/"+url.PathEscape(repo)+"/commits", q)

	var page []commitPage
	if err := c.doJSON(ctx, u, token, &page); err != nil {
		return nil, err
	}
	out := make([]domain.VCSCommit, 0, len(page))
	for _, p := range page {
		if p.SHA == "" {
			continue
		}
		out = append(out, domain.VCSCommit{
			Hash:        p.SHA,
			AuthorEmail: p.Commit.Author.Email,
			Message:     p.Commit.Message,
			CommittedAt: p.Commit.Author.Date.UTC(),
		})
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, u, token string, out any) error {
	if c.baseURL == "" {
		return errors.New("github: empty baseURL")
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
		} else {
			func() { defer resp.Body.Close(); lastErr = c.handle(resp, out) }()
			if lastErr == nil || !retryable(lastErr) {
				return lastErr
			}
		}
		// backoff
		time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("github api status=%d body=%s", e.status, e.body)
}

func (e *apiError) Unwrap() error {
	if e.status == http.StatusUnauthorized || e.status == http.StatusForbidden {
		return domain.ErrUnauthorized
	}
	return nil
}

func retryable(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.status == http.StatusTooManyRequests || ae.status >= 500
	}
	return true
}

func (c *Client) handle(resp *http.Response, out any) error {
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
