package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/campusdev/teamsync/internal/config"
	"github.com/campusdev/teamsync/internal/domain"
	"github.com/rs/zerolog"
)

const pageSize = 50

type Client struct {
	baseURL      string
	authURL      string
	clientID     string
	clientSecret string
	http         *http.Client
	log          zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL:      cfg.JiraBaseURL,
		authURL:      cfg.JiraAuthURL,
		clientID:     cfg.JiraClientID,
		clientSecret: cfg.JiraClientSecret,
		http:         &http.Client{Timeout: cfg.HTTPTimeout},
		log:          log,
	}
}

type Sprint struct {
	ID      int64
	Name    string
	State   string
	StartAt *time.Time
	EndAt   *time.Time
}

type Issue struct {
	ID                string
	Key               string
	Summary           string
	Status            string
	StatusCategory    string
	AssigneeAccountID string
	Estimate          float64
}

type Project struct {
	Key             string
	Name            string
	LeadAccountID   string
	LeadDisplayName string
}

func (c *Client) apiURL(cloudID, path string, q url.Values) string {
	base := strings.TrimRight(c.baseURL, "/") + "/ex/jira/" + url.PathEscape(cloudID)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := base + path
	if len(q) > 0 {
		u = u + "?" + q.Encode()
	}
	return u
}

// Sprints lists every sprint on the board, following pagination.
func (c *Client) Sprints(ctx context.Context, token, cloudID string, boardID int64) ([]Sprint, error) {
	if boardID <= 0 {
		return nil, errors.New("jira: invalid board id")
	}
	var out []Sprint
	startAt := 0
	for {
		q := url.Values{}
		q.Set("startAt", fmt.Sprint(startAt))
		q.Set("maxResults", fmt.Sprint(pageSize))
		u := c.apiURL(cloudID, "/rest/agile/1.0/board/"+strconv.FormatInt(boardID, 10)+"/sprint", q)
		var page struct {
			IsLast bool `json:"isLast"`
			Values []struct {
				ID        int64  `json:"id"`
				Name      string `json:"name"`
				State     string `json:"state"`
				StartDate string `json:"startDate"`
				EndDate   string `json:"endDate"`
			} `json:"values"`
		}
		if err := c.doJSON(ctx, http.MethodGet, u, token, nil, &page); err != nil {
			return nil, err
		}
		for _, v := range page.Values {
			out = append(out, Sprint{
				ID:      v.ID,
				Name:    v.Name,
				State:   strings.ToLower(v.State),
				StartAt: parseTimeUTC(v.StartDate),
				EndAt:   parseTimeUTC(v.EndDate),
			})
		}
		if page.IsLast || len(page.Values) < pageSize {
			break
		}
		startAt += pageSize
	}
	return out, nil
}

// SprintIssues lists the issues of one sprint, following pagination.
func (c *Client) SprintIssues(ctx context.Context, token, cloudID string, sprintID int64) ([]Issue, error) {
	if sprintID <= 0 {
		return nil, errors.New("jira: invalid sprint id")
	}
	var out []Issue
	startAt := 0
	for {
		q := url.Values{}
		q.Set("startAt", fmt.Sprint(startAt))
		q.Set("maxResults", fmt.Sprint(pageSize))
		q.Set("fields", "summary,status,assignee,customfield_10016")
		u := c.apiURL(cloudID, "/rest/agile/1.0/sprint/"+strconv.FormatInt(sprintID, 10)+"/issue", q)
		var page struct {
			Total  int `json:"total"`
			Issues []struct {
				ID     string `json:"id"`
				Key    string `json:"key"`
				Fields struct {
					Summary string `json:"summary"`
					Status  struct {
						Name           string `json:"name"`
						StatusCategory struct {
							Key string `json:"key"`
						} `json:"statusCategory"`
					} `json:"status"`
					Assignee *struct {
						AccountID string `json:"accountId"`
					} `json:"assignee"`
					Estimate *float64 `json:"customfield_10016"`
				} `json:"fields"`
			} `json:"issues"`
		}
		if err := c.doJSON(ctx, http.MethodGet, u, token, nil, &page); err != nil {
			return nil, err
		}
		for _, v := range page.Issues {
			iss := Issue{
				ID:             v.ID,
				Key:            v.Key,
				Summary:        v.Fields.Summary,
				Status:         v.Fields.Status.Name,
				StatusCategory: strings.ToLower(v.Fields.Status.StatusCategory.Key),
			}
			if v.Fields.Assignee != nil {
				iss.AssigneeAccountID = v.Fields.Assignee.AccountID
			}
			if v.Fields.Estimate != nil {
				iss.Estimate = *v.Fields.Estimate
			}
			out = append(out, iss)
		}
		if len(page.Issues) < pageSize {
			break
		}
		startAt += pageSize
	}
	return out, nil
}

// Project fetches project metadata including the lead account.
func (c *Client) Project(ctx context.Context, token, cloudID, key string) (*Project, error) {
	if key == "" {
		return nil, errors.New("jira: empty project key")
	}
	u := c.apiURL(cloudID, "/rest/api/3/project/"+url.PathEscape(key), nil)
	var resp struct {
		Key  string `json:"key"`
		Name string `json:"name"`
		Lead struct {
			AccountID   string `json:"accountId"`
			DisplayName string `json:"displayName"`
		} `json:"lead"`
	}
	if err := c.doJSON(ctx, http.MethodGet, u, token, nil, &resp); err != nil {
		return nil, err
	}
	return &Project{
		Key:             resp.Key,
		Name:            resp.Name,
		LeadAccountID:   resp.Lead.AccountID,
		LeadDisplayName: resp.Lead.DisplayName,
	}, nil
}

// ExchangeRefreshToken trades a refresh token for a rotated token pair at the
// provider's token endpoint. A rejected grant surfaces as ErrUnauthorized.
func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (access, refresh string, err error) {
	if refreshToken == "" {
		return "", "", domain.ErrRefreshTokenMissing
	}
	body := map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"refresh_token": refreshToken,
	}
	u := strings.TrimRight(c.authURL, "/") + "/oauth/token"
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, u, "", body, &resp); err != nil {
		return "", "", err
	}
	if resp.AccessToken == "" {
		return "", "", fmt.Errorf("jira token endpoint returned no access token: %w", domain.ErrUnauthorized)
	}
	return resp.AccessToken, resp.RefreshToken, nil
}

func (c *Client) doJSON(ctx context.Context, method, u, token string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		var r io.Reader
		if payload != nil {
			r = strings.NewReader(string(payload))
		}
		req, err := http.NewRequestWithContext(ctx, method, u, r)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
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
	return fmt.Sprintf("jira api status=%d body=%s", e.status, e.body)
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
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseTimeUTC(s string) *time.Time {
	if s == "" {
		return nil
	}
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700"}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			tt := t.UTC()
			return &tt
		}
	}
	return nil
}
