package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	am "membership/internal/access/models"
)

const DefaultBaseURL = "https://www.googleapis.com/drive/v3"

// RESTClient speaks the Drive v3 permissions API with a bearer token.
type RESTClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewRESTClient(baseURL, token string, httpClient *http.Client) *RESTClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RESTClient{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

type permission struct {
	ID           string `json:"id,omitempty"`
	Type         string `json:"type,omitempty"`
	Role         string `json:"role"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

type permissionList struct {
	Permissions   []permission `json:"permissions"`
	NextPageToken string       `json:"nextPageToken"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

func (c *RESTClient) Grant(ctx context.Context, resourceExternalID, email string, level am.Level) (string, error) {
	body, err := json.Marshal(permission{Type: "user", Role: string(level), EmailAddress: email})
	if err != nil {
		return "", err
	}
	q := url.Values{"sendNotificationEmail": {"false"}, "supportsAllDrives": {"true"}}
	var out permission
	if err := c.do(ctx, http.MethodPost, c.permissionsURL(resourceExternalID, "", q), body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *RESTClient) Revoke(ctx context.Context, resourceExternalID, permissionID string) error {
	q := url.Values{"supportsAllDrives": {"true"}}
	return c.do(ctx, http.MethodDelete, c.permissionsURL(resourceExternalID, permissionID, q), nil, nil)
}

func (c *RESTClient) ListGrants(ctx context.Context, resourceExternalID string) ([]am.Grantee, error) {
	var out []am.Grantee
	pageToken := ""
	for {
		q := url.Values{
			"supportsAllDrives": {"true"},
			"fields":            {"permissions(id,type,role,emailAddress),nextPageToken"},
		}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page permissionList
		if err := c.do(ctx, http.MethodGet, c.permissionsURL(resourceExternalID, "", q), nil, &page); err != nil {
			return nil, err
		}
		for _, p := range page.Permissions {
			if p.Type != "user" || p.EmailAddress == "" {
				continue
			}
			out = append(out, am.Grantee{Email: strings.ToLower(p.EmailAddress), Level: am.Level(p.Role), PermissionID: p.ID})
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *RESTClient) permissionsURL(fileID, permissionID string, q url.Values) string {
	u := c.baseURL + "/files/" + url.PathEscape(fileID) + "/permissions"
	if permissionID != "" {
		u += "/" + url.PathEscape(permissionID)
	}
	return u + "?" + q.Encode()
}

func (c *RESTClient) do(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return classify(resp)
}

// classify maps an error response onto the package error classes. Drive
// reports quota exhaustion as 403 with a rate limit reason.
func classify(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var apiErr apiError
	_ = json.Unmarshal(raw, &apiErr)
	msg := apiErr.Error.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	case resp.StatusCode == http.StatusForbidden:
		for _, e := range apiErr.Error.Errors {
			if e.Reason == "rateLimitExceeded" || e.Reason == "userRateLimitExceeded" {
				return fmt.Errorf("%w: %s", ErrRateLimited, msg)
			}
		}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	}
	return fmt.Errorf("drive: %s (status %d)", msg, resp.StatusCode)
}
