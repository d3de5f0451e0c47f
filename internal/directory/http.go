package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient resolves directory lookups against the org service's REST
// API. Pair it with Cached so every scan doesn't hammer the org service.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the org service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) ResolveManagerChain(ctx context.Context, employeeID string) ([]string, error) {
	var out struct {
		Managers []string `json:"managers"`
	}
	path := "/employees/" + url.PathEscape(employeeID) + "/managers"
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("resolve manager chain for %s: %w", employeeID, err)
	}
	return out.Managers, nil
}

func (c *HTTPClient) ListTeamMembers(ctx context.Context, taskID string) ([]string, error) {
	var out struct {
		Members []string `json:"members"`
	}
	path := "/tasks/" + url.PathEscape(taskID) + "/team"
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("list team for task %s: %w", taskID, err)
	}
	return out.Members, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("org service returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
