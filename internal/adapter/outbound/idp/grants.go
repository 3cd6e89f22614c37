package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/swiftdrop/accountgate/internal/domain/role"
)

// GrantClient implements role.GrantStore against the hosted data API's
// account_roles table.
type GrantClient struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGrantClient creates a client for the data API at baseURL. apiKey is
// sent both as the project key and as the bearer credential.
func NewGrantClient(baseURL, apiKey string, hc *http.Client, logger *slog.Logger) (*GrantClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse data api url: %w", err)
	}
	if hc == nil {
		hc = newHTTPClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantClient{baseURL: u, apiKey: apiKey, httpClient: hc, logger: logger}, nil
}

// GetGrantedRoles fetches the subject's rows. Unknown role values are dropped.
func (g *GrantClient) GetGrantedRoles(ctx context.Context, subjectID string) (role.Set, error) {
	u := *g.baseURL
	u.Path += "/rest/v1/account_roles"
	u.RawQuery = url.Values{
		"subject_id": {"eq." + subjectID},
		"select":     {"role"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return role.Set{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("apikey", g.apiKey)
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return role.Set{}, fmt.Errorf("fetch account roles: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return role.Set{}, fmt.Errorf("read account roles: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return role.Set{}, fmt.Errorf("fetch account roles: unexpected status %d", resp.StatusCode)
	}

	var rows []struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return role.Set{}, fmt.Errorf("decode account roles: %w", err)
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.Role)
	}
	set := role.ParseSet(names...)
	if set.Len() != len(rows) {
		g.logger.Warn("ignored unknown or duplicate account roles",
			"subject_id", subjectID, "rows", len(rows), "kept", set.Len())
	}
	return set, nil
}

// Ping is a no-op; reachability is checked per request.
func (g *GrantClient) Ping(context.Context) error { return nil }

// Compile-time interface verification.
var _ role.GrantStore = (*GrantClient)(nil)
