package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

// GuildSnapshot is a point-in-time projection of a guild's state, sent to
// the backend on join and on periodic sync. Recomputed from live gateway
// state each time, never cached.
type GuildSnapshot struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	OwnerID     string `json:"ownerId"`
	MemberCount int    `json:"memberCount"`
}

func (g GuildSnapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", g.ID),
		slog.String("name", g.Name),
		slog.String("owner_id", g.OwnerID),
		slog.Int("member_count", g.MemberCount),
	)
}

// GuildRecord is the backend's representation of a registered guild.
type GuildRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	OwnerID     string `json:"ownerId"`
	MemberCount int    `json:"memberCount"`
	Active      bool   `json:"active"`
}

// MemberPayload describes a guild member for create/update calls. Roles
// exclude the guild's @everyone role.
type MemberPayload struct {
	UserID   string   `json:"userId"`
	Username string   `json:"username"`
	Nickname string   `json:"nickname,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// MemberRecord is the backend's representation of a guild member.
type MemberRecord struct {
	UserID   string   `json:"userId"`
	GuildID  string   `json:"guildId"`
	Username string   `json:"username"`
	Roles    []string `json:"roles,omitempty"`
	Active   bool     `json:"active"`
}

// HealthStatus is the backend liveness probe response.
type HealthStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// BackendClient is the interface to the league backend API. Defined as an
// interface to enable testing/mocking; backendAPIClient is the HTTP
// implementation.
type BackendClient interface {
	// CreateGuild registers (or re-registers) a guild with the backend
	CreateGuild(ctx context.Context, guild GuildSnapshot) (*GuildRecord, error)

	// RemoveGuild soft-removes a guild
	RemoveGuild(ctx context.Context, guildID string) (*GuildRecord, error)

	// AddMember registers a guild member
	AddMember(
		ctx context.Context,
		guildID string,
		member MemberPayload,
	) (*MemberRecord, error)

	// UpdateMember updates a guild member (e.g. after a role change)
	UpdateMember(
		ctx context.Context,
		guildID string,
		userID string,
		member MemberPayload,
	) (*MemberRecord, error)

	// RemoveMember soft-removes a guild member
	RemoveMember(
		ctx context.Context,
		guildID string,
		userID string,
	) (*MemberRecord, error)

	// Health probes backend liveness
	Health(ctx context.Context) (*HealthStatus, error)
}

// backendAPIClient calls the backend over HTTP with a bearer token, a
// fixed per-request timeout and a request rate limiter. Failure responses
// are normalized to *APIError before being returned.
type backendAPIClient struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	requestLimiter *rate.Limiter
	logger         *slog.Logger
}

func newBackendClient(config *BackendConfig, logger *slog.Logger) *backendAPIClient {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}
	httpClient := config.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	burst := 1
	if config.MaxRequestsPerSecond > 0 {
		limit = rate.Limit(config.MaxRequestsPerSecond)
		burst = config.MaxRequestsPerSecond
	}

	return &backendAPIClient{
		baseURL:        strings.TrimSuffix(config.URL, "/"),
		apiKey:         config.APIKey,
		httpClient:     httpClient,
		requestLimiter: rate.NewLimiter(limit, burst),
		logger:         logger.With(loggerNameKey, "backend_client"),
	}
}

// doRequest sends a single request and decodes a successful response body
// into out (when non-nil). Non-2xx responses return *APIError; transport
// failures return the raw error so the classifier sees network-level
// causes.
func (c *backendAPIClient) doRequest(
	ctx context.Context,
	method string,
	path string,
	payload any,
	out any,
) error {
	if err := c.requestLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("error marshaling request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	rsp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(
			ctx,
			"backend request failed",
			tint.Err(err),
			"method", method,
			"path", path,
			"network_error", isNetworkError(err),
		)
		return err
	}
	defer func() {
		_ = rsp.Body.Close()
	}()

	rspBody, readErr := io.ReadAll(rsp.Body)
	if readErr != nil {
		return fmt.Errorf("error reading response body: %w", readErr)
	}

	logger := c.logger.With(
		"method", method,
		"path", path,
		"status", rsp.StatusCode,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)

	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		apiErr := newAPIError(rsp, rspBody)
		logger.WarnContext(ctx, "backend returned error", tint.Err(apiErr))
		return apiErr
	}

	logger.DebugContext(ctx, "backend request completed")

	if out != nil && len(rspBody) > 0 {
		if err := json.Unmarshal(rspBody, out); err != nil {
			return fmt.Errorf("error decoding response body: %w", err)
		}
	}
	return nil
}

func (c *backendAPIClient) CreateGuild(
	ctx context.Context,
	guild GuildSnapshot,
) (*GuildRecord, error) {
	record := &GuildRecord{}
	err := c.doRequest(ctx, http.MethodPost, "/internal/guilds", guild, record)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (c *backendAPIClient) RemoveGuild(
	ctx context.Context,
	guildID string,
) (*GuildRecord, error) {
	record := &GuildRecord{}
	err := c.doRequest(
		ctx,
		http.MethodDelete,
		"/internal/guilds/"+url.PathEscape(guildID),
		nil,
		record,
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (c *backendAPIClient) AddMember(
	ctx context.Context,
	guildID string,
	member MemberPayload,
) (*MemberRecord, error) {
	record := &MemberRecord{}
	err := c.doRequest(
		ctx,
		http.MethodPost,
		"/internal/guilds/"+url.PathEscape(guildID)+"/members",
		member,
		record,
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (c *backendAPIClient) UpdateMember(
	ctx context.Context,
	guildID string,
	userID string,
	member MemberPayload,
) (*MemberRecord, error) {
	record := &MemberRecord{}
	err := c.doRequest(
		ctx,
		http.MethodPatch,
		"/internal/guilds/"+url.PathEscape(guildID)+"/members/"+url.PathEscape(userID),
		member,
		record,
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (c *backendAPIClient) RemoveMember(
	ctx context.Context,
	guildID string,
	userID string,
) (*MemberRecord, error) {
	record := &MemberRecord{}
	err := c.doRequest(
		ctx,
		http.MethodDelete,
		"/internal/guilds/"+url.PathEscape(guildID)+"/members/"+url.PathEscape(userID),
		nil,
		record,
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (c *backendAPIClient) Health(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{}
	err := c.doRequest(ctx, http.MethodGet, "/internal/health", nil, status)
	if err != nil {
		return nil, err
	}
	return status, nil
}
