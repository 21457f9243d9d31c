package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"github.com/nickromney-org/release-propagator/internal/failure"
	"golang.org/x/oauth2"
)

// DefaultEventType is the repository dispatch event type sent downstream
const DefaultEventType = "release"

// defaultBaseURL is the public GitHub API endpoint
const defaultBaseURL = "https://api.github.com/"

// Dispatcher sends release notifications to a downstream repository
type Dispatcher interface {
	DispatchRelease(ctx context.Context, owner, repo, version string) error
}

// ReleasePayload is the client_payload carried by a release dispatch
type ReleasePayload struct {
	Version string `json:"version"`
}

// Client wraps the GitHub API client
type Client struct {
	gh        *gh.Client
	token     string
	EventType string
}

// NewClient creates a new GitHub API client. An empty baseURL targets
// api.github.com; anything else is treated as a GitHub Enterprise endpoint.
func NewClient(token, baseURL string) (*Client, error) {
	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	client := gh.NewClient(httpClient)
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL != "" && baseURL+"/" != defaultBaseURL {
		enterprise, err := gh.NewEnterpriseClient(baseURL, baseURL, httpClient)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", baseURL, err)
		}
		client = enterprise
	}

	return &Client{
		gh:        client,
		token:     token,
		EventType: DefaultEventType,
	}, nil
}

// DispatchRelease sends a repository_dispatch event carrying {version} to
// owner/repo. Nothing is sent without a credential. There is no retry.
func (c *Client) DispatchRelease(ctx context.Context, owner, repo, version string) error {
	target := owner + "/" + repo
	if c.token == "" {
		return failure.Newf(failure.KindUnauthorized, "no credential configured for dispatch to %s", target)
	}

	raw, err := json.Marshal(ReleasePayload{Version: version})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	payload := json.RawMessage(raw)

	eventType := c.EventType
	if eventType == "" {
		eventType = DefaultEventType
	}

	_, _, err = c.gh.Repositories.Dispatch(ctx, owner, repo, gh.DispatchRequestOptions{
		EventType:     eventType,
		ClientPayload: &payload,
	})
	if err != nil {
		return classifyDispatchError(target, err)
	}
	return nil
}

// classifyDispatchError maps API failures onto Unauthorized or DeliveryFailed
func classifyDispatchError(target string, err error) error {
	var errResp *gh.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		switch errResp.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return failure.New(failure.KindUnauthorized, fmt.Errorf("dispatch to %s: %w", target, err))
		}
	}
	return failure.New(failure.KindDeliveryFailed, fmt.Errorf("failed to dispatch to %s: %w", target, err))
}

// MockClient is a mock implementation for testing
type MockClient struct {
	Calls []MockCall
	Error error
}

// MockCall records one DispatchRelease invocation
type MockCall struct {
	Owner   string
	Repo    string
	Version string
}

// DispatchRelease records the call and returns the mocked error
func (m *MockClient) DispatchRelease(ctx context.Context, owner, repo, version string) error {
	if m.Error != nil {
		return m.Error
	}
	m.Calls = append(m.Calls, MockCall{Owner: owner, Repo: repo, Version: version})
	return nil
}
