package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"doubtdesk/pkg/interfaces"
	"doubtdesk/pkg/types"
)

var _ interfaces.AuthAPI = (*AuthClient)(nil)

// AuthClient is the session resource
type AuthClient struct {
	client *Client
}

func NewAuthClient(client *Client) *AuthClient {
	return &AuthClient{client: client}
}

// Me returns the signed-in principal. A 401/403 or a null user means
// nobody is signed in and yields nil without error.
func (a *AuthClient) Me(ctx context.Context) (*types.Principal, error) {
	data, err := a.client.do(ctx, http.MethodGet, "/auth/me", nil, nil)
	if err != nil {
		var apiErr *types.APIError
		if errors.As(err, &apiErr) && apiErr.IsUnauthorized() {
			return nil, nil
		}
		return nil, err
	}

	var envelope struct {
		User json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, ErrMalformedBody
	}
	return types.DecodePrincipal(envelope.User)
}

// Logout terminates the server session
func (a *AuthClient) Logout(ctx context.Context) error {
	_, err := a.client.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	return err
}

// Health probes the backend, waking it if it was scaled to zero
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	return err
}
