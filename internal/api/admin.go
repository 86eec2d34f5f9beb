package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"doubtdesk/pkg/interfaces"
	"doubtdesk/pkg/types"
)

var _ interfaces.AdminAPI = (*AdminClient)(nil)

// AdminClient is the admin resource
type AdminClient struct {
	client *Client
}

func NewAdminClient(client *Client) *AdminClient {
	return &AdminClient{client: client}
}

func (a *AdminClient) PendingMentors(ctx context.Context) ([]types.Mentor, error) {
	data, err := a.client.do(ctx, http.MethodGet, "/admin/mentors/pending", nil, nil)
	if err != nil {
		return nil, err
	}
	return types.DecodeMentors(data)
}

// ApproveMentor records an approved or rejected decision for a mentor
func (a *AdminClient) ApproveMentor(ctx context.Context, mentorID, status string) error {
	if !types.IsValidID(mentorID) {
		return types.ErrInvalidID
	}
	if !types.IsValidApproval(status) {
		return types.ErrInvalidApproval
	}

	body := map[string]string{"status": status}
	_, err := a.client.do(ctx, http.MethodPost, "/admin/mentors/"+url.PathEscape(mentorID)+"/approve", nil, body)
	return err
}

func (a *AdminClient) Analytics(ctx context.Context) (types.Analytics, error) {
	data, err := a.client.do(ctx, http.MethodGet, "/admin/analytics", nil, nil)
	if err != nil {
		return nil, err
	}
	var out types.Analytics
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, ErrMalformedBody
	}
	if out == nil {
		out = types.Analytics{}
	}
	return out, nil
}
