package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"

	"doubtdesk/pkg/interfaces"
	"doubtdesk/pkg/types"
)

var _ interfaces.MentorAPI = (*MentorClient)(nil)

// MentorClient is the mentor resource. Doubt detail bodies are cached
// for a short TTL; resolve and escalate invalidate the entry they change.
type MentorClient struct {
	client *Client
	cache  *cache.Cache
}

// NewMentorClient creates a mentor client; ttl <= 0 disables caching
func NewMentorClient(client *Client, ttl time.Duration) *MentorClient {
	m := &MentorClient{client: client}
	if ttl > 0 {
		m.cache = cache.New(ttl, 2*ttl)
	}
	return m
}

func (m *MentorClient) Dashboard(ctx context.Context, userID string) (*types.Dashboard, error) {
	if !types.IsValidID(userID) {
		return nil, types.ErrInvalidID
	}
	data, err := m.client.do(ctx, http.MethodGet, "/mentor/dashboard", url.Values{"userId": {userID}}, nil)
	if err != nil {
		return nil, err
	}
	return types.DecodeDashboard(data)
}

// Doubts lists doubts visible to mentors; empty filter fields are omitted
func (m *MentorClient) Doubts(ctx context.Context, filter types.DoubtFilter) ([]types.Doubt, error) {
	query := url.Values{}
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, types.ErrInvalidStatus
		}
		query.Set("status", string(filter.Status))
	}
	if filter.Subject != "" {
		query.Set("subject", filter.Subject)
	}

	data, err := m.client.do(ctx, http.MethodGet, "/mentor/doubts", query, nil)
	if err != nil {
		return nil, err
	}
	return types.DecodeDoubts(data)
}

func (m *MentorClient) Doubt(ctx context.Context, doubtID string) (*types.Doubt, error) {
	if !types.IsValidID(doubtID) {
		return nil, types.ErrInvalidID
	}

	if m.cache != nil {
		if cached, ok := m.cache.Get(cacheKey(doubtID)); ok {
			return types.DecodeDoubt(cached.([]byte))
		}
	}

	data, err := m.client.do(ctx, http.MethodGet, "/mentor/doubt/"+url.PathEscape(doubtID), nil, nil)
	if err != nil {
		return nil, err
	}
	d, err := types.DecodeDoubt(data)
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		m.cache.SetDefault(cacheKey(doubtID), data)
	}
	return d, nil
}

func (m *MentorClient) Resolve(ctx context.Context, doubtID string, resolution types.Resolution) error {
	if !types.IsValidID(doubtID) {
		return types.ErrInvalidID
	}
	if err := resolution.Validate(); err != nil {
		return err
	}

	_, err := m.client.do(ctx, http.MethodPost, "/mentor/doubt/"+url.PathEscape(doubtID)+"/resolve", nil, resolution)
	m.invalidate(doubtID)
	return err
}

func (m *MentorClient) Escalate(ctx context.Context, doubtID, reason string) error {
	if !types.IsValidID(doubtID) {
		return types.ErrInvalidID
	}
	if reason == "" {
		return ErrEmptyReason
	}

	body := map[string]string{"reason": reason}
	_, err := m.client.do(ctx, http.MethodPost, "/mentor/doubt/"+url.PathEscape(doubtID)+"/escalate", nil, body)
	m.invalidate(doubtID)
	return err
}

func (m *MentorClient) invalidate(doubtID string) {
	if m.cache != nil {
		m.cache.Delete(cacheKey(doubtID))
	}
}

func cacheKey(doubtID string) string {
	return "doubt:" + doubtID
}
