package interfaces

import (
	"context"

	"doubtdesk/pkg/types"
)

// AuthAPI is the session resource of the backend
type AuthAPI interface {
	// Me returns the current principal, or nil when nobody is signed in
	Me(ctx context.Context) (*types.Principal, error)

	// Logout terminates the server-side session
	Logout(ctx context.Context) error
}

// MentorAPI is the mentor resource of the backend
type MentorAPI interface {
	Dashboard(ctx context.Context, userID string) (*types.Dashboard, error)
	Doubts(ctx context.Context, filter types.DoubtFilter) ([]types.Doubt, error)
	Doubt(ctx context.Context, doubtID string) (*types.Doubt, error)
	Resolve(ctx context.Context, doubtID string, resolution types.Resolution) error
	Escalate(ctx context.Context, doubtID, reason string) error
}

// AdminAPI is the admin resource of the backend
type AdminAPI interface {
	PendingMentors(ctx context.Context) ([]types.Mentor, error)
	ApproveMentor(ctx context.Context, mentorID, status string) error
	Analytics(ctx context.Context) (types.Analytics, error)
}
