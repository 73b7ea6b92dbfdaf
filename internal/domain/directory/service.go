package directory

import (
	"context"
	"fmt"
)

type Service struct {
	users UserRepository
}

func NewService(users UserRepository) *Service {
	return &Service{users: users}
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, fmt.Errorf("user id is required")
	}
	return s.users.GetByID(ctx, id)
}

func (s *Service) ListStaff(ctx context.Context, orgID string, limit, offset int) ([]*User, int, error) {
	if orgID == "" {
		return nil, 0, fmt.Errorf("organization id is required")
	}
	return s.users.ListByOrganization(ctx, orgID, limit, offset)
}

// ListOnlineUsers returns the organization's currently-online staff, excluding
// the asking user. The result is current only as of the backing store's last
// refresh; presence events are the signal to call this again.
func (s *Service) ListOnlineUsers(ctx context.Context, orgID, excludingUserID string) ([]*User, error) {
	if orgID == "" {
		return nil, fmt.Errorf("organization id is required")
	}
	return s.users.ListOnline(ctx, orgID, excludingUserID)
}

// ListOrganizationIDs returns every organization with at least one user.
func (s *Service) ListOrganizationIDs(ctx context.Context) ([]string, error) {
	return s.users.ListOrganizationIDs(ctx)
}

// MarkOnline records a presence join for the user.
func (s *Service) MarkOnline(ctx context.Context, id string) error {
	return s.users.SetOnlineStatus(ctx, id, true)
}

// MarkOffline records a presence leave for the user.
func (s *Service) MarkOffline(ctx context.Context, id string) error {
	return s.users.SetOnlineStatus(ctx, id, false)
}
