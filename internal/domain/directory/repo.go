package directory

import (
	"context"
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]*User, int, error)
	ListOnline(ctx context.Context, orgID, excludingUserID string) ([]*User, error)
	ListOrganizationIDs(ctx context.Context) ([]string, error)
	SetOnlineStatus(ctx context.Context, id string, online bool) error
}
