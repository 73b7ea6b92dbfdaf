package directory

import (
	"time"
)

// User is a staff member's profile snapshot. Profiles are created and updated
// by the identity backend; the communication core reads them and flips only
// the online flag in response to presence events.
type User struct {
	ID             string     `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	Role           string     `db:"role" json:"role"`
	OrganizationID string     `db:"organization_id" json:"organization_id"`
	OnlineStatus   bool       `db:"online_status" json:"online_status"`
	LastSeenAt     *time.Time `db:"last_seen_at" json:"last_seen_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
