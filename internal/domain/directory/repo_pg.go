package directory

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userCols = `id, name, role, organization_id, online_status, last_seen_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Role, &u.OrganizationID, &u.OnlineStatus,
		&u.LastSeenAt, &u.CreatedAt, &u.UpdatedAt)
	return &u, err
}

func (r *userRepoPG) GetByID(ctx context.Context, id string) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]*User, int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE organization_id = $1`, orgID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+userCols+` FROM users
		WHERE organization_id = $1
		ORDER BY name
		LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (r *userRepoPG) ListOnline(ctx context.Context, orgID, excludingUserID string) ([]*User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userCols+` FROM users
		WHERE organization_id = $1 AND online_status = TRUE AND id <> $2
		ORDER BY name`, orgID, excludingUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *userRepoPG) ListOrganizationIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT organization_id FROM users ORDER BY organization_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *userRepoPG) SetOnlineStatus(ctx context.Context, id string, online bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET online_status = $2, last_seen_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id, online)
	return err
}
