package postgres

import (
	"context"

	"github.com/MrEthical07/marketauth/permission"
)

func (s *Store) GetRolePermissionBindings(ctx context.Context, businessID string) (permission.Bindings, error) {
	rows, err := s.db.QueryContext(ctx, `
		select role, permission
		from role_permissions
		where business_id = $1
	`, businessID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	out := permission.Bindings{}
	for rows.Next() {
		var role, perm string
		if err := rows.Scan(&role, &perm); err != nil {
			return nil, err
		}
		out.Grant(role, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PutRolePermissionBindings replaces the bindings of one business scope.
func (s *Store) PutRolePermissionBindings(ctx context.Context, businessID string, b permission.Bindings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where business_id = $1`, businessID); err != nil {
		return translate(err)
	}
	for _, role := range b.Roles() {
		for _, perm := range b[role].Slice() {
			if _, err := tx.ExecContext(ctx, `
				insert into role_permissions (business_id, role, permission)
				values ($1, $2, $3)
			`, businessID, role, perm); err != nil {
				return translate(err)
			}
		}
	}
	return tx.Commit()
}
