// Package users provides the Postgres-backed account repository.
package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectUser = `SELECT id, username, full_name, role, custom_permissions, password_hash, password_salt, active, created_at FROM users`

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	perms, err := encodePermissions(user.CustomPermissions)
	if err != nil {
		return nil, err
	}

	query :=
		`INSERT INTO users (id, username, full_name, role, custom_permissions, password_hash, password_salt, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`

	err = r.db.QueryRowContext(ctx, query,
		user.ID, user.UserName, user.FullName, user.Role, perms, user.PasswordHash, user.PasswordSalt, user.Active,
	).Scan(&user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	return r.getOne(ctx, selectUser+` WHERE username = $1`, userName)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, selectUser+` WHERE id = $1`, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*models.User, error) {
	var (
		u     models.User
		perms []byte
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.UserName, &u.FullName, &u.Role, &perms, &u.PasswordHash, &u.PasswordSalt, &u.Active, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &u.CustomPermissions); err != nil {
			return nil, fmt.Errorf("decode custom permissions for %s: %w", u.ID, err)
		}
	}
	return &u, nil
}

func (r *PostgresRepository) UpdateRole(ctx context.Context, id, role string, customPermissions []string) error {
	perms, err := encodePermissions(customPermissions)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = $2, custom_permissions = $3 WHERE id = $1`, id, role, perms)
	return expectOne(res, err)
}

func (r *PostgresRepository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET active = $2 WHERE id = $1`, id, active)
	return expectOne(res, err)
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func encodePermissions(p []string) ([]byte, error) {
	if p == nil {
		p = []string{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode custom permissions: %w", err)
	}
	return b, nil
}
