package auth

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/keyloom/keyloom/internal/logging"
	"github.com/keyloom/keyloom/pkg/models"
)

// EnsureDefaultAdmin creates the builtin admin role and an admin user when
// the users table is empty. The initial password is logged once.
func (a *Auth) EnsureDefaultAdmin(ctx context.Context, password string) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO roles (name, permissions) VALUES ('admin', $1)
		 ON CONFLICT (name) DO NOTHING`,
		pq.Array([]string{"*"}))
	if err != nil {
		return fmt.Errorf("ensure admin role: %w", err)
	}

	var count int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	if _, err := a.CreateUser(ctx, "admin", password, "admin"); err != nil {
		return fmt.Errorf("create default admin: %w", err)
	}
	logging.Warn("created default admin user; change the password",
		zap.String("username", "admin"))
	return nil
}

// CreateUser creates a user with a bcrypt-hashed password.
func (a *Auth) CreateUser(ctx context.Context, username, password, role string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var user models.User
	err = a.db.QueryRowContext(ctx,
		`INSERT INTO users (username, password, role_id)
		 VALUES ($1, $2, (SELECT id FROM roles WHERE name = $3))
		 RETURNING id, username, created_at`,
		username, string(hashed), role).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	user.Role = role
	return &user, nil
}

// ListUsers returns all users with their role names.
func (a *Auth) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT u.id, u.username, r.name, u.created_at
		 FROM users u JOIN roles r ON r.id = u.role_id
		 ORDER BY u.username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user and revokes all their tokens.
func (a *Auth) DeleteUser(ctx context.Context, id int) error {
	result, err := a.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	a.updateActiveTokenCount(ctx)
	return nil
}

// ChangePassword replaces a user's password and revokes their tokens so
// every device logs in again.
func (a *Auth) ChangePassword(ctx context.Context, id int, password string) error {
	if password == "" {
		return fmt.Errorf("password required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	result, err := a.db.ExecContext(ctx,
		`UPDATE users SET password = $1 WHERE id = $2`, string(hashed), id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	if _, err := a.db.ExecContext(ctx,
		`UPDATE device_tokens SET revoked = TRUE WHERE user_id = $1`, id); err != nil {
		logging.Error("failed to revoke tokens after password change",
			zap.Int("user_id", id), zap.Error(err))
	}
	a.updateActiveTokenCount(ctx)
	return nil
}

// ListRoles returns all roles with their permissions.
func (a *Auth) ListRoles(ctx context.Context) ([]models.Role, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, name, permissions FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	roles := []models.Role{}
	for rows.Next() {
		var r models.Role
		if err := rows.Scan(&r.ID, &r.Name, pq.Array(&r.Permissions)); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// CreateRole creates a named role with a permission list.
func (a *Auth) CreateRole(ctx context.Context, name string, permissions []string) (*models.Role, error) {
	if name == "" {
		return nil, fmt.Errorf("role name required")
	}
	if permissions == nil {
		permissions = []string{}
	}
	role := models.Role{Name: name, Permissions: permissions}
	err := a.db.QueryRowContext(ctx,
		`INSERT INTO roles (name, permissions) VALUES ($1, $2) RETURNING id`,
		name, pq.Array(permissions)).Scan(&role.ID)
	if err != nil {
		return nil, fmt.Errorf("insert role: %w", err)
	}
	return &role, nil
}

// UpdateRole replaces a role's permission list. Tokens issued under the old
// permissions stay valid until they expire.
func (a *Auth) UpdateRole(ctx context.Context, id int, permissions []string) error {
	if permissions == nil {
		permissions = []string{}
	}
	result, err := a.db.ExecContext(ctx,
		`UPDATE roles SET permissions = $1 WHERE id = $2`, pq.Array(permissions), id)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteRole removes a role. Fails while users still reference it.
func (a *Auth) DeleteRole(ctx context.Context, id int) error {
	result, err := a.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (a *Auth) rolePermissions(ctx context.Context, role string) ([]string, error) {
	var perms []string
	err := a.db.QueryRowContext(ctx,
		`SELECT permissions FROM roles WHERE name = $1`, role).Scan(pq.Array(&perms))
	if err == sql.ErrNoRows {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return perms, nil
}
