package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/database"
)

// UserRepository is the data access contract for users.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	NameExists(ctx context.Context, name string) (bool, error)
	UpdateLastLogin(ctx context.Context, id string) error
	Approve(ctx context.Context, id string, role Role) error
	List(ctx context.Context, pendingOnly bool, offset, limit int) ([]User, int, error)
	AdminEmails(ctx context.Context) ([]string, error)
}

type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a MariaDB-backed repository.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, email, name, organization, password_hash, role, requested_role, approved,
	phone, address, city, state, zip, country, newsletter, created_at, last_login_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Organization, &u.PasswordHash, &u.Role, &u.RequestedRole,
		&u.Approved, &u.Phone, &u.Address, &u.City, &u.State, &u.Zip, &u.Country, &u.Newsletter,
		&u.CreatedAt, &u.LastLoginAt)
	return u, err
}

func (r *userRepository) Create(ctx context.Context, u *User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, organization, password_hash, role, requested_role, approved,
		                    phone, address, city, state, zip, country, newsletter, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.Organization, u.PasswordHash, u.Role, u.RequestedRole, u.Approved,
		u.Phone, u.Address, u.City, u.State, u.Zip, u.Country, u.Newsletter, u.CreatedAt,
	)
	if database.IsDuplicateKey(err) {
		return apperror.NewConflict("an account with this email or name already exists")
	}
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	return u, nil
}

// FindByEmail matches case-insensitively.
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER(?)`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by email: %w", err)
	}
	return u, nil
}

func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email) = LOWER(?))`, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking email existence: %w", err)
	}
	return exists, nil
}

func (r *userRepository) NameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(name) = LOWER(?))`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking name existence: %w", err)
	}
	return exists, nil
}

func (r *userRepository) UpdateLastLogin(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = UTC_TIMESTAMP() WHERE id = ?`, id); err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

func (r *userRepository) Approve(ctx context.Context, id string, role Role) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET approved = TRUE, role = ? WHERE id = ?`, role, id)
	if err != nil {
		return fmt.Errorf("approving user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// List pages users newest first; pendingOnly restricts to unapproved accounts.
func (r *userRepository) List(ctx context.Context, pendingOnly bool, offset, limit int) ([]User, int, error) {
	where := ""
	if pendingOnly {
		where = ` WHERE approved = FALSE`
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting users: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning user row: %w", err)
		}
		u.PasswordHash = ""
		users = append(users, *u)
	}
	return users, total, rows.Err()
}

func (r *userRepository) AdminEmails(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT email FROM users WHERE role = 'admin' AND approved = TRUE ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("listing admin emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("scanning admin email: %w", err)
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}
