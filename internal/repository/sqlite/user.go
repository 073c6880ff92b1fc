package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/scene-capture/internal/apperror"
	"github.com/sakif/scene-capture/internal/model"
	"github.com/sakif/scene-capture/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the user store. It shares the scene store's connection pool but
// is a separate type: both interfaces have a Create method, and Go has no
// overloading.
type UserDB struct {
	conn *sql.DB
}

// Users returns the user store backed by the same database.
func (db *DB) Users() *UserDB {
	return &UserDB{conn: db.conn}
}

const userColumns = `id, username, email, password_hash, github_id, created_at, updated_at`

// Create inserts a new user, refusing duplicates.
//
// INSERT-IF-ABSENT IN A TRANSACTION:
// We first look for an existing row with the same email OR username, and only
// INSERT when there is none. Doing both inside one transaction means no other
// writer can slip a row in between the check and the insert. The UNIQUE
// constraints on the table remain the last line of defence; if they fire we
// translate them into the same Conflict error.
//
// Email is checked first: when both collide, the error names "email".
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	tx, err := u.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning user insert: %w", err)
	}
	// Rollback after a successful Commit is a no-op, so deferring it is safe.
	defer tx.Rollback()

	var existingEmail, existingUsername string
	err = tx.QueryRowContext(ctx,
		`SELECT email, username FROM users
		 WHERE email = ? OR username = ?
		 ORDER BY (email = ?) DESC
		 LIMIT 1`,
		user.Email, user.Username, user.Email,
	).Scan(&existingEmail, &existingUsername)
	switch {
	case err == nil:
		if existingEmail == user.Email {
			return apperror.Conflict("user", "email")
		}
		return apperror.Conflict("user", "username")
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("sqlite: checking existing user: %w", err)
	}

	now := time.Now().UTC()
	user.ID = model.UserID(xid.New().String())
	user.CreatedAt = now
	user.UpdatedAt = now

	var githubID any
	if user.GitHubID != nil {
		githubID = *user.GitHubID
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, github_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(user.ID),
		user.Username,
		user.Email,
		user.PasswordHash,
		githubID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if conflict := uniqueViolation(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Username, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing user insert: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (u *UserDB) GetUserByID(ctx context.Context, id model.UserID) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, string(id))
	found, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", string(id))
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return found, nil
}

// GetUserByEmail looks a user up by (already normalised) email.
func (u *UserDB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	found, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return found, nil
}

// GetUserByGitHubID finds the account linked to a GitHub user.
func (u *UserDB) GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = ?`, githubID)
	found, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", fmt.Sprintf("github:%d", githubID))
		}
		return nil, fmt.Errorf("sqlite: getting user by github_id %d: %w", githubID, err)
	}
	return found, nil
}

// UsernameExists reports whether a username is taken (case-insensitively).
func (u *UserDB) UsernameExists(ctx context.Context, username string) (bool, error) {
	var n int
	err := u.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking username: %w", err)
	}
	return n > 0, nil
}

// scanUser reads one users row. Shared by every single-user lookup so the
// column order lives in exactly one place (userColumns).
func scanUser(row *sql.Row) (*model.User, error) {
	var (
		u        model.User
		id       string
		githubID sql.NullInt64
	)
	if err := row.Scan(
		&id,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&githubID,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.ID = model.UserID(id)
	if githubID.Valid {
		gh := githubID.Int64
		u.GitHubID = &gh
	}
	return &u, nil
}

// uniqueViolation maps SQLite's "UNIQUE constraint failed: users.<col>"
// message to a Conflict naming the column. Returns nil for other errors.
func uniqueViolation(err error) error {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return nil
	}
	switch {
	case strings.Contains(msg, "users.email"):
		return apperror.Conflict("user", "email")
	case strings.Contains(msg, "users.username"):
		return apperror.Conflict("user", "username")
	case strings.Contains(msg, "users.github_id"):
		return apperror.Conflict("user", "githubId")
	default:
		return apperror.Conflict("user", "id")
	}
}
