// Package users manages user accounts and credential checks.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/clipvault/clipvault/internal/db"
)

var (
	// ErrNotFound is returned when a user does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned for a failed login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInactive is returned when a deactivated account authenticates.
	ErrInactive = errors.New("user account is deactivated")
)

// User is one registered account.
type User struct {
	ID          string    `json:"id"`
	Subject     string    `json:"-"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	Role        string    `json:"role"`
	IsActive    bool      `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"-"`
}

// Service provides user persistence and authentication.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a user service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("component", "users")),
	}
}

const userColumns = `id, subject, email, display_name, role, is_active, created_at, updated_at`

// EnsureBySubject finds the account for an externally verified identity,
// creating it on first sight. Email and display name are refreshed from the
// identity on every call.
func (s *Service) EnsureBySubject(ctx context.Context, subject, email, displayName string) (*User, error) {
	if subject == "" {
		return nil, fmt.Errorf("empty identity subject")
	}
	id, err := db.ParseUUID(uuid.NewString())
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, subject, email, display_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject) DO UPDATE
		SET email = EXCLUDED.email, display_name = EXCLUDED.display_name, updated_at = now()
		RETURNING `+userColumns,
		id, subject, db.TextFromString(email), db.TextFromString(displayName))
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInactive
	}
	return user, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, userID string) (*User, error) {
	id, err := db.ParseUUID(userID)
	if err != nil {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return user, nil
}

// Login verifies an email and password pair and returns the account.
func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash FROM users WHERE email = $1`, email)

	var hash pgtype.Text
	user, err := scanUserWith(row, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	if !hash.Valid {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInactive
	}
	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	return user, nil
}

// SetPassword hashes and stores a new password for a user.
func (s *Service) SetPassword(ctx context.Context, userID, password string) error {
	id, err := db.ParseUUID(userID)
	if err != nil {
		return ErrNotFound
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, string(hash))
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	return scanUserWith(row)
}

func scanUserWith(row pgx.Row, extra ...any) (*User, error) {
	var user User
	var id pgtype.UUID
	var email, displayName pgtype.Text
	var createdAt, updatedAt pgtype.Timestamptz

	dest := []any{&id, &user.Subject, &email, &displayName, &user.Role,
		&user.IsActive, &createdAt, &updatedAt}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	user.ID = db.UUIDToString(id)
	user.Email = db.TextToString(email)
	user.DisplayName = db.TextToString(displayName)
	user.CreatedAt = db.TimeFromPg(createdAt)
	user.UpdatedAt = db.TimeFromPg(updatedAt)
	return &user, nil
}
