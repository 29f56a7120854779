package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jorgecotillo/salesianos-openid-connect/internal/claims"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/db"
)

// uniqueViolation is the postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// PostgresStore is the production Store over the identity schema.
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(db *db.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, created_at
		FROM users
		WHERE LOWER(username) = LOWER($1)
	`, username).Scan(&u.ID, &u.Username, &u.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) CheckPassword(ctx context.Context, user *User, password string) (bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT password_hash
		FROM credentials
		WHERE user_id = $1
	`, user.ID).Scan(&hash)

	if errors.Is(err, sql.ErrNoRows) {
		// federated-only account, no local credential
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return VerifyPassword(hash, password) == nil, nil
}

func (s *PostgresStore) FindByExternalLogin(ctx context.Context, provider, subjectID string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.created_at
		FROM users u
		JOIN external_logins el ON el.user_id = u.id
		WHERE el.provider = $1
		  AND el.subject_id = $2
	`, provider, subjectID).Scan(&u.ID, &u.Username, &u.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, username string) (*User, error) {
	var u User
	u.Username = username
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username)
		VALUES ($1)
		RETURNING id, created_at
	`, username).Scan(&u.ID, &u.CreatedAt)

	if isUniqueViolation(err) {
		return nil, ErrAlreadyRegistered
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) AddExternalLogin(ctx context.Context, userID uuid.UUID, provider, subjectID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO external_logins (user_id, provider, subject_id)
		VALUES ($1, $2, $3)
	`, userID, provider, subjectID)

	if isUniqueViolation(err) {
		return ErrLinkExists
	}
	return err
}

// Register provisions a local account with password credentials.
func (s *PostgresStore) Register(ctx context.Context, username, password string) (*User, error) {
	hash, version, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u, err := s.CreateUser(ctx, username)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, password_hash, hash_version)
		VALUES ($1, $2, $3)
	`, u.ID, hash, version)
	if err != nil {
		return nil, fmt.Errorf("users: storing credentials: %w", err)
	}
	return u, nil
}

// ClaimsForSubject returns the subject's stored profile claims, with the
// subject and username claims synthesized from the user record itself.
func (s *PostgresStore) ClaimsForSubject(ctx context.Context, subjectID string) ([]claims.Claim, error) {
	id, err := uuid.Parse(subjectID)
	if err != nil {
		return nil, ErrNotFound
	}

	var username string
	err = s.db.QueryRowContext(ctx, `
		SELECT username FROM users WHERE id = $1
	`, id).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cs := []claims.Claim{
		{Type: claims.TypeSubject, Value: subjectID},
		{Type: claims.TypeName, Value: username},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT claim_type, claim_value
		FROM user_claims
		WHERE user_id = $1
		ORDER BY created_at
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c claims.Claim
		if err := rows.Scan(&c.Type, &c.Value); err != nil {
			return nil, err
		}
		cs = append(cs, c)
	}
	return cs, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
