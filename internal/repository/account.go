package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pixelgrove/pixelgrove/internal/model"
)

// Common errors for account repository operations.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists for this external identity")
)

// FindAccountByProvider looks up the account binding for an external
// identity, along with its owning user. The user result is nil when the
// account row exists but no matching user row does; callers treat that
// as a data-integrity violation, so the join must not hide it.
func (r *Repository) FindAccountByProvider(ctx context.Context, provider, providerID string) (*model.Account, *model.User, error) {
	query := `
		SELECT a.id, a.provider, a.provider_id, a.provider_email, a.user_id, a.created_at, a.updated_at,
		       u.id, u.name, u.email, u.created_at, u.updated_at
		FROM accounts a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE a.provider = $1 AND a.provider_id = $2
	`

	var (
		account       model.Account
		providerEmail sql.NullString
		userID        sql.NullString
		userName      sql.NullString
		userEmail     sql.NullString
		userCreatedAt sql.NullTime
		userUpdatedAt sql.NullTime
	)

	err := r.pool.QueryRow(ctx, query, provider, providerID).Scan(
		&account.ID,
		&account.Provider,
		&account.ProviderID,
		&providerEmail,
		&account.UserID,
		&account.CreatedAt,
		&account.UpdatedAt,
		&userID,
		&userName,
		&userEmail,
		&userCreatedAt,
		&userUpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrAccountNotFound
		}
		return nil, nil, fmt.Errorf("failed to find account by provider: %w", err)
	}

	account.ProviderEmail = providerEmail.String

	if !userID.Valid {
		return &account, nil, nil
	}

	user := &model.User{
		ID:        userID.String,
		Name:      userName.String,
		Email:     userEmail.String,
		CreatedAt: userCreatedAt.Time,
		UpdatedAt: userUpdatedAt.Time,
	}

	return &account, user, nil
}

// CreateUserWithAccount inserts a new user and its first account binding
// in a single transaction. Either both rows become visible or neither
// does; a partial failure never leaves an orphan user behind.
//
// A concurrent first login for the same external identity loses the race
// on the (provider, provider_id) unique constraint and gets
// ErrAccountExists; callers retry the lookup instead of surfacing it.
func (r *Repository) CreateUserWithAccount(ctx context.Context, user *model.User, account *model.Account) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	account.CreatedAt = now
	account.UpdatedAt = now
	account.UserID = user.ID

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Name, user.Email, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (id, provider, provider_id, provider_email, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, account.ID, account.Provider, account.ProviderID, account.ProviderEmail, account.UserID, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	// PostgreSQL error code 23505 is unique_violation
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
