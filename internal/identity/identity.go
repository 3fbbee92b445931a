// Package identity converts provider-verified external identities into
// local session identities, creating the local user record on first login.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pixelgrove/pixelgrove/internal/metrics"
	"github.com/pixelgrove/pixelgrove/internal/model"
	"github.com/pixelgrove/pixelgrove/internal/repository"
)

// Reconciliation errors. All of them abort the login attempt; a session
// is never established on any error path.
var (
	// ErrMissingSubject indicates the external assertion lacked the
	// provider-issued subject identifier. Hard error, not recoverable.
	ErrMissingSubject = errors.New("external identity missing subject identifier")

	// ErrIncompleteIdentity indicates a first-time login whose assertion
	// lacked the name or email needed to create the local user.
	ErrIncompleteIdentity = errors.New("external identity missing name and/or email")

	// ErrDataIntegrity indicates an account row with no associated user.
	// Never expected; surfaced rather than silently repaired.
	ErrDataIntegrity = errors.New("account has no associated user")
)

// ExternalIdentity is the verified assertion handed back by an external
// provider after a successful login. Name and Email are required only
// when no account exists yet for (Provider, Subject).
type ExternalIdentity struct {
	Provider string
	Subject  string
	Name     string
	Email    string
}

// Store is the subset of the repository the reconciler needs.
type Store interface {
	FindAccountByProvider(ctx context.Context, provider, providerID string) (*model.Account, *model.User, error)
	CreateUserWithAccount(ctx context.Context, user *model.User, account *model.Account) error
}

// Reconciler resolves external identities against the local user store.
type Reconciler struct {
	store    Store
	logger   *slog.Logger
	recorder metrics.Recorder
}

// NewReconciler creates a Reconciler backed by the given store.
func NewReconciler(store Store, logger *slog.Logger, recorder metrics.Recorder) *Reconciler {
	return &Reconciler{
		store:    store,
		logger:   logger,
		recorder: recorder,
	}
}

// Reconcile finds or creates the local user bound to ext and returns the
// identity to embed in a new session.
//
// Repeat logins return the stored user; the name/email presented this
// time are ignored (no profile sync). First logins create one User and
// one Account atomically. Two concurrent first logins for the same
// identity race on the store's unique constraint; the loser retries the
// lookup, which then finds the winner's rows.
func (rc *Reconciler) Reconcile(ctx context.Context, ext ExternalIdentity) (*model.LocalIdentity, error) {
	if ext.Subject == "" {
		return nil, ErrMissingSubject
	}

	account, user, err := rc.store.FindAccountByProvider(ctx, ext.Provider, ext.Subject)
	switch {
	case err == nil:
		if user == nil {
			return nil, fmt.Errorf("%w: account %s", ErrDataIntegrity, account.ID)
		}
		return model.IdentityForUser(user), nil
	case errors.Is(err, repository.ErrAccountNotFound):
		// First login for this identity; fall through to create.
	default:
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if ext.Name == "" || ext.Email == "" {
		return nil, ErrIncompleteIdentity
	}

	newUser := &model.User{
		ID:    uuid.NewString(),
		Name:  ext.Name,
		Email: ext.Email,
	}
	newAccount := &model.Account{
		ID:            uuid.NewString(),
		Provider:      ext.Provider,
		ProviderID:    ext.Subject,
		ProviderEmail: ext.Email,
	}

	err = rc.store.CreateUserWithAccount(ctx, newUser, newAccount)
	if err == nil {
		rc.recorder.IncUserCreated()
		rc.logger.Info("created user for first login",
			slog.String("user_id", newUser.ID),
			slog.String("provider", ext.Provider),
		)
		return model.IdentityForUser(newUser), nil
	}

	if !errors.Is(err, repository.ErrAccountExists) {
		return nil, fmt.Errorf("failed to create user and account: %w", err)
	}

	// Lost the first-login race; the winner's rows exist now.
	rc.logger.Info("first-login race detected, rereading account",
		slog.String("provider", ext.Provider),
	)

	account, user, err = rc.store.FindAccountByProvider(ctx, ext.Provider, ext.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to reread account after insert conflict: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: account %s", ErrDataIntegrity, account.ID)
	}

	return model.IdentityForUser(user), nil
}
