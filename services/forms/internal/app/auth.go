package app

import (
	"context"
	"fmt"
	"strings"

	"leadhero/internal/util"
	"leadhero/pkg/auth"
	"leadhero/pkg/domain"
)

// SignUp registers an owner account, creates its first form and opens a
// session. The first account becomes superadmin.
func (a *App) SignUp(ctx context.Context, email, password string) (domain.User, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", err
	}
	_, exists, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	count, err := a.store.UserCount(ctx)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("count users: %w", err)
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	now := a.now()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         domain.RoleUser,
		MaxLeads:     a.newUser.MaxLeads,
		MaxForms:     a.newUser.MaxForms,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if count == 0 {
		user.Role = domain.RoleSuperadmin
		user.MaxLeads = nil
		user.MaxForms = nil
		user.CanPublishForms = true
	}
	if err := a.store.SaveUser(ctx, user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	if _, err := a.CreateForm(ctx, user, ""); err != nil {
		return domain.User{}, "", err
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	util.LoggerFromContext(ctx).Info("owner registered", "user_id", user.ID, "role", user.Role)
	return user, token, nil
}

// Login validates credentials and opens a session.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = normalizeEmail(email)
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

// Logout revokes the session token.
func (a *App) Logout(ctx context.Context, token string) error {
	return a.sessions.DeleteSession(ctx, token)
}

// UserFromToken resolves a session token to its account.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, bool) {
	userID, ok, err := a.sessions.GetUserIDByToken(ctx, token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, ok, err := a.store.GetUser(ctx, userID)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("session user lookup failed", "user_id", userID, "err", err)
		return domain.User{}, false
	}
	return user, ok
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
