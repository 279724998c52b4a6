package app

import (
	"context"
	"fmt"
	"strings"

	"leadhero/internal/util"
	"leadhero/pkg/content"
	"leadhero/pkg/domain"
)

// LimitPatch updates one account limit when Set. A nil Value means unlimited.
type LimitPatch struct {
	Set   bool
	Value *int
}

// UserPatch carries optional account changes made by an administrator.
type UserPatch struct {
	MaxLeads        LimitPatch
	MaxForms        LimitPatch
	CanPublishForms *bool
	Role            *domain.UserRole
}

var settingKeys = []string{content.SettingGlobalTextPrompt, content.SettingGlobalImagePrompt}

// ListUsers returns every account with its form count and the sum of its
// form lead counters.
func (a *App) ListUsers(ctx context.Context, actor domain.User) ([]domain.UserSummary, error) {
	if !actor.Role.IsAdmin() {
		return nil, ErrForbidden
	}
	users, err := a.store.ListUserSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if users == nil {
		users = []domain.UserSummary{}
	}
	return users, nil
}

// UpdateUser changes limits, publish permission or role. Only a superadmin
// grants superadmin or edits another superadmin.
func (a *App) UpdateUser(ctx context.Context, actor domain.User, userID string, patch UserPatch) (domain.User, error) {
	if !actor.Role.IsAdmin() {
		return domain.User{}, ErrForbidden
	}
	user, ok, err := a.store.GetUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	superadmin := actor.Role == domain.RoleSuperadmin
	if user.Role == domain.RoleSuperadmin && !superadmin {
		return domain.User{}, ErrForbidden
	}
	if patch.Role != nil {
		switch *patch.Role {
		case domain.RoleUser, domain.RoleAdmin:
		case domain.RoleSuperadmin:
			if !superadmin {
				return domain.User{}, ErrForbidden
			}
		default:
			return domain.User{}, ErrInvalidRole
		}
		user.Role = *patch.Role
	}
	for _, lp := range []LimitPatch{patch.MaxLeads, patch.MaxForms} {
		if lp.Set && lp.Value != nil && *lp.Value < 0 {
			return domain.User{}, ErrInvalidLimit
		}
	}
	if patch.MaxLeads.Set {
		user.MaxLeads = copyLimit(patch.MaxLeads.Value)
	}
	if patch.MaxForms.Set {
		user.MaxForms = copyLimit(patch.MaxForms.Value)
	}
	if patch.CanPublishForms != nil {
		user.CanPublishForms = *patch.CanPublishForms
	}
	user.UpdatedAt = a.now()
	if err := a.store.SaveUser(ctx, user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	util.LoggerFromContext(ctx).Info("account updated", "user_id", user.ID, "by", actor.ID, "role", user.Role)
	return user, nil
}

// GetSettings returns the global prompts. Unset prompts are empty strings.
func (a *App) GetSettings(ctx context.Context) (map[string]string, error) {
	stored, err := a.store.GetSettings(ctx, settingKeys...)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	out := make(map[string]string, len(settingKeys))
	for _, k := range settingKeys {
		out[k] = stored[k]
	}
	return out, nil
}

// UpdateSettings stores global prompts. Unknown keys reject the update.
func (a *App) UpdateSettings(ctx context.Context, actor domain.User, values map[string]string) (map[string]string, error) {
	if !actor.Role.IsAdmin() {
		return nil, ErrForbidden
	}
	for k := range values {
		if k != content.SettingGlobalTextPrompt && k != content.SettingGlobalImagePrompt {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSetting, k)
		}
	}
	if len(values) > 0 {
		if err := a.store.SetSettings(ctx, values); err != nil {
			return nil, fmt.Errorf("set settings: %w", err)
		}
	}
	return a.GetSettings(ctx)
}

func copyLimit(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
