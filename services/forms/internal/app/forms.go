package app

import (
	"context"
	"fmt"
	"strings"

	"leadhero/internal/util"
	"leadhero/pkg/content"
	"leadhero/pkg/domain"
)

const (
	defaultFormName  = "Моя форма"
	defaultLeadLimit = 20
)

// CreateForm creates an active form seeded with the default content. The
// account's MaxForms applies unless it is unlimited or superadmin.
func (a *App) CreateForm(ctx context.Context, owner domain.User, name string) (domain.Form, error) {
	if owner.MaxForms != nil && owner.Role != domain.RoleSuperadmin {
		count, err := a.store.CountFormsByOwner(ctx, owner.ID)
		if err != nil {
			return domain.Form{}, fmt.Errorf("count forms: %w", err)
		}
		if count >= *owner.MaxForms {
			return domain.Form{}, ErrFormLimitReached
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultFormName
	}
	now := a.now()
	form := domain.Form{
		ID:        util.NewID(),
		OwnerID:   owner.ID,
		Name:      name,
		IsActive:  true,
		LeadLimit: defaultLeadLimit,
		CreatedAt: now,
		UpdatedAt: now,
	}
	seed := content.SeedValues()
	items := make([]domain.FormContent, 0, len(seed))
	for k, v := range seed {
		items = append(items, domain.FormContent{FormID: form.ID, Key: k, Value: v})
	}
	if err := a.store.CreateForm(ctx, form, items); err != nil {
		return domain.Form{}, fmt.Errorf("create form: %w", err)
	}
	return form, nil
}

// ListForms returns the forms owned by user.
func (a *App) ListForms(ctx context.Context, user domain.User) ([]domain.Form, error) {
	forms, err := a.store.ListFormsByOwner(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	if forms == nil {
		forms = []domain.Form{}
	}
	return forms, nil
}

// FormPatch carries optional form updates.
type FormPatch struct {
	Name     *string
	IsActive *bool
}

// UpdateForm renames and/or (de)activates a form. Activating requires the
// publish permission or an admin role; deactivating is always allowed.
func (a *App) UpdateForm(ctx context.Context, user domain.User, formID string, patch FormPatch) (domain.Form, error) {
	form, err := a.ownedForm(ctx, user, formID)
	if err != nil {
		return domain.Form{}, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return domain.Form{}, ErrNameRequired
		}
		form.Name = name
	}
	if patch.IsActive != nil {
		if *patch.IsActive && !form.IsActive && !user.CanPublishForms && !user.Role.IsAdmin() {
			return domain.Form{}, ErrPublishNotAllowed
		}
		form.IsActive = *patch.IsActive
	}
	form.UpdatedAt = a.now()
	if err := a.store.UpdateForm(ctx, form); err != nil {
		return domain.Form{}, fmt.Errorf("update form: %w", err)
	}
	return form, nil
}

// RenameForm changes a form's display name.
func (a *App) RenameForm(ctx context.Context, user domain.User, formID, name string) (domain.Form, error) {
	return a.UpdateForm(ctx, user, formID, FormPatch{Name: &name})
}

// SetFormActive publishes or unpublishes a form.
func (a *App) SetFormActive(ctx context.Context, user domain.User, formID string, active bool) (domain.Form, error) {
	return a.UpdateForm(ctx, user, formID, FormPatch{IsActive: &active})
}

// UpdateContent stores per-form overrides. Unknown keys reject the whole
// update.
func (a *App) UpdateContent(ctx context.Context, user domain.User, formID string, values map[string]string) (content.Resolved, error) {
	form, err := a.ownedForm(ctx, user, formID)
	if err != nil {
		return content.Resolved{}, err
	}
	for k := range values {
		if !content.IsKnownKey(k) {
			return content.Resolved{}, fmt.Errorf("%w: %s", ErrUnknownContentKey, k)
		}
	}
	if len(values) > 0 {
		if err := a.store.SetFormContent(ctx, form.ID, values); err != nil {
			return content.Resolved{}, fmt.Errorf("set form content: %w", err)
		}
	}
	return a.content.Resolve(ctx, form.ID)
}

// FormContent returns a form's effective content for the public page,
// without the prompt.
func (a *App) FormContent(ctx context.Context, formID, sessionToken string) (content.Resolved, error) {
	form, err := a.visibleForm(ctx, formID, sessionToken)
	if err != nil {
		return content.Resolved{}, err
	}
	resolved, err := a.content.Resolve(ctx, form.ID)
	if err != nil {
		return content.Resolved{}, fmt.Errorf("resolve content: %w", err)
	}
	return resolved.Public(), nil
}
