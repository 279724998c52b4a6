package admission

import (
	"context"
	"strings"

	"leadhero/internal/util"
	"leadhero/pkg/domain"
)

// SessionVerifier resolves a session token to a user id.
type SessionVerifier interface {
	GetUserIDByToken(ctx context.Context, token string) (string, bool, error)
}

// FormLookup loads a form by id.
type FormLookup interface {
	GetForm(ctx context.Context, id string) (domain.Form, bool, error)
}

// Identity is the caller as seen by admission. UserID is empty for anonymous
// callers.
type Identity struct {
	UserID  string
	IsOwner bool
}

// IdentityResolver decides whether a caller owns the target form. It never
// fails: every lookup problem degrades to an anonymous identity.
type IdentityResolver struct {
	sessions SessionVerifier
	forms    FormLookup
}

func NewIdentityResolver(sessions SessionVerifier, forms FormLookup) *IdentityResolver {
	return &IdentityResolver{sessions: sessions, forms: forms}
}

// Resolve returns the caller identity for token against formID.
func (r *IdentityResolver) Resolve(ctx context.Context, token, formID string) Identity {
	token = strings.TrimSpace(token)
	if token == "" || r == nil || r.sessions == nil || r.forms == nil {
		return Identity{}
	}
	logger := util.LoggerFromContext(ctx)

	userID, ok, err := r.sessions.GetUserIDByToken(ctx, token)
	if err != nil || !ok {
		logger.Warn("identity resolution degraded to anonymous", "form_id", formID, "stage", "session", "err", err)
		return Identity{}
	}
	form, found, err := r.forms.GetForm(ctx, formID)
	if err != nil || !found {
		logger.Warn("identity resolution degraded to anonymous", "form_id", formID, "stage", "form", "found", found, "err", err)
		return Identity{UserID: userID}
	}
	return Identity{UserID: userID, IsOwner: form.OwnerID == userID}
}
