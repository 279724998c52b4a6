package store

import (
	"context"
	"errors"
	"time"

	"leadhero/pkg/domain"
)

var (
	// ErrDuplicateLead is returned by InsertLead when a lead already exists for
	// the (form, email) pair.
	ErrDuplicateLead = errors.New("lead already exists for form and email")
	// ErrFormMissing is returned by writes that reference an unknown form.
	ErrFormMissing = errors.New("form does not exist")
)

// Store defines persistence operations for accounts, forms, content and leads.
type Store interface {
	// users
	SaveUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	UserCount(ctx context.Context) (int, error)
	ListUserSummaries(ctx context.Context) ([]domain.UserSummary, error)

	// forms
	CreateForm(ctx context.Context, f domain.Form, content []domain.FormContent) error
	UpdateForm(ctx context.Context, f domain.Form) error
	GetForm(ctx context.Context, id string) (domain.Form, bool, error)
	ListFormsByOwner(ctx context.Context, ownerID string) ([]domain.Form, error)
	CountFormsByOwner(ctx context.Context, ownerID string) (int, error)

	// counters
	IncrementLeadCount(ctx context.Context, formID string) error
	SumLeadCounts(ctx context.Context, ownerID string) (int, error)
	ReconcileLeadCounts(ctx context.Context, formID string, dryRun bool) ([]CounterCorrection, error)

	// content and settings
	ListFormContent(ctx context.Context, formID string) ([]domain.FormContent, error)
	SetFormContent(ctx context.Context, formID string, values map[string]string) error
	GetSettings(ctx context.Context, keys ...string) (map[string]string, error)
	SetSettings(ctx context.Context, values map[string]string) error

	// leads
	InsertLead(ctx context.Context, l domain.Lead) error
	DeleteLead(ctx context.Context, formID, email string) error
	// ReplaceLead atomically swaps the lead for (form, email), inserting when
	// none exists.
	ReplaceLead(ctx context.Context, l domain.Lead) error
	FindLead(ctx context.Context, formID, email string) (domain.Lead, bool, error)
	GetLead(ctx context.Context, id string) (domain.Lead, bool, error)
	DeleteLeadByID(ctx context.Context, id string) error
	ListLeadsByForm(ctx context.Context, formID string) ([]domain.Lead, error)
}

// CounterCorrection describes one form whose lead counter was (or would be)
// rewritten by ReconcileLeadCounts.
type CounterCorrection struct {
	FormID string `json:"formId"`
	Before int    `json:"before"`
	After  int    `json:"after"`
}

// SessionStore issues and validates owner session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(ctx context.Context, token string) (string, bool, error)
	DeleteSession(ctx context.Context, token string) error
}

// TokenRevoker tracks revoked token ids until expiry.
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}
