package admission

import (
	"context"
	"errors"
	"strings"
	"time"

	"leadhero/internal/util"
	"leadhero/pkg/domain"
	"leadhero/pkg/store"
)

// LeadStore is the persistence contract admission relies on. InsertLead must
// return store.ErrDuplicateLead when (form, email) already exists, ReplaceLead
// must swap the (form, email) row atomically, and IncrementLeadCount must be a
// single atomic increment.
type LeadStore interface {
	InsertLead(ctx context.Context, l domain.Lead) error
	ReplaceLead(ctx context.Context, l domain.Lead) error
	FindLead(ctx context.Context, formID, email string) (domain.Lead, bool, error)
	IncrementLeadCount(ctx context.Context, formID string) error
	SumLeadCounts(ctx context.Context, ownerID string) (int, error)
	GetForm(ctx context.Context, id string) (domain.Form, bool, error)
	GetUser(ctx context.Context, id string) (domain.User, bool, error)
}

// Reason explains a rejected submission.
type Reason string

const (
	ReasonDuplicateEmail Reason = "duplicate_email"
	ReasonQuotaExceeded  Reason = "quota_exceeded"
)

// Submission is one lead capture attempt.
type Submission struct {
	FormID         string
	Email          string
	URL            string
	ResultText     *string
	ResultImageURL *string
	SessionToken   string
	Meta           map[string]string
}

// Decision is the admission outcome. Rejections are decisions, not errors.
type Decision struct {
	Accepted bool
	Lead     domain.Lead
	Role     Role
	Reason   Reason
	// Count is the quota count string, set on quota rejections.
	Count string
}

// Observer receives admission outcomes, e.g. for metrics.
type Observer interface {
	Admitted(role Role, outcome string)
	CounterDrift(formID string)
}

type nopObserver struct{}

func (nopObserver) Admitted(Role, string) {}
func (nopObserver) CounterDrift(string)   {}

// Config wires an Engine.
type Config struct {
	Store        LeadStore
	Sessions     SessionVerifier
	TestIdentity string
	Observer     Observer
	Now          func() time.Time
	NewID        func() string
}

// Engine classifies submissions and applies the duplicate and quota rules.
type Engine struct {
	store        LeadStore
	identity     *IdentityResolver
	quota        *QuotaPolicy
	testIdentity string
	observer     Observer
	now          func() time.Time
	newID        func() string
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("lead store required")
	}
	e := &Engine{
		store:        cfg.Store,
		identity:     NewIdentityResolver(cfg.Sessions, cfg.Store),
		quota:        NewQuotaPolicy(cfg.Store),
		testIdentity: strings.TrimSpace(cfg.TestIdentity),
		observer:     cfg.Observer,
		now:          cfg.Now,
		newID:        cfg.NewID,
	}
	if e.testIdentity == "" {
		e.testIdentity = DefaultTestIdentity
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = util.NewID
	}
	return e, nil
}

// Quota exposes the quota policy for dashboards and tooling.
func (e *Engine) Quota(ctx context.Context, ownerID string) (Quota, error) {
	return e.quota.Check(ctx, ownerID)
}

// Admit runs one submission through classification and the path rules.
func (e *Engine) Admit(ctx context.Context, sub Submission) (Decision, error) {
	sub.FormID = strings.TrimSpace(sub.FormID)
	sub.Email = strings.TrimSpace(sub.Email)
	if sub.FormID == "" || sub.Email == "" {
		return Decision{}, ErrInvalidSubmission
	}

	var id Identity
	if !IsTestIdentity(sub.Email, e.testIdentity) {
		id = e.identity.Resolve(ctx, sub.SessionToken, sub.FormID)
	}
	role := Classify(sub.Email, e.testIdentity, id)

	var (
		dec Decision
		err error
	)
	switch role {
	case RoleTestIdentity:
		// One row per form regardless of how the address was cased.
		sub.Email = e.testIdentity
		dec, err = e.replace(ctx, sub, domain.OriginTest)
	case RoleOwner:
		dec, err = e.replace(ctx, sub, domain.OriginOwner)
	default:
		dec, err = e.admitVisitor(ctx, sub)
	}
	dec.Role = role

	outcome := outcomeOf(dec, err)
	e.observer.Admitted(role, outcome)
	util.LoggerFromContext(ctx).Info("lead admission",
		"form_id", sub.FormID,
		"role", role.String(),
		"outcome", outcome,
	)
	return dec, err
}

// replace is the exempt path shared by the owner and the test identity: the
// previous lead for (form, email) is swapped out and the counter is left alone.
func (e *Engine) replace(ctx context.Context, sub Submission, origin domain.LeadOrigin) (Decision, error) {
	lead := e.newLead(sub, origin)
	if err := e.store.ReplaceLead(ctx, lead); err != nil {
		if errors.Is(err, store.ErrFormMissing) {
			return Decision{}, ErrFormNotFound
		}
		return Decision{}, &StorageError{Op: "replace lead", Err: err}
	}
	return Decision{Accepted: true, Lead: lead}, nil
}

func (e *Engine) admitVisitor(ctx context.Context, sub Submission) (Decision, error) {
	form, ok, err := e.store.GetForm(ctx, sub.FormID)
	if err != nil {
		return Decision{}, &StorageError{Op: "get form", Err: err}
	}
	if !ok || !form.IsActive {
		return Decision{}, ErrFormNotFound
	}

	q, err := e.quota.Check(ctx, form.OwnerID)
	if err != nil {
		if errors.Is(err, ErrOwnerNotFound) {
			return Decision{}, err
		}
		return Decision{}, &StorageError{Op: "check quota", Err: err}
	}
	if !q.CanCreate {
		return Decision{Reason: ReasonQuotaExceeded, Count: q.CountString()}, nil
	}

	_, exists, err := e.store.FindLead(ctx, sub.FormID, sub.Email)
	if err != nil {
		return Decision{}, &StorageError{Op: "find lead", Err: err}
	}
	if exists {
		return Decision{Reason: ReasonDuplicateEmail}, nil
	}

	lead := e.newLead(sub, domain.OriginVisitor)
	if err := e.store.InsertLead(ctx, lead); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateLead):
			return Decision{Reason: ReasonDuplicateEmail}, nil
		case errors.Is(err, store.ErrFormMissing):
			return Decision{}, ErrFormNotFound
		}
		return Decision{}, &StorageError{Op: "insert lead", Err: err}
	}

	// The lead is already captured; a failed increment only leaves the
	// counter behind until reconciliation.
	if err := e.store.IncrementLeadCount(ctx, sub.FormID); err != nil {
		e.observer.CounterDrift(sub.FormID)
		util.LoggerFromContext(ctx).Error("lead counter increment failed",
			"form_id", sub.FormID,
			"lead_id", lead.ID,
			"err", err,
		)
	}
	return Decision{Accepted: true, Lead: lead}, nil
}

func (e *Engine) newLead(sub Submission, origin domain.LeadOrigin) domain.Lead {
	return domain.Lead{
		ID:             e.newID(),
		FormID:         sub.FormID,
		Email:          sub.Email,
		URL:            strings.TrimSpace(sub.URL),
		ResultText:     sub.ResultText,
		ResultImageURL: sub.ResultImageURL,
		Status:         domain.LeadCompleted,
		Origin:         origin,
		Meta:           sub.Meta,
		CreatedAt:      e.now().UTC(),
	}
}

func outcomeOf(dec Decision, err error) string {
	switch {
	case err != nil && errors.Is(err, ErrFormNotFound):
		return "form_not_found"
	case err != nil:
		return "error"
	case dec.Accepted:
		return "accepted"
	default:
		return string(dec.Reason)
	}
}
