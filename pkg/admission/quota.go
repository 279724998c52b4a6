package admission

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"leadhero/pkg/domain"
)

// QuotaStore is the read side the quota policy needs.
type QuotaStore interface {
	GetUser(ctx context.Context, id string) (domain.User, bool, error)
	SumLeadCounts(ctx context.Context, ownerID string) (int, error)
}

// Quota is the outcome of a quota check. Limit is nil when unlimited.
type Quota struct {
	CanCreate    bool `json:"canCreate"`
	CurrentCount int  `json:"currentCount"`
	Limit        *int `json:"limit"`
}

// CountString renders "current/limit", or just "current" when unlimited.
func (q Quota) CountString() string {
	if q.Limit == nil {
		return strconv.Itoa(q.CurrentCount)
	}
	return fmt.Sprintf("%d/%d", q.CurrentCount, *q.Limit)
}

// QuotaPolicy enforces the account-wide lead limit. The limit is compared
// against the sum of lead counters over every form of the owner; the per-form
// LeadLimit column is never consulted.
type QuotaPolicy struct {
	store QuotaStore
}

func NewQuotaPolicy(store QuotaStore) *QuotaPolicy {
	return &QuotaPolicy{store: store}
}

// Check is read-only and safe to call speculatively.
func (p *QuotaPolicy) Check(ctx context.Context, ownerID string) (Quota, error) {
	var (
		owner domain.User
		found bool
		count int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		owner, found, err = p.store.GetUser(gctx, ownerID)
		if err != nil {
			return fmt.Errorf("get owner: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		count, err = p.store.SumLeadCounts(gctx, ownerID)
		if err != nil {
			return fmt.Errorf("sum lead counts: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Quota{}, err
	}
	if !found {
		return Quota{}, ErrOwnerNotFound
	}

	q := Quota{CurrentCount: count}
	if owner.MaxLeads == nil || owner.Role == domain.RoleSuperadmin {
		q.CanCreate = true
		return q, nil
	}
	limit := *owner.MaxLeads
	q.Limit = &limit
	q.CanCreate = count < limit
	return q, nil
}
