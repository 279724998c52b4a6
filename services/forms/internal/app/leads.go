package app

import (
	"context"
	"fmt"
	"strings"

	"leadhero/internal/util"
	"leadhero/pkg/admission"
	"leadhero/pkg/domain"
	"leadhero/pkg/events"
)

// LeadInput is a lead submission as received from the public form.
type LeadInput struct {
	FormID         string
	Email          string
	URL            string
	ResultText     *string
	ResultImageURL *string
	SessionToken   string
	Meta           map[string]string
}

// CreateLead runs the submission through admission and announces accepted
// leads. Publishing is best effort.
func (a *App) CreateLead(ctx context.Context, in LeadInput) (admission.Decision, error) {
	dec, err := a.engine.Admit(ctx, admission.Submission{
		FormID:         in.FormID,
		Email:          in.Email,
		URL:            in.URL,
		ResultText:     in.ResultText,
		ResultImageURL: in.ResultImageURL,
		SessionToken:   in.SessionToken,
		Meta:           in.Meta,
	})
	if err != nil || !dec.Accepted {
		return dec, err
	}
	if perr := a.events.PublishLeadAccepted(ctx, events.FromLead(dec.Lead)); perr != nil {
		util.LoggerFromContext(ctx).Warn("publish lead event failed",
			"form_id", dec.Lead.FormID,
			"lead_id", dec.Lead.ID,
			"err", perr,
		)
	}
	return dec, nil
}

// ListLeads returns the leads of a form, newest first.
func (a *App) ListLeads(ctx context.Context, user domain.User, formID string) ([]domain.Lead, error) {
	form, err := a.ownedForm(ctx, user, formID)
	if err != nil {
		return nil, err
	}
	leads, err := a.store.ListLeadsByForm(ctx, form.ID)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	if leads == nil {
		leads = []domain.Lead{}
	}
	return leads, nil
}

// DeleteLead removes a lead. The form's lead counter is not decremented, so
// deleting leads never frees quota.
func (a *App) DeleteLead(ctx context.Context, user domain.User, leadID string) error {
	leadID = strings.TrimSpace(leadID)
	lead, ok, err := a.store.GetLead(ctx, leadID)
	if err != nil {
		return fmt.Errorf("fetch lead: %w", err)
	}
	if !ok {
		return ErrLeadNotFound
	}
	if _, err := a.ownedForm(ctx, user, lead.FormID); err != nil {
		return err
	}
	if err := a.store.DeleteLeadByID(ctx, lead.ID); err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	util.LoggerFromContext(ctx).Info("lead deleted", "form_id", lead.FormID, "lead_id", lead.ID, "by", user.ID)
	return nil
}

// QuotaStatus reports the owner's lead quota.
func (a *App) QuotaStatus(ctx context.Context, user domain.User) (admission.Quota, error) {
	q, err := a.engine.Quota(ctx, user.ID)
	if err != nil {
		return admission.Quota{}, fmt.Errorf("check quota: %w", err)
	}
	return q, nil
}
