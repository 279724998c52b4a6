package events

import (
	"context"
	"encoding/json"
	"time"

	"leadhero/pkg/domain"
)

// RoutingLeadAccepted is the routing key for accepted leads.
const RoutingLeadAccepted = "lead.accepted"

// LeadAccepted is published after a lead row is stored.
type LeadAccepted struct {
	LeadID    string            `json:"leadId"`
	FormID    string            `json:"formId"`
	Email     string            `json:"email"`
	URL       string            `json:"url"`
	Origin    domain.LeadOrigin `json:"origin"`
	CreatedAt time.Time         `json:"createdAt"`
}

// FromLead builds the event payload for l.
func FromLead(l domain.Lead) LeadAccepted {
	return LeadAccepted{
		LeadID:    l.ID,
		FormID:    l.FormID,
		Email:     l.Email,
		URL:       l.URL,
		Origin:    l.Origin,
		CreatedAt: l.CreatedAt,
	}
}

func (e LeadAccepted) encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher emits lead events.
type Publisher interface {
	PublishLeadAccepted(ctx context.Context, ev LeadAccepted) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishLeadAccepted(context.Context, LeadAccepted) error { return nil }
func (NopPublisher) Close() error                                            { return nil }
