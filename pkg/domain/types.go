package domain

import "time"

type UserRole string

const (
	RoleUser       UserRole = "user"
	RoleAdmin      UserRole = "admin"
	RoleSuperadmin UserRole = "superadmin"
)

// IsAdmin reports whether the role may use administrative endpoints.
func (r UserRole) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperadmin
}

type LeadStatus string

const (
	LeadPending   LeadStatus = "pending"
	LeadCompleted LeadStatus = "completed"
)

// LeadOrigin records which admission path created a lead. Only visitor leads
// are reflected in a form's lead counter.
type LeadOrigin string

const (
	OriginVisitor LeadOrigin = "visitor"
	OriginOwner   LeadOrigin = "owner"
	OriginTest    LeadOrigin = "test"
)

type ResultFormat string

const (
	FormatText  ResultFormat = "text"
	FormatImage ResultFormat = "image"
)

// ParseResultFormat maps stored values to a known format, defaulting to text.
func ParseResultFormat(v string) ResultFormat {
	if ResultFormat(v) == FormatImage {
		return FormatImage
	}
	return FormatText
}

// User is a form owner account. MaxLeads and MaxForms are nil when unlimited.
type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	PasswordHash    string    `json:"-"`
	Role            UserRole  `json:"role"`
	MaxLeads        *int      `json:"maxLeads"`
	MaxForms        *int      `json:"maxForms"`
	CanPublishForms bool      `json:"canPublishForms"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Form is a lead capture form. LeadLimit is legacy display data; quota is
// enforced on the owner's account.
type Form struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"isActive"`
	LeadCount int       `json:"leadCount"`
	LeadLimit int       `json:"leadLimit"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Lead struct {
	ID             string            `json:"id"`
	FormID         string            `json:"formId"`
	Email          string            `json:"email"`
	URL            string            `json:"url"`
	ResultText     *string           `json:"resultText"`
	ResultImageURL *string           `json:"resultImageUrl"`
	Status         LeadStatus        `json:"status"`
	Origin         LeadOrigin        `json:"origin"`
	Meta           map[string]string `json:"meta,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

type FormContent struct {
	FormID string `json:"formId"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

// UserSummary is a user with the sum of lead counters across their forms.
type UserSummary struct {
	User
	FormCount int `json:"formCount"`
	LeadCount int `json:"leadCount"`
}
