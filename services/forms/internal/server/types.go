package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"leadhero/pkg/admission"
	"leadhero/pkg/domain"
	"leadhero/services/forms/internal/app"
)

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type generateRequest struct {
	FormID string `json:"formId"`
	URL    string `json:"url"`
}

type generateResponse struct {
	Success bool       `json:"success"`
	Result  app.Result `json:"result"`
}

type createLeadRequest struct {
	FormID         string  `json:"formId"`
	Email          string  `json:"email"`
	URL            string  `json:"url"`
	ResultText     *string `json:"resultText"`
	ResultImageURL *string `json:"resultImageUrl"`
}

type leadRejection struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
	Count     string `json:"count,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type createFormRequest struct {
	Name string `json:"name"`
}

type updateFormRequest struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"isActive"`
}

type quotaResponse struct {
	admission.Quota
	Display string `json:"display"`
}

// adminUserUpdateRequest keeps limits raw so an explicit null (unlimited) can
// be told apart from an absent field (unchanged).
type adminUserUpdateRequest struct {
	MaxLeads        json.RawMessage `json:"maxLeads"`
	MaxForms        json.RawMessage `json:"maxForms"`
	CanPublishForms *bool           `json:"canPublishForms"`
	Role            string          `json:"role"`
}

func (req adminUserUpdateRequest) patch() (app.UserPatch, error) {
	var (
		patch app.UserPatch
		err   error
	)
	if patch.MaxLeads, err = parseLimit("maxLeads", req.MaxLeads); err != nil {
		return app.UserPatch{}, err
	}
	if patch.MaxForms, err = parseLimit("maxForms", req.MaxForms); err != nil {
		return app.UserPatch{}, err
	}
	patch.CanPublishForms = req.CanPublishForms
	if r := strings.ToLower(strings.TrimSpace(req.Role)); r != "" {
		role := domain.UserRole(r)
		patch.Role = &role
	}
	if !patch.MaxLeads.Set && !patch.MaxForms.Set && patch.CanPublishForms == nil && patch.Role == nil {
		return app.UserPatch{}, errors.New("maxLeads, maxForms, canPublishForms or role is required")
	}
	return patch, nil
}

func parseLimit(name string, raw json.RawMessage) (app.LimitPatch, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return app.LimitPatch{}, nil
	}
	if bytes.Equal(raw, []byte("null")) {
		return app.LimitPatch{Set: true}, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return app.LimitPatch{}, fmt.Errorf("%s must be an integer or null", name)
	}
	return app.LimitPatch{Set: true, Value: &n}, nil
}
