package app

import (
	"errors"

	"leadhero/pkg/admission"
)

var (
	// ErrInvalidCredentials is shown to end users and must not enable account enumeration.
	ErrInvalidCredentials = errors.New("Incorrect email address or password")

	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrEmailAlreadyExists       = errors.New("email already exists")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrFormNotFound aliases the admission error so both layers match with errors.Is.
	ErrFormNotFound      = admission.ErrFormNotFound
	ErrLeadNotFound      = errors.New("lead not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrFormLimitReached  = errors.New("form limit reached")
	ErrPublishNotAllowed = errors.New("publishing forms is not allowed for this account")
	ErrNameRequired      = errors.New("form name required")
	ErrUnknownContentKey = errors.New("unknown content key")
	ErrUnknownSetting    = errors.New("unknown setting")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidLimit      = errors.New("limits must not be negative")

	ErrInvalidURL       = errors.New("a public http or https url is required")
	ErrImageUnavailable = errors.New("image generation is not configured")
	ErrGenerationFailed = errors.New("failed to generate result")
)
