package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"leadhero/internal/util"
	"leadhero/pkg/auth"
	"leadhero/services/forms/internal/app"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, errorCodeFor(status, msg), msg)
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

type appErrorMapping struct {
	err    error
	status int
	code   string
}

// appErrors maps app sentinels to responses. The error text is shown as is,
// so only sentinels with user-facing messages belong here.
var appErrors = []appErrorMapping{
	{app.ErrFormNotFound, http.StatusNotFound, "FORM_NOT_FOUND"},
	{app.ErrLeadNotFound, http.StatusNotFound, "LEAD_NOT_FOUND"},
	{app.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
	{app.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{app.ErrPublishNotAllowed, http.StatusForbidden, "FORM_PUBLISH_FORBIDDEN"},
	{app.ErrFormLimitReached, http.StatusConflict, "FORM_LIMIT_REACHED"},
	{app.ErrEmailAlreadyExists, http.StatusConflict, "AUTH_EMAIL_ALREADY_EXISTS"},
	{app.ErrInvalidCredentials, http.StatusUnauthorized, "AUTH_INVALID_CREDENTIALS"},
	{app.ErrEmailAndPasswordRequired, http.StatusBadRequest, "AUTH_INVALID_REQUEST"},
	{auth.ErrPasswordTooShort, http.StatusBadRequest, "AUTH_WEAK_PASSWORD"},
	{auth.ErrPasswordTooLong, http.StatusBadRequest, "AUTH_WEAK_PASSWORD"},
	{auth.ErrPasswordMissingKind, http.StatusBadRequest, "AUTH_WEAK_PASSWORD"},
	{app.ErrNameRequired, http.StatusBadRequest, "FORM_INVALID_REQUEST"},
	{app.ErrUnknownContentKey, http.StatusBadRequest, "FORM_UNKNOWN_CONTENT_KEY"},
	{app.ErrUnknownSetting, http.StatusBadRequest, "SETTINGS_UNKNOWN_KEY"},
	{app.ErrInvalidRole, http.StatusBadRequest, "USER_INVALID_ROLE"},
	{app.ErrInvalidLimit, http.StatusBadRequest, "USER_INVALID_LIMIT"},
	{app.ErrInvalidURL, http.StatusBadRequest, "GENERATE_INVALID_URL"},
	{app.ErrImageUnavailable, http.StatusServiceUnavailable, "GENERATE_UNAVAILABLE"},
}

// writeAppError converts an app error into a response. Unknown errors are
// logged and reported without detail.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range appErrors {
		if errors.Is(err, m.err) {
			writeErrorCode(w, m.status, m.code, err.Error())
			return
		}
	}
	logger := util.LoggerFromContext(r.Context())
	if errors.Is(err, app.ErrGenerationFailed) {
		logger.Error("generation failed", "path", r.URL.Path, "err", err)
		writeErrorCode(w, http.StatusBadGateway, "GENERATE_FAILED", "Failed to generate result")
		return
	}
	logger.Error("request failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func errorCodeFor(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "forbidden":
		return "FORBIDDEN"
	case message == "invalid json body":
		return "REQUEST_INVALID_JSON"
	case message == "too many requests":
		return "RATE_LIMITED"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
