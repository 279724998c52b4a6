package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"leadhero/internal/metrics"
	"leadhero/internal/ratelimit"
	"leadhero/internal/util"
	"leadhero/pkg/admission"
	"leadhero/pkg/domain"
	"leadhero/services/forms/internal/app"
)

// RateLimiter bounds public submissions per client.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Result, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Limiter        RateLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the forms service.
type Server struct {
	app     *app.App
	limiter RateLimiter
	proxies *util.TrustedProxies
	metrics *metrics.Metrics
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:     cfg.App,
		limiter: cfg.Limiter,
		proxies: cfg.TrustedProxies,
		metrics: cfg.App.Metrics(),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("forms", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", s.metrics.Handler())

	// public
	s.mux.Handle("/api/generate", s.rateLimited("generate", s.handleGenerate))
	s.mux.Handle("/api/leads", s.rateLimited("leads", s.handleCreateLead))

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/auth/me", s.withUser(s.handleMe))

	// owner
	s.mux.Handle("/api/forms", s.withUser(s.handleForms))
	s.mux.HandleFunc("/api/forms/", s.handleFormByID)
	s.mux.Handle("/api/leads/", s.withUser(s.handleLeadByID))
	s.mux.Handle("/api/quota", s.withUser(s.handleQuota))

	// admin
	s.mux.Handle("/api/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/api/admin/users/", s.adminOnly(s.handleAdminUserByID))
	s.mux.Handle("/api/admin/settings", s.adminOnly(s.handleAdminSettings))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next userHandler) http.Handler {
	return s.withUser(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if !user.Role.IsAdmin() {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.app.UserFromToken(r.Context(), token)
}

// rateLimited applies the per-IP fixed window to a public POST route.
func (s *Server) rateLimited(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || r.Method != http.MethodPost {
			next(w, r)
			return
		}
		ip := util.ClientIP(r, s.proxies)
		res, err := s.limiter.Allow(r.Context(), route+":"+ip)
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("rate limiter unavailable", "route", route, "err", err)
		}
		if !res.Allowed {
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, "service unavailable")
				return
			}
			s.metrics.RateLimited(route)
			secs := int(math.Ceil(res.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	})
}

// public handlers
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, _ := bearerToken(r)
	result, err := s.app.Generate(r.Context(), req.FormID, req.URL, token)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Success: true, Result: result})
}

func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req createLeadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, _ := bearerToken(r)
	dec, err := s.app.CreateLead(r.Context(), app.LeadInput{
		FormID:         req.FormID,
		Email:          req.Email,
		URL:            req.URL,
		ResultText:     req.ResultText,
		ResultImageURL: req.ResultImageURL,
		SessionToken:   token,
		Meta:           requestMeta(r, s.proxies),
	})
	switch {
	case errors.Is(err, admission.ErrInvalidSubmission):
		writeErrorCode(w, http.StatusBadRequest, "LEAD_INVALID_REQUEST", "formId and email are required")
		return
	case errors.Is(err, admission.ErrFormNotFound):
		writeErrorCode(w, http.StatusNotFound, "FORM_NOT_FOUND", "form not found")
		return
	case err != nil:
		util.LoggerFromContext(r.Context()).Error("create lead failed", "form_id", req.FormID, "err", err)
		writeErrorCode(w, http.StatusInternalServerError, "LEAD_SAVE_FAILED", "Ошибка при сохранении заявки")
		return
	}
	if !dec.Accepted {
		writeJSON(w, http.StatusConflict, rejectionFor(w, dec))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func rejectionFor(w http.ResponseWriter, dec admission.Decision) leadRejection {
	rej := leadRejection{
		Reason:    string(dec.Reason),
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	}
	switch dec.Reason {
	case admission.ReasonQuotaExceeded:
		rej.Error = "Достигнут лимит заявок (" + dec.Count + ")"
		rej.Code = "LEAD_QUOTA_EXCEEDED"
		rej.Count = dec.Count
	default:
		rej.Error = "Вы уже отправляли заявку с этого email"
		rej.Code = "LEAD_DUPLICATE_EMAIL"
	}
	return rej
}

func requestMeta(r *http.Request, proxies *util.TrustedProxies) map[string]string {
	meta := map[string]string{"ip": util.ClientIP(r, proxies)}
	if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
		meta["userAgent"] = ua
	}
	if ref := strings.TrimSpace(r.Referer()); ref != "" {
		meta["referer"] = ref
	}
	return meta
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req authRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.app.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req authRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// owner handlers
func (s *Server) handleForms(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		forms, err := s.app.ListForms(r.Context(), user)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": forms,
			"count": len(forms),
		})
	case http.MethodPost:
		var req createFormRequest
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}
		form, err := s.app.CreateForm(r.Context(), user, req.Name)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, form)
	default:
		methodNotAllowed(w)
	}
}

// /api/forms/{id}, /api/forms/{id}/content or /api/forms/{id}/leads
func (s *Server) handleFormByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/forms/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" || (len(parts) == 2 && strings.Contains(parts[1], "/")) {
		notFound(w, "not found")
		return
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "content" && r.Method == http.MethodGet:
		token, _ := bearerToken(r)
		resolved, err := s.app.FormContent(r.Context(), id, token)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resolved)
		return
	case action != "" && action != "content" && action != "leads":
		notFound(w, "not found")
		return
	}

	s.withUser(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		switch action {
		case "":
			s.handlePatchForm(w, r, user, id)
		case "content":
			s.handlePutContent(w, r, user, id)
		case "leads":
			s.handleListLeads(w, r, user, id)
		}
	}).ServeHTTP(w, r)
}

func (s *Server) handlePatchForm(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req updateFormRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == nil && req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "name or isActive is required")
		return
	}
	form, err := s.app.UpdateForm(r.Context(), user, id, app.FormPatch{Name: req.Name, IsActive: req.IsActive})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (s *Server) handlePutContent(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var values map[string]string
	if !decodeJSON(w, r, &values) {
		return
	}
	resolved, err := s.app.UpdateContent(r.Context(), user, id, values)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	leads, err := s.app.ListLeads(r.Context(), user, id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": leads,
		"count": len(leads),
	})
}

func (s *Server) handleLeadByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/leads/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteLead(r.Context(), user, id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q, err := s.app.QuotaStatus(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{Quota: q, Display: q.CountString()})
}

// admin handlers
func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": users,
		"count": len(users),
	})
}

func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req adminUserUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	patch, err := req.patch()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.app.UpdateUser(r.Context(), user, id, patch)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleAdminSettings(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.app.GetSettings(r.Context())
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var values map[string]string
		if !decodeJSON(w, r, &values) {
			return
		}
		settings, err := s.app.UpdateSettings(r.Context(), user, values)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	default:
		methodNotAllowed(w)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
