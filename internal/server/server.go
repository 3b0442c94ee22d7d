package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reviewboard/internal/app"
	"reviewboard/internal/policy"
	"reviewboard/internal/ratelimit"
	"reviewboard/internal/util"
	"reviewboard/pkg/domain"
)

// Config wires required dependencies for the HTTP server. Rate limiting
// is enabled only when RedisAddr is set.
type Config struct {
	App *app.App

	RedisAddr                string
	RedisPassword            string
	SignupRateLimitPerMinute int
	TokenRateLimitPerMinute  int

	TrustedProxies []string
}

// Server exposes the HTTP API.
type Server struct {
	app     *app.App
	mux     *http.ServeMux
	trusted *util.TrustedProxies

	signupLimiter *ratelimit.FixedWindowLimiter
	tokenLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:     cfg.App,
		mux:     http.NewServeMux(),
		trusted: trusted,
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		signupLimit := cfg.SignupRateLimitPerMinute
		if signupLimit <= 0 {
			signupLimit = 5
		}
		tokenLimit := cfg.TokenRateLimitPerMinute
		if tokenLimit <= 0 {
			tokenLimit = 10
		}
		s.signupLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "reviewboard:ratelimit:signup", signupLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init signup limiter: %w", err)
		}
		s.tokenLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "reviewboard:ratelimit:token", tokenLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init token limiter: %w", err)
		}
	}
	s.routes()
	return s, nil
}

// Router returns the handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog("reviewboard", s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/v1/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/v1/auth/token", s.handleToken)

	// user management
	s.mux.HandleFunc("/api/v1/users", s.handleUsers)
	s.mux.HandleFunc("/api/v1/users/", s.handleUserByName)

	// catalog and content
	s.mux.HandleFunc("/api/v1/categories", s.handleCategories)
	s.mux.HandleFunc("/api/v1/categories/", s.handleCategoryBySlug)
	s.mux.HandleFunc("/api/v1/genres", s.handleGenres)
	s.mux.HandleFunc("/api/v1/genres/", s.handleGenreBySlug)
	s.mux.HandleFunc("/api/v1/titles", s.handleTitles)
	s.mux.HandleFunc("/api/v1/titles/", s.handleTitleSubtree)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actor resolves the principal behind a request. Requests without a
// valid bearer token proceed as anonymous; the policies decide what
// anonymous callers may do.
func (s *Server) actor(r *http.Request) policy.Actor {
	token, ok := bearerToken(r)
	if !ok {
		return policy.Actor{}
	}
	user, ok := s.app.UserFromToken(token)
	if !ok {
		return policy.Actor{}
	}
	return policy.Actor{User: user, Authenticated: true}
}

// enforce applies a policy and writes the denial when it fails: 401 for
// anonymous callers, 403 for authenticated ones.
func (s *Server) enforce(w http.ResponseWriter, r *http.Request, pol policy.Policy, actor policy.Actor, resource policy.Owned) bool {
	if pol(actor, r.Method, resource) {
		return true
	}
	if !actor.Authenticated {
		writeError(w, http.StatusUnauthorized, "authentication required")
	} else {
		writeError(w, http.StatusForbidden, "forbidden")
	}
	return false
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		return
	}
	var req signupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.Register(req.Username, req.Email)
	if err != nil {
		writeAppError(w, err)
		return
	}
	// Repeated signup with the same pair resends the code and succeeds.
	writeJSON(w, http.StatusOK, signupResponse{Username: user.Username, Email: user.Email})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.tokenLimiter, "too many token attempts") {
		return
	}
	var req tokenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, err := s.app.ExchangeToken(req.Username, req.ConfirmationCode)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// user management handlers
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(r)
	if !s.enforce(w, r, policy.AdminOrSuperuser, actor, nil) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		limit, offset := pageParams(r)
		users, total, err := s.app.ListUsers(r.URL.Query().Get("search"), limit, offset)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeList(w, users, total)
	case http.MethodPost:
		var req createUserRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		user, err := s.app.CreateUser(req.Username, req.Email, domain.UserRole(req.Role))
		if err != nil {
			writeAppError(w, err)
			return
		}
		if req.FirstName != nil || req.LastName != nil || req.Bio != nil {
			user, err = s.app.UpdateUser(user.Username, app.UserUpdate{
				FirstName: req.FirstName,
				LastName:  req.LastName,
				Bio:       req.Bio,
			}, true)
			if err != nil {
				writeAppError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUserByName(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimPrefix(r.URL.Path, "/api/v1/users/")
	if username == "" || strings.Contains(username, "/") {
		http.NotFound(w, r)
		return
	}
	actor := s.actor(r)
	if username == "me" {
		s.handleMe(w, r, actor)
		return
	}
	if !s.enforce(w, r, policy.AdminOrSuperuser, actor, nil) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := s.app.GetUser(username)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		update, ok := decodeUserUpdate(w, r)
		if !ok {
			return
		}
		user, err := s.app.UpdateUser(username, update, true)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if err := s.app.DeleteUser(username); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// handleMe serves the calling user's own profile. Role is read-only
// here for every caller, admins included.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, actor policy.Actor) {
	if !actor.Authenticated {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, actor.User)
	case http.MethodPatch:
		update, ok := decodeUserUpdate(w, r)
		if !ok {
			return
		}
		user, err := s.app.UpdateUser(actor.User.Username, update, false)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	default:
		methodNotAllowed(w)
	}
}

func decodeUserUpdate(w http.ResponseWriter, r *http.Request) (app.UserUpdate, bool) {
	var req userUpdateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return app.UserUpdate{}, false
	}
	update := app.UserUpdate{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Bio:       req.Bio,
	}
	if req.Role != nil {
		role := domain.UserRole(*req.Role)
		update.Role = &role
	}
	return update, true
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if limiter.Allow(key) {
		return true
	}
	slog.Warn("rate limited", "path", r.URL.Path, "ip", util.ClientIP(r, s.trusted))
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type signupResponse struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type tokenRequest struct {
	Username         string `json:"username"`
	ConfirmationCode string `json:"confirmation_code"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type createUserRequest struct {
	Username  string  `json:"username"`
	Email     string  `json:"email"`
	Role      string  `json:"role"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Bio       *string `json:"bio"`
}

type userUpdateRequest struct {
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Bio       *string `json:"bio"`
	Role      *string `json:"role"`
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

func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	return limit, offset
}

func writeList[T any](w http.ResponseWriter, items []T, total int) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": total,
		"items": items,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps the application error taxonomy to HTTP statuses.
// Invalid confirmation codes are a 400, an unknown user on the token
// path is a 404.
func writeAppError(w http.ResponseWriter, err error) {
	if kind, ok := app.KindOf(err); ok {
		switch kind {
		case app.KindValidation, app.KindInvalidCredential:
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case app.KindNotFound:
			writeError(w, http.StatusNotFound, err.Error())
			return
		case app.KindForbidden:
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
	}
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
