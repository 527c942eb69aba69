package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Code-co-tech/cyber-doc-server/internal/auth"
	"github.com/Code-co-tech/cyber-doc-server/internal/config"
	"github.com/Code-co-tech/cyber-doc-server/internal/crypto"
	"github.com/Code-co-tech/cyber-doc-server/internal/model"
	"github.com/Code-co-tech/cyber-doc-server/internal/repository"
)

// ResetDispatcher queues the password-reset email for out-of-band delivery.
type ResetDispatcher interface {
	DispatchResetEmail(ctx context.Context, email, link string) error
}

type Server struct {
	cfg    config.Config
	store  *repository.Store
	resets *crypto.ResetTokenSource
	mail   ResetDispatcher
	logger *slog.Logger
}

func NewServer(cfg config.Config, store *repository.Store, mail ResetDispatcher, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		store:  store,
		resets: crypto.NewResetTokenSource(cfg.JWTSecret, cfg.ResetTokenTTL),
		mail:   mail,
		logger: logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/signup", s.handleSignUp)
	r.Post("/auth/signin", s.handleSignIn)
	r.Post("/auth/refresh", s.handleRefresh)
	r.Get("/auth/groups", s.handleListGroups)

	r.With(s.authMiddleware).Get("/auth/profile", s.handleGetProfile)
	r.With(s.authMiddleware).Put("/auth/profile", s.handleUpdateProfile)
	r.With(s.authMiddleware).Delete("/auth/profile", s.handleDeleteProfile)
	r.With(s.authMiddleware).Get("/auth/profile/{userID}", s.handleGetProfileByID)
	r.With(s.authMiddleware).Post("/auth/password/change", s.handleChangePassword)

	r.Post("/auth/password/reset-request", s.handleResetRequest)
	r.Patch("/auth/password/reset-complete", s.handleResetComplete)

	return r
}

type signupRequest struct {
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	MiddleName string `json:"middle_name"`
	Phone      string `json:"phone"`
	Country    string `json:"country"`
	University string `json:"university"`
	Speciality string `json:"speciality"`
}

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type profileResponse struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	Username   *string `json:"username,omitempty"`
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	MiddleName *string `json:"middle_name,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Country    *string `json:"country,omitempty"`
	University *string `json:"university,omitempty"`
	Speciality *string `json:"speciality,omitempty"`
	IsActive   bool    `json:"is_active"`
	IsStaff    bool    `json:"is_staff"`
	DateJoined string  `json:"date_joined"`
}

func mapProfileResponse(user model.User) profileResponse {
	return profileResponse{
		ID:         user.ID,
		Email:      user.Email,
		Username:   user.Username,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		MiddleName: user.MiddleName,
		Phone:      user.Phone,
		Country:    user.Country,
		University: user.University,
		Speciality: user.Speciality,
		IsActive:   user.IsActive,
		IsStaff:    user.IsStaff,
		DateJoined: user.DateJoined.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	req.Phone = strings.TrimSpace(req.Phone)

	fields := map[string]string{}
	if !validEmail(req.Email) {
		fields["email"] = "enter a valid email address"
	}
	if msg := passwordStrength(req.Password); msg != "" {
		fields["password"] = msg
	}
	if req.Username != "" && !validUsername(req.Username) {
		fields["username"] = "up to 30 letters, digits and @/./+/-/_ characters"
	}
	if req.Phone != "" && !validPhone(req.Phone) {
		fields["phone"] = phoneFormatMessage
	}
	if len(fields) > 0 {
		writeFieldErrors(w, http.StatusBadRequest, "validation_error", fields)
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "password_hash_failed")
		return
	}

	now := time.Now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Username:     optional(req.Username),
		PasswordHash: hash,
		FirstName:    optional(strings.TrimSpace(req.FirstName)),
		LastName:     optional(strings.TrimSpace(req.LastName)),
		MiddleName:   optional(strings.TrimSpace(req.MiddleName)),
		Phone:        optional(req.Phone),
		Country:      optional(strings.TrimSpace(req.Country)),
		University:   optional(strings.TrimSpace(req.University)),
		Speciality:   optional(strings.TrimSpace(req.Speciality)),
		IsActive:     true,
		DateJoined:   now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateUser(r.Context(), user); err != nil {
		var dup *repository.DuplicateError
		if errors.As(err, &dup) {
			s.writeDuplicate(w, dup)
			return
		}
		s.logger.Error("signup create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	pair, err := auth.NewTokenPair(s.cfg.JWTSecret, s.cfg.JWTIssuer, user.ID, s.cfg.AccessTokenTTL, s.cfg.RefreshTokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Access: pair.Access, Refresh: pair.Refresh})
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	// Unknown email, inactive account and wrong password all produce the
	// same response so callers cannot probe which accounts exist.
	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "invalid_credentials")
			return
		}
		s.logger.Error("signin lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusNotFound, "invalid_credentials")
		return
	}
	if err := crypto.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusNotFound, "invalid_credentials")
		return
	}

	pair, err := auth.NewTokenPair(s.cfg.JWTSecret, s.cfg.JWTIssuer, user.ID, s.cfg.AccessTokenTTL, s.cfg.RefreshTokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Access: pair.Access, Refresh: pair.Refresh})
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Refresh == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}

	userID, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, auth.TokenTypeRefresh, req.Refresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), userID)
	if err != nil || !user.IsActive {
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
		return
	}

	pair, err := auth.NewTokenPair(s.cfg.JWTSecret, s.cfg.JWTIssuer, user.ID, s.cfg.AccessTokenTTL, s.cfg.RefreshTokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Access: pair.Access, Refresh: pair.Refresh})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	writeJSON(w, http.StatusOK, mapProfileResponse(user))
}

func (s *Server) handleGetProfileByID(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "userID")
	if uuid.Validate(targetID) != nil {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}

	// Any authenticated caller may read any profile by id.
	user, err := s.store.GetUserByID(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	writeJSON(w, http.StatusOK, mapProfileResponse(user))
}

type updateProfileRequest struct {
	Username   *string `json:"username,omitempty"`
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	MiddleName *string `json:"middle_name,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Country    *string `json:"country,omitempty"`
	University *string `json:"university,omitempty"`
	Speciality *string `json:"speciality,omitempty"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	fields := map[string]string{}
	update := repository.UserUpdate{}
	setTrimmed := func(dst **string, value *string) {
		if value != nil {
			trimmed := strings.TrimSpace(*value)
			if trimmed != "" {
				*dst = &trimmed
			}
		}
	}
	setTrimmed(&update.Username, req.Username)
	setTrimmed(&update.FirstName, req.FirstName)
	setTrimmed(&update.LastName, req.LastName)
	setTrimmed(&update.MiddleName, req.MiddleName)
	setTrimmed(&update.Phone, req.Phone)
	setTrimmed(&update.Country, req.Country)
	setTrimmed(&update.University, req.University)
	setTrimmed(&update.Speciality, req.Speciality)

	if update.Username != nil && !validUsername(*update.Username) {
		fields["username"] = "up to 30 letters, digits and @/./+/-/_ characters"
	}
	if update.Phone != nil && !validPhone(*update.Phone) {
		fields["phone"] = phoneFormatMessage
	}
	if len(fields) > 0 {
		writeFieldErrors(w, http.StatusBadRequest, "validation_error", fields)
		return
	}

	user, err := s.store.UpdateUser(r.Context(), userID, update)
	if err != nil {
		var dup *repository.DuplicateError
		if errors.As(err, &dup) {
			s.writeDuplicate(w, dup)
			return
		}
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		s.logger.Error("profile update failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, mapProfileResponse(user))
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	deleted, err := s.store.DeleteUser(r.Context(), userID)
	if err != nil {
		s.logger.Error("profile delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	fields := map[string]string{}
	if msg := passwordStrength(req.NewPassword); msg != "" {
		fields["new_password"] = msg
	}
	if req.NewPassword != req.ConfirmPassword {
		fields["confirm_password"] = "passwords do not match"
	}
	if len(fields) > 0 {
		writeFieldErrors(w, http.StatusBadRequest, "validation_error", fields)
		return
	}

	hash, err := crypto.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "password_hash_failed")
		return
	}
	if err := s.store.UpdatePassword(r.Context(), userID, hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		s.logger.Error("password change failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password_changed"})
}

type resetRequestBody struct {
	Email string `json:"email"`
}

func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "missing_email")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Reveals whether the address exists; the documented API
			// contract requires the 404 here.
			writeError(w, http.StatusNotFound, "email_not_found")
			return
		}
		s.logger.Error("reset request lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	token := s.resets.Generate(user)
	link := strings.TrimRight(s.cfg.ResetURLBase, "/") + "/" + crypto.EncodeUID(user.ID) + "/" + token

	if err := s.mail.DispatchResetEmail(r.Context(), user.Email, link); err != nil {
		s.logger.Error("reset email enqueue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "mail_queue_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset_email_sent"})
}

type resetCompleteRequest struct {
	UID             string `json:"uid"`
	Token           string `json:"token"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (s *Server) handleResetComplete(w http.ResponseWriter, r *http.Request) {
	var req resetCompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	fields := map[string]string{}
	if msg := passwordStrength(req.NewPassword); msg != "" {
		fields["new_password"] = msg
	}
	if req.NewPassword != req.ConfirmPassword {
		fields["confirm_password"] = "passwords do not match"
	}
	if len(fields) > 0 {
		writeFieldErrors(w, http.StatusBadRequest, "validation_error", fields)
		return
	}

	userID, err := crypto.DecodeUID(req.UID)
	if err != nil || uuid.Validate(userID) != nil {
		writeError(w, http.StatusBadRequest, "invalid_or_expired_token")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "invalid_or_expired_token")
			return
		}
		s.logger.Error("reset complete lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	if !s.resets.Verify(user, req.Token) {
		writeError(w, http.StatusBadRequest, "invalid_or_expired_token")
		return
	}

	hash, err := crypto.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "password_hash_failed")
		return
	}
	if err := s.store.UpdatePassword(r.Context(), user.ID, hash); err != nil {
		s.logger.Error("reset complete update failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password_reset"})
}

type groupResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		s.logger.Error("group list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]groupResponse, 0, len(groups))
	for _, group := range groups {
		resp = append(resp, groupResponse{ID: group.ID, Name: group.Name})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		userID, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, auth.TokenTypeAccess, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type identityKey struct{}

func userIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(identityKey{}).(string)
	return userID
}

func (s *Server) writeDuplicate(w http.ResponseWriter, dup *repository.DuplicateError) {
	if dup.Field == "" {
		writeError(w, http.StatusBadRequest, "duplicate")
		return
	}
	writeFieldErrors(w, http.StatusBadRequest, "duplicate", map[string]string{dup.Field: "already taken"})
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeFieldErrors(w http.ResponseWriter, status int, code string, fields map[string]string) {
	writeJSON(w, status, map[string]interface{}{"error": code, "fields": fields})
}
