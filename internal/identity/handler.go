package identity

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/homa-clinic/booking/internal/domain"
	"github.com/homa-clinic/booking/internal/pkg/httputil"
	"github.com/homa-clinic/booking/internal/pkg/validation"
)

// Handler handles HTTP requests for the identity module.
type Handler struct {
	service   *Service
	validator *validation.Validator
}

// NewHandler creates a new identity handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validation.New(),
	}
}

// RegisterRoutes registers public identity routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
}

// RegisterProtectedRoutes registers routes that require authentication.
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/doctors", h.ListDoctors)
	r.Get("/me", h.Me)
}

// RegisterAdminRoutes registers routes restricted to admins.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/admin/users", h.CreateUser)
}

// RegisterResponse is returned by a successful sign-up.
type RegisterResponse struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// Register handles POST /register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, RegisterResponse{
		UserID:  user.ID,
		Message: "User created successfully",
	})
}

// CreateUser handles POST /admin/users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	user, err := h.service.CreateUser(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, user)
}

// LoginResponse represents login response.
type LoginResponse struct {
	Token     string              `json:"token"`
	ExpiresAt time.Time           `json:"expires_at"`
	User      *domain.UserSummary `json:"user"`
}

// Login handles POST /login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	token, user, err := h.service.Authenticate(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, LoginResponse{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
		User:      user,
	})
}

// ListDoctors handles GET /doctors.
func (h *Handler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.service.ListDoctors(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, doctors)
}

// Me handles GET /me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())
	if userID == "" {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.service.GetUserByID(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, user)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrUserNotFound, Status: http.StatusNotFound},
		{Error: ErrEmailExists, Status: http.StatusConflict},
		{Error: ErrInvalidCredentials, Status: http.StatusUnauthorized},
		{Error: ErrRoleNotAllowed, Status: http.StatusForbidden},
	})
}
