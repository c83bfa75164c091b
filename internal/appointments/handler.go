package appointments

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/homa-clinic/booking/internal/domain"
	"github.com/homa-clinic/booking/internal/pkg/httputil"
)

// Handler handles HTTP requests for the appointments module.
type Handler struct {
	service *Service
}

// NewHandler creates a new appointments handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers appointment routes. They require authentication.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}/status", h.UpdateStatus)
	})
}

// Create handles POST /appointments.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetClaims(r.Context())
	if caller == nil {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	appointment, err := h.service.Create(r.Context(), caller, req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, appointment)
}

// List handles GET /appointments.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetClaims(r.Context())
	if caller == nil {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	status := domain.AppointmentStatus(r.URL.Query().Get("status"))

	appointments, err := h.service.List(r.Context(), caller, status)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, appointments)
}

// Get handles GET /appointments/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetClaims(r.Context())
	if caller == nil {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, ok := parseID(w, r)
	if !ok {
		return
	}

	appointment, err := h.service.Get(r.Context(), caller, id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, appointment)
}

// UpdateStatus handles PATCH /appointments/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	caller := httputil.GetClaims(r.Context())
	if caller == nil {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req UpdateStatusInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	appointment, err := h.service.UpdateStatus(r.Context(), caller, id, req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, appointment)
}

func parseID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid appointment id")
		return "", false
	}
	return id.String(), true
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrAppointmentNotFound, Status: http.StatusNotFound},
		{Error: ErrDoctorNotFound, Status: http.StatusNotFound},
		{Error: ErrPatientNotFound, Status: http.StatusNotFound},
		{Error: ErrForbidden, Status: http.StatusForbidden, Message: "insufficient permissions"},
		{Error: ErrInvalidSchedule, Status: http.StatusBadRequest},
		{Error: ErrInvalidTransition, Status: http.StatusConflict},
	})
}
