package scheduling

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/middleware"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.With().Str("component", "scheduling.http").Logger()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Any signed-in role may browse slots and its own appointments.
	api.GET("/slots", h.ListSlots)
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)

	api.POST("/appointments", h.CreateAppointment, auth.RequireRole(auth.RolePatient))

	// Providers manage the lifecycle.
	providers := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleHospital))
	providers.POST("/slots", h.CreateSlot)
	providers.PATCH("/appointments/:id/status", h.UpdateStatus)
	providers.POST("/appointments/:id/reschedule", h.Reschedule)
	providers.POST("/appointments/:id/notes", h.AddNote)
	providers.GET("/dashboard", h.Dashboard)
}

func actorOf(c echo.Context) (Actor, error) {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return Actor{UserID: p.UserID, Name: p.Name, Roles: p.Roles}, nil
}

// ownerFromQuery reads doctor_id, hospital_id or patient_id. With none given
// it falls back to the caller's own identity; admins then get every record.
func ownerFromQuery(c echo.Context, actor Actor) (Owner, error) {
	var found []Owner
	if id := c.QueryParam("doctor_id"); id != "" {
		found = append(found, DoctorOwner(id))
	}
	if id := c.QueryParam("hospital_id"); id != "" {
		found = append(found, HospitalOwner(id))
	}
	if id := c.QueryParam("patient_id"); id != "" {
		found = append(found, PatientOwner(id))
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
	default:
		return Owner{}, echo.NewHTTPError(http.StatusBadRequest, "give only one of doctor_id, hospital_id, patient_id")
	}

	switch {
	case actor.IsAdmin():
		return Owner{}, nil
	case actor.has(string(OwnerDoctor)):
		return DoctorOwner(actor.UserID), nil
	case actor.has(string(OwnerHospital)):
		return HospitalOwner(actor.UserID), nil
	case actor.has(string(OwnerPatient)):
		return PatientOwner(actor.UserID), nil
	}
	return Owner{}, echo.NewHTTPError(http.StatusBadRequest, "doctor_id, hospital_id or patient_id is required")
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// httpError maps service errors onto HTTP responses.
func (h *Handler) httpError(c echo.Context, err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return validationError(ve)
	case errors.Is(err, ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSlotTaken), errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConcurrentUpdate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	h.logger.Error().Err(err).
		Str("request_id", middleware.RequestIDFromContext(c.Request().Context())).
		Str("path", c.Path()).
		Msg("request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// validationError answers 400 with {"field": ..., "message": ...}.
func validationError(ve *ValidationError) error {
	return echo.NewHTTPError(http.StatusBadRequest, map[string]string{
		"field":   ve.Field,
		"message": ve.Message,
	})
}

// -- Slot Handlers --

func (h *Handler) ListSlots(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	owner, err := ownerFromQuery(c, actor)
	if err != nil {
		return err
	}
	if owner.Kind != OwnerDoctor && owner.Kind != OwnerHospital {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id or hospital_id is required")
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), owner)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return h.httpError(c, err)
		}
		h.logger.Warn().Err(err).Str("owner", owner.String()).Msg("slot catalog unavailable")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "slot catalog unavailable")
	}
	return c.JSON(http.StatusOK, slots)
}

func (h *Handler) CreateSlot(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var req SlotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DoctorID == "" && req.HospitalID == "" {
		if actor.has(string(OwnerHospital)) {
			req.HospitalID = actor.UserID
		} else {
			req.DoctorID = actor.UserID
		}
	}
	slot, err := h.svc.CreateSlot(c.Request().Context(), actor, req)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, slot)
}

// -- Appointment Handlers --

func (h *Handler) CreateAppointment(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// Patients always book for themselves.
	if !actor.IsAdmin() || req.PatientID == "" {
		req.PatientID = actor.UserID
		if req.PatientName == "" {
			req.PatientName = actor.Name
		}
	}
	res, err := h.svc.Book(c.Request().Context(), req)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	owner, err := ownerFromQuery(c, actor)
	if err != nil {
		return err
	}
	items, err := h.svc.List(c.Request().Context(), actor, owner)
	if err != nil {
		return h.httpError(c, err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, items)
}

type statusRequest struct {
	Action string `json:"action"`
	TransitionInput
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	action, err := ParseAction(req.Action)
	if err != nil {
		return validationError(&ValidationError{Field: "action", Message: err.Error()})
	}
	a, err := h.svc.Transition(c.Request().Context(), actor, id, action, req.TransitionInput)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Reschedule(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req RescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Reschedule(c.Request().Context(), actor, id, req)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

type noteRequest struct {
	Text string `json:"text"`
}

func (h *Handler) AddNote(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req noteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.AddNote(c.Request().Context(), actor, id, req.Text)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Dashboard(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	owner, err := ownerFromQuery(c, actor)
	if err != nil {
		return err
	}
	counts, err := h.svc.Dashboard(c.Request().Context(), actor, owner)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, counts)
}
