package queue

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/opd/internal/platform/apperror"
	"github.com/ehr/opd/internal/platform/auth"
	"github.com/ehr/opd/internal/platform/calendar"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints: registrar, nurse, physician
	read := api.Group("", auth.RequireRole(auth.RoleRegistrar, auth.RoleNurse, auth.RolePhysician))
	read.GET("/queue", h.ListByDate)
	read.GET("/queue/waiting", h.ListWaiting)
	read.GET("/queue/stats", h.Stats)
	read.GET("/queue/:id", h.Get)

	// Front desk: registrar, nurse
	desk := api.Group("", auth.RequireRole(auth.RoleRegistrar, auth.RoleNurse))
	desk.POST("/queue", h.Enqueue)
	desk.POST("/queue/call-next", h.CallNext)
	desk.POST("/queue/:id/cancel", h.Cancel)

	clinical := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RolePhysician))
	clinical.POST("/queue/:id/transition", h.Transition)
}

func (h *Handler) Enqueue(c echo.Context) error {
	var req EnqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.StaffID = auth.UserIDFromContext(c.Request().Context())

	entry, created, err := h.svc.Enqueue(c.Request().Context(), req)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	if created {
		return c.JSON(http.StatusCreated, entry)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	entry, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) ListByDate(c echo.Context) error {
	date, err := dateParam(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListByDate(c.Request().Context(), date)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListWaiting(c echo.Context) error {
	date, err := dateParam(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListWaiting(c.Request().Context(), date)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Stats(c echo.Context) error {
	date, err := dateParam(c)
	if err != nil {
		return err
	}
	st, err := h.svc.Stats(c.Request().Context(), date)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, st)
}

type transitionRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) Transition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entry, err := h.svc.Transition(c.Request().Context(), id, req.Status)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	entry, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) CallNext(c echo.Context) error {
	date, err := dateParam(c)
	if err != nil {
		return err
	}
	entry, err := h.svc.CallNext(c.Request().Context(), date)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, entry)
}

// dateParam reads ?date=YYYY-MM-DD. Absent means today.
func dateParam(c echo.Context) (calendar.Date, error) {
	raw := c.QueryParam("date")
	if raw == "" {
		return calendar.Date{}, nil
	}
	d, err := calendar.Parse(raw)
	if err != nil {
		return calendar.Date{}, apperror.ToHTTP(apperror.Invalid("date", "%v", err))
	}
	return d, nil
}
