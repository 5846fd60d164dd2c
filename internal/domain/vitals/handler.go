package vitals

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/opd/internal/platform/apperror"
	"github.com/ehr/opd/internal/platform/auth"
)

type Handler struct {
	coord *Coordinator
}

func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	clinical := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RolePhysician))
	clinical.POST("/vitals/complete", h.Complete)
}

// Complete answers 200 whenever the vitals were saved. Clients check for the
// optional appointment and bill fields.
func (h *Handler) Complete(c echo.Context) error {
	var req CompleteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.StaffID = auth.UserIDFromContext(c.Request().Context())

	res, err := h.coord.CompleteVitals(c.Request().Context(), req)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}
