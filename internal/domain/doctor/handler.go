package doctor

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/opd/internal/platform/apperror"
	"github.com/ehr/opd/internal/platform/auth"
)

type Handler struct {
	dir Directory
}

func NewHandler(dir Directory) *Handler {
	return &Handler{dir: dir}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleRegistrar, auth.RoleNurse, auth.RolePhysician, auth.RoleCashier))
	read.GET("/doctors", h.ListActive)
}

func (h *Handler) ListActive(c echo.Context) error {
	items, err := h.dir.ListActive(c.Request().Context())
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}
