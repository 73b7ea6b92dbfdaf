package directory

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/users", h.ListStaff)
	api.GET("/users/online", h.ListOnline)
	api.GET("/users/:id", h.GetUser)
}

func (h *Handler) GetUser(c echo.Context) error {
	u, err := h.svc.GetUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListStaff(c echo.Context) error {
	claims := auth.ClaimsFromContext(c)
	if claims == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	pg := pagination.FromContext(c)
	users, total, err := h.svc.ListStaff(c.Request().Context(), claims.OrganizationID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListOnline(c echo.Context) error {
	claims := auth.ClaimsFromContext(c)
	if claims == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	users, err := h.svc.ListOnlineUsers(c.Request().Context(), claims.OrganizationID, auth.UserID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, users)
}
