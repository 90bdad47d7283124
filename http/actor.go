package http

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"balltickets/entity"
)

// The fronting proxy authenticates users and passes who they are in these
// headers.
const (
	UserIDHeader     = "X-User-ID"
	UserAdminHeader  = "X-User-Admin"
	ProxyTokenHeader = "X-Proxy-Token"
)

const actorKey = "actor"

func (s Server) requireActor(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		if s.proxyToken != "" {
			got := req.Header.Get(ProxyTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.proxyToken)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid proxy token")
			}
		}

		userID, err := uuid.Parse(req.Header.Get(UserIDHeader))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, UserIDHeader+" header is required")
		}

		isAdmin := false
		if v := req.Header.Get(UserAdminHeader); v != "" {
			isAdmin, err = strconv.ParseBool(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+UserAdminHeader+" header")
			}
		}

		c.Set(actorKey, entity.Actor{UserID: userID, Admin: isAdmin})
		return next(c)
	}
}

func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !actorFrom(c).Admin {
			return echo.NewHTTPError(http.StatusForbidden, "admin only")
		}
		return next(c)
	}
}

func actorFrom(c echo.Context) entity.Actor {
	actor, _ := c.Get(actorKey).(entity.Actor)
	return actor
}
