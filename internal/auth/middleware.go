package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const VolunteerIDKey contextKey = "volunteer_id"

// Middleware validates the bearer token and stores the volunteer ID in the
// echo context.
func (s *Service) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing Authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
		}

		volunteerID, err := s.ParseToken(strings.TrimSpace(parts[1]))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}

		c.Set(string(VolunteerIDKey), volunteerID)
		return next(c)
	}
}

func GetVolunteerIDFromContext(c echo.Context) (uuid.UUID, error) {
	id, ok := c.Get(string(VolunteerIDKey)).(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.New("volunteer ID not found in context")
	}
	return id, nil
}
