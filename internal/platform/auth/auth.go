// Package auth validates bearer tokens on the REST and realtime surfaces.
// Session management lives in the external identity provider; this package
// only verifies signed tokens and exposes the caller's identity to handlers.
package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	userIDKey = "user_id"
	userKey   = "user_claims"
)

// Claims carries the identity fields the communication core needs.
type Claims struct {
	jwt.RegisteredClaims
	Name           string `json:"name"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id"`
}

// Middleware validates an HS256 bearer token from the Authorization header or,
// for websocket upgrades, the `token` query parameter.
func Middleware(secret string) echo.MiddlewareFunc {
	key := []byte(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := tokenFromRequest(c)
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return key, nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token missing subject")
			}

			c.Set(userIDKey, claims.Subject)
			c.Set(userKey, claims)
			return next(c)
		}
	}
}

// RequireRole restricts a route to callers holding one of the given roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := ClaimsFromContext(c)
			if claims == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
			}
			if _, ok := allowed[claims.Role]; !ok {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
			}
			return next(c)
		}
	}
}

// UserID returns the authenticated caller's id, or "".
func UserID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

// ClaimsFromContext returns the validated claims, or nil.
func ClaimsFromContext(c echo.Context) *Claims {
	claims, _ := c.Get(userKey).(*Claims)
	return claims
}

// Sign issues a token for the given claims; used by tests and the development
// login stub.
func Sign(secret string, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func tokenFromRequest(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.QueryParam("token")
}
