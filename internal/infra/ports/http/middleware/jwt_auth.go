package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/qrave1/RoomCall/internal/infra/appctx"
	"github.com/qrave1/RoomCall/internal/usecase"
)

// JWTAuthMiddleware пускает запросы с токеном в заголовке Authorization: Bearer
// или в cookie jwt и кладёт id участника в контекст запроса
func JWTAuthMiddleware(tokens usecase.TokenUsecase) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c.Request())
			if raw == "" {
				cookie, err := c.Cookie("jwt")
				if err != nil {
					return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing or malformed jwt"})
				}
				raw = cookie.Value
			}

			peerID, err := tokens.Parse(raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired jwt"})
			}

			c.SetRequest(
				c.Request().WithContext(
					appctx.WithPeerID(c.Request().Context(), peerID),
				),
			)

			return next(c)
		}
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get(echo.HeaderAuthorization)

	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}

	return strings.TrimSpace(token)
}
