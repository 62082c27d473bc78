package metric

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer - сервер метрик и health check релея. store попадает в ответ
// /health, чтобы по нему было видно, на каком хранилище поднят релей.
func NewServer(store string) *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":   "ok",
			"store":    store,
			"watchers": watchers(),
		})
	})

	return e
}
