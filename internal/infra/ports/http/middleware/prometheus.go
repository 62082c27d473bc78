package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/qrave1/RoomCall/internal/application/metric"
)

// PrometheusMiddleware собирает метрики HTTP запросов релея
func PrometheusMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			// c.Path() - шаблон маршрута, а не URI
			endpoint := c.Path()

			statusCode := c.Response().Status
			if statusCode == 0 {
				statusCode = http.StatusOK
			}

			if err != nil && statusCode < http.StatusBadRequest {
				statusCode = http.StatusInternalServerError
			}

			metric.RecordHTTPMetrics(c.Request().Method, endpoint, statusCode, time.Since(start))

			return err
		}
	}
}
