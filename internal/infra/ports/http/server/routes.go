package server

import (
	"github.com/labstack/echo/v4"

	"github.com/qrave1/RoomCall/internal/application/config"
	"github.com/qrave1/RoomCall/internal/infra/ports/http/handlers"
	"github.com/qrave1/RoomCall/internal/infra/ports/http/middleware"
	"github.com/qrave1/RoomCall/internal/usecase"
)

func New(
	cfg *config.Config,
	tokenUsecase usecase.TokenUsecase,
	signalingHandler *handlers.SignalingHandler,
	watchHandler *handlers.WatchHandler,
	iceHandler *handlers.IceHandler,
) *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.SlogLogger())
	e.Use(middleware.PrometheusMiddleware())

	api := e.Group("/api")
	{
		v1 := api.Group("/v1")

		// Без JWT_SECRET релей открыт
		if cfg.JWTSecret != "" {
			v1.Use(middleware.JWTAuthMiddleware(tokenUsecase))
		}

		{
			v1.GET("/ice", iceHandler.IceServers)

			v1.GET("/rooms", signalingHandler.ListRooms)

			doc := v1.Group("/rooms/:room/:category/:key")
			doc.GET("", signalingHandler.GetDocument)
			doc.PUT("", signalingHandler.PutDocument)
			doc.GET("/watch", watchHandler.Watch)
		}
	}

	return e
}
