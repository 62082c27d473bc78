package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/qrave1/RoomCall/internal/application/config"
	"github.com/qrave1/RoomCall/internal/application/constant"
	"github.com/qrave1/RoomCall/internal/application/metric"
	"github.com/qrave1/RoomCall/internal/infra/adapters/memory"
	"github.com/qrave1/RoomCall/internal/usecase"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// WatchHandler стримит документ в WebSocket: сначала текущее значение,
// затем каждую запись
type WatchHandler struct {
	upgrader *websocket.Upgrader

	relayUsecase usecase.RelayUsecase

	wsConnRepo memory.WebsocketConnectionRepository
}

func NewWatchHandler(cfg *config.Config, relayUsecase usecase.RelayUsecase, wsConnRepo memory.WebsocketConnectionRepository) *WatchHandler {
	return &WatchHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				// Не-браузерные клиенты Origin не присылают
				origin := r.Header.Get("Origin")
				return origin == "" || origin == cfg.Domain
			},
		},
		relayUsecase: relayUsecase,
		wsConnRepo:   wsConnRepo,
	}
}

func (h *WatchHandler) Watch(c echo.Context) error {
	room, category, key := documentParams(c)

	// Соединение после hijack не отменяет контекст запроса, отмену делает readLoop
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request().Context()))
	defer cancel()

	updates, err := h.relayUsecase.WatchDocument(ctx, room, category, key)
	if err != nil {
		return documentError(c, err)
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"WebSocket upgrade error",
			slog.Any(constant.Error, err),
		)
		return nil
	}
	defer ws.Close()

	watcherID := uuid.New()

	h.wsConnRepo.Add(watcherID, ws)
	defer h.wsConnRepo.Remove(watcherID)

	metric.IncrementWSActiveWatchers()
	defer metric.DecrementWSActiveWatchers()

	logger := slog.Default().With(
		slog.String(constant.RoomID, room),
		slog.String(constant.Category, category),
		slog.String(constant.Key, key),
	)

	logger.Debug("watcher connected")

	go h.readLoop(ws, cancel, logger)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case p, ok := <-updates:
			if !ok {
				return nil
			}

			if err := h.wsConnRepo.Write(watcherID, p); err != nil {
				logger.Warn("write document to watcher", slog.Any(constant.Error, err))
				return nil
			}

		case <-ticker.C:
			if err := h.wsConnRepo.Ping(watcherID, time.Now().Add(writeWait)); err != nil {
				logger.Warn("ping failed", slog.Any(constant.Error, err))
				return nil
			}
		}
	}
}

// readLoop нужен ради pong и close frame; входящие сообщения игнорируются
func (h *WatchHandler) readLoop(ws *websocket.Conn, cancel context.CancelFunc, logger *slog.Logger) {
	defer cancel()

	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}

	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			handleWebsocketError(err, logger)
			return
		}
	}
}

func handleWebsocketError(err error, logger *slog.Logger) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			logger.Debug("watcher disconnected")
		default:
			logger.Warn("websocket close error", slog.Int("code", closeErr.Code))
		}
		return
	}

	logger.Debug("websocket read", slog.Any(constant.Error, err))
}
