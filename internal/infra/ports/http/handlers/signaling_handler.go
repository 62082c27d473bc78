package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/qrave1/RoomCall/internal/application/constant"
	"github.com/qrave1/RoomCall/internal/domain"
	"github.com/qrave1/RoomCall/internal/infra/ports/http/dto"
	"github.com/qrave1/RoomCall/internal/usecase"
)

// maxPayloadSize - SDP с собранными кандидатами укладывается с большим запасом
const maxPayloadSize = 64 << 10

type SignalingHandler struct {
	relayUsecase usecase.RelayUsecase
}

func NewSignalingHandler(relayUsecase usecase.RelayUsecase) *SignalingHandler {
	return &SignalingHandler{relayUsecase: relayUsecase}
}

func (h *SignalingHandler) ListRooms(c echo.Context) error {
	rooms, err := h.relayUsecase.Rooms(c.Request().Context())
	if err != nil {
		slog.Error("list rooms", slog.Any(constant.Error, err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not list rooms"})
	}

	if rooms == nil {
		rooms = []string{}
	}

	return c.JSON(http.StatusOK, dto.RoomsResponse{Rooms: rooms})
}

func (h *SignalingHandler) GetDocument(c echo.Context) error {
	room, category, key := documentParams(c)

	p, ok, err := h.relayUsecase.GetDocument(c.Request().Context(), room, category, key)
	if err != nil {
		return documentError(c, err)
	}

	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "document not found"})
	}

	return c.JSON(http.StatusOK, p)
}

func (h *SignalingHandler) PutDocument(c echo.Context) error {
	room, category, key := documentParams(c)

	// echo.Bind дописал бы параметры пути в map, поэтому тело читается напрямую
	dec := json.NewDecoder(http.MaxBytesReader(c.Response(), c.Request().Body, maxPayloadSize))
	dec.UseNumber()

	var p domain.Payload
	if err := dec.Decode(&p); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json body"})
	}

	if err := h.relayUsecase.PutDocument(c.Request().Context(), room, category, key, p); err != nil {
		return documentError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

func documentParams(c echo.Context) (room, category, key string) {
	return c.Param("room"), c.Param("category"), c.Param("key")
}

func documentError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidKey):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown category or key"})
	case errors.Is(err, domain.ErrMalformedPayload):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed payload"})
	default:
		slog.Error("signaling document",
			slog.String(constant.RoomID, c.Param("room")),
			slog.String(constant.Category, c.Param("category")),
			slog.String(constant.Key, c.Param("key")),
			slog.Any(constant.Error, err),
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "signaling store unavailable"})
	}
}
