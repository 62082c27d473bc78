package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/qrave1/RoomCall/internal/infra/adapters/memory"
	"github.com/qrave1/RoomCall/internal/usecase"
)

func newTestEcho() *echo.Echo {
	h := NewSignalingHandler(usecase.NewRelayUsecase(memory.NewSignalingStore()))

	e := echo.New()
	e.GET("/rooms", h.ListRooms)
	e.GET("/rooms/:room/:category/:key", h.GetDocument)
	e.PUT("/rooms/:room/:category/:key", h.PutDocument)

	return e
}

func serve(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	return rec
}

func TestSignalingHandlerDocuments(t *testing.T) {
	e := newTestEcho()

	if rec := serve(e, http.MethodGet, "/rooms/r/sdp/OFFER", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("GET missing = %d", rec.Code)
	}

	if rec := serve(e, http.MethodPut, "/rooms/r/sdp/OFFER", `{"type":"OFFER","sdpBody":"v=0"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("PUT = %d: %s", rec.Code, rec.Body)
	}

	rec := serve(e, http.MethodGet, "/rooms/r/sdp/OFFER", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET = %d", rec.Code)
	}

	var p map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p["sdpBody"] != "v=0" {
		t.Fatalf("GET body = %v", p)
	}

	// Параметры пути не должны попадать в документ
	if _, ok := p["room"]; ok {
		t.Fatalf("path params leaked into payload: %v", p)
	}

	rec = serve(e, http.MethodGet, "/rooms", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"rooms":["r"]`) {
		t.Fatalf("GET /rooms = %d %s", rec.Code, rec.Body)
	}
}

func TestSignalingHandlerBadRequests(t *testing.T) {
	e := newTestEcho()

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"unknown category", http.MethodPut, "/rooms/r/users/OFFER", `{}`},
		{"unknown key", http.MethodGet, "/rooms/r/sdp/PRANSWER", ""},
		{"invalid json", http.MethodPut, "/rooms/r/sdp/OFFER", `{"sdpBody":`},
		{"null body", http.MethodPut, "/rooms/r/sdp/OFFER", `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := serve(e, tt.method, tt.target, tt.body); rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestSignalingHandlerEmptyRoomList(t *testing.T) {
	rec := serve(newTestEcho(), http.MethodGet, "/rooms", "")

	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"rooms":[]}` {
		t.Fatalf("GET /rooms = %d %s", rec.Code, rec.Body)
	}
}
