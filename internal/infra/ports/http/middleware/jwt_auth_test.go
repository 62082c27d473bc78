package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/qrave1/RoomCall/internal/infra/appctx"
	"github.com/qrave1/RoomCall/internal/usecase"
)

func TestJWTAuthMiddleware(t *testing.T) {
	tokens := usecase.NewTokenUsecase([]byte("secret"))
	peerID := uuid.New()

	token, err := tokens.Issue(peerID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	e.Use(JWTAuthMiddleware(tokens))
	e.GET("/whoami", func(c echo.Context) error {
		id, ok := appctx.PeerID(c.Request().Context())
		if !ok {
			return c.NoContent(http.StatusInternalServerError)
		}
		return c.String(http.StatusOK, id.String())
	})

	tests := []struct {
		name     string
		prepare  func(r *http.Request)
		wantCode int
	}{
		{"bearer", func(r *http.Request) { r.Header.Set(echo.HeaderAuthorization, "Bearer "+token) }, http.StatusOK},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "jwt", Value: token}) }, http.StatusOK},
		{"missing", func(*http.Request) {}, http.StatusUnauthorized},
		{"invalid", func(r *http.Request) { r.Header.Set(echo.HeaderAuthorization, "Bearer nope") }, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			tt.prepare(req)

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}

			if tt.wantCode == http.StatusOK && rec.Body.String() != peerID.String() {
				t.Fatalf("peer id = %s, want %s", rec.Body, peerID)
			}
		})
	}
}
