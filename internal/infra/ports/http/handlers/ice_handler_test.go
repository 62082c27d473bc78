package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"

	"github.com/qrave1/RoomCall/internal/application/config"
	"github.com/qrave1/RoomCall/internal/infra/ports/http/dto"
)

func TestTurnCredentials(t *testing.T) {
	expires := time.Unix(1700000000, 0)

	username, password := turnCredentials("secret", expires)
	if username != "1700000000" {
		t.Fatalf("username = %s", username)
	}

	mac := hmac.New(sha1.New, []byte("secret"))
	mac.Write([]byte(username))
	if want := base64.StdEncoding.EncodeToString(mac.Sum(nil)); password != want {
		t.Fatalf("password = %s, want %s", password, want)
	}
}

func TestIceServers(t *testing.T) {
	cfg := &config.Config{
		STUNServers:  []string{"stun:stun.l.google.com:19302"},
		CoturnServer: config.CoturnConfig{Host: "turn.example.com:3478", Secret: "s"},
		TurnUDPServer: webrtc.ICEServer{URLs: []string{"turn:turn.example.com:3478?transport=udp"}},
		TurnTCPServer: webrtc.ICEServer{URLs: []string{"turn:turn.example.com:3478?transport=tcp"}},
	}

	e := echo.New()
	e.GET("/ice", NewIceHandler(cfg).IceServers)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ice", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp dto.ICEServersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	if len(resp.ICEServers) != 2 {
		t.Fatalf("servers = %+v", resp.ICEServers)
	}

	turn := resp.ICEServers[1]
	if len(turn.URLs) != 2 || turn.Username == "" || turn.Credential == nil {
		t.Fatalf("turn server = %+v", turn)
	}

	expires, err := strconv.ParseInt(turn.Username, 10, 64)
	if err != nil || time.Until(time.Unix(expires, 0)) <= 0 {
		t.Fatalf("turn username %q is not a future expiry", turn.Username)
	}
}
