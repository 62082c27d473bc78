package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"

	"github.com/qrave1/RoomCall/internal/application/config"
	"github.com/qrave1/RoomCall/internal/infra/ports/http/dto"
)

const turnCredentialTTL = time.Hour

type IceHandler struct {
	cfg *config.Config
}

func NewIceHandler(cfg *config.Config) *IceHandler {
	return &IceHandler{cfg: cfg}
}

// IceServers отдаёт STUN сервера и, если настроен coturn, TURN с временными
// кредами (TURN REST API, static-auth-secret)
func (h *IceHandler) IceServers(c echo.Context) error {
	servers := make([]webrtc.ICEServer, 0, 2)

	if len(h.cfg.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: h.cfg.STUNServers})
	}

	if h.cfg.CoturnServer.Enabled() && h.cfg.CoturnServer.Secret != "" {
		username, password := turnCredentials(h.cfg.CoturnServer.Secret, time.Now().Add(turnCredentialTTL))

		servers = append(servers, webrtc.ICEServer{
			URLs: []string{
				h.cfg.TurnUDPServer.URLs[0],
				h.cfg.TurnTCPServer.URLs[0],
			},
			Username:   username,
			Credential: password,
		})
	}

	return c.JSON(http.StatusOK, dto.ICEServersResponse{ICEServers: servers})
}

// turnCredentials: username - время истечения, пароль - base64(HMAC-SHA1(secret, username))
func turnCredentials(secret string, expiresAt time.Time) (username, password string) {
	username = strconv.FormatInt(expiresAt.Unix(), 10)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	password = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return username, password
}
