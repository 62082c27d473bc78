package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/sethvargo/go-retry"

	"github.com/qrave1/RoomCall/internal/application/constant"
	"github.com/qrave1/RoomCall/internal/domain"
)

const (
	requestTimeout   = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	maxFrameSize     = 64 << 10
)

// Client - канал сигнализации поверх HTTP API релея. Чтения и записи идут
// обычными запросами, подписки - через WebSocket.
type Client struct {
	baseURL *url.URL
	token   string

	http   *http.Client
	dialer *websocket.Dialer
}

var _ domain.SignalingChannel = (*Client)(nil)

func NewClient(baseURL, token string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("relay url must be http or https, got %q", baseURL)
	}

	return &Client{
		baseURL: u,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}, nil
}

func (c *Client) Put(ctx context.Context, room, category, key string, payload domain.Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w: %w", domain.ErrMalformedPayload, err)
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := c.do(ctx, http.MethodPut, documentPath(room, category, key), bytes.NewReader(body))
		if err != nil {
			return retry.RetryableError(err)
		}
		defer drain(resp)

		switch {
		case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode >= http.StatusInternalServerError:
			return retry.RetryableError(statusError(resp))
		default:
			return statusError(resp)
		}
	})
}

func (c *Client) Get(ctx context.Context, room, category, key string) (domain.Payload, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, documentPath(room, category, key), nil)
	if err != nil {
		return nil, false, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, statusError(resp)
	}

	p, err := decodePayload(resp.Body)
	if err != nil {
		return nil, false, err
	}

	return p, true, nil
}

// Watch открывает WebSocket подписку. Канал закрывается при завершении ctx
// или обрыве соединения; переподключение - забота вызывающего.
func (c *Client) Watch(ctx context.Context, room, category, key string) (<-chan domain.Payload, error) {
	wsURL := c.url(documentPath(room, category, key) + "/watch")

	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL.String(), c.header())
	if resp != nil && resp.Body != nil {
		defer drain(resp)
	}
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, statusError(resp)
		}
		return nil, fmt.Errorf("dial watch: %w: %w", domain.ErrChannelUnavailable, err)
	}

	conn.SetReadLimit(maxFrameSize)

	out := make(chan domain.Payload)

	// done закрывает читатель: после обрыва соединения закрывающей горутине
	// ждать ctx уже незачем
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		defer conn.Close()
		defer close(done)

		for {
			_, r, err := conn.NextReader()
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("relay watch closed",
						slog.String(constant.RoomID, room),
						slog.String(constant.Category, category),
						slog.String(constant.Key, key),
						slog.Any(constant.Error, err),
					)
				}
				return
			}

			p, err := decodePayload(r)
			if err != nil {
				slog.Warn("relay watch frame", slog.Any(constant.Error, err))
				continue
			}

			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (c *Client) Rooms(ctx context.Context) ([]string, error) {
	var body struct {
		Rooms []string `json:"rooms"`
	}

	if err := c.getJSON(ctx, "/api/v1/rooms", &body); err != nil {
		return nil, err
	}

	return body.Rooms, nil
}

// ICEServers запрашивает у релея STUN/TURN сервера для PeerConnection
func (c *Client) ICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}

	if err := c.getJSON(ctx, "/api/v1/ice", &body); err != nil {
		return nil, err
	}

	return body.ICEServers, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w: %w", path, domain.ErrChannelUnavailable, err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path).String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header = c.header()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", method, path, domain.ErrChannelUnavailable, err)
	}

	return resp, nil
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Client) url(path string) *url.URL {
	return c.baseURL.JoinPath(path)
}

func documentPath(room, category, key string) string {
	return "/api/v1/rooms/" + url.PathEscape(room) + "/" + url.PathEscape(category) + "/" + url.PathEscape(key)
}

func decodePayload(r io.Reader) (domain.Payload, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var p domain.Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode payload: %w: %w", domain.ErrMalformedPayload, err)
	}

	return p, nil
}

// statusError переводит ответ релея в ошибку домена
func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&body)

	err := fmt.Errorf("relay responded %d: %s", resp.StatusCode, body.Error)

	if resp.StatusCode == http.StatusBadRequest {
		if body.Error == "unknown category or key" {
			return errors.Join(domain.ErrInvalidKey, err)
		}
		return errors.Join(domain.ErrMalformedPayload, err)
	}

	return fmt.Errorf("%w: %w", domain.ErrChannelUnavailable, err)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
