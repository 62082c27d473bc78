package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var errWatcherNotFound = errors.New("websocket watcher not found")

// WebsocketConnectionRepository хранит активные WebSocket подписки релея.
// Запись в одно соединение сериализуется: payload и ping идут из разных горутин.
type WebsocketConnectionRepository interface {
	Add(uuid.UUID, *websocket.Conn)
	Remove(uuid.UUID)

	Write(uuid.UUID, any) error
	Ping(uuid.UUID, time.Time) error

	// CloseAll отправляет close frame всем подписчикам, используется при остановке сервера
	CloseAll()
	Count() int
}

type safeWS struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type wsConnectionRepository struct {
	// wsConns хранит map[watcher_id]*ws.conn
	wsConns map[uuid.UUID]*safeWS

	mu sync.RWMutex
}

func NewWSConnectionRepository() WebsocketConnectionRepository {
	return &wsConnectionRepository{
		wsConns: make(map[uuid.UUID]*safeWS, 10),
	}
}

func (w *wsConnectionRepository) Add(watcherID uuid.UUID, conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.wsConns[watcherID] = &safeWS{conn: conn}
}

func (w *wsConnectionRepository) Remove(watcherID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.wsConns, watcherID)
}

func (w *wsConnectionRepository) Write(watcherID uuid.UUID, payload any) error {
	safews, ok := w.getSafeWS(watcherID)
	if !ok {
		return errWatcherNotFound
	}

	safews.mu.Lock()
	defer safews.mu.Unlock()

	return safews.conn.WriteJSON(payload)
}

func (w *wsConnectionRepository) Ping(watcherID uuid.UUID, deadline time.Time) error {
	safews, ok := w.getSafeWS(watcherID)
	if !ok {
		return errWatcherNotFound
	}

	safews.mu.Lock()
	defer safews.mu.Unlock()

	return safews.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (w *wsConnectionRepository) CloseAll() {
	w.mu.RLock()
	conns := make([]*safeWS, 0, len(w.wsConns))
	for _, c := range w.wsConns {
		conns = append(conns, c)
	}
	w.mu.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")

	for _, c := range conns {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.conn.Close()
		c.mu.Unlock()
	}
}

func (w *wsConnectionRepository) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return len(w.wsConns)
}

func (w *wsConnectionRepository) getSafeWS(watcherID uuid.UUID) (*safeWS, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	conn, ok := w.wsConns[watcherID]
	return conn, ok
}
