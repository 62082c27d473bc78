package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/sethvargo/go-retry"

	"github.com/qrave1/RoomCall/internal/application/constant"
	"github.com/qrave1/RoomCall/internal/domain"
	"github.com/qrave1/RoomCall/internal/infra/adapters/memory"
)

// NotifyChannel - канал LISTEN/NOTIFY, в который пишется id каждой новой записи
const NotifyChannel = "signaling_writes"

type documentRow struct {
	ID        int64          `db:"id"`
	RoomID    string         `db:"room_id"`
	Category  string         `db:"category"`
	Key       string         `db:"doc_key"`
	Payload   types.JSONText `db:"payload"`
	CreatedAt time.Time      `db:"created_at"`
}

type notification struct {
	ID       int64  `json:"id"`
	RoomID   string `json:"room"`
	Category string `json:"category"`
	Key      string `json:"key"`
}

type documentAddr struct {
	room     string
	category string
	key      string
}

type watcher struct {
	mb *memory.Mailbox[domain.Payload]

	// lastID - последняя доставленная запись, старые уведомления пропускаются
	lastID int64
}

// SignalingRepository - канал сигнализации поверх Postgres. Каждая запись
// документа - новая строка, Get отдаёт последнюю. Подписки живут в памяти
// процесса и питаются уведомлениями, которые принимает Listen.
type SignalingRepository struct {
	db *sqlx.DB

	mu       sync.Mutex
	watchers map[documentAddr]map[*watcher]struct{}
}

var _ domain.SignalingChannel = (*SignalingRepository)(nil)

func NewSignalingRepo(db *sqlx.DB) *SignalingRepository {
	return &SignalingRepository{
		db:       db,
		watchers: make(map[documentAddr]map[*watcher]struct{}),
	}
}

func (r *SignalingRepository) Put(ctx context.Context, room, category, key string, payload domain.Payload) error {
	if err := validate(room, category, key); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w: %w", domain.ErrMalformedPayload, err)
	}

	// Уведомление уходит при коммите, строка к этому моменту уже видна
	query := `
		WITH w AS (
			INSERT INTO signaling_writes (room_id, category, doc_key, payload)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		)
		SELECT pg_notify($5, json_build_object('id', w.id, 'room', $1::text, 'category', $2::text, 'key', $3::text)::text)
		FROM w`

	if _, err := r.db.ExecContext(ctx, query, room, category, key, types.JSONText(body), NotifyChannel); err != nil {
		return fmt.Errorf("insert signaling write: %w", err)
	}

	return nil
}

func (r *SignalingRepository) Get(ctx context.Context, room, category, key string) (domain.Payload, bool, error) {
	if err := validate(room, category, key); err != nil {
		return nil, false, err
	}

	row, err := r.latest(ctx, room, category, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	p, err := row.payload()
	if err != nil {
		return nil, false, err
	}

	return p, true, nil
}

// Watch регистрирует подписку до чтения текущего значения, поэтому запись,
// сделанная между ними, не теряется и не приходит дважды
func (r *SignalingRepository) Watch(ctx context.Context, room, category, key string) (<-chan domain.Payload, error) {
	if err := validate(room, category, key); err != nil {
		return nil, err
	}

	addr := documentAddr{room: room, category: category, key: key}
	w := &watcher{mb: memory.NewMailbox[domain.Payload]()}

	r.mu.Lock()
	if _, ok := r.watchers[addr]; !ok {
		r.watchers[addr] = make(map[*watcher]struct{})
	}
	r.watchers[addr][w] = struct{}{}
	r.mu.Unlock()

	row, err := r.latest(ctx, room, category, key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		r.unregister(addr, w)
		return nil, err
	default:
		if p, err := row.payload(); err == nil {
			r.mu.Lock()
			if row.ID > w.lastID {
				w.lastID = row.ID
				w.mb.Push(p)
			}
			r.mu.Unlock()
		}
	}

	out := make(chan domain.Payload)

	go w.mb.Pump(ctx, out)

	go func() {
		<-ctx.Done()
		r.unregister(addr, w)
	}()

	return out, nil
}

func (r *SignalingRepository) Rooms(ctx context.Context) ([]string, error) {
	var rooms []string

	query := "SELECT DISTINCT room_id FROM signaling_writes ORDER BY room_id"

	if err := r.db.SelectContext(ctx, &rooms, query); err != nil {
		return nil, fmt.Errorf("select rooms: %w", err)
	}

	return rooms, nil
}

// Listen держит выделенное соединение с LISTEN и раздаёт новые записи
// подписчикам. Блокируется до завершения ctx, обрыв соединения
// переживает с экспоненциальной задержкой.
func (r *SignalingRepository) Listen(ctx context.Context) error {
	backoff := retry.WithCappedDuration(30*time.Second, retry.NewExponential(500*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.listenOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		slog.Warn("signaling listener stopped, reconnecting", slog.Any(constant.Error, err))

		return retry.RetryableError(err)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	return nil
}

func (r *SignalingRepository) listenOnce(ctx context.Context) error {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		stdConn, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}

		pgConn := stdConn.Conn()

		if _, err := pgConn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
			return fmt.Errorf("listen: %w", err)
		}

		slog.Info("listening for signaling writes")

		// Записи, сделанные пока соединения не было, подписчики дочитывают сами
		r.resync(ctx)

		for {
			n, err := pgConn.WaitForNotification(ctx)
			if err != nil {
				return fmt.Errorf("wait for notification: %w", err)
			}

			var msg notification
			if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil {
				slog.Warn("bad signaling notification", slog.String("payload", n.Payload), slog.Any(constant.Error, err))
				continue
			}

			r.dispatch(ctx, msg)
		}
	})
}

func (r *SignalingRepository) dispatch(ctx context.Context, msg notification) {
	addr := documentAddr{room: msg.RoomID, category: msg.Category, key: msg.Key}

	if !r.hasWatchers(addr) {
		return
	}

	var row documentRow

	query := "SELECT id, room_id, category, doc_key, payload, created_at FROM signaling_writes WHERE id = $1"

	if err := r.db.GetContext(ctx, &row, query, msg.ID); err != nil {
		slog.Warn("fetch signaling write",
			slog.String(constant.RoomID, msg.RoomID),
			slog.Int64("write_id", msg.ID),
			slog.Any(constant.Error, err),
		)
		return
	}

	r.deliver(addr, row)
}

// resync после переподключения отдаёт подписчикам последнее значение их
// документов, если оно новее доставленного
func (r *SignalingRepository) resync(ctx context.Context) {
	r.mu.Lock()
	addrs := make([]documentAddr, 0, len(r.watchers))
	for addr := range r.watchers {
		addrs = append(addrs, addr)
	}
	r.mu.Unlock()

	for _, addr := range addrs {
		row, err := r.latest(ctx, addr.room, addr.category, addr.key)
		if err != nil {
			continue
		}

		r.deliver(addr, row)
	}
}

func (r *SignalingRepository) deliver(addr documentAddr, row documentRow) {
	p, err := row.payload()
	if err != nil {
		slog.Warn("decode signaling write", slog.String(constant.RoomID, addr.room), slog.Any(constant.Error, err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for w := range r.watchers[addr] {
		if row.ID <= w.lastID {
			continue
		}

		w.lastID = row.ID
		w.mb.Push(p)
	}
}

func (r *SignalingRepository) latest(ctx context.Context, room, category, key string) (documentRow, error) {
	var row documentRow

	query := `
		SELECT id, room_id, category, doc_key, payload, created_at
		FROM signaling_writes
		WHERE room_id = $1 AND category = $2 AND doc_key = $3
		ORDER BY id DESC
		LIMIT 1`

	if err := r.db.GetContext(ctx, &row, query, room, category, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return documentRow{}, err
		}
		return documentRow{}, fmt.Errorf("select latest %s/%s: %w", category, key, err)
	}

	return row, nil
}

func (r *SignalingRepository) hasWatchers(addr documentAddr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.watchers[addr]) > 0
}

func (r *SignalingRepository) unregister(addr documentAddr, w *watcher) {
	r.mu.Lock()
	delete(r.watchers[addr], w)
	if len(r.watchers[addr]) == 0 {
		delete(r.watchers, addr)
	}
	r.mu.Unlock()

	w.mb.Close()
}

func (row documentRow) payload() (domain.Payload, error) {
	var p domain.Payload

	if err := row.Payload.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("unmarshal payload %d: %w: %w", row.ID, domain.ErrMalformedPayload, err)
	}

	return p, nil
}

func validate(room, category, key string) error {
	if room == "" || !domain.ValidDocument(category, key) {
		return fmt.Errorf("%w: %q/%q/%q", domain.ErrInvalidKey, room, category, key)
	}

	return nil
}
