package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/qrave1/RoomCall/internal/application/config"
	"github.com/qrave1/RoomCall/internal/domain"
	"github.com/qrave1/RoomCall/internal/domain/codec"
	"github.com/qrave1/RoomCall/internal/domain/events"
	"github.com/qrave1/RoomCall/internal/infra/adapters/memory"
	"github.com/qrave1/RoomCall/internal/infra/ports/http/handlers"
	"github.com/qrave1/RoomCall/internal/infra/ports/http/server"
	"github.com/qrave1/RoomCall/internal/usecase"
)

func newTestRelay(t *testing.T, secret string) (*httptest.Server, usecase.TokenUsecase) {
	t.Helper()

	cfg := &config.Config{
		Debug:       true,
		JWTSecret:   secret,
		STUNServers: []string{"stun:stun.l.google.com:19302"},
	}

	relayUsecase := usecase.NewRelayUsecase(memory.NewSignalingStore())
	tokens := usecase.NewTokenUsecase([]byte(secret))

	e := server.New(
		cfg,
		tokens,
		handlers.NewSignalingHandler(relayUsecase),
		handlers.NewWatchHandler(cfg, relayUsecase, memory.NewWSConnectionRepository()),
		handlers.NewIceHandler(cfg),
	)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return srv, tokens
}

func newTestClient(t *testing.T, srv *httptest.Server, token string) *Client {
	t.Helper()

	c, err := NewClient(srv.URL, token)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	return c
}

func TestClientPutGet(t *testing.T) {
	srv, _ := newTestRelay(t, "")
	c := newTestClient(t, srv, "")
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "room-1", domain.CategorySDP, domain.KeyOffer); err != nil || ok {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}

	cand := domain.NetworkCandidate{Owner: domain.RoleHost, Mid: "0", MLineIndex: 2, Candidate: "candidate:1"}
	if err := c.Put(ctx, "room-1", domain.CategoryCandidates, domain.KeyOffer, codec.EncodeCandidate(cand)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	p, ok, err := c.Get(ctx, "room-1", domain.CategoryCandidates, domain.KeyOffer)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}

	// mLineIndex возвращается как json.Number и должен декодироваться
	got, err := codec.DecodeCandidate(p, domain.RoleHost)
	if err != nil {
		t.Fatalf("DecodeCandidate: %v", err)
	}
	if got != cand {
		t.Fatalf("candidate = %+v, want %+v", got, cand)
	}

	rooms, err := c.Rooms(ctx)
	if err != nil {
		t.Fatalf("Rooms: %v", err)
	}
	if !slices.Equal(rooms, []string{"room-1"}) {
		t.Fatalf("Rooms = %v", rooms)
	}
}

func TestClientRejectedDocuments(t *testing.T) {
	srv, _ := newTestRelay(t, "")
	c := newTestClient(t, srv, "")
	ctx := context.Background()

	if err := c.Put(ctx, "room", "users", domain.KeyOffer, domain.Payload{}); !errors.Is(err, domain.ErrInvalidKey) {
		t.Fatalf("Put unknown category err = %v", err)
	}

	if _, err := c.Watch(ctx, "room", domain.CategoryMeta, domain.KeyAnswer); !errors.Is(err, domain.ErrInvalidKey) {
		t.Fatalf("Watch meta/ANSWER err = %v", err)
	}
}

func TestClientWatch(t *testing.T) {
	srv, _ := newTestRelay(t, "")
	c := newTestClient(t, srv, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Put(ctx, "room", domain.CategoryMeta, domain.KeyStatus, domain.Payload{"type": "NEW"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ch, err := c.Watch(ctx, "room", domain.CategoryMeta, domain.KeyStatus)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	recv := func() domain.Payload {
		t.Helper()
		select {
		case p, ok := <-ch:
			if !ok {
				t.Fatal("watch closed")
			}
			return p
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for payload")
			return nil
		}
	}

	if p := recv(); p["type"] != "NEW" {
		t.Fatalf("current value = %v", p)
	}

	if err := c.Put(ctx, "room", domain.CategoryMeta, domain.KeyStatus, codec.EncodeRoomStatus(domain.RoomStatusTerminated)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if status := codec.DecodeRoomStatus(recv()); status != domain.RoomStatusTerminated {
		t.Fatalf("status = %s", status)
	}

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("watch delivered after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch not closed after cancel")
	}
}

func TestClientWatchReleasesDroppedConnections(t *testing.T) {
	// Релей отдаёт одно значение и сразу рвёт соединение
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = ws.WriteJSON(domain.Payload{"type": "NEW"})
		_ = ws.Close()
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv, "")

	// Один долгоживущий ctx, как у цикла переговоров
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	before := runtime.NumGoroutine()

	for i := 0; i < 30; i++ {
		ch, err := c.Watch(ctx, "room", domain.CategoryMeta, domain.KeyStatus)
		if err != nil {
			t.Fatalf("Watch #%d: %v", i, err)
		}

		for range ch {
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		after := runtime.NumGoroutine()
		if after <= before+3 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("goroutines before=%d after 30 dropped watches=%d", before, after)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestClientAuth(t *testing.T) {
	srv, tokens := newTestRelay(t, "relay-secret")
	ctx := context.Background()

	anonymous := newTestClient(t, srv, "")
	if _, err := anonymous.Rooms(ctx); !errors.Is(err, domain.ErrChannelUnavailable) {
		t.Fatalf("anonymous Rooms err = %v, want ErrChannelUnavailable", err)
	}

	if _, err := anonymous.Watch(ctx, "room", domain.CategorySDP, domain.KeyOffer); !errors.Is(err, domain.ErrChannelUnavailable) {
		t.Fatalf("anonymous Watch err = %v, want ErrChannelUnavailable", err)
	}

	token, err := tokens.Issue(uuid.New(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	authorized := newTestClient(t, srv, token)
	if _, err := authorized.Rooms(ctx); err != nil {
		t.Fatalf("authorized Rooms: %v", err)
	}
}

func TestClientUnreachable(t *testing.T) {
	srv, _ := newTestRelay(t, "")
	c := newTestClient(t, srv, "")
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, _, err := c.Get(ctx, "room", domain.CategorySDP, domain.KeyOffer); !errors.Is(err, domain.ErrChannelUnavailable) {
		t.Fatalf("Get err = %v, want ErrChannelUnavailable", err)
	}

	if err := c.Put(ctx, "room", domain.CategorySDP, domain.KeyOffer, domain.Payload{"sdpBody": "x"}); !errors.Is(err, domain.ErrChannelUnavailable) {
		t.Fatalf("Put err = %v, want ErrChannelUnavailable", err)
	}
}

func TestClientICEServers(t *testing.T) {
	srv, _ := newTestRelay(t, "")
	c := newTestClient(t, srv, "")

	servers, err := c.ICEServers(context.Background())
	if err != nil {
		t.Fatalf("ICEServers: %v", err)
	}

	if len(servers) != 1 || servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		raw, _ := json.Marshal(servers)
		t.Fatalf("ICEServers = %s", raw)
	}
}

func TestNegotiationThroughRelay(t *testing.T) {
	srv, _ := newTestRelay(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostChannel := newTestClient(t, srv, "")
	guestChannel := newTestClient(t, srv, "")

	bus := memory.NewEventBus()
	sub := bus.Subscribe(ctx)

	host := usecase.NewNegotiator(hostChannel, usecase.NewRoleResolver(hostChannel), bus)
	defer host.Terminate()

	role, err := host.Start(ctx, "relay-room", usecase.NegotiationOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if role != domain.RoleHost {
		t.Fatalf("role = %s", role)
	}

	answer := domain.SessionDescription{Kind: domain.DescriptionAnswer, SDP: "v=0 answer"}
	if err := guestChannel.Put(ctx, "relay-room", domain.CategorySDP, answer.Key(), codec.EncodeDescription(answer)); err != nil {
		t.Fatalf("Put answer: %v", err)
	}

	select {
	case ev := <-sub:
		if ev.Kind != events.KindAnswerReceived || ev.Description.SDP != answer.SDP {
			t.Fatalf("got %s", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for answer")
	}
}
