package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/qrave1/RoomCall/internal/application/constant"
	"github.com/qrave1/RoomCall/internal/domain"
	"github.com/qrave1/RoomCall/internal/domain/codec"
	"github.com/qrave1/RoomCall/internal/domain/events"
)

// EventBus - шина событий переговоров
type EventBus interface {
	EventPublisher
	Subscribe(ctx context.Context) <-chan events.NegotiationEvent
}

// TransportFactory создаёт новый движок на каждое подключение
type TransportFactory func() Transport

type ConnectOptions struct {
	// Role закрепляет роль вместо автоматического выбора
	Role domain.Role

	// EndCallOnLeave - при отключении записать END_CALL и закрыть комнату для всех
	EndCallOnLeave bool
}

// CallUsecase - жизненный цикл звонка одного участника
type CallUsecase interface {
	Connect(ctx context.Context, roomID string, opts ConnectOptions) (domain.Role, error)
	SendDescription(ctx context.Context, desc domain.SessionDescription) error
	SendCandidate(ctx context.Context, cand domain.NetworkCandidate) error
	Disconnect(ctx context.Context) error

	Events(ctx context.Context) <-chan events.NegotiationEvent
	RoomList(ctx context.Context) (<-chan []string, error)
}

type callUsecase struct {
	channel      domain.SignalingChannel
	bus          EventBus
	resolver     RoleResolver
	newTransport TransportFactory

	roomListInterval time.Duration

	mu         sync.Mutex
	session    *callSession
	connecting *pendingConnect
}

// pendingConnect - подключение в процессе, Disconnect может его отменить
type pendingConnect struct {
	cancel context.CancelFunc
}

func NewCallUsecase(
	channel domain.SignalingChannel,
	bus EventBus,
	newTransport TransportFactory,
	roomListInterval time.Duration,
) CallUsecase {
	return &callUsecase{
		channel:          channel,
		bus:              bus,
		resolver:         NewRoleResolver(channel),
		newTransport:     newTransport,
		roomListInterval: roomListInterval,
	}
}

type callSession struct {
	id     uuid.UUID
	roomID string
	role   domain.Role
	opts   ConnectOptions

	channel    domain.SignalingChannel
	negotiator *Negotiator
	transport  Transport

	cancel context.CancelFunc
	group  *errgroup.Group

	logger *slog.Logger
}

func (uc *callUsecase) Connect(ctx context.Context, roomID string, opts ConnectOptions) (domain.Role, error) {
	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	// Под mu только резерв слота: сеть ниже идёт без блокировки, чтобы
	// Disconnect мог прервать зависшее подключение
	uc.mu.Lock()
	switch {
	case uc.session != nil:
		active := uc.session.roomID
		uc.mu.Unlock()
		return "", fmt.Errorf("connect to %q: %w (room %q)", roomID, domain.ErrSessionActive, active)
	case uc.connecting != nil:
		uc.mu.Unlock()
		return "", fmt.Errorf("connect to %q: %w (connect in progress)", roomID, domain.ErrSessionActive)
	}

	attempt := &pendingConnect{cancel: cancelAttempt}
	uc.connecting = attempt
	uc.mu.Unlock()

	s, err := uc.open(attemptCtx, ctx, roomID, opts)

	uc.mu.Lock()
	aborted := uc.connecting != attempt
	if !aborted {
		uc.connecting = nil
		if err == nil {
			uc.session = s
		}
	}
	uc.mu.Unlock()

	if err != nil {
		if aborted {
			return "", fmt.Errorf("connect to %q: %w: %w", roomID, domain.ErrConnectAborted, err)
		}
		return "", err
	}

	if aborted {
		// Disconnect пришёл, пока открывался транспорт: сессия уже поднята,
		// разбираем её здесь
		if teardownErr := s.teardown(context.WithoutCancel(ctx)); teardownErr != nil {
			return "", fmt.Errorf("connect to %q: %w: %w", roomID, domain.ErrConnectAborted, teardownErr)
		}
		return "", fmt.Errorf("connect to %q: %w", roomID, domain.ErrConnectAborted)
	}

	s.logger.Info("call connected")

	return s.role, nil
}

// open запускает переговоры и транспорт. attemptCtx ограничивает только
// подключение, сессия живёт от parent без его отмены.
func (uc *callUsecase) open(attemptCtx, parent context.Context, roomID string, opts ConnectOptions) (*callSession, error) {
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(parent))

	// Подписка до старта переговоров, иначе offer гостя может уйти мимо движка
	evs := uc.bus.Subscribe(sessionCtx)

	negotiator := NewNegotiator(uc.channel, uc.resolver, uc.bus)

	role, err := negotiator.Start(attemptCtx, roomID, NegotiationOptions{Role: opts.Role})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start negotiation: %w", err)
	}

	s := &callSession{
		id:         uuid.New(),
		roomID:     roomID,
		role:       role,
		opts:       opts,
		channel:    uc.channel,
		negotiator: negotiator,
		transport:  uc.newTransport(),
		cancel:     cancel,
	}
	s.logger = slog.Default().With(
		slog.String(constant.SessionID, s.id.String()),
		slog.String(constant.RoomID, roomID),
		slog.String(constant.Role, role.String()),
	)

	if err := s.transport.Open(attemptCtx, roomID, role, s.signals(sessionCtx)); err != nil {
		negotiator.Terminate()
		cancel()

		if closeErr := s.transport.Close(); closeErr != nil {
			s.logger.Warn("close transport after failed open", slog.Any(constant.Error, closeErr))
		}

		return nil, fmt.Errorf("open transport: %w", err)
	}

	g, gctx := errgroup.WithContext(sessionCtx)
	g.Go(func() error {
		s.forward(gctx, evs)
		return nil
	})
	s.group = g

	return s, nil
}

func (s *callSession) signals(ctx context.Context) TransportSignals {
	return TransportSignals{
		OnDescription: func(desc domain.SessionDescription) {
			if err := s.sendDescription(ctx, desc); err != nil {
				s.logger.Error("send local description", slog.Any(constant.Error, err))
			}
		},
		OnCandidate: func(cand domain.NetworkCandidate) {
			if err := s.sendCandidate(ctx, cand); err != nil {
				s.logger.Error("send local candidate", slog.Any(constant.Error, err))
			}
		},
		OnStream: func(kind string) {
			s.logger.Info("remote stream added", slog.String(constant.Kind, kind))
		},
	}
}

// forward передаёт движку события своей комнаты, пока сессия жива
func (s *callSession) forward(ctx context.Context, evs <-chan events.NegotiationEvent) {
	for ev := range evs {
		if ev.RoomID != s.roomID || ev.Role != s.role {
			continue
		}

		if err := s.transport.Apply(ctx, ev); err != nil {
			s.logger.Warn("apply negotiation event",
				slog.String(constant.Event, ev.String()),
				slog.Any(constant.Error, err),
			)
		}

		if ev.Kind == events.KindRoomTerminated {
			s.logger.Info("room terminated, waiting for disconnect")
		}
	}
}

func (s *callSession) sendDescription(ctx context.Context, desc domain.SessionDescription) error {
	if desc.Kind != s.role.LocalDescriptionKind() {
		return fmt.Errorf("%s cannot send %s: %w", s.role, desc.Kind, domain.ErrMalformedPayload)
	}

	if err := s.channel.Put(ctx, s.roomID, domain.CategorySDP, desc.Key(), codec.EncodeDescription(desc)); err != nil {
		return fmt.Errorf("put %s: %w: %w", desc.Kind, domain.ErrChannelUnavailable, err)
	}

	s.logger.Debug("local description sent", slog.String(constant.Kind, string(desc.Kind)))

	return nil
}

func (s *callSession) sendCandidate(ctx context.Context, cand domain.NetworkCandidate) error {
	if cand.Owner == "" {
		cand.Owner = s.role
	}

	if cand.Owner != s.role {
		return fmt.Errorf("%s cannot send candidate of %s: %w", s.role, cand.Owner, domain.ErrMalformedPayload)
	}

	if err := s.channel.Put(ctx, s.roomID, domain.CategoryCandidates, s.role.SideKey(), codec.EncodeCandidate(cand)); err != nil {
		return fmt.Errorf("put candidate: %w: %w", domain.ErrChannelUnavailable, err)
	}

	return nil
}

func (uc *callUsecase) current() (*callSession, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if uc.session == nil {
		return nil, domain.ErrNotConnected
	}

	return uc.session, nil
}

func (uc *callUsecase) SendDescription(ctx context.Context, desc domain.SessionDescription) error {
	s, err := uc.current()
	if err != nil {
		return err
	}

	return s.sendDescription(ctx, desc)
}

func (uc *callUsecase) SendCandidate(ctx context.Context, cand domain.NetworkCandidate) error {
	s, err := uc.current()
	if err != nil {
		return err
	}

	return s.sendCandidate(ctx, cand)
}

// Disconnect разбирает сессию по шагам. Ошибка шага не прерывает остальные,
// все ошибки возвращаются вместе. Незавершённое подключение отменяется, его
// разбирает сам Connect.
func (uc *callUsecase) Disconnect(ctx context.Context) error {
	uc.mu.Lock()
	s := uc.session
	uc.session = nil

	if attempt := uc.connecting; attempt != nil {
		uc.connecting = nil
		attempt.cancel()
	}
	uc.mu.Unlock()

	if s == nil {
		return nil
	}

	return s.teardown(ctx)
}

func (s *callSession) teardown(ctx context.Context) error {
	var errs []error

	step := func(name string, err error) {
		if err == nil {
			return
		}

		err = fmt.Errorf("%s: %w: %w", name, domain.ErrTeardownStepFailed, err)
		s.logger.Error("teardown step failed", slog.String(constant.Step, name), slog.Any(constant.Error, err))
		errs = append(errs, err)
	}

	step("stop capture", s.transport.StopCapture())
	step("close peer connection", s.transport.Close())

	s.negotiator.Terminate()

	if s.opts.EndCallOnLeave {
		p := codec.EncodeRoomStatus(domain.RoomStatusTerminated)
		step("write end call", s.channel.Put(ctx, s.roomID, domain.CategoryMeta, domain.KeyStatus, p))
	}

	s.cancel()
	step("join session tasks", s.group.Wait())

	s.logger.Info("call disconnected")

	return errors.Join(errs...)
}

// Events - поток событий для приложения. Закрывается после RoomTerminated
// или по завершении ctx.
func (uc *callUsecase) Events(ctx context.Context) <-chan events.NegotiationEvent {
	subCtx, cancel := context.WithCancel(ctx)

	sub := uc.bus.Subscribe(subCtx)
	out := make(chan events.NegotiationEvent)

	go func() {
		defer close(out)
		defer cancel()

		for ev := range sub {
			select {
			case out <- ev:
			case <-subCtx.Done():
				return
			}

			if ev.Kind == events.KindRoomTerminated {
				return
			}
		}
	}()

	return out
}

// RoomList опрашивает канал раз в roomListInterval и отдаёт список живых
// комнат, только когда он изменился. Первый снимок читается сразу.
func (uc *callUsecase) RoomList(ctx context.Context) (<-chan []string, error) {
	first, err := uc.liveRooms(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan []string, 1)
	out <- first

	go func() {
		defer close(out)

		ticker := time.NewTicker(uc.roomListInterval)
		defer ticker.Stop()

		last := first

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			rooms, err := uc.liveRooms(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("poll room list", slog.Any(constant.Error, err))
				continue
			}

			if slices.Equal(rooms, last) {
				continue
			}
			last = rooms

			select {
			case out <- rooms:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (uc *callUsecase) liveRooms(ctx context.Context) ([]string, error) {
	rooms, err := uc.channel.Rooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w: %w", domain.ErrChannelUnavailable, err)
	}

	live := make([]string, 0, len(rooms))

	for _, room := range rooms {
		status, err := RoomStatus(ctx, uc.channel, room)
		if err != nil {
			return nil, err
		}

		if status != domain.RoomStatusTerminated {
			live = append(live, room)
		}
	}

	return live, nil
}
