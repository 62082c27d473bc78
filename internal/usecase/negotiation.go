package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/qrave1/RoomCall/internal/application/constant"
	"github.com/qrave1/RoomCall/internal/application/metric"
	"github.com/qrave1/RoomCall/internal/domain"
	"github.com/qrave1/RoomCall/internal/domain/codec"
	"github.com/qrave1/RoomCall/internal/domain/events"
)

// NegotiationState - состояние переговоров одной сессии
type NegotiationState int32

const (
	StateIdle NegotiationState = iota
	StateResolvingRole
	StateAwaitingRemoteDescription
	StateDescriptionExchanged
	StateTerminated
)

func (s NegotiationState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateResolvingRole:
		return "RESOLVING_ROLE"
	case StateAwaitingRemoteDescription:
		return "AWAITING_REMOTE_DESCRIPTION"
	case StateDescriptionExchanged:
		return "DESCRIPTION_EXCHANGED"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("NegotiationState(%d)", int32(s))
	}
}

// EventPublisher - шина, куда машина переговоров публикует события
type EventPublisher interface {
	Publish(events.NegotiationEvent)
}

// NegotiationOptions - параметры старта переговоров
type NegotiationOptions struct {
	// Role закрепляет роль и пропускает проверку наличия offer
	Role domain.Role
}

// Задержки перезапуска подписки, если канал закрыл её сам
const (
	rewatchBaseDelay = 100 * time.Millisecond
	rewatchMaxDelay  = 5 * time.Second
)

// Negotiator - машина переговоров одной комнаты для одной роли. Решает, какие
// документы ждать и какие события публиковать. Агрегат сессии (роль, комната,
// применённые описания) меняет только цикл run.
type Negotiator struct {
	channel   domain.SignalingChannel
	resolver  RoleResolver
	publisher EventPublisher

	state atomic.Int32

	// roomID и role выставляются в Start до запуска цикла и дальше не меняются
	roomID string
	role   domain.Role

	mu         sync.Mutex
	lastOffer  *domain.SessionDescription
	lastAnswer *domain.SessionDescription

	logger *slog.Logger

	cancel    context.CancelFunc
	loopDone  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	termOnce  sync.Once
}

func NewNegotiator(
	channel domain.SignalingChannel,
	resolver RoleResolver,
	publisher EventPublisher,
) *Negotiator {
	return &Negotiator{
		channel:   channel,
		resolver:  resolver,
		publisher: publisher,
		logger:    slog.Default(),
		done:      make(chan struct{}),
	}
}

type subscriptions struct {
	descriptions       <-chan domain.Payload
	cancelDescriptions context.CancelFunc
	candidates         <-chan domain.Payload
	status             <-chan domain.Payload
}

// Start определяет роль, для гостя однократно читает offer и подписывается на
// документы собеседника. Любая ошибка здесь прерывает подключение: машина
// переходит в TERMINATED, подписок не остаётся.
func (n *Negotiator) Start(ctx context.Context, roomID string, opts NegotiationOptions) (domain.Role, error) {
	if !n.state.CompareAndSwap(int32(StateIdle), int32(StateResolvingRole)) {
		return "", fmt.Errorf("start negotiation in state %s", n.State())
	}

	n.roomID = roomID

	role, err := n.resolveRole(ctx, roomID, opts.Role)
	if err != nil {
		return "", n.fail(err)
	}

	n.role = role
	n.logger = slog.Default().With(slog.String(constant.RoomID, roomID), slog.String(constant.Role, role.String()))

	var offer *domain.SessionDescription
	if role == domain.RoleGuest {
		desc, err := n.fetchOffer(ctx)
		if err != nil {
			return "", n.fail(err)
		}
		offer = &desc
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	subs, err := n.subscribe(loopCtx, role)
	if err != nil {
		cancel()
		return "", n.fail(err)
	}

	n.cancel = cancel
	n.loopDone = make(chan struct{})
	n.state.Store(int32(StateAwaitingRemoteDescription))

	n.logger.Info("negotiation started")

	go n.run(loopCtx, subs, offer)

	return role, nil
}

// Terminate отменяет подписки и дожидается остановки цикла. После возврата
// ни одно событие этой сессии не будет опубликовано. Повторный вызов ничего не делает.
func (n *Negotiator) Terminate() {
	n.termOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
			<-n.loopDone
		}

		n.state.Store(int32(StateTerminated))
		n.closeDone()
	})
}

// Done закрывается, когда машина пришла в TERMINATED
func (n *Negotiator) Done() <-chan struct{} {
	return n.done
}

func (n *Negotiator) State() NegotiationState {
	return NegotiationState(n.state.Load())
}

func (n *Negotiator) Role() domain.Role {
	return n.role
}

func (n *Negotiator) RoomID() string {
	return n.roomID
}

func (n *Negotiator) LastOffer() (domain.SessionDescription, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lastOffer == nil {
		return domain.SessionDescription{}, false
	}
	return *n.lastOffer, true
}

func (n *Negotiator) LastAnswer() (domain.SessionDescription, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lastAnswer == nil {
		return domain.SessionDescription{}, false
	}
	return *n.lastAnswer, true
}

func (n *Negotiator) resolveRole(ctx context.Context, roomID string, forced domain.Role) (domain.Role, error) {
	if forced == "" {
		role, err := n.resolver.Resolve(ctx, roomID)
		if err != nil {
			return "", fmt.Errorf("resolve role: %w", err)
		}
		return role, nil
	}

	status, err := RoomStatus(ctx, n.channel, roomID)
	if err != nil {
		return "", err
	}

	if status == domain.RoomStatusTerminated {
		return "", fmt.Errorf("join %q: %w", roomID, domain.ErrRoomTerminated)
	}

	return forced, nil
}

func (n *Negotiator) fetchOffer(ctx context.Context) (domain.SessionDescription, error) {
	p, ok, err := n.channel.Get(ctx, n.roomID, domain.CategorySDP, domain.KeyOffer)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("get offer: %w: %w", domain.ErrChannelUnavailable, err)
	}

	if !ok {
		return domain.SessionDescription{}, fmt.Errorf("room %q: %w", n.roomID, domain.ErrNoOfferFound)
	}

	desc, err := codec.DecodeDescription(p, domain.DescriptionOffer)
	if err != nil {
		metric.RecordMalformedPayload(domain.CategorySDP)
		return domain.SessionDescription{}, fmt.Errorf("decode offer: %w", err)
	}

	return desc, nil
}

func (n *Negotiator) subscribe(ctx context.Context, role domain.Role) (subscriptions, error) {
	var subs subscriptions

	if role == domain.RoleHost {
		descCtx, cancel := context.WithCancel(ctx)

		ch, err := n.watch(descCtx, domain.CategorySDP, domain.KeyAnswer)
		if err != nil {
			cancel()
			return subscriptions{}, err
		}

		subs.descriptions = ch
		subs.cancelDescriptions = cancel
	}

	candidates, err := n.watch(ctx, domain.CategoryCandidates, role.RemoteSideKey())
	if err != nil {
		return subscriptions{}, err
	}
	subs.candidates = candidates

	status, err := n.watch(ctx, domain.CategoryMeta, domain.KeyStatus)
	if err != nil {
		return subscriptions{}, err
	}
	subs.status = status

	return subs, nil
}

// watch подписывается на документ и перезапускает подписку, если канал
// закрыл её раньше, чем завершился ctx. Ошибка первой подписки возвращается.
func (n *Negotiator) watch(ctx context.Context, category, key string) (<-chan domain.Payload, error) {
	first, err := n.channel.Watch(ctx, n.roomID, category, key)
	if err != nil {
		return nil, fmt.Errorf("watch %s/%s: %w: %w", category, key, domain.ErrChannelUnavailable, err)
	}

	out := make(chan domain.Payload)

	go func() {
		defer close(out)

		src := first

		for {
			for p := range src {
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}

			if ctx.Err() != nil {
				return
			}

			n.logger.Warn("watch closed by channel, resubscribing",
				slog.String(constant.Category, category),
				slog.String(constant.Key, key),
			)

			backoff := retry.WithCappedDuration(rewatchMaxDelay, retry.NewExponential(rewatchBaseDelay))

			err := retry.Do(ctx, backoff, func(ctx context.Context) error {
				ch, err := n.channel.Watch(ctx, n.roomID, category, key)
				if err != nil {
					n.logger.Warn("resubscribe failed", slog.Any(constant.Error, err))
					return retry.RetryableError(err)
				}
				src = ch
				return nil
			})
			if err != nil {
				return
			}
		}
	}()

	return out, nil
}

func (n *Negotiator) run(ctx context.Context, subs subscriptions, offer *domain.SessionDescription) {
	defer func() {
		if subs.cancelDescriptions != nil {
			subs.cancelDescriptions()
		}
	}()
	defer close(n.loopDone)

	if offer != nil {
		n.acceptDescription(ctx, *offer)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case p, ok := <-subs.descriptions:
			if !ok {
				subs.descriptions = nil
				continue
			}

			if n.handleDescription(ctx, p) {
				subs.cancelDescriptions()
				subs.descriptions = nil
			}

		case p, ok := <-subs.candidates:
			if !ok {
				subs.candidates = nil
				continue
			}

			n.handleCandidate(ctx, p)

		case p, ok := <-subs.status:
			if !ok {
				subs.status = nil
				continue
			}

			if codec.DecodeRoomStatus(p) == domain.RoomStatusTerminated {
				n.logger.Info("room terminated by peer")
				n.publish(ctx, events.RoomTerminated(n.roomID, n.role))
				n.state.Store(int32(StateTerminated))
				n.cancel()
				n.closeDone()
				return
			}
		}
	}
}

// handleDescription возвращает true, когда описание принято и подписку на
// sdp можно отпускать
func (n *Negotiator) handleDescription(ctx context.Context, p domain.Payload) bool {
	if n.State() != StateAwaitingRemoteDescription {
		return true
	}

	desc, err := codec.DecodeDescription(p, n.role.RemoteDescriptionKind())
	if err != nil {
		n.dropMalformed(domain.CategorySDP, err)
		return false
	}

	return n.acceptDescription(ctx, desc)
}

func (n *Negotiator) acceptDescription(ctx context.Context, desc domain.SessionDescription) bool {
	switch {
	case n.role == domain.RoleGuest && desc.Kind == domain.DescriptionOffer:
		n.mu.Lock()
		n.lastOffer = &desc
		n.mu.Unlock()

		n.state.CompareAndSwap(int32(StateAwaitingRemoteDescription), int32(StateDescriptionExchanged))

		n.publish(ctx, events.OfferReceived(n.roomID, n.role, desc))
		n.publish(ctx, events.SendAnswer(n.roomID, n.role))

	case n.role == domain.RoleHost && desc.Kind == domain.DescriptionAnswer:
		n.mu.Lock()
		n.lastAnswer = &desc
		n.mu.Unlock()

		n.state.CompareAndSwap(int32(StateAwaitingRemoteDescription), int32(StateDescriptionExchanged))

		n.publish(ctx, events.AnswerReceived(n.roomID, n.role, desc))

	default:
		n.logger.Debug("ignoring description for the other role", slog.String(constant.Kind, string(desc.Kind)))
		return false
	}

	n.logger.Info("remote description received", slog.String(constant.Kind, string(desc.Kind)))

	return true
}

func (n *Negotiator) handleCandidate(ctx context.Context, p domain.Payload) {
	owner, _ := domain.RoleForSide(n.role.RemoteSideKey())

	cand, err := codec.DecodeCandidate(p, owner)
	if err != nil {
		n.dropMalformed(domain.CategoryCandidates, err)
		return
	}

	n.publish(ctx, events.CandidateReceived(n.roomID, n.role, cand))
}

func (n *Negotiator) dropMalformed(category string, err error) {
	metric.RecordMalformedPayload(category)

	n.logger.Warn("dropping malformed payload",
		slog.String(constant.Category, category),
		slog.Any(constant.Error, err),
	)
}

// publish отбрасывает события после отмены: опоздавшие сообщения канала не
// должны выходить наружу после Terminate
func (n *Negotiator) publish(ctx context.Context, ev events.NegotiationEvent) {
	if ctx.Err() != nil {
		return
	}

	n.logger.Debug("publish negotiation event", slog.String(constant.Event, ev.String()))

	n.publisher.Publish(ev)
}

func (n *Negotiator) fail(err error) error {
	n.state.Store(int32(StateTerminated))
	n.closeDone()

	if errors.Is(err, domain.ErrNoOfferFound) {
		slog.Warn("no offer in room", slog.String(constant.RoomID, n.roomID))
	}

	return err
}

func (n *Negotiator) closeDone() {
	n.closeOnce.Do(func() { close(n.done) })
}
