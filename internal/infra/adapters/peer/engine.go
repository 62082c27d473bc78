package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/qrave1/RoomCall/internal/application/constant"
	"github.com/qrave1/RoomCall/internal/domain"
	"github.com/qrave1/RoomCall/internal/domain/events"
	"github.com/qrave1/RoomCall/internal/usecase"
)

const (
	// opus: 20 мс кадр при 48 кГц
	frameDuration  = 20 * time.Millisecond
	samplesPerTick = 960
	opusPayload    = 111
)

// opusSilence - кадр тишины opus (TOC 0xf8 + пустые данные)
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var errNotOpen = errors.New("peer connection is not open")

type Options struct {
	ICEServers []webrtc.ICEServer

	// IncludeLoopback разрешает кандидаты на loopback интерфейсе
	IncludeLoopback bool
}

// Engine - Transport на pion: одна PeerConnection с opus дорожкой. Захват
// шлёт кадры тишины, входящий звук только считается.
type Engine struct {
	opts Options

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	track   *webrtc.TrackLocalStaticRTP
	roomID  string
	role    domain.Role
	signals usecase.TransportSignals
	pending []webrtc.ICECandidateInit

	captureCancel context.CancelFunc
	captureDone   chan struct{}

	// closed отменяет ожидание сбора кандидатов
	closed    chan struct{}
	closeOnce sync.Once

	logger *slog.Logger
}

var _ usecase.Transport = (*Engine)(nil)

func NewEngine(opts Options) *Engine {
	return &Engine{
		opts:   opts,
		closed: make(chan struct{}),
		logger: slog.Default(),
	}
}

func (e *Engine) Open(ctx context.Context, roomID string, role domain.Role, signals usecase.TransportSignals) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc != nil {
		return fmt.Errorf("engine already open for room %q", e.roomID)
	}

	e.roomID = roomID
	e.role = role
	e.signals = signals
	e.logger = slog.Default().With(slog.String(constant.RoomID, roomID), slog.String(constant.Role, role.String()))

	pc, track, err := e.newPeerConnection()
	if err != nil {
		return err
	}

	e.pc = pc
	e.track = track

	pc.OnICECandidate(e.onICECandidate)
	pc.OnTrack(e.onTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.logger.Info("peer connection state changed", slog.String(constant.State, state.String()))
	})

	e.startCapture()

	if role != domain.RoleHost {
		return nil
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	if err := e.setLocalDescription(offer); err != nil {
		return err
	}

	return nil
}

func (e *Engine) newPeerConnection() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticRTP, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, nil, fmt.Errorf("register codecs: %w", err)
	}

	se := webrtc.SettingEngine{
		LoggerFactory: newSlogLoggerFactory(e.logger),
	}
	se.SetIncludeLoopbackCandidate(e.opts.IncludeLoopback)

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: e.opts.ICEServers})
	if err != nil {
		return nil, nil, fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"roomcall",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("create audio track: %w", err)
	}

	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("add audio track: %w", err)
	}

	return pc, track, nil
}

// setLocalDescription ставит описание и отдаёт его наружу после сбора
// кандидатов, чтобы они попали в SDP. Вызывается под e.mu.
func (e *Engine) setLocalDescription(desc webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(e.pc)

	if err := e.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local %s: %w", desc.Type, err)
	}

	pc, signals := e.pc, e.signals

	go func() {
		select {
		case <-gathered:
		case <-e.closed:
			return
		}

		local := pc.LocalDescription()
		if local == nil {
			return
		}

		kind, err := descriptionKind(local.Type)
		if err != nil {
			e.logger.Error("local description", slog.Any(constant.Error, err))
			return
		}

		signals.EmitDescription(domain.SessionDescription{Kind: kind, SDP: local.SDP})
	}()

	return nil
}

func (e *Engine) Apply(_ context.Context, ev events.NegotiationEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc == nil {
		return errNotOpen
	}

	switch ev.Kind {
	case events.KindOfferReceived, events.KindAnswerReceived:
		return e.setRemoteDescription(*ev.Description)

	case events.KindSendAnswer:
		answer, err := e.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		return e.setLocalDescription(answer)

	case events.KindCandidateReceived:
		init := candidateInit(*ev.Candidate)

		if e.pc.RemoteDescription() == nil {
			e.pending = append(e.pending, init)
			return nil
		}

		if err := e.pc.AddICECandidate(init); err != nil {
			return fmt.Errorf("add ice candidate: %w", err)
		}

	case events.KindRoomTerminated:
		e.logger.Info("remote side ended the call")
	}

	return nil
}

func (e *Engine) setRemoteDescription(desc domain.SessionDescription) error {
	sdpType := webrtc.SDPTypeOffer
	if desc.Kind == domain.DescriptionAnswer {
		sdpType = webrtc.SDPTypeAnswer
	}

	if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Kind, err)
	}

	// Кандидаты, пришедшие раньше описания
	var errs []error
	for _, c := range e.pending {
		if err := e.pc.AddICECandidate(c); err != nil {
			errs = append(errs, err)
		}
	}
	e.pending = nil

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("add buffered candidates: %w", err)
	}

	return nil
}

func (e *Engine) onICECandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}

	init := c.ToJSON()

	cand := domain.NetworkCandidate{
		Owner:     e.role,
		Candidate: init.Candidate,
	}
	if init.SDPMid != nil {
		cand.Mid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		cand.MLineIndex = int(*init.SDPMLineIndex)
	}

	e.signals.EmitCandidate(cand)
}

func (e *Engine) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := track.Kind().String()

	e.logger.Info("remote track", slog.String(constant.Kind, kind), slog.String("codec", track.Codec().MimeType))
	e.signals.EmitStream(kind)

	go func() {
		var packets int

		for {
			if _, _, err := track.ReadRTP(); err != nil {
				if !errors.Is(err, io.EOF) {
					e.logger.Debug("RTP read stopped", slog.Any(constant.Error, err))
				}
				e.logger.Info("remote track ended", slog.Int("packets", packets))
				return
			}
			packets++
		}
	}()
}

// startCapture пишет в дорожку кадры тишины, пока не вызван StopCapture.
// Вызывается под e.mu.
func (e *Engine) startCapture() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.captureCancel = cancel
	e.captureDone = done

	track := e.track

	go func() {
		defer close(done)

		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    opusPayload,
				SequenceNumber: uint16(rand.UintN(1 << 16)),
				Timestamp:      rand.Uint32(),
				SSRC:           rand.Uint32(),
			},
			Payload: opusSilence,
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if err := track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				e.logger.Debug("write RTP", slog.Any(constant.Error, err))
			}

			pkt.SequenceNumber++
			pkt.Timestamp += samplesPerTick
		}
	}()
}

func (e *Engine) StopCapture() error {
	e.mu.Lock()
	cancel, done := e.captureCancel, e.captureDone
	e.captureCancel, e.captureDone = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done

	return nil
}

func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })

	// Захват мог остаться, если Open упал после его старта
	_ = e.StopCapture()

	e.mu.Lock()
	pc := e.pc
	e.mu.Unlock()

	if pc == nil {
		return nil
	}

	if err := pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}

	return nil
}

// SignalingState нужен для проверки, что обмен описаниями завершён
func (e *Engine) SignalingState() webrtc.SignalingState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc == nil {
		return webrtc.SignalingStateClosed
	}

	return e.pc.SignalingState()
}

func descriptionKind(t webrtc.SDPType) (domain.DescriptionKind, error) {
	switch t {
	case webrtc.SDPTypeOffer:
		return domain.DescriptionOffer, nil
	case webrtc.SDPTypeAnswer:
		return domain.DescriptionAnswer, nil
	default:
		return "", fmt.Errorf("unsupported sdp type %s", t)
	}
}

func candidateInit(c domain.NetworkCandidate) webrtc.ICECandidateInit {
	mid := c.Mid
	index := uint16(c.MLineIndex)

	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMLineIndex: &index,
	}
	if mid != "" {
		init.SDPMid = &mid
	}

	return init
}
