package peer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/qrave1/RoomCall/internal/domain"
	"github.com/qrave1/RoomCall/internal/domain/events"
	"github.com/qrave1/RoomCall/internal/usecase"
)

// bridge соединяет сигналы движка с Apply собеседника напрямую, без канала
func bridge(t *testing.T, ctx context.Context, from domain.Role, to *Engine, streams chan<- string, errs chan<- error) usecase.TransportSignals {
	t.Helper()

	apply := func(ev events.NegotiationEvent) {
		if err := to.Apply(ctx, ev); err != nil {
			errs <- err
		}
	}

	return usecase.TransportSignals{
		OnDescription: func(desc domain.SessionDescription) {
			if desc.Kind == domain.DescriptionOffer {
				apply(events.OfferReceived("room", domain.RoleGuest, desc))
				apply(events.SendAnswer("room", domain.RoleGuest))
				return
			}
			apply(events.AnswerReceived("room", domain.RoleHost, desc))
		},
		OnCandidate: func(cand domain.NetworkCandidate) {
			if cand.Owner != from {
				errs <- errors.New("candidate with foreign owner")
				return
			}
			apply(events.CandidateReceived("room", from, cand))
		},
		OnStream: func(kind string) {
			streams <- kind
		},
	}
}

func TestEnginesConnect(t *testing.T) {
	if testing.Short() {
		t.Skip("starts real ICE agents")
	}

	ctx := context.Background()

	host := NewEngine(Options{IncludeLoopback: true})
	guest := NewEngine(Options{IncludeLoopback: true})
	t.Cleanup(func() {
		_ = host.StopCapture()
		_ = guest.StopCapture()
		_ = host.Close()
		_ = guest.Close()
	})

	hostStreams := make(chan string, 1)
	guestStreams := make(chan string, 1)
	errs := make(chan error, 16)

	// Гость открывается первым: offer хоста уходит сразу после сбора кандидатов
	if err := guest.Open(ctx, "room", domain.RoleGuest, bridge(t, ctx, domain.RoleGuest, host, guestStreams, errs)); err != nil {
		t.Fatalf("guest Open: %v", err)
	}
	if err := host.Open(ctx, "room", domain.RoleHost, bridge(t, ctx, domain.RoleHost, guest, hostStreams, errs)); err != nil {
		t.Fatalf("host Open: %v", err)
	}

	timeout := time.After(20 * time.Second)

	for _, streams := range []chan string{hostStreams, guestStreams} {
		select {
		case kind := <-streams:
			if kind != webrtc.RTPCodecTypeAudio.String() {
				t.Fatalf("stream kind = %s, want audio", kind)
			}
		case err := <-errs:
			t.Fatalf("negotiation: %v", err)
		case <-timeout:
			t.Fatal("timed out waiting for remote audio")
		}
	}

	if state := host.SignalingState(); state != webrtc.SignalingStateStable {
		t.Fatalf("host signaling state = %s", state)
	}
}

func TestEngineApplyBeforeOpen(t *testing.T) {
	e := NewEngine(Options{})

	err := e.Apply(context.Background(), events.SendAnswer("room", domain.RoleGuest))
	if !errors.Is(err, errNotOpen) {
		t.Fatalf("Apply err = %v, want errNotOpen", err)
	}

	if err := e.StopCapture(); err != nil {
		t.Fatalf("StopCapture: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEngineBuffersEarlyCandidates(t *testing.T) {
	e := NewEngine(Options{IncludeLoopback: true})
	t.Cleanup(func() {
		_ = e.StopCapture()
		_ = e.Close()
	})

	ctx := context.Background()

	if err := e.Open(ctx, "room", domain.RoleGuest, usecase.TransportSignals{}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	cand := domain.NetworkCandidate{
		Owner:     domain.RoleHost,
		Mid:       "0",
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host",
	}
	if err := e.Apply(ctx, events.CandidateReceived("room", domain.RoleGuest, cand)); err != nil {
		t.Fatalf("Apply candidate before description: %v", err)
	}

	e.mu.Lock()
	pending := len(e.pending)
	e.mu.Unlock()

	if pending != 1 {
		t.Fatalf("pending candidates = %d, want 1", pending)
	}
}

func TestDescriptionKind(t *testing.T) {
	tests := []struct {
		in      webrtc.SDPType
		want    domain.DescriptionKind
		wantErr bool
	}{
		{in: webrtc.SDPTypeOffer, want: domain.DescriptionOffer},
		{in: webrtc.SDPTypeAnswer, want: domain.DescriptionAnswer},
		{in: webrtc.SDPTypePranswer, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			got, err := descriptionKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("kind = %s, want %s", got, tt.want)
			}
		})
	}
}
