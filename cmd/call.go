package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/qrave1/RoomCall/internal/application/config"
	"github.com/qrave1/RoomCall/internal/domain"
	"github.com/qrave1/RoomCall/internal/domain/events"
	"github.com/qrave1/RoomCall/internal/infra/adapters/memory"
	"github.com/qrave1/RoomCall/internal/infra/adapters/peer"
	"github.com/qrave1/RoomCall/internal/infra/adapters/relay"
	"github.com/qrave1/RoomCall/internal/usecase"
)

var (
	callRole    string
	callEndCall bool
)

var callCmd = &cobra.Command{
	Use:   "call <room>",
	Short: "Join a room as a peer through the relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		opts := usecase.ConnectOptions{EndCallOnLeave: callEndCall}
		if callRole != "" && callRole != "auto" {
			if opts.Role, err = domain.ParseRole(callRole); err != nil {
				return err
			}
		}

		return runCall(ctx, cfg, args[0], opts)
	},
}

func init() {
	callCmd.Flags().StringVar(&callRole, "role", "auto", "role in the room: auto, host or guest")
	callCmd.Flags().BoolVar(&callEndCall, "end-call", false, "end the call for everyone on leave")

	rootCmd.AddCommand(callCmd)
}

func runCall(ctx context.Context, cfg *config.Config, roomID string, opts usecase.ConnectOptions) error {
	client, err := relay.NewClient(cfg.RelayURL, cfg.RelayToken)
	if err != nil {
		return err
	}

	iceServers, err := client.ICEServers(ctx)
	if err != nil {
		pterm.Warning.Printfln("relay has no ICE servers for us, using local config: %v", err)
		iceServers = cfg.ICEServers()
	}

	newTransport := func() usecase.Transport {
		return peer.NewEngine(peer.Options{ICEServers: iceServers})
	}

	callUsecase := usecase.NewCallUsecase(client, memory.NewEventBus(), newTransport, cfg.RoomListInterval)

	// Подписка до Connect: события гостя приходят сразу при старте
	evs := callUsecase.Events(ctx)

	role, err := callUsecase.Connect(ctx, roomID, opts)
	if err != nil {
		return fmt.Errorf("join room %q: %w", roomID, err)
	}

	pterm.Success.Printfln("Joined room %s as %s", roomID, role)

	waitCall(ctx, evs)

	disconnectCtx, disconnectCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer disconnectCancel()

	if err := callUsecase.Disconnect(disconnectCtx); err != nil {
		pterm.Error.Printfln("Disconnect: %v", err)
		return err
	}

	pterm.Info.Println("Call finished")

	return nil
}

// waitCall печатает события, пока звонок не завершён собеседником или Ctrl+C
func waitCall(ctx context.Context, evs <-chan events.NegotiationEvent) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-evs:
			if !ok {
				return
			}

			switch ev.Kind {
			case events.KindRoomTerminated:
				pterm.Warning.Println("The other side ended the call")
			case events.KindCandidateReceived:
				pterm.Debug.Println(ev.String())
			default:
				pterm.Info.Println(ev.String())
			}
		}
	}
}
