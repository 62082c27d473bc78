package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/qrave1/RoomCall/internal/infra/adapters/memory"
	"github.com/qrave1/RoomCall/internal/infra/adapters/relay"
	"github.com/qrave1/RoomCall/internal/usecase"
)

var roomsWatch bool

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List open rooms on the relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client, err := relay.NewClient(cfg.RelayURL, cfg.RelayToken)
		if err != nil {
			return err
		}

		// Транспорт для списка комнат не нужен
		callUsecase := usecase.NewCallUsecase(client, memory.NewEventBus(), nil, cfg.RoomListInterval)

		listCtx, listCancel := context.WithCancel(ctx)
		defer listCancel()

		updates, err := callUsecase.RoomList(listCtx)
		if err != nil {
			return err
		}

		for rooms := range updates {
			renderRooms(rooms)

			if !roomsWatch {
				return nil
			}
		}

		return nil
	},
}

func init() {
	roomsCmd.Flags().BoolVarP(&roomsWatch, "watch", "w", false, "keep printing the list when it changes")

	rootCmd.AddCommand(roomsCmd)
}

func renderRooms(rooms []string) {
	if len(rooms) == 0 {
		pterm.Info.Println("No open rooms")
		return
	}

	data := pterm.TableData{{"#", "Room"}}
	for i, room := range rooms {
		data = append(data, []string{pterm.Sprint(i + 1), room})
	}

	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		pterm.Error.Println(err)
	}
}
