package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qrave1/RoomCall/internal/application/config"
	"github.com/qrave1/RoomCall/internal/application/constant"
	"github.com/qrave1/RoomCall/internal/application/metric"
	"github.com/qrave1/RoomCall/internal/domain"
	"github.com/qrave1/RoomCall/internal/infra/adapters/memory"
	"github.com/qrave1/RoomCall/internal/infra/adapters/postgres"
	"github.com/qrave1/RoomCall/internal/infra/adapters/postgres/repository"
	"github.com/qrave1/RoomCall/internal/infra/ports/http/handlers"
	"github.com/qrave1/RoomCall/internal/infra/ports/http/server"
	"github.com/qrave1/RoomCall/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runApp(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("Running relay", slog.Bool("debug", cfg.Debug), slog.String("store", cfg.SignalingStore))

	store, closeStore, err := newSignalingStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	wsConnRepo := memory.NewWSConnectionRepository()

	relayUsecase := usecase.NewRelayUsecase(store)
	tokenUsecase := usecase.NewTokenUsecase([]byte(cfg.JWTSecret))

	signalingHandler := handlers.NewSignalingHandler(relayUsecase)
	watchHandler := handlers.NewWatchHandler(cfg, relayUsecase, wsConnRepo)
	iceHandler := handlers.NewIceHandler(cfg)

	echoSrv := server.New(cfg, tokenUsecase, signalingHandler, watchHandler, iceHandler)
	metricSrv := metric.NewServer(cfg.SignalingStore)

	srvCh := make(chan error, 2)
	go func() {
		srvCh <- echoSrv.Start(":" + cfg.Port)
	}()
	go func() {
		srvCh <- metricSrv.Start(":" + cfg.MetricsPort)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down server due to context cancel")
	case err := <-srvCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", slog.Any(constant.Error, err))
			return fmt.Errorf("http server: %w", err)
		}
	}

	timeoutCtx, timeoutCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer timeoutCancel()

	// Hijacked соединения Shutdown не закрывает
	slog.Info("Closing watchers", slog.Int("count", wsConnRepo.Count()))
	wsConnRepo.CloseAll()

	if err := errors.Join(echoSrv.Shutdown(timeoutCtx), metricSrv.Shutdown(timeoutCtx)); err != nil {
		slog.Error("Failed to gracefully shutdown server", slog.Any(constant.Error, err))
	}

	return nil
}

// newSignalingStore выбирает хранилище релея по SIGNALING_STORE
func newSignalingStore(ctx context.Context, cfg *config.Config) (domain.SignalingChannel, func(), error) {
	if cfg.SignalingStore != config.StorePostgres {
		return memory.NewSignalingStore(), func() {}, nil
	}

	dbConn, err := postgres.NewPostgres(ctx, cfg.Postgres.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	signalingRepo := repository.NewSignalingRepo(dbConn)

	go func() {
		if err := signalingRepo.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("signaling listener stopped", slog.Any(constant.Error, err))
		}
	}()

	closeDB := func() {
		if err := dbConn.Close(); err != nil {
			slog.Error("close postgres", slog.Any(constant.Error, err))
		}
	}

	return signalingRepo, closeDB, nil
}
