package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"snowfight/internal/api"
	"snowfight/internal/config"
	"snowfight/internal/game"
	"snowfight/internal/logging"
	"snowfight/internal/observability"
	"snowfight/internal/protocol"
	"snowfight/internal/room"
	"snowfight/internal/roomservice"
	"snowfight/internal/world"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env from the parent directory, then the current one
	envErr := godotenv.Load("../.env")
	if envErr != nil {
		envErr = godotenv.Load(".env")
	}

	appConfig := config.Load()

	logger, err := logging.New(appConfig.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Info("💡 No .env file found, using environment variables only")
	}

	logger.Info("❄️ ================================")
	logger.Info("❄️  SNOWFIGHT - ROOM SERVER")
	logger.Info("❄️ ================================")

	if err := run(appConfig, logger); err != nil {
		logger.Fatalw("server failed", "error", err)
	}
	logger.Info("👋 Goodbye!")
}

func run(appConfig config.AppConfig, logger *zap.SugaredLogger) error {
	serverCfg := appConfig.Server
	gameCfg := appConfig.Game
	limits := appConfig.Limits

	codec, err := protocol.NewCodec(serverCfg.WireFormat)
	if err != nil {
		return err
	}
	logger.Infow("🎮 Config",
		"tickRate", gameCfg.TickRate,
		"gameLength", gameCfg.GameLength,
		"wireFormat", codec.Name(),
		"diffPlayers", gameCfg.DiffPlayers,
	)
	logger.Infow("🛡️ Resource limits",
		"maxRooms", limits.MaxRooms,
		"wsPerIP", limits.MaxWSPerIP,
		"wsMessagesPerSec", limits.WSMessagesPerSec,
	)

	// Match journal
	events := game.NewEventLog()
	if path := appConfig.Log.EventLogPath; path != "" {
		if err := events.Start(path); err != nil {
			logger.Warnw("⚠️ Event log disabled", "error", err)
		} else {
			logger.Infow("📝 Event log", "path", path)
		}
	}
	defer events.Stop()

	// Room provisioning backend
	var (
		service roomservice.Service
		lobby   api.RoomLister
	)
	switch rs := appConfig.RoomService; rs.Mode {
	case config.RoomServiceRemote:
		if rs.URL == "" {
			return fmt.Errorf("ROOM_SERVICE=remote requires ROOM_SERVICE_URL")
		}
		service = roomservice.NewHTTPClient(roomservice.HTTPClientConfig{
			BaseURL: rs.URL,
			AppID:   rs.AppID,
			Token:   rs.Token,
			Timeout: rs.Timeout,
		})
		logger.Infow("🌐 Remote room service", "url", rs.URL, "appId", rs.AppID)
	case config.RoomServiceLocal:
		store, err := roomservice.OpenSQLiteStore(rs.DBPath)
		if err != nil {
			return fmt.Errorf("open room store: %w", err)
		}
		defer store.Close()
		service, lobby = store, store
		logger.Infow("💾 Local room store", "path", rs.DBPath)
	default:
		return fmt.Errorf("unknown ROOM_SERVICE %q", rs.Mode)
	}

	manager := room.NewManager(room.ManagerConfig{
		Maps:     world.NewLibrary(appConfig.Maps.Dir),
		Service:  service,
		MaxRooms: limits.MaxRooms,
		Logger:   logger,
		Room: room.Options{
			TickInterval:      gameCfg.TickInterval(),
			GameLength:        gameCfg.GameLength,
			EndGrace:          gameCfg.EndGrace,
			ThrowDelay:        gameCfg.ThrowDelay,
			RemainingInterval: gameCfg.RemainingInterval,
			DiffPlayers:       gameCfg.DiffPlayers,
			Codec:             codec,
			ServiceTimeout:    appConfig.RoomService.Timeout,
			Events:            events,
			Logger:            logger,
		},
	})

	observability.StartDebugServer(appConfig.Observability, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go reportEventLog(ctx, events)

	server := api.NewServer(fmt.Sprintf(":%d", serverCfg.Port), api.RouterConfig{
		Rooms:   manager,
		Lobby:   lobby,
		Journal: events,
		Codec:   codec,
		Limits:  limits,
		RateLimitConfig: &api.RateLimitConfig{
			RequestsPerSecond: limits.HTTPRequestsPerIP,
			Burst:             int(limits.HTTPRequestsPerIP * 2),
		},
		CORSOrigins: serverCfg.CORSOrigins,
		ClientDir:   serverCfg.ClientDir,
		Logger:      logger,
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	logger.Infow("✅ Server ready! Press Ctrl+C to stop.", "ws", fmt.Sprintf("ws://localhost:%d/ws?roomId=", serverCfg.Port))

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("🛑 Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Rooms first: they own the hijacked websockets http.Server cannot drain
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("⚠️ Rooms did not stop in time", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("⚠️ HTTP shutdown", "error", err)
	}
	return nil
}

// reportEventLog mirrors the journal's drop counter into metrics
func reportEventLog(ctx context.Context, events *game.EventLog) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.UpdateEventLogDropped(events.DroppedCount())
		}
	}
}
