package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	waCompanionReg "go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/naperu/wappgate/internal/api"
	"github.com/naperu/wappgate/internal/bus"
	"github.com/naperu/wappgate/internal/msgcache"
	"github.com/naperu/wappgate/internal/session"
	"github.com/naperu/wappgate/internal/storage"
	"github.com/naperu/wappgate/internal/whatsapp"
	"github.com/naperu/wappgate/pkg/config"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	ctx := context.Background()

	// Companion identity shown in the phone's linked devices list.
	store.DeviceProps.Os = proto.String(cfg.DeviceName)
	store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
	store.DeviceProps.RequireFullSync = proto.Bool(false)

	container, err := sqlstore.New(ctx, "pgx", cfg.DatabaseURL, waLog.Stdout("Database", "WARN", true))
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to device store")
	}

	sessions, err := newSessionStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("opening session store")
	}

	manager, err := whatsapp.NewManager(ctx, container, sessions, bus.New(), msgcache.New())
	if err != nil {
		log.Fatal().Err(err).Msg("initializing instance manager")
	}

	if cfg.ArchiveEnabled() {
		archive, err := storage.New(storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			log.Warn().Err(err).Msg("media archive unavailable, falling back to inline media")
		} else {
			manager.SetArchive(archive)
			log.Info().Str("endpoint", cfg.MinioEndpoint).Msg("media archive enabled")
		}
	}

	manager.RestoreAll(ctx)

	server := api.NewServer(cfg, manager)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("starting server")
		if err := server.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	manager.DisconnectAll()
	if err := server.Shutdown(); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func newSessionStore(cfg *config.Config) (session.Store, error) {
	if cfg.SessionStore == "redis" {
		return session.NewRedisStore(cfg.RedisURL)
	}
	return session.NewFileStore(cfg.DataDir)
}
