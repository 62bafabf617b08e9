package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"classroom-bot/internal/attendance"
	"classroom-bot/internal/auth"
	"classroom-bot/internal/commands"
	"classroom-bot/internal/config"
	"classroom-bot/internal/discord"
	"classroom-bot/internal/groups"
	"classroom-bot/internal/rolesync"
	"classroom-bot/internal/scheduler"
	"classroom-bot/internal/settings"
	"classroom-bot/internal/storage"
	"classroom-bot/internal/survey"
	"classroom-bot/internal/telegram"
)

// platformClient is what both chat adapters provide.
type platformClient interface {
	attendance.MemberResolver
	attendance.Notifier
	rolesync.Source
	Bind(matcher *attendance.Matcher, cmds *commands.Handler, onReady func(ctx context.Context))
	Run(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

	settingsStore, err := settings.Open(cfg.SettingsFilePath)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}
	snap := settingsStore.Snapshot()

	store, err := storage.NewFileStore(cfg.DataDir, storage.WithStrictHeaders(cfg.StrictSurveyHeaders))
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	log.Printf("📁 Records are stored under %s", store.Root())

	registry, err := groups.NewRegistry(snap.Groups, store)
	if err != nil {
		log.Fatalf("failed to init groups: %v", err)
	}
	authSvc := auth.New(snap.AllowedRoles)
	surveys := survey.NewService(snap.Surveys, store)

	token, err := cfg.Token()
	if err != nil {
		log.Fatalf("%v", err)
	}

	var (
		client  platformClient
		manager *discord.Manager
	)
	switch cfg.Platform {
	case config.PlatformTelegram:
		client, err = telegram.New(token, cfg.TelegramGroupChatID)
	default:
		manager, err = discord.New(token)
		client = manager
	}
	if err != nil {
		log.Fatalf("failed to create %s client: %v", cfg.Platform, err)
	}

	syncer := rolesync.New(client, settingsStore, authSvc,
		rolesync.WithAttempts(cfg.RoleSyncAttempts),
		rolesync.WithInterval(cfg.RoleSyncInterval),
	)
	handler := commands.NewHandler(registry, authSvc, surveys, syncer)
	if manager != nil {
		handler.SetReconnector(manager)
	}
	client.Bind(attendance.NewMatcher(registry, client, client), handler, syncer.Start)

	sched := scheduler.New(registry, nil)
	if err := sched.Load(snap.Schedules); err != nil {
		log.Fatalf("failed to load schedules: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("🚀 Starting %s bot with %d groups", cfg.Platform, len(snap.Groups))
	if err := client.Run(ctx); err != nil {
		log.Printf("bot stopped: %v", err)
		stop()
		sched.Stop()
		os.Exit(1)
	}
}
