package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"chat-sync-client/internal/api"
	"chat-sync-client/internal/chat"
	"chat-sync-client/internal/logging"
	"chat-sync-client/internal/popup"
	"chat-sync-client/internal/session"
	"chat-sync-client/internal/transport"

	"github.com/caarlos0/env/v6"
)

// EnvConfig gathers the environment configuration of every component
type EnvConfig struct {
	UserID    string `env:"CHAT_USER_ID"`
	Log       logging.EnvConfig
	API       api.EnvConfig
	Transport transport.EnvConfig
	Chat      chat.EnvConfig
}

func main() {
	cfg := EnvConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Cannot parse env config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("logging.New: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	client, err := api.NewClient(sugar, api.WithEnvConfig(cfg.API))
	if err != nil {
		sugar.Fatalf("Cannot create API client: %v", err)
	}

	tr, err := transport.New(sugar, transport.WithEnvConfig(cfg.Transport))
	if err != nil {
		sugar.Fatalf("Cannot create Transport instance: %v", err)
	}
	sugar.Infof("Client id %s", tr.ClientID())

	sessions := session.NewProvider()
	bridge := popup.NewBridge(sugar, popup.DefaultDuration)

	store := chat.NewStore(sugar, sessions, client, tr,
		chat.WithEnvConfig(cfg.Chat),
		chat.WithNotifier(bridge),
	)

	c := newConsole(os.Stdin, os.Stdout, sessions, store)
	bridge.OnChange(c.showNotice)

	store.Start()
	if cfg.UserID != "" {
		sessions.Login(cfg.UserID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.run(ctx); err != nil {
			sugar.Errorf("Reading commands: %v", err)
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt)

	select {
	case <-sigint:
		sugar.Info("Interrupted")
	case <-done:
	}

	cancel()
	store.Close()
	tr.Disconnect()
	bridge.Dismiss()

	sugar.Info("Application is stopped")
}
