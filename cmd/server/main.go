// duochat is the real-time one-to-one chat server: an authenticated
// WebSocket hub with presence, conversation rooms, read receipts, typing
// signals and Web Push delivery to offline users.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/Tyrowin/duochat/internal/auth"
	"github.com/Tyrowin/duochat/internal/config"
	"github.com/Tyrowin/duochat/internal/push"
	"github.com/Tyrowin/duochat/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env file could not be loaded: %v\n", err)
	}

	flagSet := pflag.NewFlagSet("duochat", pflag.ContinueOnError)
	flags := config.RegisterFlags(flagSet)
	generateKeys := flagSet.Bool("generate-vapid-keys", false, "print a new VAPID key pair and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *generateKeys {
		publicKey, privateKey, err := push.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		fmt.Printf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", publicKey, privateKey)
		return nil
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}
	flags.Apply(cfg)

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := resolveSecrets(ctx, cfg, logger); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	authn, err := auth.New(cfg.Auth.JWTSecret, cfg.Auth.CookieName)
	if err != nil {
		return err
	}

	deps, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	// The dispatcher asks the hub about presence; the hub is assigned below,
	// before any job can run.
	var hub *server.Hub
	dispatcher, err := newDispatcher(cfg.Push, deps, func(userID string) bool { return hub.IsOnline(userID) }, logger)
	if err != nil {
		return err
	}

	queue, stopQueue, err := openQueue(cfg, dispatcher, logger)
	if err != nil {
		return err
	}
	defer stopQueue()

	hub, err = server.NewHub(server.HubOptions{
		Store:        deps.store,
		Push:         queue,
		PresencePush: cfg.Push.PresenceNotifications,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Config: cfg.Server,
		Hub:    hub,
		Auth:   authn,
		Push:   dispatcher,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	return srv.Run(ctx)
}
