package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/Tyrowin/duochat/internal/config"
	"github.com/Tyrowin/duochat/internal/paramstore"
	"github.com/Tyrowin/duochat/internal/push"
	"github.com/Tyrowin/duochat/internal/store"
	"github.com/Tyrowin/duochat/internal/store/cache"
	"github.com/Tyrowin/duochat/internal/store/dynamo"
	"github.com/Tyrowin/duochat/internal/store/postgres"
)

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return awsCfg, nil
}

// resolveSecrets overrides the JWT secret and VAPID private key with values
// from SSM Parameter Store when a parameter prefix is configured.
func resolveSecrets(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.AWS.ParamPrefix == "" {
		return nil
	}
	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return err
	}
	client, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return err
	}
	secrets, err := paramstore.LoadSecrets(ctx, client, cfg.AWS.ParamPrefix)
	if err != nil {
		return err
	}
	if secrets.JWTSecret != "" {
		cfg.Auth.JWTSecret = secrets.JWTSecret
	}
	if secrets.VAPIDPrivateKey != "" {
		cfg.Push.VAPIDPrivateKey = secrets.VAPIDPrivateKey
	}
	logger.Info("secrets resolved from parameter store", "prefix", cfg.AWS.ParamPrefix,
		"jwt_secret", secrets.JWTSecret != "", "vapid_private_key", secrets.VAPIDPrivateKey != "")
	return nil
}

// backends are the durable store and the views the push dispatcher reads.
type backends struct {
	store   store.Store
	users   store.Users
	subs    store.Subscriptions
	closers []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			b.close()
			return nil, err
		}
		st, err := postgres.New(pool)
		if err != nil {
			b.close()
			return nil, err
		}
		b.store = st
	default:
		logger.Warn("using the in-memory store; data is lost on restart")
		b.store = store.NewMemory()
	}
	b.users = b.store
	b.subs = b.store

	if cfg.Redis.URL != "" {
		r, err := cache.NewRedis(ctx, cfg.Redis.URL)
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = r.Close() })
		b.users = cache.NewUsers(b.store, r, cfg.Redis.UserCacheTTL, logger)
	}

	if cfg.Store.SubscriptionsTable != "" {
		awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			b.close()
			return nil, err
		}
		subs, err := dynamo.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Store.SubscriptionsTable)
		if err != nil {
			b.close()
			return nil, err
		}
		b.subs = subs
		logger.Info("push subscriptions stored in DynamoDB", "table", cfg.Store.SubscriptionsTable)
	}
	return b, nil
}

func newDispatcher(cfg config.PushConfig, b *backends, online func(string) bool, logger *slog.Logger) (*push.Dispatcher, error) {
	var provider push.Provider
	if cfg.Enabled() {
		wp, err := push.NewWebPush(push.VAPIDConfig{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subscriber: cfg.ContactEmail,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		provider = wp
	} else {
		logger.Warn("VAPID keys not configured; push notifications are disabled")
	}
	return push.NewDispatcher(provider, b.users, b.subs, push.Options{
		Parallelism:           cfg.Parallelism,
		Timeout:               cfg.Timeout,
		PresenceNotifications: cfg.PresenceNotifications,
		Online:                online,
		Logger:                logger,
	}), nil
}

// openQueue starts the push job queue. A disabled dispatcher gets no queue.
func openQueue(cfg *config.Config, d *push.Dispatcher, logger *slog.Logger) (push.Queue, func(), error) {
	if !d.Enabled() {
		return nil, func() {}, nil
	}

	switch cfg.Push.Queue {
	case config.QueueAsynq:
		q, err := push.NewAsynqQueue(cfg.Redis.URL, push.DefaultAsynqQueue, 0)
		if err != nil {
			return nil, nil, err
		}
		w, err := push.NewAsynqWorker(cfg.Redis.URL, push.DefaultAsynqQueue, cfg.Push.Workers, d.Process, logger)
		if err != nil {
			_ = q.Close()
			return nil, nil, err
		}
		if err := w.Start(); err != nil {
			_ = q.Close()
			return nil, nil, fmt.Errorf("asynq worker: %w", err)
		}
		logger.Info("push jobs queued through asynq", "queue", push.DefaultAsynqQueue, "workers", cfg.Push.Workers)
		return q, func() {
			w.Shutdown()
			_ = q.Close()
		}, nil
	default:
		q := push.NewWorkerQueue(d.Process, cfg.Push.Workers, cfg.Push.Buffer, logger)
		return q, func() { _ = q.Close() }, nil
	}
}
