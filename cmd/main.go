package main

import (
	"context"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
	"webchat/internal/api"
	"webchat/internal/cache"
	"webchat/internal/config"
	"webchat/internal/moderation"
	"webchat/internal/presence"
	"webchat/internal/subscriber"
	"webchat/internal/ws"
)

var flags struct {
	host string
	port string
}

var rootCmd = &cobra.Command{
	Use:   "chatd",
	Short: "WebSocket chat relay server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&flags.host, "host", "", "listen host (overrides API_SERVER_HOST)")
	rootCmd.Flags().StringVar(&flags.port, "port", "", "listen port (overrides API_SERVER_PORT)")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context) error {
	conf, err := config.New()
	if err != nil {
		return err
	}
	if flags.host != "" {
		conf.APIServerHost = flags.host
	}
	if flags.port != "" {
		conf.APIServerPort = flags.port
	}

	var loggerOpts slog.HandlerOptions
	if conf.Env == config.EnvDev {
		loggerOpts = slog.HandlerOptions{Level: slog.LevelDebug}
	}

	jsonHandler := slog.NewJSONHandler(os.Stdout, &loggerOpts)
	logger := slog.New(jsonHandler)

	filter, err := moderation.NewFilter(conf.CensoredWords, '*')
	if err != nil {
		return err
	}

	var presenceCache presence.Cache = presence.NopCache{}
	var redisClient *redis.Client
	if conf.RedisEnabled() {
		redisClient = redis.NewClient(&redis.Options{Addr: net.JoinHostPort(conf.RedisHost, conf.RedisPort)})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed to close redis client", "error", err)
			}
		}()
		presenceCache = cache.NewRedisPresenceCache(redisClient, conf.PresenceTTL)
	}

	wsManager := ws.NewManager(ctx, logger, presenceCache, filter, ws.Options{
		WriteTimeout:     conf.WriteTimeout,
		PingPeriod:       conf.PingPeriod,
		SendBuffer:       conf.SendBuffer,
		MaxMessageLength: conf.MaxMessageLength,
	})

	if redisClient != nil {
		sub := subscriber.NewSubscriber(logger, redisClient, conf.RedisAnnouncementsChannel, wsManager)
		go func() {
			if err := sub.Start(ctx); err != nil {
				logger.Error("subscriber stopped with error", "error", err)
			}
		}()
	}

	server := api.NewServer(conf, wsManager, logger)
	serveErr := server.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := wsManager.Shutdown(shutdownCtx); err != nil {
		logger.Error("chat manager failed to shutdown", "error", err)
	}
	return serveErr
}
