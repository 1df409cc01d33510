// Command chatserver runs the chat relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/chatrelay/chatsession"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/presence"
	"github.com/cyberinferno/chatrelay/tcpserver"
)

const serviceName = "chatserver"

type options struct {
	host          string
	port          int
	maxSessions   int
	logLevel      string
	logDir        string
	redisAddr     string
	redisKey      string
	statsInterval time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func parseOptions(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)

	fs.StringVar(&opts.host, "host", "", "Interface to listen on (all when empty)")
	fs.IntVarP(&opts.port, "port", "p", 9000, "TCP port to listen on")
	fs.IntVar(&opts.maxSessions, "max-sessions", tcpserver.DefaultMaxSessions, "Connections serviced at once")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&opts.logDir, "log-dir", "", "Also write daily rotated JSON logs to this directory")
	fs.StringVar(&opts.redisAddr, "redis-addr", "", "Mirror room presence to Redis at host:port")
	fs.StringVar(&opts.redisKey, "redis-key", presence.DefaultRedisKey, "Redis hash holding presence entries")
	fs.DurationVar(&opts.statsInterval, "stats-interval", time.Minute, "How often to log room statistics (0 disables)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// A bare positional port is accepted too: chatserver 9000.
	if rest := fs.Args(); len(rest) > 0 {
		port, err := strconv.Atoi(rest[0])
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", rest[0], err)
		}

		opts.port = port
	}

	if opts.port < 0 || opts.port > 65535 {
		return nil, fmt.Errorf("port %d out of range", opts.port)
	}

	return opts, nil
}

func newLogger(opts *options) (logger.Logger, error) {
	level, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		return nil, err
	}

	if opts.logDir != "" {
		return logger.NewZerologFileLogger(serviceName, opts.logDir, level)
	}

	return logger.NewConsoleLogger(serviceName, level), nil
}

func newPresence(ctx context.Context, opts *options) (presence.Store, func() error, error) {
	if opts.redisAddr == "" {
		return presence.NewMemoryStore(), func() error { return nil }, nil
	}

	store := presence.NewRedisStore(redis.NewClient(&redis.Options{Addr: opts.redisAddr}), opts.redisKey)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	// Entries left by a previous run are stale.
	if err := store.Clear(pingCtx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	return store, store.Close, nil
}

func run(ctx context.Context, args []string) error {
	opts, err := parseOptions(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}

		return err
	}

	log, err := newLogger(opts)
	if err != nil {
		return err
	}
	defer log.Close()

	store, closeStore, err := newPresence(ctx, opts)
	if err != nil {
		log.Error("presence store unavailable", logger.Field{Key: "error", Value: err.Error()})
		return err
	}
	defer closeStore()

	deps := chatsession.NewDependencies(log)
	deps.Presence = store

	cfg := tcpserver.DefaultConfig(net.JoinHostPort(opts.host, strconv.Itoa(opts.port)))
	cfg.Name = serviceName
	cfg.MaxSessions = opts.maxSessions
	server := tcpserver.NewTCPServer(cfg, chatsession.NewSessionFunc(deps), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})

	if opts.statsInterval > 0 {
		g.Go(func() error {
			reportStats(gctx, log, server, deps, store, opts.statsInterval)
			return nil
		})
	}

	err = g.Wait()

	clearCtx, cancel := context.WithTimeout(context.Background(), chatsession.DefaultPresenceTimeout)
	defer cancel()
	if clearErr := store.Clear(clearCtx); clearErr != nil {
		log.Warn("presence clear failed", logger.Field{Key: "error", Value: clearErr.Error()})
	}

	return err
}

func reportStats(
	ctx context.Context,
	log logger.Logger,
	server *tcpserver.TCPServer,
	deps chatsession.Dependencies,
	store presence.Store,
	interval time.Duration,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, err := store.List(ctx)
			if err != nil {
				log.Warn("presence list failed", logger.Field{Key: "error", Value: err.Error()})
			}

			log.Info("room stats",
				logger.Field{Key: "live_sessions", Value: server.LiveSessions()},
				logger.Field{Key: "room_members", Value: deps.Room.Len()},
				logger.Field{Key: "aliases", Value: deps.Aliases.Len()},
				logger.Field{Key: "presence_entries", Value: len(entries)},
			)
		}
	}
}
