package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ripplechat/client-go/internal/api"
	"github.com/ripplechat/client-go/internal/config"
	"github.com/ripplechat/client-go/internal/identity"
	applog "github.com/ripplechat/client-go/internal/log"
	"github.com/ripplechat/client-go/internal/presence"
	"github.com/ripplechat/client-go/internal/protocol"
	"github.com/ripplechat/client-go/internal/session"
	"github.com/ripplechat/client-go/internal/transport"
	"github.com/ripplechat/client-go/internal/typing"
)

func main() {
	var (
		usernameFlag = flag.String("username", "", "username override (otherwise read from the identity file)")
		channelFlag  = flag.String("channel", "", "channel override")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}

	applog.Init(cfg.Log)
	logger := applog.L()

	username := strings.TrimSpace(*usernameFlag)
	if username == "" {
		rec, err := identity.Load(cfg.Identity.Path)
		if err != nil {
			logger.Fatal().Err(err).Msg("no usable identity; pass --username or provide an identity file")
		}
		username = rec.Username
	}

	channel := cfg.Chat.Channel
	if *channelFlag != "" {
		channel = *channelFlag
	}

	apiClient := api.NewClient(cfg.Server.APIURL, cfg.Server.RequestTimeout, logger)

	manager := transport.NewManager(transport.Config{
		URL:              cfg.Server.WSURL,
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		PingInterval:     cfg.WebSocket.PingInterval,
		PongWait:         cfg.WebSocket.PongWait,
		WriteWait:        cfg.WebSocket.WriteWait,
		MaxMessageSize:   cfg.WebSocket.MaxMessageSize,
		Reconnect: transport.ReconnectPolicy{
			Delay:       cfg.Reconnect.Delay,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			Multiplier:  cfg.Reconnect.Multiplier,
			Jitter:      cfg.Reconnect.Jitter,
		},
	}, logger)

	tracker := presence.NewTracker(username, channel, apiClient, logger)
	renderer := newTerminalRenderer()

	engine := session.NewEngine(
		session.Session{Username: username, Channel: channel},
		manager, apiClient, cfg.Server.HistoryLimit, tracker,
		typing.Config{Inactivity: cfg.Typing.Inactivity, RemoteTTL: cfg.Typing.RemoteTTL},
		renderer, logger,
	)

	if err := engine.Start(); err != nil {
		logger.Fatal().Err(err).Msg("cannot start session")
	}

	logger.Info().
		Str(applog.FieldUsername, username).
		Str(applog.FieldChannel, channel).
		Str(applog.FieldURL, cfg.Server.WSURL).
		Msg("session starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(done)
	}()

	go inputLoop(ctx, stop, engine, apiClient, tracker, channel, cfg.Media.MaxDuration)

	select {
	case <-ctx.Done():
	case <-done:
	}

	engine.Stop()
	logger.Info().Msg("session stopped")
}

func inputLoop(ctx context.Context, stop context.CancelFunc, engine *session.Engine, apiClient *api.Client, tracker *presence.Tracker, channel string, maxCapture time.Duration) {
	fmt.Println("Type a message and press Enter to send. /who lists online users, /send-file <path> shares media, /quit exits.")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			stop()
			return

		case line == "/who":
			for _, rec := range tracker.Snapshot() {
				fmt.Printf("[online] %s (%s)\n", rec.Username, rec.Status)
			}

		case strings.HasPrefix(line, "/send-file "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/send-file "))
			if err := sendFile(ctx, engine, path, maxCapture); err != nil {
				fmt.Fprintf(os.Stderr, "send-file failed: %v\n", err)
			}

		case strings.HasPrefix(line, "/delete "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/delete "))
			if err := apiClient.DeleteMessage(ctx, id, channel); err != nil {
				fmt.Fprintf(os.Stderr, "delete failed: %v\n", err)
			}

		default:
			engine.InputActivity()
			if err := engine.Send(line, protocol.TypeText); err != nil {
				// Keep the user's input visible so they can retry.
				fmt.Fprintf(os.Stderr, "send failed (%v), not sent: %q\n", err, line)
			}
		}
	}
}
