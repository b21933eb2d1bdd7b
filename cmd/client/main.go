package main

import (
	"context"
	"fmt"
	"net/url"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cloudzz-dev/relaychat/internal/client/chat"
	"github.com/cloudzz-dev/relaychat/internal/client/debug"
	"github.com/cloudzz-dev/relaychat/internal/client/focus"
	"github.com/cloudzz-dev/relaychat/internal/client/notify"
	"github.com/cloudzz-dev/relaychat/internal/client/profile"
	"github.com/cloudzz-dev/relaychat/internal/client/transport"
	"github.com/cloudzz-dev/relaychat/internal/config"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := debug.New(cfg.Debug, cfg.LogFile)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	saved := profile.Load(cfg.Profile)
	serverURL := dialURL(cfg, saved)

	conn := transport.New(serverURL,
		transport.WithLogger(logger.Named("transport")),
		transport.WithBackoff(cfg.ReconnectMin, cfg.ReconnectMax))

	// The program does not exist yet when the scheduler is built; deliveries
	// only start after Run.
	var p *tea.Program
	sched := notify.NewScheduler(func(n notify.Notification) error {
		p.Send(alertMsg{n: n})
		return nil
	}, notify.WithLogger(logger.Named("notify")))

	tracker := focus.NewTracker(true)
	session := chat.New(conn, sched, tracker,
		chat.WithLogger(logger.Named("chat")),
		chat.WithNotifyDelay(cfg.NotifyDelay))

	m := newModel(session, conn.Events(), tracker, sched, logger)
	m.server = serverURL
	if saved != nil {
		m.prefill(saved.Username)
	}
	m.onJoined = func(username string) {
		if err := profile.Save(cfg.Profile, profile.Profile{ServerURL: serverURL, Username: username}); err != nil {
			logger.Warn("save profile", zap.Error(err))
		}
	}
	m.onForget = func() { profile.Clear(cfg.Profile) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.Run(ctx)
	}()

	p = tea.NewProgram(m, tea.WithAltScreen(), tea.WithReportFocus())
	_, err = p.Run()

	session.Close()
	conn.Close()
	cancel()
	<-done

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// dialURL prefers an explicit RELAYCHAT_SERVER, then the server remembered in
// the profile, then the configured default.
func dialURL(cfg config.Client, saved *profile.Profile) string {
	if cfg.ServerFromEnv || saved == nil || saved.ServerURL == "" {
		return cfg.ServerURL
	}
	u, err := url.Parse(saved.ServerURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return cfg.ServerURL
	}
	return saved.ServerURL
}
